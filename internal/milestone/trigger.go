package milestone

// Trigger is a predicate over property values.
type Trigger interface {
	Holds(s Stats) bool
}

// TriggerFunc adapts a function to a Trigger.
type TriggerFunc func(s Stats) bool

// Holds implements Trigger.
func (f TriggerFunc) Holds(s Stats) bool { return f(s) }

// GreaterThan holds when p > v.
func GreaterThan(p Property, v float64) Trigger {
	return TriggerFunc(func(s Stats) bool { return s.Get(p) > v })
}

// GreaterThanOrEqual holds when p >= v.
func GreaterThanOrEqual(p Property, v float64) Trigger {
	return TriggerFunc(func(s Stats) bool { return s.Get(p) >= v })
}

// LessThan holds when p < v.
func LessThan(p Property, v float64) Trigger {
	return TriggerFunc(func(s Stats) bool { return s.Get(p) < v })
}

// LessThanOrEqual holds when p <= v.
func LessThanOrEqual(p Property, v float64) Trigger {
	return TriggerFunc(func(s Stats) bool { return s.Get(p) <= v })
}

// Equal holds when p == v.
func Equal(p Property, v float64) Trigger {
	return TriggerFunc(func(s Stats) bool { return s.Get(p) == v })
}

// IsTrue holds when the boolean property p is set.
func IsTrue(p Property) Trigger {
	return TriggerFunc(func(s Stats) bool { return s.Bool(p) })
}

// IsFalse holds when the boolean property p is unset.
func IsFalse(p Property) Trigger {
	return TriggerFunc(func(s Stats) bool { return !s.Bool(p) })
}

// All holds when every trigger holds. An empty All holds.
func All(triggers ...Trigger) Trigger {
	return TriggerFunc(func(s Stats) bool {
		for _, t := range triggers {
			if !t.Holds(s) {
				return false
			}
		}
		return true
	})
}

// Any holds when at least one trigger holds.
func Any(triggers ...Trigger) Trigger {
	return TriggerFunc(func(s Stats) bool {
		for _, t := range triggers {
			if t.Holds(s) {
				return true
			}
		}
		return false
	})
}

// Not negates t.
func Not(t Trigger) Trigger {
	return TriggerFunc(func(s Stats) bool { return !t.Holds(s) })
}
