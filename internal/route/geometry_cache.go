package route

import "github.com/breatheroute/navcore/pkg/polyline"

// GeometryCache keeps the decoded geometry of at most two steps, the current and the
// upcoming one. Requesting any other step evicts the least recently used entry.
type GeometryCache struct {
	routeID string
	slots   [2]geometrySlot
	recent  int
	decodes int
}

type geometrySlot struct {
	valid  bool
	leg    int
	step   int
	coords []polyline.Coordinate
}

// Step returns the decoded geometry for (leg, step) of r.
func (c *GeometryCache) Step(r *Route, leg, step int) ([]polyline.Coordinate, error) {
	if r.ID != c.routeID {
		c.Reset()
		c.routeID = r.ID
	}
	for i := range c.slots {
		s := &c.slots[i]
		if s.valid && s.leg == leg && s.step == step {
			c.recent = i
			return s.coords, nil
		}
	}

	coords, err := r.StepGeometry(leg, step)
	if err != nil {
		return nil, err
	}
	c.decodes++

	victim := 1 - c.recent
	if !c.slots[c.recent].valid {
		victim = c.recent
	}
	c.slots[victim] = geometrySlot{valid: true, leg: leg, step: step, coords: coords}
	c.recent = victim
	return coords, nil
}

// Len returns the number of cached step geometries.
func (c *GeometryCache) Len() int {
	n := 0
	for _, s := range c.slots {
		if s.valid {
			n++
		}
	}
	return n
}

// Decodes returns how many polylines the cache has decoded.
func (c *GeometryCache) Decodes() int { return c.decodes }

// Reset drops all cached geometry.
func (c *GeometryCache) Reset() {
	c.slots = [2]geometrySlot{}
	c.recent = 0
	c.routeID = ""
}
