// Package polyline provides encoding, decoding and measurement utilities for
// encoded polylines as returned by directions services.
// The polyline algorithm is documented at: https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"math"
)

// Supported encoding precisions.
const (
	Precision5 = 5
	Precision6 = 6
)

// Coordinate represents a geographic point with latitude and longitude.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Decode decodes a polyline-encoded string with precision 5.
func Decode(encoded string) []Coordinate {
	return DecodePrecision(encoded, Precision5)
}

// DecodePrecision decodes a polyline-encoded string into a slice of coordinates
// using the given number of decimal places (5 for Google/ORS, 6 for polyline6).
func DecodePrecision(encoded string, precision int) []Coordinate {
	if encoded == "" {
		return nil
	}

	factor := math.Pow10(precision)
	coords := make([]Coordinate, 0, len(encoded)/4)
	index := 0
	lat := 0
	lon := 0

	for index < len(encoded) {
		latDelta, newIndex := decodeValue(encoded, index)
		index = newIndex
		lat += latDelta

		lonDelta, newIndex := decodeValue(encoded, index)
		index = newIndex
		lon += lonDelta

		coords = append(coords, Coordinate{
			Lat: float64(lat) / factor,
			Lon: float64(lon) / factor,
		})
	}

	return coords
}

// decodeValue decodes a single value from the polyline at the given index.
// Returns the decoded delta value and the new index position.
func decodeValue(encoded string, index int) (int, int) {
	shift := 0
	result := 0

	for index < len(encoded) {
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index
	}
	return result >> 1, index
}

// Encode encodes coordinates with precision 5.
func Encode(coords []Coordinate) string {
	return EncodePrecision(coords, Precision5)
}

// EncodePrecision encodes a slice of coordinates into a polyline-encoded string.
func EncodePrecision(coords []Coordinate, precision int) string {
	if len(coords) == 0 {
		return ""
	}

	factor := math.Pow10(precision)
	encoded := make([]byte, 0, len(coords)*6)
	prevLat := 0
	prevLon := 0

	for _, coord := range coords {
		lat := int(math.Round(coord.Lat * factor))
		lon := int(math.Round(coord.Lon * factor))

		encoded = encodeValue(encoded, lat-prevLat)
		encoded = encodeValue(encoded, lon-prevLon)

		prevLat = lat
		prevLon = lon
	}

	return string(encoded)
}

// encodeValue encodes a single integer value using the polyline algorithm.
func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	buf = append(buf, byte(value)+63)

	return buf
}

// Length calculates the total length of a polyline in meters using the haversine formula.
func Length(coords []Coordinate) float64 {
	if len(coords) < 2 {
		return 0
	}

	var total float64
	for i := 1; i < len(coords); i++ {
		total += Distance(coords[i-1], coords[i])
	}
	return total
}

// EarthRadiusMeters is the mean earth radius used by all measurements in this package.
const EarthRadiusMeters = 6371000

// Distance calculates the great-circle distance between two coordinates in meters.
func Distance(a, b Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Bearing returns the initial bearing from a to b in degrees, normalized to [0, 360).
func Bearing(a, b Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return NormalizeBearing(toDegrees(math.Atan2(y, x)))
}

// NormalizeBearing wraps a bearing into [0, 360).
func NormalizeBearing(b float64) float64 {
	b = math.Mod(b, 360)
	if b < 0 {
		b += 360
	}
	return b
}

// BearingDelta returns the absolute angular difference between two bearings, in [0, 180].
func BearingDelta(a, b float64) float64 {
	d := math.Abs(NormalizeBearing(a) - NormalizeBearing(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// FinalBearing returns the bearing of the last non-degenerate segment of coords.
// ok is false when the polyline has no such segment.
func FinalBearing(coords []Coordinate) (bearing float64, ok bool) {
	for i := len(coords) - 1; i > 0; i-- {
		if coords[i] != coords[i-1] {
			return Bearing(coords[i-1], coords[i]), true
		}
	}
	return 0, false
}

// Projection describes the nearest point on a polyline to a given coordinate.
type Projection struct {
	Point Coordinate
	// Segment is the index of the segment start vertex the point lies on.
	Segment int
	// Along is the distance in meters from the polyline start to Point.
	Along float64
	// Offset is the distance in meters between the input coordinate and Point.
	Offset float64
	// Bearing is the direction of the segment Point lies on.
	Bearing float64
}

// Project finds the nearest point on the polyline to p. ok is false for an empty polyline.
// Segments are treated as planar in a local equirectangular frame, which is accurate for
// the short segments found in route geometry.
func Project(coords []Coordinate, p Coordinate) (proj Projection, ok bool) {
	switch len(coords) {
	case 0:
		return Projection{}, false
	case 1:
		return Projection{Point: coords[0], Offset: Distance(p, coords[0])}, true
	}

	best := Projection{Offset: math.Inf(1)}
	along := 0.0
	for i := 1; i < len(coords); i++ {
		a, b := coords[i-1], coords[i]
		segLen := Distance(a, b)
		t := segmentFraction(a, b, p)
		point := Coordinate{
			Lat: a.Lat + t*(b.Lat-a.Lat),
			Lon: a.Lon + t*(b.Lon-a.Lon),
		}
		offset := Distance(p, point)
		if offset < best.Offset {
			best = Projection{
				Point:   point,
				Segment: i - 1,
				Along:   along + t*segLen,
				Offset:  offset,
				Bearing: Bearing(a, b),
			}
		}
		along += segLen
	}
	return best, true
}

// segmentFraction returns the clamped position of p's projection onto segment a-b.
func segmentFraction(a, b, p Coordinate) float64 {
	cosLat := math.Cos(toRadians((a.Lat + b.Lat) / 2))
	abx := (b.Lon - a.Lon) * cosLat
	aby := b.Lat - a.Lat
	apx := (p.Lon - a.Lon) * cosLat
	apy := p.Lat - a.Lat

	denom := abx*abx + aby*aby
	if denom == 0 {
		return 0
	}
	t := (apx*abx + apy*aby) / denom
	return math.Max(0, math.Min(1, t))
}

// Along returns the coordinate located the given distance from the polyline start.
// Distances beyond either end are clamped to the end points.
func Along(coords []Coordinate, distance float64) Coordinate {
	if len(coords) == 0 {
		return Coordinate{}
	}
	if distance <= 0 {
		return coords[0]
	}
	travelled := 0.0
	for i := 1; i < len(coords); i++ {
		segLen := Distance(coords[i-1], coords[i])
		if travelled+segLen >= distance && segLen > 0 {
			t := (distance - travelled) / segLen
			a, b := coords[i-1], coords[i]
			return Coordinate{Lat: a.Lat + t*(b.Lat-a.Lat), Lon: a.Lon + t*(b.Lon-a.Lon)}
		}
		travelled += segLen
	}
	return coords[len(coords)-1]
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }
