package geometry

import "github.com/dogsight/alert-server/pkg/types"

// Point is a 2D point in normalized [0,1] frame coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is an ordered ring of points in normalized coordinates.
// A polygon with fewer than 3 vertices defines no zone at all: every point
// is considered inside.
type Polygon []Point

// Contains reports whether p lies inside the polygon using the crossing
// number (ray casting) test: a horizontal ray from p toward +X crosses the
// boundary an odd number of times iff p is inside. Edges are treated as
// half-open (bottom vertex included, top vertex excluded), so a point that
// coincides with a vertex resolves deterministically.
//
// Behavior for self-intersecting rings is undefined.
func (poly Polygon) Contains(p Point) bool {
	if len(poly) < 3 {
		return true
	}

	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		pi, pj := poly[i], poly[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) {
			xCross := (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if p.X < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Center returns the bbox center in normalized coordinates for the given
// frame dimensions. Zero or negative dimensions yield the zero point.
func Center(bbox types.BBox, frameWidth, frameHeight int) Point {
	if frameWidth <= 0 || frameHeight <= 0 {
		return Point{}
	}
	return Point{
		X: (bbox.X1 + bbox.X2) / 2 / float64(frameWidth),
		Y: (bbox.Y1 + bbox.Y2) / 2 / float64(frameHeight),
	}
}

// DetectionInZone reports whether the detection's bbox center falls inside
// the zone. An empty or degenerate zone means everywhere is safe.
func DetectionInZone(det types.Detection, frameWidth, frameHeight int, zone Polygon) bool {
	if len(zone) < 3 {
		return true
	}
	return zone.Contains(Center(det.BBox, frameWidth, frameHeight))
}

// Normalize corrects a polygon that was supplied in pixel coordinates.
// Upstream producers have been observed to send either form; any coordinate
// component above 1 means the ring is in pixels and is divided by the
// reference resolution. Already-normalized polygons are returned unchanged.
func Normalize(poly Polygon, refWidth, refHeight int) Polygon {
	if refWidth <= 0 || refHeight <= 0 {
		return poly
	}

	pixels := false
	for _, p := range poly {
		if p.X > 1 || p.Y > 1 {
			pixels = true
			break
		}
	}
	if !pixels {
		return poly
	}

	out := make(Polygon, len(poly))
	for i, p := range poly {
		out[i] = Point{
			X: p.X / float64(refWidth),
			Y: p.Y / float64(refHeight),
		}
	}
	return out
}
