package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogsight/alert-server/pkg/types"
)

func unitSquare() Polygon {
	return Polygon{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
}

func TestContainsDegeneratePolygonAlwaysTrue(t *testing.T) {
	points := []Point{{0.5, 0.5}, {-10, 3}, {1e9, 1e9}, {0, 0}}

	for _, poly := range []Polygon{nil, {}, {{0, 0}}, {{0, 0}, {1, 1}}} {
		for _, p := range points {
			assert.True(t, poly.Contains(p), "polygon with %d vertices must contain %v", len(poly), p)
		}
	}
}

func TestContainsUnitSquare(t *testing.T) {
	square := unitSquare()

	assert.True(t, square.Contains(Point{0.5, 0.5}))
	assert.False(t, square.Contains(Point{1.5, 0.5}))
	assert.False(t, square.Contains(Point{0.5, -0.5}))
	assert.True(t, square.Contains(Point{0.01, 0.99}))
}

func TestContainsVertexTieBreak(t *testing.T) {
	square := unitSquare()

	// The half-open edge rule makes vertex hits deterministic: the origin
	// resolves inside, the opposite corner outside. What matters is that the
	// answer never flips between calls.
	first := square.Contains(Point{0, 0})
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, square.Contains(Point{0, 0}))
	}
	assert.True(t, square.Contains(Point{0, 0}))
	assert.False(t, square.Contains(Point{1, 1}))
}

func TestContainsConcavePolygon(t *testing.T) {
	// A "U" shape: the notch between the prongs is outside.
	u := Polygon{
		{0, 0}, {1, 0}, {1, 1}, {0.75, 1}, {0.75, 0.25}, {0.25, 0.25}, {0.25, 1}, {0, 1},
	}

	assert.True(t, u.Contains(Point{0.1, 0.5}), "left prong")
	assert.True(t, u.Contains(Point{0.9, 0.5}), "right prong")
	assert.False(t, u.Contains(Point{0.5, 0.5}), "notch")
	assert.True(t, u.Contains(Point{0.5, 0.1}), "base")
}

func TestCenter(t *testing.T) {
	bbox := types.BBox{X1: 100, Y1: 100, X2: 300, Y2: 200}

	c := Center(bbox, 640, 480)
	assert.InDelta(t, 200.0/640.0, c.X, 1e-9)
	assert.InDelta(t, 150.0/480.0, c.Y, 1e-9)

	assert.Equal(t, Point{}, Center(bbox, 0, 480))
}

func TestDetectionInZone(t *testing.T) {
	det := types.Detection{BBox: types.BBox{X1: 0, Y1: 0, X2: 64, Y2: 48}}

	// No zone defined means everywhere is safe.
	assert.True(t, DetectionInZone(det, 640, 480, nil))

	// Center (0.05, 0.05) is inside the unit square but outside a zone in
	// the opposite corner.
	assert.True(t, DetectionInZone(det, 640, 480, unitSquare()))
	corner := Polygon{{0.5, 0.5}, {1, 0.5}, {1, 1}, {0.5, 1}}
	assert.False(t, DetectionInZone(det, 640, 480, corner))
}

func TestNormalize(t *testing.T) {
	normalized := Polygon{{0.1, 0.2}, {0.9, 0.2}, {0.5, 0.8}}
	require.Equal(t, normalized, Normalize(normalized, 640, 480))

	pixels := Polygon{{64, 96}, {576, 96}, {320, 384}}
	got := Normalize(pixels, 640, 480)
	want := Polygon{{0.1, 0.2}, {0.9, 0.2}, {0.5, 0.8}}
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i].X, got[i].X, 1e-9)
		assert.InDelta(t, want[i].Y, got[i].Y, 1e-9)
	}

	// Bad reference resolution leaves the ring untouched.
	assert.Equal(t, pixels, Normalize(pixels, 0, 0))
}
