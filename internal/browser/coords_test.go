// internal/browser/coords_test.go
package browser

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside/browserpilot/api/schemas"
)

func TestMapperFromGrid(t *testing.T) {
	m := Mapper{}
	vp := schemas.Viewport{Width: 1280, Height: 800}

	tests := []struct {
		name string
		x, y float64
		want Point
	}{
		{"origin", 0, 0, Point{0, 0}},
		{"center", 500, 500, Point{640, 400}},
		{"far corner", 1000, 1000, Point{1280, 800}},
		{"clamped negative", -50, -50, Point{0, 0}},
		{"clamped overflow", 1500, 2000, Point{1280, 800}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.FromGrid(tt.x, tt.y, vp))
		})
	}
}

// Round-tripping grid -> pixel -> grid must recover the original coordinate
// within one grid unit for any viewport.
func TestMapperRoundTrip(t *testing.T) {
	m := Mapper{}
	viewports := []schemas.Viewport{
		{Width: 1280, Height: 800},
		{Width: 1920, Height: 1080},
		{Width: 1366, Height: 768},
	}
	for _, vp := range viewports {
		for gx := 0; gx <= GridMax; gx += 37 {
			for gy := 0; gy <= GridMax; gy += 41 {
				p := m.FromGrid(float64(gx), float64(gy), vp)
				back := m.ToGrid(p, vp)
				assert.InDelta(t, gx, back.X, 1, "x round trip at (%d,%d) vp=%v", gx, gy, vp)
				assert.InDelta(t, gy, back.Y, 1, "y round trip at (%d,%d) vp=%v", gx, gy, vp)
			}
		}
	}
}

func TestMapperFromDisplay_Letterboxed(t *testing.T) {
	m := Mapper{}
	// 1280x800 viewport (8:5) shown in a 1280x1000 box: pillarbox-free, but
	// letterboxed top and bottom with 100px bands.
	vp := schemas.Viewport{Width: 1280, Height: 800}

	p, err := m.FromDisplay(640, 500, 1280, 1000, vp)
	require.NoError(t, err)
	assert.Equal(t, Point{640, 400}, p, "display center maps to viewport center")

	// Top letterbox band is outside the drawn rectangle.
	_, err = m.FromDisplay(640, 50, 1280, 1000, vp)
	assert.ErrorIs(t, err, ErrOutsideViewport)

	// Bottom band likewise.
	_, err = m.FromDisplay(640, 980, 1280, 1000, vp)
	assert.ErrorIs(t, err, ErrOutsideViewport)

	// Exactly on the drawn edge is accepted.
	p, err = m.FromDisplay(0, 100, 1280, 1000, vp)
	require.NoError(t, err)
	assert.Equal(t, Point{0, 0}, p)
}

func TestMapperFromDisplay_Pillarboxed(t *testing.T) {
	m := Mapper{}
	vp := schemas.Viewport{Width: 1280, Height: 800}

	// Same viewport in a 2000x800 box: 360px pillars on each side.
	p, err := m.FromDisplay(1000, 400, 2000, 800, vp)
	require.NoError(t, err)
	assert.Equal(t, Point{640, 400}, p)

	_, err = m.FromDisplay(100, 400, 2000, 800, vp)
	assert.ErrorIs(t, err, ErrOutsideViewport)

	_, err = m.FromDisplay(1900, 400, 2000, 800, vp)
	assert.ErrorIs(t, err, ErrOutsideViewport)
}

func TestMapperFromDisplay_ScaledDown(t *testing.T) {
	m := Mapper{}
	vp := schemas.Viewport{Width: 1280, Height: 800}

	// Half-size preview with the exact aspect ratio: no margins at all.
	p, err := m.FromDisplay(320, 200, 640, 400, vp)
	require.NoError(t, err)
	assert.InDelta(t, 640, p.X, 1)
	assert.InDelta(t, 400, p.Y, 1)
}

func TestMapperFromDisplay_InvalidBoxes(t *testing.T) {
	m := Mapper{}
	vp := schemas.Viewport{Width: 1280, Height: 800}

	_, err := m.FromDisplay(10, 10, 0, 400, vp)
	assert.Error(t, err)

	_, err = m.FromDisplay(10, 10, 640, 400, schemas.Viewport{})
	assert.Error(t, err)
}

func TestMapperResolve(t *testing.T) {
	m := Mapper{}
	vp := schemas.Viewport{Width: 1000, Height: 500}

	t.Run("no coordinates", func(t *testing.T) {
		p, g, err := m.Resolve(schemas.Action{Type: schemas.ActionReload}, vp)
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Nil(t, g)
	})

	t.Run("grid space", func(t *testing.T) {
		x, y := 250.0, 500.0
		p, g, err := m.Resolve(schemas.Action{Type: schemas.ActionClick, X: &x, Y: &y}, vp)
		require.NoError(t, err)
		assert.Equal(t, &Point{250, 250}, p)
		assert.Equal(t, &schemas.GridPoint{X: 250, Y: 500}, g)
	})

	t.Run("display space records grid coordinates", func(t *testing.T) {
		x, y := 500.0, 250.0
		a := schemas.Action{
			Type: schemas.ActionClick, X: &x, Y: &y,
			Space: schemas.SpaceDisplay, DisplayWidth: 1000, DisplayHeight: 500,
		}
		p, g, err := m.Resolve(a, vp)
		require.NoError(t, err)
		require.NotNil(t, p)
		require.NotNil(t, g)
		assert.Equal(t, 500.0, p.X)
		assert.Equal(t, 500, g.X, "grid record derived from resolved pixel")
	})

	t.Run("display space outside draw rect", func(t *testing.T) {
		x, y := 5.0, 5.0
		a := schemas.Action{
			Type: schemas.ActionClick, X: &x, Y: &y,
			Space: schemas.SpaceDisplay, DisplayWidth: 3000, DisplayHeight: 500,
		}
		_, _, err := m.Resolve(a, vp)
		assert.ErrorIs(t, err, ErrOutsideViewport)
	})
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://example.com", NormalizeURL("example.com"))
	assert.Equal(t, "http://example.com", NormalizeURL("http://example.com"))
	assert.Equal(t, "", NormalizeURL("  "))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-1, 0, 10))
	assert.Equal(t, 10.0, clamp(11, 0, 10))
	assert.Equal(t, math.Pi, clamp(math.Pi, 0, 10))
}
