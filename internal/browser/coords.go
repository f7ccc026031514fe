// internal/browser/coords.go
package browser

import (
	"errors"
	"fmt"
	"math"

	"github.com/quayside/browserpilot/api/schemas"
)

// GridMax is the upper bound of the normalized coordinate grid used by the
// decision engine. Grid coordinates are resolution independent: (500, 500) is
// always the center of the viewport.
const GridMax = 1000

// ErrOutsideViewport is returned for display-space pointer events that land in
// the letterbox/pillarbox margins rather than on the rendered page.
var ErrOutsideViewport = errors.New("coordinate falls outside the rendered viewport area")

// Point is a resolved position in driver viewport pixels.
type Point struct {
	X float64
	Y float64
}

// Mapper converts decision-engine grid coordinates and preview display
// coordinates into driver viewport pixels. Both actuation paths go through
// Resolve so the rest of the system never branches on coordinate origin.
type Mapper struct{}

// FromGrid maps a normalized 0-1000 coordinate pair onto the viewport.
// Out-of-range inputs are clamped onto the grid edge.
func (Mapper) FromGrid(x, y float64, vp schemas.Viewport) Point {
	x = clamp(x, 0, GridMax)
	y = clamp(y, 0, GridMax)
	return Point{
		X: math.Round(x / GridMax * float64(vp.Width)),
		Y: math.Round(y / GridMax * float64(vp.Height)),
	}
}

// ToGrid is the inverse of FromGrid, used to record display-originated actions
// in the same grid space the decision engine reasons in.
func (Mapper) ToGrid(p Point, vp schemas.Viewport) schemas.GridPoint {
	if vp.Width <= 0 || vp.Height <= 0 {
		return schemas.GridPoint{}
	}
	return schemas.GridPoint{
		X: int(math.Round(p.X / float64(vp.Width) * GridMax)),
		Y: int(math.Round(p.Y / float64(vp.Height) * GridMax)),
	}
}

// FromDisplay maps a pointer event on a rendered preview image onto the
// viewport. The preview preserves the viewport aspect ratio inside a display
// box of arbitrary shape, so the inscribed draw rectangle must be computed
// first; events in the blank margins are rejected with ErrOutsideViewport.
func (Mapper) FromDisplay(x, y float64, displayW, displayH int, vp schemas.Viewport) (Point, error) {
	if displayW <= 0 || displayH <= 0 {
		return Point{}, fmt.Errorf("display box must be positive, got %dx%d", displayW, displayH)
	}
	if vp.Width <= 0 || vp.Height <= 0 {
		return Point{}, fmt.Errorf("viewport must be positive, got %dx%d", vp.Width, vp.Height)
	}

	scale := math.Min(float64(displayW)/float64(vp.Width), float64(displayH)/float64(vp.Height))
	drawW := float64(vp.Width) * scale
	drawH := float64(vp.Height) * scale
	offX := (float64(displayW) - drawW) / 2
	offY := (float64(displayH) - drawH) / 2

	if x < offX || x > offX+drawW || y < offY || y > offY+drawH {
		return Point{}, ErrOutsideViewport
	}

	return Point{
		X: math.Round((x - offX) / drawW * float64(vp.Width)),
		Y: math.Round((y - offY) / drawH * float64(vp.Height)),
	}, nil
}

// Resolve converts a validated action's coordinate pair, whatever its space,
// into viewport pixels plus the grid-space point recorded in action history.
// Actions without coordinates resolve to (nil, nil, nil).
func (m Mapper) Resolve(a schemas.Action, vp schemas.Viewport) (*Point, *schemas.GridPoint, error) {
	if a.X == nil || a.Y == nil {
		return nil, nil, nil
	}
	switch a.Space {
	case schemas.SpaceDisplay:
		p, err := m.FromDisplay(*a.X, *a.Y, a.DisplayWidth, a.DisplayHeight, vp)
		if err != nil {
			return nil, nil, err
		}
		g := m.ToGrid(p, vp)
		return &p, &g, nil
	default:
		p := m.FromGrid(*a.X, *a.Y, vp)
		g := schemas.GridPoint{X: int(clamp(*a.X, 0, GridMax)), Y: int(clamp(*a.Y, 0, GridMax))}
		return &p, &g, nil
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
