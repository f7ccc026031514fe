// api/schemas/actions_test.go
package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }

func TestActionNormalize_RequiredCoordinates(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		field  string
	}{
		{"click without coordinates", Action{Type: ActionClick}, "x,y"},
		{"hover without coordinates", Action{Type: ActionHover}, "x,y"},
		{"hold without coordinates", Action{Type: ActionHold}, "x,y"},
		{"paste_link without coordinates", Action{Type: ActionPasteLink}, "x,y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Normalize()
			require.Error(t, err)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.Contains(t, err.Error(), "coordinates")
		})
	}
}

func TestActionNormalize_Clamps(t *testing.T) {
	click := Action{Type: ActionClick, X: fp(10), Y: fp(10), Count: 7}
	require.NoError(t, click.Normalize())
	assert.Equal(t, MaxClickCount, click.Count)

	click = Action{Type: ActionClick, X: fp(10), Y: fp(10)}
	require.NoError(t, click.Normalize())
	assert.Equal(t, MinClickCount, click.Count)

	hold := Action{Type: ActionHold, X: fp(1), Y: fp(1), DurationMs: 50_000}
	require.NoError(t, hold.Normalize())
	assert.Equal(t, MaxHoldMs, hold.DurationMs)

	hold = Action{Type: ActionHold, X: fp(1), Y: fp(1), DurationMs: 5}
	require.NoError(t, hold.Normalize())
	assert.Equal(t, MinHoldMs, hold.DurationMs)
}

func TestActionNormalize_FieldRequirements(t *testing.T) {
	assert.Error(t, (&Action{Type: ActionTypeText}).Normalize())
	assert.Error(t, (&Action{Type: ActionKey, Key: "  "}).Normalize())
	assert.Error(t, (&Action{Type: ActionScroll, Direction: "left"}).Normalize())
	assert.Error(t, (&Action{Type: ActionNavigate}).Normalize())
	assert.Error(t, (&Action{Type: "teleport"}).Normalize())
	assert.Error(t, (&Action{}).Normalize())

	ok := Action{Type: ActionScroll, Direction: ScrollDown}
	assert.NoError(t, ok.Normalize())
	assert.Equal(t, SpaceGrid, ok.Space, "space defaults to the normalized grid")
}

func TestActionNormalize_DisplaySpace(t *testing.T) {
	a := Action{Type: ActionClick, X: fp(100), Y: fp(100), Space: SpaceDisplay}
	err := a.Normalize()
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "displayWidth,displayHeight", vErr.Field)

	a.DisplayWidth, a.DisplayHeight = 800, 600
	assert.NoError(t, a.Normalize())
}

func TestActionTerminalAndMutates(t *testing.T) {
	for _, typ := range []ActionType{ActionDone, ActionAsk, ActionError} {
		a := Action{Type: typ}
		assert.True(t, a.Terminal(), string(typ))
		assert.False(t, a.Mutates(), string(typ))
	}
	for _, typ := range []ActionType{ActionClick, ActionTypeText, ActionNavigate, ActionScroll} {
		a := Action{Type: typ}
		assert.False(t, a.Terminal(), string(typ))
		assert.True(t, a.Mutates(), string(typ))
	}
	hover := Action{Type: ActionHover}
	assert.False(t, hover.Mutates())
}
