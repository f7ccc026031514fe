// api/schemas/actions.go
package schemas

import (
	"fmt"
	"strings"
)

// ActionType enumerates every operation the actuation layer can dispatch to the
// browsing session. The same vocabulary is shared by the decision engine, the
// manual control surface, and the executor, so neither side needs a private
// dialect.
type ActionType string

const (
	// -- Pointer actions --
	ActionClick ActionType = "click"
	ActionHover ActionType = "hover"
	ActionHold  ActionType = "hold"

	// -- Keyboard actions --
	ActionTypeText ActionType = "type"
	ActionKey      ActionType = "key"
	ActionClear    ActionType = "clear"

	// -- Page actions --
	ActionScroll    ActionType = "scroll"
	ActionNavigate  ActionType = "navigate"
	ActionGoBack    ActionType = "go_back"
	ActionGoForward ActionType = "go_forward"
	ActionReload    ActionType = "reload"
	ActionCloseTab  ActionType = "close_tab"

	// -- Clipboard actions --
	ActionGetLink   ActionType = "get_link"
	ActionPasteLink ActionType = "paste_link"

	// -- Pacing --
	ActionWait ActionType = "wait"

	// -- Terminal decisions (never actuated; consumed by the goal controller) --
	ActionDone  ActionType = "done"
	ActionAsk   ActionType = "ask"
	ActionError ActionType = "error"
)

// ScrollDirection constrains the scroll action to the two directions the
// decision engine is allowed to request.
type ScrollDirection string

const (
	ScrollUp   ScrollDirection = "up"
	ScrollDown ScrollDirection = "down"
)

// CoordinateSpace identifies which addressing space an action's x/y pair uses.
// Grid coordinates come from the decision engine; display coordinates come from
// pointer events on a rendered (possibly letterboxed) preview image.
type CoordinateSpace string

const (
	SpaceGrid    CoordinateSpace = "grid"
	SpaceDisplay CoordinateSpace = "display"
)

// Clamp boundaries applied during validation.
const (
	MinClickCount = 1
	MaxClickCount = 2
	MinHoldMs     = 100
	MaxHoldMs     = 10000
)

// Action is one fully-parameterized instruction for the actuation layer.
// X and Y are pointers so validation can distinguish "missing" from zero.
type Action struct {
	Type ActionType `json:"type"`

	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`

	// Space defaults to the normalized 0-1000 grid when empty. Display-space
	// coordinates additionally require the display box dimensions so the
	// letterbox correction can be computed.
	Space         CoordinateSpace `json:"space,omitempty"`
	DisplayWidth  int             `json:"displayWidth,omitempty"`
	DisplayHeight int             `json:"displayHeight,omitempty"`

	Count       int             `json:"count,omitempty"`
	DurationMs  int             `json:"durationMs,omitempty"`
	Direction   ScrollDirection `json:"direction,omitempty"`
	Text        string          `json:"text,omitempty"`
	Key         string          `json:"key,omitempty"`
	URL         string          `json:"url,omitempty"`
	ClearBefore bool            `json:"clearBefore,omitempty"`
	Submit      bool            `json:"submit,omitempty"`

	// Reasoning is the decision engine's stated justification. Message carries
	// the human-readable payload of done/ask/error decisions. Lesson is an
	// optional takeaway forwarded to the lesson store.
	Reasoning string `json:"reasoning,omitempty"`
	Message   string `json:"message,omitempty"`
	Lesson    string `json:"lesson,omitempty"`
}

// ActionResult is the typed outcome of executing a single action. Expected
// per-action failures (element gone, navigation refused) are reported here,
// not as Go errors; errors are reserved for faults like a dead driver.
type ActionResult struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// ValidationError names the offending field so the gateway can surface a
// precise 400 to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid action: field %q %s", e.Field, e.Reason)
}

// needsCoordinates lists the action types for which x and y are mandatory.
var needsCoordinates = map[ActionType]bool{
	ActionClick:     true,
	ActionHover:     true,
	ActionHold:      true,
	ActionPasteLink: true,
}

// Normalize validates an action and clamps its numeric parameters into their
// permitted ranges. It mutates the receiver in place and returns a
// *ValidationError describing the first problem found.
func (a *Action) Normalize() error {
	switch a.Type {
	case "":
		return &ValidationError{Field: "type", Reason: "is required"}
	case ActionClick, ActionHover, ActionHold, ActionTypeText, ActionKey, ActionClear,
		ActionScroll, ActionNavigate, ActionGoBack, ActionGoForward, ActionReload,
		ActionCloseTab, ActionGetLink, ActionPasteLink, ActionWait,
		ActionDone, ActionAsk, ActionError:
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("has unknown value %q", a.Type)}
	}

	if needsCoordinates[a.Type] {
		if a.X == nil || a.Y == nil {
			return &ValidationError{Field: "x,y", Reason: "coordinates are required for this action type"}
		}
	}

	if a.Space == "" {
		a.Space = SpaceGrid
	}
	switch a.Space {
	case SpaceGrid:
	case SpaceDisplay:
		if a.DisplayWidth <= 0 || a.DisplayHeight <= 0 {
			return &ValidationError{Field: "displayWidth,displayHeight", Reason: "must be positive for display-space coordinates"}
		}
	default:
		return &ValidationError{Field: "space", Reason: fmt.Sprintf("has unknown value %q", a.Space)}
	}

	switch a.Type {
	case ActionClick:
		if a.Count < MinClickCount {
			a.Count = MinClickCount
		}
		if a.Count > MaxClickCount {
			a.Count = MaxClickCount
		}
	case ActionHold:
		if a.DurationMs < MinHoldMs {
			a.DurationMs = MinHoldMs
		}
		if a.DurationMs > MaxHoldMs {
			a.DurationMs = MaxHoldMs
		}
	case ActionTypeText:
		if a.Text == "" {
			return &ValidationError{Field: "text", Reason: "is required for type actions"}
		}
	case ActionKey:
		if strings.TrimSpace(a.Key) == "" {
			return &ValidationError{Field: "key", Reason: "is required for key actions"}
		}
	case ActionScroll:
		if a.Direction != ScrollUp && a.Direction != ScrollDown {
			return &ValidationError{Field: "direction", Reason: `must be "up" or "down"`}
		}
	case ActionNavigate:
		if strings.TrimSpace(a.URL) == "" {
			return &ValidationError{Field: "url", Reason: "is required for navigate actions"}
		}
	}

	return nil
}

// Terminal reports whether the action concludes a goal run rather than
// driving the browser.
func (a *Action) Terminal() bool {
	return a.Type == ActionDone || a.Type == ActionAsk || a.Type == ActionError
}

// Mutates reports whether the action can change page state and therefore
// needs a settle delay before the next observation.
func (a *Action) Mutates() bool {
	switch a.Type {
	case ActionHover, ActionGetLink, ActionWait, ActionDone, ActionAsk, ActionError:
		return false
	default:
		return true
	}
}
