// internal/decision/engine.go
package decision

import (
	"context"

	"github.com/quayside/browserpilot/api/schemas"
)

// Input is everything the decision engine sees for one step: the current
// screenshot, the goal, trailing history, and the control-plane signals folded
// into the prompt.
type Input struct {
	Screenshot     []byte
	ScreenshotMime string
	PageURL        string
	Viewport       schemas.Viewport

	GoalText      string
	ActionHistory []schemas.ActionRecord
	Conversation  []schemas.ConversationTurn

	// Interrupted signals that the goal was replaced mid-run; LoopWarning
	// signals the A-B-A-B oscillation heuristic fired. Both are advisory.
	Interrupted bool
	LoopWarning bool

	// Lessons are prior takeaways recorded for the current page host.
	Lessons []string

	// Per-request overrides; zero values fall back to configuration.
	Model          string
	ThinkingBudget int
}

// Engine turns one observation into one action. Implementations are expected
// to be safe for sequential reuse; the goal controller never calls Decide
// concurrently.
type Engine interface {
	Decide(ctx context.Context, in Input) (schemas.Action, error)
}
