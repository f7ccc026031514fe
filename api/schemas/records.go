// api/schemas/records.go
package schemas

import "time"

// GridPoint is a coordinate on the normalized 0-1000 grid.
type GridPoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ActionRecord is one append-only entry in the goal controller's action
// history. The history is sliding-window bounded: once it grows past a hard
// cap it is cut back to a smaller retained size in a single trim.
type ActionRecord struct {
	Type            ActionType      `json:"type"`
	Coordinate      *GridPoint      `json:"coordinate,omitempty"`
	Text            string          `json:"text,omitempty"`
	Key             string          `json:"key,omitempty"`
	ScrollDirection ScrollDirection `json:"scrollDirection,omitempty"`
	ClickCount      int             `json:"clickCount,omitempty"`
	Reasoning       string          `json:"reasoning,omitempty"`
	Success         bool            `json:"success"`
	Timestamp       time.Time       `json:"timestamp"`
}

// ConversationTurn is one free-text exchange entry. Conversation history is
// bounded separately from action history and survives goal replacement so the
// decision engine keeps continuity across goals.
type ConversationTurn struct {
	Role      string    `json:"role"` // "user" or "agent"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// GoalOrigin records how the active goal came to be.
type GoalOrigin string

const (
	OriginAutonomous      GoalOrigin = "autonomous"
	OriginManualInterrupt GoalOrigin = "manual-interrupt"
	OriginContinuation    GoalOrigin = "continuation"
)

// Goal is the natural-language task currently driving the autonomous loop.
// At most one goal is active at a time.
type Goal struct {
	Text      string     `json:"text"`
	Origin    GoalOrigin `json:"origin"`
	CreatedAt time.Time  `json:"createdAt"`
}

// GoalState tracks the lifecycle of the active goal. Transitions are strictly
// Idle -> Running -> {Completed|Failed|AwaitingClarification|Interrupted->Running}.
type GoalState string

const (
	GoalIdle                  GoalState = "IDLE"
	GoalRunning               GoalState = "RUNNING"
	GoalCompleted             GoalState = "COMPLETED"
	GoalFailed                GoalState = "FAILED"
	GoalAwaitingClarification GoalState = "AWAITING_CLARIFICATION"
	GoalInterrupted           GoalState = "INTERRUPTED"
)
