// api/schemas/frames.go
package schemas

import "time"

// Viewport holds the driver's true page dimensions in pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FrameSource distinguishes how a frame capture was initiated.
type FrameSource string

const (
	FrameSourcePull   FrameSource = "pull"
	FrameSourceStream FrameSource = "stream"
	FrameSourceOpen   FrameSource = "open"
)

// Frame is one captured visual snapshot of the browsing session. Frames are
// immutable once created; Image marshals as base64 in JSON.
type Frame struct {
	ID         string      `json:"id"`
	Image      []byte      `json:"image"`
	MimeType   string      `json:"mimeType"`
	CapturedAt time.Time   `json:"capturedAt"`
	Viewport   Viewport    `json:"viewport"`
	URL        string      `json:"url"`
	Source     FrameSource `json:"source"`
}

// ControlStatus is a derived projection of the control plane's shared state.
// It is recomputed on every query and never persisted independently.
type ControlStatus struct {
	Running                   bool      `json:"running"`
	State                     GoalState `json:"state"`
	CurrentGoalText           *string   `json:"currentGoalText"`
	ManualControlEnabled      bool      `json:"manualControlEnabled"`
	LastStatusMessage         string    `json:"lastStatusMessage"`
	ActionHistoryLength       int       `json:"actionHistoryLength"`
	ConversationHistoryLength int       `json:"conversationHistoryLength"`
}
