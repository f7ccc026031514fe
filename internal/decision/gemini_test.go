package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quayside/browserpilot/api/schemas"
	"github.com/quayside/browserpilot/internal/config"
)

func testDecisionConfig(endpoint string) config.DecisionConfig {
	cfg := config.NewDefault().Decision
	cfg.APIKey = "test-key"
	cfg.Endpoint = endpoint
	cfg.APITimeout = 5 * time.Second
	return cfg
}

func geminiBody(text string) string {
	payload := map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"parts": []map[string]any{{"text": text}},
			},
			"finishReason": "STOP",
		}},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func sampleInput() Input {
	return Input{
		Screenshot:     []byte{1, 2, 3},
		ScreenshotMime: "image/png",
		PageURL:        "https://example.com",
		Viewport:       schemas.Viewport{Width: 1280, Height: 800},
		GoalText:       "click the login button",
	}
}

func TestNewGeminiEngineRequiresKey(t *testing.T) {
	cfg := testDecisionConfig("")
	cfg.APIKey = ""
	_, err := NewGeminiEngine(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestDecideParsesAction(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req geminiRequestPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Contents)
		require.NotNil(t, req.SystemInstruction)
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)

		fmt.Fprint(w, geminiBody(`{"type":"click","x":500,"y":300,"count":1,"reasoning":"login button"}`))
	}))
	defer ts.Close()

	engine, err := NewGeminiEngine(testDecisionConfig(ts.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	action, err := engine.Decide(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionClick, action.Type)
	require.NotNil(t, action.X)
	assert.Equal(t, float64(500), *action.X)
}

func TestDecideRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, geminiBody(`{"type":"wait"}`))
	}))
	defer ts.Close()

	engine, err := NewGeminiEngine(testDecisionConfig(ts.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	action, err := engine.Decide(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionWait, action.Type)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDecideDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	engine, err := NewGeminiEngine(testDecisionConfig(ts.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = engine.Decide(context.Background(), sampleInput())
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDecideRejectsBlockedResponses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`)
	}))
	defer ts.Close()

	engine, err := NewGeminiEngine(testDecisionConfig(ts.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = engine.Decide(context.Background(), sampleInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    schemas.ActionType
		wantErr bool
	}{
		{"plain object", `{"type":"wait"}`, schemas.ActionWait, false},
		{"fenced json", "```json\n{\"type\":\"scroll\",\"direction\":\"down\"}\n```", schemas.ActionScroll, false},
		{"surrounding prose", `Sure, here you go: {"type":"go_back"} hope that helps`, schemas.ActionGoBack, false},
		{"no object at all", "I cannot decide", "", true},
		{"invalid json", `{"type":`, "", true},
		{"valid json, invalid action", `{"type":"click"}`, "", true},
		{"unknown type", `{"type":"teleport"}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := ParseAction(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, action.Type)
		})
	}
}

func TestBuildUserPromptSections(t *testing.T) {
	in := sampleInput()
	in.Interrupted = true
	in.LoopWarning = true
	in.Lessons = []string{"cookie banner hides the footer"}
	in.Conversation = []schemas.ConversationTurn{{Role: "user", Text: "log in"}}
	in.ActionHistory = []schemas.ActionRecord{{
		Type:       schemas.ActionClick,
		Coordinate: &schemas.GridPoint{X: 10, Y: 20},
		Success:    false,
		Reasoning:  "tried the login link",
	}}

	prompt := buildUserPrompt(in)
	assert.Contains(t, prompt, "GOAL: click the login button")
	assert.Contains(t, prompt, "CURRENT URL: https://example.com")
	assert.Contains(t, prompt, "replaced the goal")
	assert.Contains(t, prompt, "stuck in a loop")
	assert.Contains(t, prompt, "cookie banner hides the footer")
	assert.Contains(t, prompt, "@(10,20)")
	assert.Contains(t, prompt, "[FAILED]")
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))

	// A cut that would land mid-sequence backs off to the rune boundary.
	s := strings.Repeat("é", 10) // 2 bytes per rune
	for n := 1; n < len(s); n++ {
		out := truncate(s, n)
		assert.True(t, utf8.ValidString(out), "truncate(%q, %d) = %q is not valid UTF-8", s, n, out)
	}
	assert.Equal(t, "né...", truncate("néé", 3))
}
