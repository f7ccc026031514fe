// internal/decision/prompt.go
package decision

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const systemPrompt = `You are driving a real web browser toward a goal stated in natural language.
You observe one screenshot per step and must answer with exactly one JSON object describing
the next action. Coordinates use a normalized grid where (0,0) is the top-left and
(1000,1000) the bottom-right of the viewport, independent of resolution.

Available actions and their fields:
  {"type":"click","x":N,"y":N,"count":1|2,"reasoning":"..."}
  {"type":"hover","x":N,"y":N}
  {"type":"hold","x":N,"y":N,"durationMs":100-10000}
  {"type":"type","text":"...","clearBefore":true|false,"submit":true|false}
  {"type":"key","key":"enter|tab|escape|backspace|delete|arrow_up|arrow_down|..."}
  {"type":"clear"}
  {"type":"scroll","direction":"up"|"down"}
  {"type":"navigate","url":"..."}
  {"type":"go_back"} {"type":"go_forward"} {"type":"reload"} {"type":"close_tab"}
  {"type":"get_link","x":N,"y":N}  (x/y optional; omitted means current page URL)
  {"type":"paste_link","x":N,"y":N,"clearBefore":true|false}
  {"type":"wait"}
  {"type":"done","message":"what was accomplished"}
  {"type":"ask","message":"a clarifying question for the operator"}
  {"type":"error","message":"why the goal cannot proceed"}

Every action may carry "reasoning" (one sentence) and optionally "lesson" (a reusable
takeaway about this site worth remembering). Use "done" only when the goal is visibly
complete, "ask" when you need operator input, "error" when the goal is impossible.
Respond with the JSON object only, no prose and no markdown fences.`

// buildUserPrompt renders the textual half of the prompt; the screenshot
// travels as a separate image part.
func buildUserPrompt(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "GOAL: %s\n", in.GoalText)
	if in.PageURL != "" {
		fmt.Fprintf(&b, "CURRENT URL: %s\n", in.PageURL)
	}
	fmt.Fprintf(&b, "VIEWPORT: %dx%d\n", in.Viewport.Width, in.Viewport.Height)

	if in.Interrupted {
		b.WriteString("\nNOTE: the operator replaced the goal while you were working. " +
			"Treat the goal above as the current one and reassess the page before acting.\n")
	}
	if in.LoopWarning {
		b.WriteString("\nWARNING: your last four actions alternated between the same two targets. " +
			"You appear to be stuck in a loop. Choose a different approach.\n")
	}

	if len(in.Lessons) > 0 {
		b.WriteString("\nLESSONS LEARNED ON THIS SITE:\n")
		for _, l := range in.Lessons {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}

	if len(in.Conversation) > 0 {
		b.WriteString("\nCONVERSATION SO FAR:\n")
		for _, turn := range in.Conversation {
			fmt.Fprintf(&b, "[%s] %s\n", turn.Role, turn.Text)
		}
	}

	if len(in.ActionHistory) > 0 {
		b.WriteString("\nRECENT ACTIONS (oldest first):\n")
		for _, r := range in.ActionHistory {
			outcome := "ok"
			if !r.Success {
				outcome = "FAILED"
			}
			fmt.Fprintf(&b, "- %s", r.Type)
			if r.Coordinate != nil {
				fmt.Fprintf(&b, " @(%d,%d)", r.Coordinate.X, r.Coordinate.Y)
			}
			if r.Text != "" {
				fmt.Fprintf(&b, " text=%q", truncate(r.Text, 60))
			}
			if r.Key != "" {
				fmt.Fprintf(&b, " key=%s", r.Key)
			}
			if r.ScrollDirection != "" {
				fmt.Fprintf(&b, " dir=%s", r.ScrollDirection)
			}
			fmt.Fprintf(&b, " [%s]", outcome)
			if r.Reasoning != "" {
				fmt.Fprintf(&b, " (%s)", truncate(r.Reasoning, 120))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\nDecide the single next action now.")
	return b.String()
}

// truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
