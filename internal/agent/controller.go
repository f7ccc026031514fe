// internal/agent/controller.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quayside/browserpilot/api/schemas"
	"github.com/quayside/browserpilot/internal/browser"
	"github.com/quayside/browserpilot/internal/config"
	"github.com/quayside/browserpilot/internal/decision"
)

// ErrEmptyGoal is returned when a goal is empty or whitespace-only. No state
// changes in that case.
var ErrEmptyGoal = errors.New("goal text must not be empty")

// Capturer is the frame distribution hub surface the controller observes
// through.
type Capturer interface {
	Latest(ctx context.Context, forceLive bool) (*schemas.Frame, error)
}

// ClipboardOwner lets partial resets clear the executor's clipboard register.
type ClipboardOwner interface {
	ClearClipboard()
}

// Event is one entry on the controller's status event channel. The gateway
// subscribes instead of the controller calling back into it.
type Event struct {
	Status  schemas.ControlStatus
	Message string
	Time    time.Time
}

// SetGoalOptions modifies how a new goal is installed.
type SetGoalOptions struct {
	// PreserveContext merges a running goal's context into the new goal text
	// instead of discarding it.
	PreserveContext bool
	// CleanContext wipes conversation history before the new goal is added.
	CleanContext bool
	// Model and ThinkingBudget override the decision engine defaults for this
	// goal.
	Model          string
	ThinkingBudget int
}

// ResetFlags selects which pieces of controller context a reset clears. Each
// field is independent so callers can do partial resets.
type ResetFlags struct {
	StopRunningTask          bool
	ClearConversationHistory bool
	ClearActionHistory       bool
	ClearClipboard           bool
	ClearCurrentGoal         bool
	ClearInterruptFlag       bool
	ClearMemory              bool
}

// Controller is the goal state machine. It accepts goals, runs the
// decide/execute/record loop against the shared browsing session, applies
// loop detection and the iteration ceiling, and exposes a consistent status
// projection.
//
// Manual-control policy: enabling manual control asks the loop to pause. The
// in-flight iteration finishes, then the loop idles until manual control is
// disabled, the goal is replaced, or a stop is requested. The actuation
// arbiter still serializes the two sources regardless of this flag.
type Controller struct {
	cfg       config.AgentConfig
	logger    *zap.Logger
	actuator  browser.Actuator
	frames    Capturer
	engine    decision.Engine
	lessons   LessonStore
	clipboard ClipboardOwner

	mu             sync.Mutex
	goal           *schemas.Goal
	state          schemas.GoalState
	running        bool
	manual         bool
	interrupt      bool
	stopRequested  bool
	statusMsg      string
	model          string
	thinkingBudget int
	actions        *actionLog
	conversation   *conversationLog
	runCancel      context.CancelFunc

	wg     sync.WaitGroup
	events chan Event
}

// NewController wires the goal controller to its collaborators. lessons and
// clipboard may be nil; the corresponding features degrade to no-ops.
func NewController(
	cfg config.AgentConfig,
	actuator browser.Actuator,
	frames Capturer,
	engine decision.Engine,
	lessons LessonStore,
	clipboard ClipboardOwner,
	logger *zap.Logger,
) *Controller {
	bufSize := cfg.StatusEventBufferSize
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Controller{
		cfg:          cfg,
		logger:       logger.Named("controller"),
		actuator:     actuator,
		frames:       frames,
		engine:       engine,
		lessons:      lessons,
		clipboard:    clipboard,
		state:        schemas.GoalIdle,
		statusMsg:    "Idle.",
		actions:      newActionLog(cfg.ActionHistoryCap, cfg.ActionHistoryRetain),
		conversation: newConversationLog(cfg.ConversationCap, cfg.ConversationRetain),
		events:       make(chan Event, bufSize),
	}
}

// Events exposes the bounded status event channel. Events are dropped, not
// blocked on, when the consumer falls behind.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// SetGoal installs a new goal and starts the autonomous loop if it is not
// already running. Replacing a running goal raises the interrupt flag instead
// of aborting the in-flight action; the loop adopts the new goal on its next
// iteration.
func (c *Controller) SetGoal(text string, opts SetGoalOptions) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyGoal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if opts.CleanContext {
		c.conversation.clear()
	}

	wasRunning := c.running
	effective := text

	if wasRunning && opts.PreserveContext {
		prior := ""
		if c.goal != nil {
			prior = c.goal.Text
		}
		lastSummary := "no action taken yet"
		if last := c.actions.last(); last != nil {
			lastSummary = string(last.Type)
			if last.Reasoning != "" {
				lastSummary += " (" + last.Reasoning + ")"
			}
		}
		effective = fmt.Sprintf(
			"%s\n\n[This goal replaces the earlier goal %q. The last action before the switch was: %s.]",
			text, prior, lastSummary)
		c.conversation.append("agent", fmt.Sprintf("Was working on %q; last action: %s.", prior, lastSummary))
		c.conversation.append("user", text)
	} else {
		c.conversation.append("user", text)
	}

	// A new goal always starts from a clean action history.
	c.actions.clear()

	origin := schemas.OriginAutonomous
	switch {
	case wasRunning:
		origin = schemas.OriginManualInterrupt
	case c.state == schemas.GoalAwaitingClarification:
		origin = schemas.OriginContinuation
	}

	c.goal = &schemas.Goal{Text: effective, Origin: origin, CreatedAt: time.Now().UTC()}
	c.model = opts.Model
	c.thinkingBudget = opts.ThinkingBudget

	if wasRunning {
		// Signal, don't abort: the flag is consumed by the next decision
		// prompt, and the executor finishes whatever it already started.
		// A stop requested before the replacement is superseded by it.
		c.stopRequested = false
		c.interrupt = true
		c.state = schemas.GoalRunning
		c.statusMsg = "Goal replaced while running."
		c.logger.Info("Goal replaced mid-run.", zap.String("goal", text))
		c.publishLocked()
		return nil
	}

	c.state = schemas.GoalRunning
	c.running = true
	c.stopRequested = false
	c.statusMsg = "Task started."
	c.logger.Info("Goal accepted.", zap.String("goal", text), zap.String("origin", string(origin)))

	runCtx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	c.wg.Add(1)
	go c.run(runCtx)

	c.publishLocked()
	return nil
}

// run is the autonomous loop. It exits through finish(), which flips the
// running flag and publishes the final status. Cancellation is cooperative:
// stop requests and context cancellation are observed between iterations.
func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()
	iter := 0

	for {
		c.mu.Lock()
		switch {
		case ctx.Err() != nil:
			c.finishLocked(schemas.GoalInterrupted, "Task aborted: controller shutting down.", false)
			c.mu.Unlock()
			return
		case c.stopRequested:
			c.goal = nil
			c.finishLocked(schemas.GoalIdle, "Task stopped.", false)
			c.mu.Unlock()
			return
		case c.goal == nil:
			c.finishLocked(schemas.GoalIdle, "No goal set.", false)
			c.mu.Unlock()
			return
		case c.manual:
			c.statusMsg = "Paused while manual control is enabled."
			c.mu.Unlock()
			if err := sleepCtx(ctx, 200*time.Millisecond); err != nil {
				continue // loop top observes cancellation
			}
			continue
		case iter >= c.cfg.MaxIterations:
			// Policy cutoff, not a failure: the goal stays so the operator can
			// resupply it to continue.
			c.finishLocked(schemas.GoalInterrupted,
				fmt.Sprintf("Iteration limit (%d) reached. Set the goal again to continue.", c.cfg.MaxIterations), false)
			c.mu.Unlock()
			return
		}

		goalText := c.goal.Text
		interrupted := c.interrupt
		c.interrupt = false // consumed by exactly one prompt
		history := c.actions.tail(c.cfg.DecisionHistoryWindow)
		loopWarn := loopDetected(c.actions.tail(4))
		conv := c.conversation.snapshot()
		model, budget := c.model, c.thinkingBudget
		c.mu.Unlock()

		if loopWarn {
			c.logger.Warn("Oscillation detected in recent actions; warning the decision engine.")
		}

		frame, err := c.frames.Latest(ctx, true)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.setStatus(fmt.Sprintf("Screenshot capture failed: %v", err))
			_ = sleepCtx(ctx, c.cfg.StepDelay)
			iter++
			continue
		}

		var lessons []string
		if c.lessons != nil {
			if ls, lerr := c.lessons.ForHost(ctx, HostOf(frame.URL)); lerr == nil {
				lessons = ls
			}
		}

		action, err := c.engine.Decide(ctx, decision.Input{
			Screenshot:     frame.Image,
			ScreenshotMime: frame.MimeType,
			PageURL:        frame.URL,
			Viewport:       frame.Viewport,
			GoalText:       goalText,
			ActionHistory:  history,
			Conversation:   conv,
			Interrupted:    interrupted,
			LoopWarning:    loopWarn,
			Lessons:        lessons,
			Model:          model,
			ThinkingBudget: budget,
		})
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			// Unusable decision: synthesize the terminal error the engine
			// could not produce itself.
			c.logger.Error("Decision engine failed; ending run.", zap.Error(err))
			c.mu.Lock()
			c.appendRecordLocked(schemas.ActionRecord{
				Type:      schemas.ActionError,
				Reasoning: err.Error(),
				Success:   false,
				Timestamp: time.Now().UTC(),
			})
			c.goal = nil
			c.finishLocked(schemas.GoalFailed, fmt.Sprintf("Decision engine error: %v", err), false)
			c.mu.Unlock()
			return
		}

		if action.Terminal() {
			c.concludeRun(action)
			return
		}

		result := c.actuator.Do(ctx, browser.SourceAutonomous, action)

		c.mu.Lock()
		c.appendRecordLocked(recordFor(action, result))
		c.publishLocked()
		c.mu.Unlock()

		if action.Lesson != "" && c.lessons != nil {
			if lerr := c.lessons.Add(ctx, HostOf(frame.URL), action.Lesson); lerr != nil {
				c.logger.Warn("Failed to store lesson.", zap.Error(lerr))
			}
		}

		_ = sleepCtx(ctx, c.cfg.StepDelay)
		iter++
	}
}

// concludeRun handles the three terminal decision types.
func (c *Controller) concludeRun(action schemas.Action) {
	message := action.Message
	c.mu.Lock()
	defer c.mu.Unlock()

	c.appendRecordLocked(schemas.ActionRecord{
		Type:      action.Type,
		Reasoning: firstNonEmpty(action.Reasoning, message),
		Success:   action.Type != schemas.ActionError,
		Timestamp: time.Now().UTC(),
	})

	switch action.Type {
	case schemas.ActionDone:
		if message == "" {
			message = "Goal completed."
		}
		c.conversation.append("agent", message)
		c.goal = nil
		c.finishLocked(schemas.GoalCompleted, message, true)
	case schemas.ActionAsk:
		if message == "" {
			message = "The agent needs clarification to continue."
		}
		// The goal stays set: the operator answers by setting a goal again.
		c.conversation.append("agent", message)
		c.finishLocked(schemas.GoalAwaitingClarification, message, true)
	case schemas.ActionError:
		if message == "" {
			message = "The agent reported an unrecoverable error."
		}
		c.conversation.append("agent", message)
		c.goal = nil
		c.finishLocked(schemas.GoalFailed, message, true)
	}
}

// finishLocked ends the run. Caller must hold c.mu.
func (c *Controller) finishLocked(state schemas.GoalState, msg string, logInfo bool) {
	c.running = false
	c.runCancel = nil
	c.state = state
	c.statusMsg = msg
	if logInfo {
		c.logger.Info("Run finished.", zap.String("state", string(state)), zap.String("message", msg))
	}
	c.publishLocked()
}

// Stop requests a cooperative stop. The request is observed between
// iterations; an action already issued to the driver is never preempted.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.stopRequested = true
	c.statusMsg = "Stop requested."
	c.publishLocked()
}

// SetManualControl flips the shared manual-control flag. The flag is a
// visibility and pause signal; actuation serialization does not depend on it.
func (c *Controller) SetManualControl(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manual == enabled {
		return
	}
	c.manual = enabled
	if enabled {
		c.statusMsg = "Manual control enabled."
	} else {
		c.statusMsg = "Manual control disabled."
	}
	c.logger.Info("Manual control flag changed.", zap.Bool("enabled", enabled))
	c.publishLocked()
}

// ManualControlEnabled reports the manual-control flag.
func (c *Controller) ManualControlEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manual
}

// ResetContext clears the selected pieces of state. Fields not named by the
// flags are left untouched.
func (c *Controller) ResetContext(ctx context.Context, flags ResetFlags) error {
	c.mu.Lock()
	if flags.StopRunningTask && c.running {
		c.stopRequested = true
	}
	if flags.ClearConversationHistory {
		c.conversation.clear()
	}
	if flags.ClearActionHistory {
		c.actions.clear()
	}
	if flags.ClearCurrentGoal {
		c.goal = nil
	}
	if flags.ClearInterruptFlag {
		c.interrupt = false
	}
	c.statusMsg = "Context reset."
	c.publishLocked()
	c.mu.Unlock()

	if flags.ClearClipboard && c.clipboard != nil {
		c.clipboard.ClearClipboard()
	}
	if flags.ClearMemory && c.lessons != nil {
		if err := c.lessons.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear lesson memory: %w", err)
		}
	}
	return nil
}

// RecordConversation appends a free-text turn, giving external surfaces (chat
// UI, manual notes) a way to keep the decision engine's context current.
func (c *Controller) RecordConversation(role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversation.append(role, text)
}

// Status recomputes the derived status projection under the lock, so
// concurrent readers never see torn state.
func (c *Controller) Status() schemas.ControlStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() schemas.ControlStatus {
	var goalText *string
	if c.goal != nil {
		t := c.goal.Text
		goalText = &t
	}
	return schemas.ControlStatus{
		Running:                   c.running,
		State:                     c.state,
		CurrentGoalText:           goalText,
		ManualControlEnabled:      c.manual,
		LastStatusMessage:         c.statusMsg,
		ActionHistoryLength:       c.actions.len(),
		ConversationHistoryLength: c.conversation.len(),
	}
}

// ActionHistory returns a copy of the recent action records, oldest first.
func (c *Controller) ActionHistory(n int) []schemas.ActionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actions.tail(n)
}

// Shutdown cancels any running loop and waits for it to exit.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	if c.runCancel != nil {
		c.runCancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("Shutdown timed out waiting for the run loop.")
	}
}

func (c *Controller) setStatus(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusMsg = msg
	c.publishLocked()
}

func (c *Controller) appendRecordLocked(r schemas.ActionRecord) {
	c.actions.append(r)
}

// publishLocked emits a status event without blocking; the channel is bounded
// and slow consumers lose events rather than stalling the loop.
func (c *Controller) publishLocked() {
	ev := Event{Status: c.statusLocked(), Message: c.statusMsg, Time: time.Now().UTC()}
	select {
	case c.events <- ev:
	default:
	}
}

// recordFor converts an executed action and its result into a history record.
func recordFor(a schemas.Action, res schemas.ActionResult) schemas.ActionRecord {
	r := schemas.ActionRecord{
		Type:            a.Type,
		Text:            a.Text,
		Key:             a.Key,
		ScrollDirection: a.Direction,
		ClickCount:      a.Count,
		Reasoning:       a.Reasoning,
		Success:         res.OK,
		Timestamp:       time.Now().UTC(),
	}
	if !res.OK && res.Detail != "" {
		if r.Reasoning != "" {
			r.Reasoning += "; "
		}
		r.Reasoning += "failure: " + res.Detail
	}
	if a.X != nil && a.Y != nil {
		r.Coordinate = &schemas.GridPoint{X: int(*a.X), Y: int(*a.Y)}
	}
	return r
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
