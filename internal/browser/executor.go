// internal/browser/executor.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/quayside/browserpilot/api/schemas"
	"github.com/quayside/browserpilot/internal/config"
)

// driver is the slice of Session the executor needs. Narrowed to an interface
// so executor logic can be tested without a live browser.
type driver interface {
	RunActions(ctx context.Context, actions ...chromedp.Action) error
	Navigate(ctx context.Context, rawURL string) error
	CloseTab(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	Viewport() schemas.Viewport
}

// Executor translates one validated action into driver primitives. It owns all
// actuation detail: coordinate resolution, input event dispatch, the settle
// delay after mutating actions, and the clipboard register backing the
// get_link/paste_link pair.
//
// Executor itself is not a synchronization point; the Arbiter serializes
// callers before they reach Execute.
type Executor struct {
	drv    driver
	mapper Mapper
	logger *zap.Logger
	cfg    config.BrowserConfig

	clipMu    sync.Mutex
	clipboard string
}

// NewExecutor wires an executor to a session.
func NewExecutor(s *Session, cfg config.BrowserConfig, logger *zap.Logger) *Executor {
	return newExecutor(s, cfg, logger)
}

func newExecutor(drv driver, cfg config.BrowserConfig, logger *zap.Logger) *Executor {
	return &Executor{
		drv:    drv,
		cfg:    cfg,
		logger: logger.Named("executor"),
	}
}

// Execute performs a single action and reports a typed result. Driver
// failures inside one action are expected outcomes and come back as
// ActionResult{OK: false}; they never panic and never abort the caller.
func (e *Executor) Execute(ctx context.Context, a schemas.Action) schemas.ActionResult {
	if err := a.Normalize(); err != nil {
		return schemas.ActionResult{OK: false, Detail: err.Error()}
	}
	if a.Terminal() {
		// Terminal decisions are consumed by the goal controller, not actuated.
		return schemas.ActionResult{OK: false, Detail: fmt.Sprintf("action %q is not actuatable", a.Type)}
	}

	point, _, err := e.mapper.Resolve(a, e.drv.Viewport())
	if err != nil {
		return schemas.ActionResult{OK: false, Detail: err.Error()}
	}

	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout(a))
	defer cancel()

	if err := e.dispatch(opCtx, a, point); err != nil {
		e.logger.Warn("Action failed.",
			zap.String("action_type", string(a.Type)),
			zap.Error(err))
		return schemas.ActionResult{OK: false, Detail: err.Error()}
	}

	if a.Mutates() {
		if err := sleepCtx(ctx, e.cfg.SettleDelay); err != nil {
			return schemas.ActionResult{OK: false, Detail: err.Error()}
		}
	}
	return schemas.ActionResult{OK: true}
}

func (e *Executor) opTimeout(a schemas.Action) time.Duration {
	base := e.cfg.ActionTimeout
	switch a.Type {
	case schemas.ActionNavigate, schemas.ActionGoBack, schemas.ActionGoForward,
		schemas.ActionReload, schemas.ActionCloseTab:
		base = e.cfg.NavigationTimeout
	case schemas.ActionHold:
		base += time.Duration(a.DurationMs) * time.Millisecond
	case schemas.ActionWait:
		base += e.cfg.WaitDelay
	}
	return base
}

func (e *Executor) dispatch(ctx context.Context, a schemas.Action, p *Point) error {
	switch a.Type {
	case schemas.ActionClick:
		return e.click(ctx, *p, a.Count)
	case schemas.ActionHover:
		return e.drv.RunActions(ctx, mouseMove(*p))
	case schemas.ActionHold:
		return e.hold(ctx, *p, time.Duration(a.DurationMs)*time.Millisecond)
	case schemas.ActionTypeText:
		return e.typeText(ctx, a.Text, a.ClearBefore, a.Submit)
	case schemas.ActionKey:
		return e.pressKey(ctx, a.Key)
	case schemas.ActionClear:
		return e.clearActive(ctx)
	case schemas.ActionScroll:
		return e.scroll(ctx, a.Direction)
	case schemas.ActionNavigate:
		return e.drv.Navigate(ctx, a.URL)
	case schemas.ActionGoBack:
		return e.drv.RunActions(ctx, chromedp.NavigateBack())
	case schemas.ActionGoForward:
		return e.drv.RunActions(ctx, chromedp.NavigateForward())
	case schemas.ActionReload:
		return e.drv.RunActions(ctx, chromedp.Reload())
	case schemas.ActionCloseTab:
		return e.drv.CloseTab(ctx)
	case schemas.ActionGetLink:
		return e.getLink(ctx, p)
	case schemas.ActionPasteLink:
		return e.pasteLink(ctx, *p, a.ClearBefore)
	case schemas.ActionWait:
		return sleepCtx(ctx, e.cfg.WaitDelay)
	default:
		return fmt.Errorf("unhandled action type %q", a.Type)
	}
}

// -- Pointer primitives --

func mouseMove(p Point) chromedp.Action {
	return input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y)
}

// click dispatches a full press/release sequence per click. CDP expects the
// clickCount to increase across the presses of a multi-click.
func (e *Executor) click(ctx context.Context, p Point, count int) error {
	actions := []chromedp.Action{mouseMove(p)}
	for i := 1; i <= count; i++ {
		actions = append(actions,
			input.DispatchMouseEvent(input.MousePressed, p.X, p.Y).
				WithButton(input.Left).
				WithClickCount(int64(i)),
			input.DispatchMouseEvent(input.MouseReleased, p.X, p.Y).
				WithButton(input.Left).
				WithClickCount(int64(i)),
		)
	}
	return e.drv.RunActions(ctx, actions...)
}

func (e *Executor) hold(ctx context.Context, p Point, d time.Duration) error {
	err := e.drv.RunActions(ctx,
		mouseMove(p),
		input.DispatchMouseEvent(input.MousePressed, p.X, p.Y).
			WithButton(input.Left).
			WithClickCount(1),
	)
	if err != nil {
		return err
	}
	if err := sleepCtx(ctx, d); err != nil {
		// Best effort release so the page is not left with a stuck button.
		_ = e.drv.RunActions(context.WithoutCancel(ctx),
			input.DispatchMouseEvent(input.MouseReleased, p.X, p.Y).
				WithButton(input.Left).
				WithClickCount(1))
		return err
	}
	return e.drv.RunActions(ctx,
		input.DispatchMouseEvent(input.MouseReleased, p.X, p.Y).
			WithButton(input.Left).
			WithClickCount(1))
}

// scroll wheels the viewport center by a fixed step.
func (e *Executor) scroll(ctx context.Context, dir schemas.ScrollDirection) error {
	vp := e.drv.Viewport()
	cx, cy := float64(vp.Width)/2, float64(vp.Height)/2
	delta := 600.0
	if dir == schemas.ScrollUp {
		delta = -delta
	}
	return e.drv.RunActions(ctx,
		input.DispatchMouseEvent(input.MouseWheel, cx, cy).
			WithDeltaX(0).
			WithDeltaY(delta),
	)
}

// -- Keyboard primitives --

// keyNames maps the decision engine's key vocabulary onto CDP key runes.
var keyNames = map[string]string{
	"enter":       kb.Enter,
	"return":      kb.Enter,
	"tab":         kb.Tab,
	"escape":      kb.Escape,
	"esc":         kb.Escape,
	"backspace":   kb.Backspace,
	"delete":      kb.Delete,
	"space":       " ",
	"arrow_up":    kb.ArrowUp,
	"arrow_down":  kb.ArrowDown,
	"arrow_left":  kb.ArrowLeft,
	"arrow_right": kb.ArrowRight,
	"page_up":     kb.PageUp,
	"page_down":   kb.PageDown,
	"home":        kb.Home,
	"end":         kb.End,
}

func (e *Executor) pressKey(ctx context.Context, name string) error {
	key, ok := keyNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		// Single printable characters pass through untranslated.
		if r := []rune(name); len(r) == 1 {
			key = name
		} else {
			return fmt.Errorf("unsupported key %q", name)
		}
	}
	return e.drv.RunActions(ctx, chromedp.KeyEvent(key))
}

func (e *Executor) typeText(ctx context.Context, text string, clearBefore, submit bool) error {
	if clearBefore {
		if err := e.clearActive(ctx); err != nil {
			return err
		}
	}
	if err := e.drv.RunActions(ctx, input.InsertText(text)); err != nil {
		return err
	}
	if submit {
		return e.drv.RunActions(ctx, chromedp.KeyEvent(kb.Enter))
	}
	return nil
}

// clearActive empties the focused element with a select-all/delete sequence.
func (e *Executor) clearActive(ctx context.Context) error {
	return e.drv.RunActions(ctx,
		input.DispatchKeyEvent(input.KeyDown).
			WithModifiers(input.ModifierCtrl).
			WithKey("a"),
		input.DispatchKeyEvent(input.KeyUp).
			WithModifiers(input.ModifierCtrl).
			WithKey("a"),
		chromedp.KeyEvent(kb.Delete),
	)
}

// -- Clipboard actions --

// getLink stores the href of the anchor under the given point, or the current
// page URL when no point was supplied, into the clipboard register.
func (e *Executor) getLink(ctx context.Context, p *Point) error {
	if p == nil {
		loc, err := e.drv.URL(ctx)
		if err != nil {
			return err
		}
		e.SetClipboard(loc)
		return nil
	}

	script := fmt.Sprintf(`(function() {
		const el = document.elementFromPoint(%.0f, %.0f);
		if (!el) return "";
		const a = el.closest("a[href]");
		return a ? a.href : "";
	})()`, p.X, p.Y)

	var raw json.RawMessage
	if err := e.drv.RunActions(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return fmt.Errorf("link lookup failed: %w", err)
	}
	var href string
	if err := json.Unmarshal(raw, &href); err != nil {
		return fmt.Errorf("link lookup returned unexpected payload: %w", err)
	}
	if href == "" {
		return fmt.Errorf("no link found at (%.0f, %.0f)", p.X, p.Y)
	}
	e.SetClipboard(href)
	return nil
}

// pasteLink clicks the target point and types the clipboard contents into it.
func (e *Executor) pasteLink(ctx context.Context, p Point, clearBefore bool) error {
	link := e.Clipboard()
	if link == "" {
		return fmt.Errorf("clipboard is empty; use get_link first")
	}
	if err := e.click(ctx, p, 1); err != nil {
		return err
	}
	return e.typeText(ctx, link, clearBefore, false)
}

// Clipboard returns the current clipboard register contents.
func (e *Executor) Clipboard() string {
	e.clipMu.Lock()
	defer e.clipMu.Unlock()
	return e.clipboard
}

// SetClipboard replaces the clipboard register contents.
func (e *Executor) SetClipboard(v string) {
	e.clipMu.Lock()
	defer e.clipMu.Unlock()
	e.clipboard = v
}

// ClearClipboard empties the clipboard register.
func (e *Executor) ClearClipboard() {
	e.SetClipboard("")
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
