// internal/browser/executor_test.go
package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quayside/browserpilot/api/schemas"
	"github.com/quayside/browserpilot/internal/config"
)

// fakeDriver records driver calls without touching a browser.
type fakeDriver struct {
	vp          schemas.Viewport
	runErr      error
	runCalls    int
	lastActions int
	navigated   []string
	closedTabs  int
	url         string
}

func (f *fakeDriver) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	f.runCalls++
	f.lastActions = len(actions)
	return f.runErr
}

func (f *fakeDriver) Navigate(ctx context.Context, rawURL string) error {
	f.navigated = append(f.navigated, NormalizeURL(rawURL))
	return f.runErr
}

func (f *fakeDriver) CloseTab(ctx context.Context) error {
	f.closedTabs++
	return f.runErr
}

func (f *fakeDriver) URL(ctx context.Context) (string, error) {
	return f.url, f.runErr
}

func (f *fakeDriver) Viewport() schemas.Viewport { return f.vp }

func testExecutor(t *testing.T, drv driver) *Executor {
	t.Helper()
	cfg := config.NewDefault().Browser
	cfg.SettleDelay = time.Millisecond
	cfg.WaitDelay = time.Millisecond
	return newExecutor(drv, cfg, zaptest.NewLogger(t))
}

func TestExecutorRejectsTerminalActions(t *testing.T) {
	exec := testExecutor(t, &fakeDriver{vp: schemas.Viewport{Width: 100, Height: 100}})

	for _, typ := range []schemas.ActionType{schemas.ActionDone, schemas.ActionAsk, schemas.ActionError} {
		res := exec.Execute(context.Background(), schemas.Action{Type: typ})
		assert.False(t, res.OK, string(typ))
		assert.Contains(t, res.Detail, "not actuatable")
	}
}

func TestExecutorRejectsInvalidActions(t *testing.T) {
	exec := testExecutor(t, &fakeDriver{vp: schemas.Viewport{Width: 100, Height: 100}})

	res := exec.Execute(context.Background(), schemas.Action{Type: schemas.ActionClick})
	assert.False(t, res.OK)
	assert.Contains(t, res.Detail, "coordinates")
}

func TestExecutorDriverFailureIsTypedResult(t *testing.T) {
	drv := &fakeDriver{vp: schemas.Viewport{Width: 100, Height: 100}, runErr: errors.New("target crashed")}
	exec := testExecutor(t, drv)

	x, y := 500.0, 500.0
	res := exec.Execute(context.Background(), schemas.Action{Type: schemas.ActionClick, X: &x, Y: &y})
	assert.False(t, res.OK)
	assert.Contains(t, res.Detail, "target crashed")
}

func TestExecutorClickDispatchesPressReleasePairs(t *testing.T) {
	drv := &fakeDriver{vp: schemas.Viewport{Width: 1000, Height: 1000}}
	exec := testExecutor(t, drv)

	x, y := 500.0, 500.0
	res := exec.Execute(context.Background(), schemas.Action{Type: schemas.ActionClick, X: &x, Y: &y, Count: 2})
	require.True(t, res.OK, res.Detail)
	// Move plus two press/release pairs.
	assert.Equal(t, 5, drv.lastActions)
}

func TestExecutorNavigateNormalizesURL(t *testing.T) {
	drv := &fakeDriver{vp: schemas.Viewport{Width: 100, Height: 100}}
	exec := testExecutor(t, drv)

	res := exec.Execute(context.Background(), schemas.Action{Type: schemas.ActionNavigate, URL: "example.com"})
	require.True(t, res.OK, res.Detail)
	require.Len(t, drv.navigated, 1)
	assert.Equal(t, "https://example.com", drv.navigated[0])
}

func TestExecutorCloseTab(t *testing.T) {
	drv := &fakeDriver{vp: schemas.Viewport{Width: 100, Height: 100}}
	exec := testExecutor(t, drv)

	res := exec.Execute(context.Background(), schemas.Action{Type: schemas.ActionCloseTab})
	require.True(t, res.OK, res.Detail)
	assert.Equal(t, 1, drv.closedTabs)
}

func TestExecutorPasteLinkRequiresClipboard(t *testing.T) {
	drv := &fakeDriver{vp: schemas.Viewport{Width: 100, Height: 100}}
	exec := testExecutor(t, drv)

	x, y := 10.0, 10.0
	res := exec.Execute(context.Background(), schemas.Action{Type: schemas.ActionPasteLink, X: &x, Y: &y})
	assert.False(t, res.OK)
	assert.Contains(t, res.Detail, "clipboard is empty")

	exec.SetClipboard("https://example.com/page")
	res = exec.Execute(context.Background(), schemas.Action{Type: schemas.ActionPasteLink, X: &x, Y: &y})
	assert.True(t, res.OK, res.Detail)
}

func TestExecutorGetLinkWithoutPointUsesCurrentURL(t *testing.T) {
	drv := &fakeDriver{vp: schemas.Viewport{Width: 100, Height: 100}, url: "https://example.com/here"}
	exec := testExecutor(t, drv)

	res := exec.Execute(context.Background(), schemas.Action{Type: schemas.ActionGetLink})
	require.True(t, res.OK, res.Detail)
	assert.Equal(t, "https://example.com/here", exec.Clipboard())
}

func TestExecutorClipboardReset(t *testing.T) {
	exec := testExecutor(t, &fakeDriver{vp: schemas.Viewport{Width: 100, Height: 100}})
	exec.SetClipboard("something")
	exec.ClearClipboard()
	assert.Empty(t, exec.Clipboard())
}

func TestExecutorUnsupportedKey(t *testing.T) {
	exec := testExecutor(t, &fakeDriver{vp: schemas.Viewport{Width: 100, Height: 100}})

	res := exec.Execute(context.Background(), schemas.Action{Type: schemas.ActionKey, Key: "hyperspace"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Detail, "unsupported key")

	res = exec.Execute(context.Background(), schemas.Action{Type: schemas.ActionKey, Key: "enter"})
	assert.True(t, res.OK, res.Detail)
}
