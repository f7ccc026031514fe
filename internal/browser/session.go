// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/quayside/browserpilot/api/schemas"
	"github.com/quayside/browserpilot/internal/config"
)

// Session owns the single browsing session the whole control plane shares.
// Every driver call funnels through RunActions, which serializes access behind
// one mutex: the browsing session is a non-reentrant resource and two actions
// must never be in flight simultaneously.
type Session struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc

	// mu serializes driver calls and guards the tab lifecycle fields.
	mu        sync.Mutex
	tabCtx    context.Context
	tabCancel context.CancelFunc

	closeOnce sync.Once
}

// DefaultAllocatorOptions builds the chromedp exec allocator options for the
// configured browser.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.Flag("mute-audio", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	return opts
}

// NewSession launches the browser process and opens the initial tab at the
// configured startup URL.
func NewSession(parent context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, DefaultAllocatorOptions(cfg)...)

	s := &Session{
		logger:      logger.Named("session"),
		cfg:         cfg,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}

	s.mu.Lock()
	err := s.openTabLocked()
	s.mu.Unlock()
	if err != nil {
		allocCancel()
		return nil, fmt.Errorf("failed to open initial tab: %w", err)
	}
	return s, nil
}

// openTabLocked creates a fresh tab context, applies viewport emulation, and
// navigates to the startup URL. Caller must hold s.mu.
func (s *Session) openTabLocked() error {
	if s.tabCancel != nil {
		s.tabCancel()
	}
	s.tabCtx, s.tabCancel = chromedp.NewContext(s.allocCtx)

	ctx, cancel := context.WithTimeout(s.tabCtx, s.cfg.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(ctx,
		chromedp.EmulateViewport(int64(s.cfg.ViewportWidth), int64(s.cfg.ViewportHeight)),
		chromedp.Navigate(s.cfg.StartupURL),
	)
	if err != nil {
		return fmt.Errorf("tab setup failed: %w", err)
	}
	s.logger.Info("Browser tab ready.",
		zap.String("startup_url", s.cfg.StartupURL),
		zap.Int("viewport_width", s.cfg.ViewportWidth),
		zap.Int("viewport_height", s.cfg.ViewportHeight))
	return nil
}

// RunActions executes chromedp actions against the current tab under the
// session lock. The caller's context supplies the operational deadline; the
// tab context supplies the CDP target.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runLocked(ctx, actions...)
}

func (s *Session) runLocked(ctx context.Context, actions ...chromedp.Action) error {
	if s.tabCtx == nil {
		return fmt.Errorf("session has no open tab")
	}
	runCtx, cancel := combineContext(s.tabCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Viewport returns the emulated page dimensions.
func (s *Session) Viewport() schemas.Viewport {
	return schemas.Viewport{Width: s.cfg.ViewportWidth, Height: s.cfg.ViewportHeight}
}

// URL reports the tab's current location.
func (s *Session) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.RunActions(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

// Screenshot captures the current viewport as PNG bytes together with the
// page URL it was taken from.
func (s *Session) Screenshot(ctx context.Context) ([]byte, string, error) {
	var (
		buf []byte
		loc string
	)
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()
	err := s.RunActions(opCtx,
		chromedp.Location(&loc),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		return nil, "", fmt.Errorf("screenshot capture failed: %w", err)
	}
	return buf, loc, nil
}

// Navigate loads the given URL, defaulting the scheme to https when absent.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	return s.RunActions(opCtx, chromedp.Navigate(NormalizeURL(rawURL)))
}

// CloseTab discards the current tab and opens a fresh one at the startup URL.
// chromedp binds its context to a single target, so "closing the tab" is a
// tab-context replacement rather than a target close.
func (s *Session) CloseTab(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("Closing tab and opening a fresh one.")
	return s.openTabLocked()
}

// Restart tears the tab down and recreates it. The browser process itself is
// kept; only the tab state (history, page) is discarded.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("Restarting browser session.")
	return s.openTabLocked()
}

// NavigateStartup returns the tab to the configured startup URL.
func (s *Session) NavigateStartup(ctx context.Context) error {
	return s.Navigate(ctx, s.cfg.StartupURL)
}

// Close shuts the browser down. Safe to call multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.logger.Info("Closing browser session.")
		s.mu.Lock()
		if s.tabCancel != nil {
			s.tabCancel()
		}
		s.mu.Unlock()
		s.allocCancel()
		// Give the browser process a moment to exit before the allocator's
		// temp dirs are reaped.
		time.Sleep(100 * time.Millisecond)
	})
}

// NormalizeURL prefixes a scheme when the caller omitted one.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if !strings.Contains(raw, "://") {
		return "https://" + raw
	}
	return raw
}
