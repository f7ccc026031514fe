// Package gateway exposes the HTTP control surface: the JSON command
// endpoints, the newline-delimited frame stream, and the websocket live feed.
// It composes the goal controller, the manual actuation path, and the frame
// hub behind one router.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/quayside/browserpilot/api/schemas"
	"github.com/quayside/browserpilot/internal/agent"
	"github.com/quayside/browserpilot/internal/browser"
	"github.com/quayside/browserpilot/internal/config"
	"github.com/quayside/browserpilot/internal/framehub"
)

// GoalController is the controller surface the gateway drives.
type GoalController interface {
	SetGoal(text string, opts agent.SetGoalOptions) error
	Stop()
	SetManualControl(enabled bool)
	ResetContext(ctx context.Context, flags agent.ResetFlags) error
	Status() schemas.ControlStatus
}

// FrameProvider is the frame hub surface the gateway reads from.
type FrameProvider interface {
	Latest(ctx context.Context, forceLive bool) (*schemas.Frame, error)
	History(limit int) []*schemas.Frame
	Stream(ctx context.Context, opts framehub.StreamOptions) (<-chan framehub.StreamEvent, error)
	Clear()
}

// SessionAdmin covers the session lifecycle operations reachable over HTTP.
type SessionAdmin interface {
	Navigate(ctx context.Context, url string) error
	NavigateStartup(ctx context.Context) error
	Restart(ctx context.Context) error
}

// Server is the control gateway.
type Server struct {
	cfg        config.ServerConfig
	logger     *zap.Logger
	controller GoalController
	frames     FrameProvider
	actuator   browser.Actuator
	session    SessionAdmin

	httpServer *http.Server
}

// New assembles a gateway around its collaborators.
func New(
	cfg config.ServerConfig,
	controller GoalController,
	frames FrameProvider,
	actuator browser.Actuator,
	session SessionAdmin,
	logger *zap.Logger,
) *Server {
	return &Server{
		cfg:        cfg,
		logger:     logger.Named("gateway"),
		controller: controller,
		frames:     frames,
		actuator:   actuator,
		session:    session,
	}
}

// Handler builds the router. Exposed separately from Start so tests can mount
// it on httptest servers.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.requireAPIKey)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, http.StatusNotFound, "unknown route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Command endpoints run under the request timeout. The streaming
	// endpoints live outside it; they are bounded by client disconnect.
	r.Group(func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/frame", s.handleFrame)
		r.Get("/history", s.handleHistory)
		r.Post("/open", s.handleOpen)
		r.Post("/manual-control", s.handleManualControl)
		r.Post("/control", s.handleControl)
		r.Post("/task", s.handleTask)
		r.Post("/stop", s.handleStop)
		r.Post("/reset", s.handleReset)
		r.Post("/restart", s.handleRestart)
	})

	r.Get("/stream", s.handleStream)
	r.Get("/live", s.handleLive)

	return r
}

// Start serves until ctx is cancelled, then drains connections gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control gateway listening.", zap.String("addr", s.cfg.ListenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Control gateway shutting down.")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown failed: %w", err)
	}
	return nil
}

// requireAPIKey rejects unauthenticated requests before any other processing
// when a shared secret is configured. The key travels in x-api-key or as a
// bearer token.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, req)
			return
		}
		key := req.Header.Get("x-api-key")
		if key == "" {
			if auth := req.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if key != s.cfg.APIKey {
			s.writeError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		s.logger.Debug("Request handled.",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
