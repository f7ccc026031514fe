// -- cmd/serve.go --
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quayside/browserpilot/api/schemas"
	"github.com/quayside/browserpilot/internal/agent"
	"github.com/quayside/browserpilot/internal/browser"
	"github.com/quayside/browserpilot/internal/decision"
	"github.com/quayside/browserpilot/internal/framehub"
	"github.com/quayside/browserpilot/internal/gateway"
	"github.com/quayside/browserpilot/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the browser control plane and its HTTP gateway.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe composes the full control plane and blocks until SIGINT/SIGTERM.
// Teardown runs in reverse dependency order: drain HTTP, stop the goal loop,
// close the frame hub, then the browser.
func runServe() error {
	logger := observability.GetLogger()
	defer observability.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := browser.NewSession(ctx, cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser session: %w", err)
	}
	defer session.Close()

	executor := browser.NewExecutor(session, cfg.Browser, logger)
	arbiter := browser.NewArbiter(executor, logger)

	engine, err := decision.NewGeminiEngine(cfg.Decision, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize decision engine: %w", err)
	}

	lessons, err := agent.NewLessonStore(ctx, cfg.Lessons, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize lesson store: %w", err)
	}

	capture := func(ctx context.Context) (*schemas.Frame, error) {
		image, pageURL, err := session.Screenshot(ctx)
		if err != nil {
			return nil, err
		}
		return framehub.NewFrame(image, "image/png", pageURL, session.Viewport(), schemas.FrameSourcePull), nil
	}

	// The hub needs a status source and the controller needs the hub, so the
	// status closure dereferences the controller set just below.
	var controller *agent.Controller
	hub := framehub.New(cfg.Stream, capture, func() (st schemas.ControlStatus) {
		if controller != nil {
			st = controller.Status()
		}
		return st
	}, logger)

	controller = agent.NewController(cfg.Agent, arbiter, hub, engine, lessons, executor, logger)

	server := gateway.New(cfg.Server, controller, hub, arbiter, session, logger)

	if err := session.NavigateStartup(ctx); err != nil {
		logger.Warn("Startup navigation failed; continuing with a blank session.", zap.Error(err))
	}

	err = server.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	controller.Shutdown(shutdownCtx)
	if cerr := hub.Close(shutdownCtx); cerr != nil {
		logger.Warn("Frame hub did not close cleanly.", zap.Error(cerr))
	}

	if err != nil {
		return err
	}
	logger.Info("Control plane stopped.")
	return nil
}
