// internal/browser/arbiter.go
package browser

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/quayside/browserpilot/api/schemas"
)

// ActuationSource identifies which control source is asking for actuation.
type ActuationSource string

const (
	SourceAutonomous ActuationSource = "autonomous"
	SourceManual     ActuationSource = "manual"
)

// Actuator is the single entry point to the browsing session for both the
// autonomous loop and direct operator commands.
type Actuator interface {
	Do(ctx context.Context, source ActuationSource, action schemas.Action) schemas.ActionResult
}

// executorAPI is the executor surface the arbiter gates.
type executorAPI interface {
	Execute(ctx context.Context, a schemas.Action) schemas.ActionResult
}

// Arbiter enforces the actuation contract: exactly one caller at a time,
// system wide, regardless of which source the manual-control flag currently
// favors. Concurrent callers block until the resource frees up; they never
// interleave against the driver.
type Arbiter struct {
	mu     sync.Mutex
	exec   executorAPI
	logger *zap.Logger
}

// NewArbiter wraps an executor behind the actuation gate.
func NewArbiter(exec *Executor, logger *zap.Logger) *Arbiter {
	return newArbiter(exec, logger)
}

func newArbiter(exec executorAPI, logger *zap.Logger) *Arbiter {
	return &Arbiter{exec: exec, logger: logger.Named("arbiter")}
}

// Do executes one action under the exclusive actuation lock.
func (a *Arbiter) Do(ctx context.Context, source ActuationSource, action schemas.Action) schemas.ActionResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Debug("Dispatching action.",
		zap.String("source", string(source)),
		zap.String("action_type", string(action.Type)))

	return a.exec.Execute(ctx, action)
}

var _ Actuator = (*Arbiter)(nil)
