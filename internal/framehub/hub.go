// Package framehub distributes captured frames to every consumer of the
// single browsing session: pull-style snapshot requests, the frame history
// ring, and any number of paced live streams. Capture itself stays exclusive;
// concurrent demands for a fresh frame collapse into one driver call.
package framehub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/quayside/browserpilot/api/schemas"
	"github.com/quayside/browserpilot/internal/config"
)

// ErrHubClosed is returned for operations against a closed hub.
var ErrHubClosed = errors.New("frame hub is closed")

// CaptureFunc produces one fresh frame from the browsing session.
type CaptureFunc func(ctx context.Context) (*schemas.Frame, error)

// StatusFunc returns the current control-plane status for streams that
// interleave status updates with frames.
type StatusFunc func() schemas.ControlStatus

// StreamOptions configures one live stream subscription.
type StreamOptions struct {
	// FPS is the requested pace; it is clamped to the configured bounds and
	// defaulted when zero.
	FPS int
	// IncludeStatus interleaves status events between frames.
	IncludeStatus bool
}

// StreamEvent is one item on a subscriber's channel: a frame, a status
// update, or both are possible over the stream's lifetime.
type StreamEvent struct {
	Frame  *schemas.Frame        `json:"frame,omitempty"`
	Status *schemas.ControlStatus `json:"status,omitempty"`
}

// Hub is the frame distribution point. All methods are safe for concurrent
// use.
type Hub struct {
	cfg     config.StreamConfig
	capture CaptureFunc
	status  StatusFunc
	logger  *zap.Logger

	group singleflight.Group

	mu     sync.Mutex
	latest *schemas.Frame
	ring   []*schemas.Frame // oldest first
	closed bool

	wg sync.WaitGroup
}

// New wires a hub to the session's capture function. status may be nil when
// no stream will ask for interleaved status.
func New(cfg config.StreamConfig, capture CaptureFunc, status StatusFunc, logger *zap.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		capture: capture,
		status:  status,
		logger:  logger.Named("framehub"),
	}
}

// Latest returns the most recent frame. With forceLive it captures a fresh
// one; concurrent forced requests share a single capture.
func (h *Hub) Latest(ctx context.Context, forceLive bool) (*schemas.Frame, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	cached := h.latest
	h.mu.Unlock()

	if !forceLive && cached != nil {
		return cached, nil
	}

	v, err, _ := h.group.Do("capture", func() (any, error) {
		frame, err := h.capture(ctx)
		if err != nil {
			return nil, fmt.Errorf("frame capture failed: %w", err)
		}
		h.Publish(frame)
		return frame, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*schemas.Frame), nil
}

// Publish inserts an externally produced frame, for example the one taken
// right after opening a page. It becomes the latest frame and enters the
// history ring.
func (h *Hub) Publish(frame *schemas.Frame) {
	if frame == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest = frame
	h.ring = append(h.ring, frame)
	if len(h.ring) > h.cfg.FrameHistoryCapacity {
		// Drop oldest; shift instead of reslice so the backing array does not
		// pin evicted frames.
		copy(h.ring, h.ring[1:])
		h.ring[len(h.ring)-1] = nil
		h.ring = h.ring[:len(h.ring)-1]
	}
}

// History returns up to limit recent frames, oldest first. A non-positive
// limit means everything retained; limits above the ring capacity are capped
// by what the ring holds.
func (h *Hub) History(limit int) []*schemas.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.ring)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*schemas.Frame, n)
	copy(out, h.ring[len(h.ring)-n:])
	return out
}

// HistoryLen reports how many frames the ring currently holds.
func (h *Hub) HistoryLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ring)
}

// Clear empties the latest cache and the history ring. Live streams keep
// running and repopulate both on their next capture.
func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = nil
	h.ring = nil
}

// ClampFPS folds a requested pace into the configured bounds; zero selects
// the default.
func (h *Hub) ClampFPS(fps int) int {
	if fps == 0 {
		fps = h.cfg.DefaultFPS
	}
	if fps < h.cfg.MinFPS {
		fps = h.cfg.MinFPS
	}
	if fps > h.cfg.MaxFPS {
		fps = h.cfg.MaxFPS
	}
	return fps
}

// Stream subscribes to a paced live feed. Each subscriber paces itself with
// its own limiter; a slow consumer loses events instead of stalling capture
// or other subscribers. The channel closes when ctx is done or the hub shuts
// down.
func (h *Hub) Stream(ctx context.Context, opts StreamOptions) (<-chan StreamEvent, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.wg.Add(1)
	h.mu.Unlock()

	fps := h.ClampFPS(opts.FPS)
	bufSize := h.cfg.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 4
	}
	out := make(chan StreamEvent, bufSize)
	id := uuid.NewString()

	h.logger.Info("Stream subscriber attached.",
		zap.String("subscriber", id), zap.Int("fps", fps), zap.Bool("status", opts.IncludeStatus))

	go func() {
		defer h.wg.Done()
		defer close(out)
		defer h.logger.Info("Stream subscriber detached.", zap.String("subscriber", id))

		limiter := rate.NewLimiter(rate.Limit(fps), 1)
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}

			frame, err := h.Latest(ctx, true)
			if err != nil {
				if errors.Is(err, ErrHubClosed) || ctx.Err() != nil {
					return
				}
				h.logger.Warn("Stream capture failed; continuing.",
					zap.String("subscriber", id), zap.Error(err))
				continue
			}

			ev := StreamEvent{Frame: frame}
			if opts.IncludeStatus && h.status != nil {
				st := h.status()
				ev.Status = &st
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			default:
				// Consumer is behind; drop this event and keep pacing.
			}
		}
	}()

	return out, nil
}

// Close stops accepting work and waits for stream goroutines to observe the
// closure.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for stream subscribers: %w", ctx.Err())
	}
}

// NewFrame assembles a frame value with a fresh ID and timestamp. Used by the
// session capture path so every frame carries consistent metadata.
func NewFrame(image []byte, mime, pageURL string, vp schemas.Viewport, source schemas.FrameSource) *schemas.Frame {
	if mime == "" {
		mime = "image/png"
	}
	return &schemas.Frame{
		ID:         uuid.NewString(),
		Image:      image,
		MimeType:   mime,
		CapturedAt: time.Now().UTC(),
		Viewport:   vp,
		URL:        pageURL,
		Source:     source,
	}
}
