// internal/gateway/handlers.go
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/quayside/browserpilot/api/schemas"
	"github.com/quayside/browserpilot/internal/agent"
	"github.com/quayside/browserpilot/internal/browser"
)

const maxHistoryLimit = 240

// envelope is the uniform response shape: ok plus endpoint-specific fields.
type envelope map[string]any

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload envelope) {
	if payload == nil {
		payload = envelope{}
	}
	if _, present := payload["ok"]; !present {
		payload["ok"] = status < http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to write response body.", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, envelope{"ok": false, "error": msg})
}

// decodeBody reads a size-capped JSON body into dst. Oversized payloads are
// rejected before decoding begins.
func (s *Server) decodeBody(w http.ResponseWriter, req *http.Request, dst any) error {
	req.Body = http.MaxBytesReader(w, req.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return err
		}
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return err
	}
	return nil
}

// decodeBodyOptional is decodeBody for endpoints where every field has a
// sensible default. An absent or empty body leaves dst zero-valued instead of
// failing the request.
func (s *Server) decodeBodyOptional(w http.ResponseWriter, req *http.Request, dst any) error {
	req.Body = http.MaxBytesReader(w, req.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return err
		}
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, http.StatusOK, envelope{})
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, http.StatusOK, envelope{"status": s.controller.Status()})
}

func (s *Server) handleFrame(w http.ResponseWriter, req *http.Request) {
	live := req.URL.Query().Get("live")
	force := live == "1" || live == "true"
	frame, err := s.frames.Latest(req.Context(), force)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to capture frame: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"frame": frame})
}

func (s *Server) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			s.writeError(w, http.StatusBadRequest,
				fmt.Sprintf("limit must be an integer in [1,%d]", maxHistoryLimit))
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, envelope{"history": s.frames.History(limit)})
}

func (s *Server) handleOpen(w http.ResponseWriter, req *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := s.decodeBodyOptional(w, req, &body); err != nil {
		return
	}

	ctx := req.Context()
	var err error
	if body.URL != "" {
		err = s.session.Navigate(ctx, body.URL)
	} else {
		err = s.session.NavigateStartup(ctx)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to open page: %v", err))
		return
	}

	frame, err := s.frames.Latest(ctx, true)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to capture frame: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{
		"status":  s.controller.Status(),
		"frame":   frame,
		"history": s.frames.History(0),
	})
}

func (s *Server) handleManualControl(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := s.decodeBody(w, req, &body); err != nil {
		return
	}
	s.controller.SetManualControl(body.Enabled)
	s.writeJSON(w, http.StatusOK, envelope{"status": s.controller.Status()})
}

// handleControl executes one direct manual action. Validation failures are
// the caller's problem (400); a driver failure during a valid action is also
// reported on the request since there is no loop to absorb it.
func (s *Server) handleControl(w http.ResponseWriter, req *http.Request) {
	var action schemas.Action
	if err := s.decodeBody(w, req, &action); err != nil {
		return
	}

	if action.Terminal() {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("action type %q is not a manual command", action.Type))
		return
	}
	if err := action.Normalize(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.actuator.Do(req.Context(), browser.SourceManual, action)
	status := s.controller.Status()

	frame, ferr := s.frames.Latest(req.Context(), true)
	if ferr != nil {
		s.logger.Warn("Post-action frame capture failed.", zap.Error(ferr))
	}

	code := http.StatusOK
	if !result.OK {
		code = http.StatusBadRequest
	}
	s.writeJSON(w, code, envelope{
		"ok":     result.OK,
		"result": result,
		"frame":  frame,
		"status": status,
	})
}

func (s *Server) handleTask(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Goal            string `json:"goal"`
		CleanContext    bool   `json:"cleanContext"`
		PreserveContext bool   `json:"preserveContext"`
		Model           string `json:"model"`
		ThinkingBudget  int    `json:"thinkingBudget"`
	}
	if err := s.decodeBody(w, req, &body); err != nil {
		return
	}

	err := s.controller.SetGoal(body.Goal, agent.SetGoalOptions{
		CleanContext:    body.CleanContext,
		PreserveContext: body.PreserveContext,
		Model:           body.Model,
		ThinkingBudget:  body.ThinkingBudget,
	})
	if err != nil {
		if errors.Is(err, agent.ErrEmptyGoal) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"status": s.controller.Status()})
}

func (s *Server) handleStop(w http.ResponseWriter, req *http.Request) {
	s.controller.Stop()
	s.writeJSON(w, http.StatusOK, envelope{"status": s.controller.Status()})
}

func (s *Server) handleReset(w http.ResponseWriter, req *http.Request) {
	var body struct {
		StopRunningTask          bool `json:"stopRunningTask"`
		ClearConversationHistory bool `json:"clearConversationHistory"`
		ClearActionHistory       bool `json:"clearActionHistory"`
		ClearClipboard           bool `json:"clearClipboard"`
		ClearCurrentGoal         bool `json:"clearCurrentGoal"`
		ClearInterruptFlag       bool `json:"clearInterruptFlag"`
		ClearMemory              bool `json:"clearMemory"`
		ClearFrameHistory        bool `json:"clearFrameHistory"`
		NavigateToStartup        bool `json:"navigateToStartup"`
	}
	if err := s.decodeBodyOptional(w, req, &body); err != nil {
		return
	}

	err := s.controller.ResetContext(req.Context(), agent.ResetFlags{
		StopRunningTask:          body.StopRunningTask,
		ClearConversationHistory: body.ClearConversationHistory,
		ClearActionHistory:       body.ClearActionHistory,
		ClearClipboard:           body.ClearClipboard,
		ClearCurrentGoal:         body.ClearCurrentGoal,
		ClearInterruptFlag:       body.ClearInterruptFlag,
		ClearMemory:              body.ClearMemory,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if body.ClearFrameHistory {
		s.frames.Clear()
	}
	if body.NavigateToStartup {
		if err := s.session.NavigateStartup(req.Context()); err != nil {
			s.writeError(w, http.StatusInternalServerError,
				fmt.Sprintf("failed to navigate to the startup page: %v", err))
			return
		}
	}
	s.writeJSON(w, http.StatusOK, envelope{"status": s.controller.Status()})
}

func (s *Server) handleRestart(w http.ResponseWriter, req *http.Request) {
	if err := s.session.Restart(req.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to restart session: %v", err))
		return
	}
	// Frames from the old tab no longer reflect anything reachable.
	s.frames.Clear()
	s.writeJSON(w, http.StatusOK, envelope{
		"status": s.controller.Status(),
		"note":   "session restarted with a fresh tab",
	})
}
