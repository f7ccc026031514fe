// internal/gateway/stream.go
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/quayside/browserpilot/api/schemas"
	"github.com/quayside/browserpilot/internal/framehub"
)

// streamRecord is one line of the streaming protocol. Consumers buffer until
// newline; each line is a standalone JSON document.
type streamRecord struct {
	Type   string                 `json:"type"` // start, frame, status, error
	Frame  *schemas.Frame         `json:"frame,omitempty"`
	Status *schemas.ControlStatus `json:"status,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

const streamDoneToken = "[DONE]"

// handleStream serves the long-lived frame feed as newline-delimited JSON,
// optionally dressed as server-sent events. The stream runs until the client
// disconnects.
func (s *Server) handleStream(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()

	fps := 0
	if raw := q.Get("fps"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "fps must be a positive integer")
			return
		}
		fps = n
	}
	includeStatus := q.Get("status") == "1" || q.Get("status") == "true"
	sse := q.Get("sse") == "1" || q.Get("sse") == "true"

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming is not supported by this connection")
		return
	}

	events, err := s.frames.Stream(req.Context(), framehub.StreamOptions{
		FPS:           fps,
		IncludeStatus: includeStatus,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to start stream: %v", err))
		return
	}

	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
	} else {
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeLine := func(line []byte) bool {
		if sse {
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return false
			}
		} else {
			if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
				return false
			}
		}
		flusher.Flush()
		return true
	}
	writeRecord := func(rec streamRecord) bool {
		line, err := json.Marshal(rec)
		if err != nil {
			s.logger.Warn("Failed to marshal stream record.", zap.Error(err))
			return true
		}
		return writeLine(line)
	}

	if !writeRecord(streamRecord{Type: "start"}) {
		return
	}

	for ev := range events {
		if ev.Frame != nil {
			if !writeRecord(streamRecord{Type: "frame", Frame: ev.Frame}) {
				return
			}
		}
		if ev.Status != nil {
			if !writeRecord(streamRecord{Type: "status", Status: ev.Status}) {
				return
			}
		}
	}

	// The hub closed the channel: either the client went away (nothing left
	// to write to) or the hub is shutting down. The terminator is best-effort.
	writeLine([]byte(streamDoneToken))
}
