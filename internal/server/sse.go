package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gridhaus/leadflow/internal/streaming"
)

// handleSSE streams execution events over Server-Sent Events. The client may
// narrow the stream with execution_id and workflow_id query parameters; the
// connection stays open until the client goes away.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	events, cancel, err := s.deps.Hub.Subscribe(r.Context(), streaming.EventFilter{
		ExecutionID: q.Get("execution_id"),
		WorkflowID:  q.Get("workflow_id"),
	})
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case ev, open := <-events:
			if !open {
				return
			}
			writeSSEEvent(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev streaming.StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType, data)
}
