package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/heathdorn/overseer/internal/bus"
)

// handleEvents streams bus events as server-sent events. The first frame
// is a synthetic executor status so a fresh client renders without waiting
// for activity; comment lines keep idle connections alive.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	projectFilter := r.URL.Query().Get("project")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.bus.Subscribe()
	defer sub.Unsubscribe()

	status := s.exec.Status()
	if err := writeSSE(w, bus.Event{
		Type:      bus.ExecutorStatus,
		ProjectID: status.ProjectID,
		Payload:   status,
		Time:      time.Now().UTC(),
	}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if projectFilter != "" && ev.ProjectID != "" && ev.ProjectID != projectFilter {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev bus.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
