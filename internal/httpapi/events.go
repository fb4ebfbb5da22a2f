package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleEvents streams bus events to the browser as server-sent events. Each
// event is one JSON object on a data: line; the event: field carries the bus
// event type so EventSource listeners can filter.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, ch := s.bus.Subscribe(256)
	defer s.bus.Unsubscribe(id)

	s.log.Debug("event stream opened", "subscriber", id)

	for {
		select {
		case <-r.Context().Done():
			s.log.Debug("event stream closed", "subscriber", id)
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				s.log.Error("encoding event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
			flusher.Flush()
		}
	}
}
