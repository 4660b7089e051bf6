package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/keyfold/keyfold/internal/infrastructure/sse"
)

// eventsEndpoint streams session lifecycle events to the owner's dashboard,
// so open tabs learn about completed pairings without polling.
func (s *Server) eventsEndpoint(w http.ResponseWriter, r *http.Request) {
	ownerRef, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := sse.NewClient(ownerRef)
	s.hub.Register(client)
	defer s.hub.Unregister(client.ClientID)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case ev, open := <-client.EventChan:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: session\ndata: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
