package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kilnai/kiln/internal/session"
)

// pingInterval is the SSE heartbeat cadence (spec.md §4.7 requires
// "ping" frames at least every 30s so intermediaries don't time the
// connection out).
const pingInterval = 25 * time.Second

// handleEvents serves the SSE stream for one conversation's session
// (spec.md §6: GET /api/v2/conversations/{id}/events). A client
// reconnecting with Last-Event-ID replays everything it missed via
// cfg.Events before subscribing to live events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id query parameter required")
		return
	}
	sess, ok := s.cfg.Sessions.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown session_id")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SSEClients.Inc()
		defer s.cfg.Metrics.SSEClients.Dec()
	}

	if afterSeq, err := parseLastEventID(r); err == nil && s.cfg.Events != nil {
		missed, err := s.cfg.Events.Since(r.Context(), sessionID, afterSeq)
		if err == nil {
			for _, ev := range missed {
				if !writeSSE(w, ev) {
					return
				}
			}
			flusher.Flush()
		}
	}

	_, ch, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	writeSSE(w, session.Event{Type: session.EventConnected, Time: time.Now().UTC(),
		Data: map[string]string{"conversation_id": id, "session_id": sessionID}})
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !writeSSE(w, ev) {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if !writeSSE(w, session.Event{Type: session.EventPing, Time: time.Now().UTC()}) {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(r *http.Request) (int64, error) {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		return 0, fmt.Errorf("no Last-Event-ID header")
	}
	return strconv.ParseInt(v, 10, 64)
}

// writeSSE writes ev as one frame: a bare "data: <json>\n\n" body per
// spec.md §4.7's required format, with additional "id:"/"event:" lines
// layered on top (both optional per the SSE spec) so clients can use
// native EventSource reconnection and event-type dispatch.
func writeSSE(w http.ResponseWriter, ev session.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	if ev.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", ev.Seq); err != nil {
			return false
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	return true
}
