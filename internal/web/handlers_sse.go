package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/KongGithubDev/LightLink/internal/core"
)

// handleEvents streams broadcast events as Server-Sent Events. A ping event
// is written on open and every sseInterval after that.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	// The server-wide write timeout must not cut the stream. Recorders do
	// not support deadlines; that is fine.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events := make(chan []byte, 64)
	unsub := s.hub.Events().Subscribe(core.SubscriberFunc(func(e core.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		select {
		case events <- data:
			return nil
		default:
			return errSlowSubscriber
		}
	}))
	defer unsub()

	if _, err := fmt.Fprint(w, "event: ping\ndata: ok\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(s.sseInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			_, err = fmt.Fprintf(w, "event: ping\ndata: %d\n\n", time.Now().UnixMilli())
		case data := <-events:
			_, err = fmt.Fprintf(w, "data: %s\n\n", data)
		}
		if err != nil {
			s.logger.Debug("sse write failed", "err", err)
			return
		}
		flusher.Flush()
	}
}
