package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jobradar/jobradar/internal/bus"
)

// handleSubscribe serves the SSE stream: stored matching offers are replayed
// first, then the connection attaches to the bus for live events until the
// client goes away.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := identity(r)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	filterID := r.URL.Query().Get("filterId")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// History first, so a reconnecting client starts from a full picture.
	posts, err := s.store.ListOffers(r.Context(), userID, filterID)
	if err != nil {
		s.logger.Error("history replay failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
	}
	for i := range posts {
		data, err := json.Marshal(&posts[i])
		if err != nil {
			continue
		}
		if err := writeFrame(w, rc, bus.Frame{Event: bus.EventJob, Data: data}); err != nil {
			return
		}
	}

	sub := s.bus.Subscribe(userID)
	defer s.bus.Unsubscribe(sub.ID)

	log := s.logger.With(slog.String("sub_id", sub.ID), slog.String("user_id", userID))
	ctx := r.Context()

	for {
		select {
		case frame, ok := <-sub.Frames:
			if !ok {
				return
			}
			if err := writeFrame(w, rc, frame); err != nil {
				log.Info("client disconnected during send")
				return
			}

		case <-sub.Done:
			log.Info("subscription closed by bus")
			return

		case <-ctx.Done():
			log.Info("client context canceled")
			return
		}
	}
}

// writeFrame writes one SSE frame and flushes it. A frame with no event name
// becomes a comment-only keep-alive.
func writeFrame(w http.ResponseWriter, rc *http.ResponseController, frame bus.Frame) error {
	if frame.Event == "" {
		if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Event, frame.Data); err != nil {
			return err
		}
	}

	if err := rc.Flush(); err != nil {
		return err
	}

	// Reset the write deadline after each successful write so hung
	// connections are eventually collected.
	return rc.SetWriteDeadline(time.Now().Add(60 * time.Second))
}
