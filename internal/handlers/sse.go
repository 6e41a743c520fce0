package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zombar/videotagger/internal/events"
	"github.com/zombar/videotagger/internal/storage"
)

const (
	completionMessage = "Video processing completed."
	keepAliveInterval = 15 * time.Second
)

// StreamEvents streams a session's progress as Server-Sent Events. Updates
// persisted before the client connected are replayed first. The stream ends
// once the session has completed.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before replaying so nothing published in between is lost
	sub := h.broadcaster.Subscribe(uuid.NewString(), sess.ID)
	defer h.broadcaster.Unsubscribe(sub.ID)

	backlog, err := h.storage.ListUpdates(r.Context(), sess.ID)
	if err != nil {
		respondError(w, fmt.Sprintf("Failed to list updates: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	seen := make(map[string]bool, len(backlog))
	done := sess.Status == storage.SessionCompleted
	for _, u := range backlog {
		seen[u.ID] = true
		if u.Message == completionMessage {
			done = true
		}
		if !h.writeEvent(w, events.SessionUpdateEvent{
			ID:        u.ID,
			SessionID: u.SessionID,
			Message:   u.Message,
			Timestamp: u.Timestamp,
		}) {
			return
		}
	}
	flusher.Flush()
	if done {
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-sub.Events:
			if !open {
				return
			}
			if seen[event.ID] {
				continue
			}
			seen[event.ID] = true
			if !h.writeEvent(w, event) {
				return
			}
			flusher.Flush()
			if event.Message == completionMessage {
				return
			}
		}
	}
}

func (h *Handler) writeEvent(w http.ResponseWriter, event events.SessionUpdateEvent) bool {
	data, err := events.MarshalEvent(event)
	if err != nil {
		h.log.WithError(err).Warn("failed to marshal event")
		return true
	}
	if _, err := fmt.Fprint(w, data); err != nil {
		return false
	}
	return true
}
