package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/harrylevesque/contactbook/internal/auth"
)

// StreamEvent is the SSE event name carrying a full contact list.
const StreamEvent = "contacts"

// streamContacts sends the owner's sorted contact list as a server-sent
// event now and after every change.
func (h *handler) streamContacts(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, fmt.Errorf("api: streaming unsupported by %T", w))
		return
	}
	ctx := r.Context()
	owner := auth.OwnerFrom(ctx)
	updates, err := h.contacts.Watch(ctx, owner)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case list, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(list)
			if err != nil {
				h.logger.Error("encoding contact stream", "owner", owner, "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", StreamEvent, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
