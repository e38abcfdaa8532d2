package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bazaar/internal/dto"
	obsmw "bazaar/internal/observability/middleware"

	"github.com/google/uuid"
)

// handleEvents streams a conversation as server-sent events: one "initial"
// event with the current history, a "message" event per new row found by
// polling, and a "ping" on idle intervals. The stream ends when the client
// goes away.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	peerID, ok := pathUUID(w, r, "peerID")
	if !ok {
		return
	}
	ctx := r.Context()
	log := obsmw.Logger(ctx).With("user_id", userID, "peer_id", peerID)

	history, err := h.msgs.History(ctx, userID, peerID)
	if err != nil {
		writeServiceError(w, r, err, "event stream history failed")
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "initial", history.Messages); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		log.Warn("event stream cannot flush", "error", err)
		return
	}

	cur := newCursor(history.Messages, eventsLookback+h.pollEvery)

	poll := time.NewTicker(h.pollEvery)
	defer poll.Stop()
	ping := time.NewTicker(h.pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("event stream closed")
			return
		case <-ping.C:
			if err := writeEvent(w, "ping", map[string]int64{"ts": time.Now().Unix()}); err != nil {
				return
			}
		case <-poll.C:
			msgs, err := h.msgs.Since(ctx, userID, peerID, cur.from())
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("event stream poll failed", "error", err)
				}
				continue
			}
			for _, m := range cur.fresh(msgs) {
				if err := writeEvent(w, "message", m); err != nil {
					return
				}
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// eventsLookback is how far behind the newest delivered row each poll
// reaches, so rows that commit out of created_at order are still picked up.
const eventsLookback = 5 * time.Second

// cursor tracks delivered message ids within a trailing window. Polling
// starts window before the newest delivery; the seen set drops repeats.
type cursor struct {
	since  time.Time
	window time.Duration
	seen   map[uuid.UUID]time.Time
}

func newCursor(initial []dto.MessageResponse, window time.Duration) *cursor {
	c := &cursor{window: window, seen: map[uuid.UUID]time.Time{}}
	c.fresh(initial)
	return c
}

func (c *cursor) from() time.Time {
	if c.since.IsZero() {
		return c.since
	}
	return c.since.Add(-c.window)
}

func (c *cursor) fresh(msgs []dto.MessageResponse) []dto.MessageResponse {
	var out []dto.MessageResponse
	for _, m := range msgs {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			continue
		}
		if _, dup := c.seen[id]; dup {
			continue
		}
		c.seen[id] = m.CreatedAt
		if m.CreatedAt.After(c.since) {
			c.since = m.CreatedAt
		}
		out = append(out, m)
	}

	cutoff := c.from()
	for id, at := range c.seen {
		if at.Before(cutoff) {
			delete(c.seen, id)
		}
	}
	return out
}

func writeEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
