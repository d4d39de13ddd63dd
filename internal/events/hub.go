package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/db"
	"github.com/Fantasim/payflow/internal/metrics"
)

// Journal persists events.
type Journal interface {
	InsertFlowEvent(e db.FlowEventRow) error
}

// Hub fans events out to subscribed clients and, when a journal is set,
// persists each one. It implements Bus.
type Hub struct {
	clients map[chan Event]string
	mu      sync.RWMutex
	journal Journal
}

// NewHub creates a hub. journal may be nil.
func NewHub(journal Journal) *Hub {
	slog.Info("event hub created", "journal", journal != nil)
	return &Hub{
		clients: make(map[chan Event]string),
		journal: journal,
	}
}

// Run blocks until ctx is cancelled, then closes every client channel.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}

	slog.Info("event hub stopped", "reason", ctx.Err())
}

// Subscribe registers a client. A non-empty user receives only that user's
// events.
func (h *Hub) Subscribe(user string) chan Event {
	ch := make(chan Event, config.EventHubBuffer)

	h.mu.Lock()
	h.clients[ch] = user
	n := len(h.clients)
	h.mu.Unlock()

	slog.Info("event client subscribed", "user", user, "totalClients", n)
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	n := len(h.clients)
	h.mu.Unlock()

	slog.Info("event client unsubscribed", "totalClients", n)
}

// Emit journals e and delivers it to matching clients. Slow clients miss the
// event rather than block the flow.
func (h *Hub) Emit(e Event) {
	if h.journal != nil {
		h.record(e)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch, user := range h.clients {
		if user != "" && user != e.User {
			continue
		}
		select {
		case ch <- e:
		default:
			metrics.EventsDroppedTotal.Inc()
			slog.Warn("event dropped for slow client", "type", e.Type, "user", e.User)
		}
	}

	slog.Debug("event emitted",
		"type", e.Type,
		"flow", e.Flow,
		"flowID", e.FlowID,
		"clients", len(h.clients),
	)
}

func (h *Hub) record(e Event) {
	payload := "{}"
	if e.Data != nil {
		b, err := json.Marshal(e.Data)
		if err != nil {
			slog.Error("failed to encode event payload", "type", e.Type, "error", err)
		} else {
			payload = string(b)
		}
	}

	err := h.journal.InsertFlowEvent(db.FlowEventRow{
		ID:        e.ID,
		Flow:      e.Flow,
		FlowID:    e.FlowID,
		User:      e.User,
		Type:      e.Type,
		Payload:   payload,
		CreatedAt: e.Time,
	})
	if err != nil {
		slog.Error("failed to journal event", "id", e.ID, "type", e.Type, "error", err)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
