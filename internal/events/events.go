// Package events carries flow lifecycle events to observers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the flows.
const (
	PurchaseOpened      = "purchase-opened"
	PurchaseStage       = "purchase-stage"
	PurchaseSucceeded   = "purchase-succeeded"
	PurchaseCanceled    = "purchase-canceled"
	PurchaseUnconfirmed = "purchase-unconfirmed"
	PurchaseFailed      = "purchase-failed"

	WithdrawalStarted   = "withdrawal-started"
	WithdrawalSucceeded = "withdrawal-succeeded"
	WithdrawalPartial   = "withdrawal-partial"
	WithdrawalFailed    = "withdrawal-failed"
)

// Flow names.
const (
	FlowPurchase   = "purchase"
	FlowWithdrawal = "withdrawal"
)

// Event is one lifecycle notification. Data must be JSON-serializable.
type Event struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Flow   string    `json:"flow"`
	FlowID string    `json:"flowId"`
	User   string    `json:"user"`
	Time   time.Time `json:"time"`
	Data   any       `json:"data,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(typ, flow, flowID, user string, data any) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   typ,
		Flow:   flow,
		FlowID: flowID,
		User:   user,
		Time:   time.Now().UTC(),
		Data:   data,
	}
}

// Bus accepts events. Emit must not block the caller.
type Bus interface {
	Emit(Event)
}

// Discard drops every event.
var Discard Bus = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
