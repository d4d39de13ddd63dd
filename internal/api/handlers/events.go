package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/db"
	"github.com/Fantasim/payflow/internal/events"
	"github.com/Fantasim/payflow/internal/models"
)

// EventSource hands out live event subscriptions.
type EventSource interface {
	Subscribe(user string) chan events.Event
	Unsubscribe(ch chan events.Event)
	ClientCount() int
}

// EventJournal reads journaled events.
type EventJournal interface {
	ListFlowEvents(user string, limit int) ([]db.FlowEventRow, error)
}

// EventsSSE handles GET /api/events?user=... for flow event streaming.
func EventsSSE(hub EventSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			slog.Error("SSE not supported: response writer does not implement http.Flusher")
			writeError(w, http.StatusInternalServerError, config.ErrorStreaming, "streaming not supported")
			return
		}

		user := r.URL.Query().Get("user")
		if user != "" {
			if _, err := parseOwner(user); err != nil {
				writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid user: "+err.Error())
				return
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := hub.Subscribe(user)
		defer func() {
			hub.Unsubscribe(ch)
			slog.Info("SSE client disconnected", "remoteAddr", r.RemoteAddr)
		}()

		slog.Info("SSE client connected",
			"remoteAddr", r.RemoteAddr,
			"user", user,
			"totalClients", hub.ClientCount(),
		)

		keepAlive := time.NewTicker(config.SSEKeepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					slog.Error("failed to marshal SSE event", "type", event.Type, "error", err)
					continue
				}
				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
				flusher.Flush()

			case <-keepAlive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case <-r.Context().Done():
				return
			}
		}
	}
}

type eventView struct {
	ID     string          `json:"id"`
	Flow   string          `json:"flow"`
	FlowID string          `json:"flowId"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Time   time.Time       `json:"time"`
}

// ListEvents handles GET /api/events/{owner}?limit=N, the journaled history.
func ListEvents(journal EventJournal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := parseOwner(chi.URLParam(r, "owner"))
		if err != nil {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid owner: "+err.Error())
			return
		}

		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 || n > 500 {
				writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "limit must be between 1 and 500")
				return
			}
			limit = n
		}

		rows, err := journal.ListFlowEvents(owner.String(), limit)
		if err != nil {
			slog.Error("failed to list flow events", "owner", owner.String(), "error", err)
			writeError(w, http.StatusInternalServerError, config.ErrorDatabase, "failed to list events")
			return
		}

		out := make([]eventView, 0, len(rows))
		for _, row := range rows {
			out = append(out, eventView{
				ID:     row.ID,
				Flow:   row.Flow,
				FlowID: row.FlowID,
				Type:   row.Type,
				Data:   json.RawMessage(row.Payload),
				Time:   row.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, models.APIResponse{Data: out})
	}
}
