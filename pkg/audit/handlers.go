package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/httputil"
)

// Searcher is implemented by DBLogger
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)
}

// Handlers serves a server's audit trail. Authorization is the caller's
// concern: routes are registered behind a gate middleware.
type Handlers struct {
	searcher Searcher
}

// NewHandlers creates audit handlers
func NewHandlers(searcher Searcher) *Handlers {
	return &Handlers{searcher: searcher}
}

// RegisterRoutes registers GET /servers/{server_id}/audit wrapped in gate
func (h *Handlers) RegisterRoutes(router *mux.Router, gate mux.MiddlewareFunc) {
	var handler http.Handler = http.HandlerFunc(h.ListServerEvents)
	if gate != nil {
		handler = gate(handler)
	}
	router.Handle("/servers/{server_id}/audit", handler).Methods("GET")
}

// ListServerEvents returns recent events for a server. Supports ?type=
// (repeatable), ?since= (RFC 3339) and ?limit=.
func (h *Handlers) ListServerEvents(w http.ResponseWriter, r *http.Request) {
	serverID, ok := httputil.ParsePathIDOrError(w, r, "server_id")
	if !ok {
		return
	}

	filter := SearchFilter{ServerID: serverID}
	for _, t := range r.URL.Query()["type"] {
		filter.EventTypes = append(filter.EventTypes, EventType(t))
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &since
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httputil.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	events, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, r, apperr.DataAccess("search audit events", err))
		return
	}
	if events == nil {
		events = []*AuditEvent{}
	}
	_ = httputil.WriteSuccess(w, events)
}
