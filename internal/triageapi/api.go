// Package triageapi exposes the HTTP surface of the triage poller:
// message ingestion, manual processing, sweeps, and room state reads.
package triageapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/junxiaogit/wecom-ai-platform/internal/triage"
)

// PollerService defines the poller operations the API needs.
type PollerService interface {
	OnNewMessages(ctx context.Context, roomID, newText string) (*triage.Outcome, error)
	ProcessNow(ctx context.Context, roomID string) (*triage.Outcome, error)
	RunEndOfCycleSweep(ctx context.Context) error
	Snapshot(ctx context.Context, roomID string) (*triage.RoomState, bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	poller   PollerService
	messages triage.MessageStore
}

// New creates a new API handler.
func New(logger log.Logger, poller PollerService, messages triage.MessageStore) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if poller == nil {
		panic(xerrors.New("poller service is required"))
	}
	if messages == nil {
		panic(xerrors.New("message store is required"))
	}
	return &API{
		logger:   logger,
		poller:   poller,
		messages: messages,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/rooms/{roomID}/messages", a.handleIngestMessages)
		r.Post("/rooms/{roomID}/process", a.handleProcessRoom)
		r.Get("/rooms/{roomID}/state", a.handleRoomState)
		r.Post("/sweep", a.handleSweep)
	})
}

func (a *API) handleProcessRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("triage.room_id", roomID))

	outcome, err := a.poller.ProcessNow(r.Context(), roomID)
	if err != nil {
		a.logger.Error(r.Context(), err, "manual triage pass failed", "room_id", roomID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	span.SetAttributes(attribute.String("triage.disposition", string(outcome.Disposition)))
	writeJSON(w, http.StatusOK, outcome)
}

// roomStateResponse is the state snapshot plus the newest message time,
// so operators can tell a quiet room from a stuck cursor.
type roomStateResponse struct {
	*triage.RoomState
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

func (a *API) handleRoomState(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	st, ok, err := a.poller.Snapshot(r.Context(), roomID)
	if err != nil {
		a.logger.Error(r.Context(), err, "room state read failed", "room_id", roomID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	resp := roomStateResponse{RoomState: st}
	if latest, ok, err := a.messages.LatestMessageTime(r.Context(), roomID); err != nil {
		a.logger.Warn(r.Context(), "latest message lookup failed", "room_id", roomID, "error", err.Error())
	} else if ok {
		resp.LastMessageAt = &latest
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	if err := a.poller.RunEndOfCycleSweep(r.Context()); err != nil {
		a.logger.Error(r.Context(), err, "sweep failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
