package triageapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/junxiaogit/wecom-ai-platform/internal/triage"
)

const maxIngestBatch = 500

// IngestMessage is one inbound chat message.
type IngestMessage struct {
	ID     string    `json:"id,omitempty"`
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// IngestRequest is the batch payload of the ingestion endpoint.
type IngestRequest struct {
	Messages []IngestMessage `json:"messages"`
}

// IngestResponse reports how the batch was handled. Outcome is set when
// the batch tipped the room over a trigger threshold and a triage pass ran
// inline.
type IngestResponse struct {
	Accepted int             `json:"accepted"`
	Skipped  int             `json:"skipped"`
	Outcome  *triage.Outcome `json:"outcome,omitempty"`
}

func (a *API) handleIngestMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, `{"error":"empty batch"}`, http.StatusBadRequest)
		return
	}
	if len(req.Messages) > maxIngestBatch {
		http.Error(w, `{"error":"batch too large"}`, http.StatusRequestEntityTooLarge)
		return
	}

	now := time.Now()
	var newText strings.Builder
	msgs := make([]*triage.Message, 0, len(req.Messages))
	for _, in := range req.Messages {
		id := in.ID
		if id == "" {
			id = ulid.Make().String()
		}
		sentAt := in.SentAt
		if sentAt.IsZero() {
			sentAt = now
		}
		m := &triage.Message{
			ID:     id,
			RoomID: roomID,
			Sender: in.Sender,
			Text:   in.Text,
			Noise:  triage.IsNoise(in.Text),
			SentAt: sentAt,
		}
		if !m.Noise {
			newText.WriteString(m.Text)
			newText.WriteString("\n")
		}
		msgs = append(msgs, m)
	}

	stored, err := a.messages.Append(r.Context(), msgs)
	if err != nil {
		a.logger.Error(r.Context(), err, "message ingest failed", "room_id", roomID, "batch", len(msgs))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	resp := IngestResponse{Accepted: stored, Skipped: len(msgs) - stored}
	if stored > 0 {
		outcome, err := a.poller.OnNewMessages(r.Context(), roomID, newText.String())
		if err != nil {
			// The batch is stored; the next tick retries the pass.
			a.logger.Error(r.Context(), err, "inline triage pass failed", "room_id", roomID)
		} else {
			resp.Outcome = outcome
		}
	}

	a.logger.Info(r.Context(), "messages ingested",
		"room_id", roomID,
		"accepted", resp.Accepted,
		"skipped", resp.Skipped,
		"triggered", resp.Outcome != nil,
	)
	writeJSON(w, http.StatusAccepted, resp)
}
