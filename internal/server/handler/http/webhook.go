package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/atinyakov/GophRelay/internal/models"
	"github.com/atinyakov/GophRelay/internal/transport/telegram"
	"go.uber.org/zap"
)

// maxUpdateSize bounds the webhook request body.
const maxUpdateSize = 1 << 20

// Submitter queues inbound updates for processing.
type Submitter interface {
	// Submit queues in. It returns an error if the update could not be queued
	// before ctx was done.
	Submit(ctx context.Context, in models.Inbound) error
}

// WebhookHandler receives Telegram updates pushed to the webhook.
type WebhookHandler struct {
	// Updates receives every supported update.
	Updates Submitter
	// Logger is used to report rejected updates.
	Logger *zap.Logger
}

// Receive handles POST /webhook. It acknowledges as soon as the update is
// queued; processing happens asynchronously. Unsupported updates are
// acknowledged and dropped so that Telegram does not redeliver them.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var u telegram.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateSize)).Decode(&u); err != nil {
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}

	in, ok := telegram.ToInbound(u)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := h.Updates.Submit(r.Context(), in); err != nil {
		h.Logger.Warn("failed to queue update", zap.Int64("update_id", u.UpdateID), zap.Error(err))
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
