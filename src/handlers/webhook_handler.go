package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"budgeteer-server/src/apperr"

	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type WebhookVerifier interface {
	Verify(ctx context.Context, body []byte, header http.Header) error
}

type webhookPayload struct {
	WebhookType string `json:"webhook_type"`
	WebhookCode string `json:"webhook_code"`
	ItemID      string `json:"item_id"`
	Error       *struct {
		ErrorCode    string `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"error"`
}

// WebhookHandler accepts signed provider webhooks. SYNC_UPDATES_AVAILABLE
// starts a detached sync of the item and the request is answered right away.
type WebhookHandler struct {
	store       ItemStore
	syncer      Syncer
	verifier    WebhookVerifier
	syncTimeout time.Duration
	logger      *zap.Logger

	wg sync.WaitGroup
}

func NewWebhookHandler(store ItemStore, syncer Syncer, verifier WebhookVerifier, syncTimeout time.Duration, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		store:       store,
		syncer:      syncer,
		verifier:    verifier,
		syncTimeout: syncTimeout,
		logger:      logger.With(zap.String("component", "webhook")),
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := h.verifier.Verify(r.Context(), body, r.Header); err != nil {
		h.logger.Warn("rejected webhook", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.WebhookType == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	logger := h.logger.With(
		zap.String("webhook_type", payload.WebhookType),
		zap.String("webhook_code", payload.WebhookCode),
		zap.String("plaid_item_id", payload.ItemID))

	switch {
	case payload.WebhookType == "TRANSACTIONS" && payload.WebhookCode == "SYNC_UPDATES_AVAILABLE":
		h.startSync(r.Context(), payload.ItemID, logger)
	case payload.WebhookType == "ITEM" && payload.Error != nil:
		logger.Warn("item error reported", zap.String("error_code", payload.Error.ErrorCode), zap.String("error_message", payload.Error.ErrorMessage))
	default:
		logger.Debug("ignored webhook")
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (h *WebhookHandler) startSync(ctx context.Context, externalItemID string, logger *zap.Logger) {
	item, err := h.store.GetItemByExternalID(ctx, externalItemID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			logger.Info("webhook for unknown item")
		} else {
			logger.Error("failed to look up webhook item", zap.Error(err))
		}
		return
	}
	if !item.IsActive() {
		logger.Info("webhook for removed item", zap.Int64("item_id", item.ID))
		return
	}

	syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.syncTimeout)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer cancel()
		if _, err := h.syncer.SyncItem(syncCtx, item.ID); err != nil && !errors.Is(err, apperr.ErrSyncInProgress) {
			logger.Error("webhook sync failed", zap.Int64("item_id", item.ID), zap.Error(err))
		}
	}()
}

// Wait blocks until every webhook-triggered sync has finished.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}
