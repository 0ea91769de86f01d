package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"budgeteer-server/src/apperr"
	"budgeteer-server/src/models"
	"budgeteer-server/src/plaid"
	"budgeteer-server/src/plaidsync"
	"budgeteer-server/src/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// LinkProvider is the part of the bank data provider the Link flow needs.
type LinkProvider interface {
	CreateLinkToken(ctx context.Context, userID int64) (*plaid.LinkToken, error)
	ExchangeToken(ctx context.Context, publicToken string) (*plaid.Exchange, error)
	GetItem(ctx context.Context, accessToken string) (*plaid.ItemInfo, error)
	GetAccounts(ctx context.Context, accessToken string) ([]models.LinkedAccount, error)
	RemoveItem(ctx context.Context, accessToken string) error
}

type ItemStore interface {
	GetItem(ctx context.Context, id int64) (*models.LinkedItem, error)
	GetItemByExternalID(ctx context.Context, itemID string) (*models.LinkedItem, error)
	ListLinkedAccounts(ctx context.Context, userID int64) ([]models.LinkedItemWithAccounts, error)
	CreateLinkedItem(ctx context.Context, item *models.LinkedItem, accounts []models.LinkedAccount) (*models.LinkedItemWithAccounts, error)
	UnlinkItem(ctx context.Context, id int64) error
	GetSyncCursor(ctx context.Context, itemID int64) (*models.SyncCursor, error)
}

type Syncer interface {
	SyncItem(ctx context.Context, itemID int64) (*plaidsync.Result, error)
	SyncUser(ctx context.Context, userID int64) (*plaidsync.Result, error)
}

type exchangeRequest struct {
	PublicToken string `json:"public_token"`
	Institution struct {
		InstitutionID string `json:"institution_id"`
		Name          string `json:"name"`
	} `json:"institution"`
}

type syncResponse struct {
	Stats *plaidsync.Result `json:"stats"`
}

// ownedItem loads an active item by its path id and checks it belongs to userID.
func ownedItem(ctx context.Context, store ItemStore, userID int64, rawID string) (*models.LinkedItem, error) {
	id, ok := util.ParseID(rawID)
	if !ok {
		return nil, apperr.Validation("item_id", "must be a positive integer")
	}
	item, err := store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		return nil, fmt.Errorf("item %d: %w", id, apperr.ErrNotOwned)
	}
	if !item.IsActive() {
		return nil, fmt.Errorf("item %d is %s: %w", id, item.Status, apperr.ErrNotFound)
	}
	return item, nil
}

func CreateLinkToken(provider LinkProvider, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		token, err := provider.CreateLinkToken(r.Context(), userID)
		if err != nil {
			logger.Error("failed to create link token", zap.Int64("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to create link token")
			return
		}

		writeJSON(w, http.StatusOK, token)
	}
}

// ExchangePublicToken trades a Link public token for an access token and
// stores the new item with its accounts and an empty sync cursor.
func ExchangePublicToken(provider LinkProvider, store ItemStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		logger := logger.With(zap.Int64("user_id", userID))

		var req exchangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request")
			return
		}
		if req.PublicToken == "" {
			writeError(w, http.StatusBadRequest, "public_token is required")
			return
		}
		if !util.ValidatePublicToken(req.PublicToken) {
			writeError(w, http.StatusBadRequest, "invalid public_token")
			return
		}

		exchange, err := provider.ExchangeToken(r.Context(), req.PublicToken)
		if err != nil {
			logger.Error("public token exchange failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to exchange public token")
			return
		}

		institutionID := req.Institution.InstitutionID
		if info, err := provider.GetItem(r.Context(), exchange.AccessToken); err != nil {
			// Institution details are optional; the Link metadata is enough.
			logger.Warn("failed to fetch item details", zap.String("item_id", exchange.ItemID), zap.Error(err))
		} else if info.InstitutionID != "" {
			institutionID = info.InstitutionID
		}

		accounts, err := provider.GetAccounts(r.Context(), exchange.AccessToken)
		if err != nil {
			logger.Error("failed to fetch accounts", zap.String("item_id", exchange.ItemID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to fetch accounts")
			return
		}

		created, err := store.CreateLinkedItem(r.Context(), &models.LinkedItem{
			UserID:          userID,
			AccessToken:     exchange.AccessToken,
			ItemID:          exchange.ItemID,
			InstitutionID:   institutionID,
			InstitutionName: req.Institution.Name,
		}, accounts)
		if err != nil {
			logger.Error("failed to save plaid item", zap.String("item_id", exchange.ItemID), zap.Error(err))
			// Nothing references the provider item yet, so release it.
			if rmErr := provider.RemoveItem(context.WithoutCancel(r.Context()), exchange.AccessToken); rmErr != nil {
				logger.Warn("failed to remove orphaned plaid item", zap.String("item_id", exchange.ItemID), zap.Error(rmErr))
			}
			writeError(w, http.StatusInternalServerError, "Failed to save plaid item")
			return
		}
		if created.Accounts == nil {
			created.Accounts = []models.LinkedAccount{}
		}

		logger.Info("linked plaid item", zap.Int64("item_id", created.Item.ID), zap.Int("accounts", len(created.Accounts)))
		writeJSON(w, http.StatusCreated, created)
	}
}

func GetLinkedAccounts(store ItemStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		items, err := store.ListLinkedAccounts(r.Context(), userID)
		if err != nil {
			logger.Error("failed to list linked accounts", zap.Int64("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to retrieve accounts")
			return
		}
		if items == nil {
			items = []models.LinkedItemWithAccounts{}
		}
		for i := range items {
			if items[i].Accounts == nil {
				items[i].Accounts = []models.LinkedAccount{}
			}
		}

		writeJSON(w, http.StatusOK, items)
	}
}

// SyncTransactions syncs one item when the path names it, otherwise every
// active item of the caller. A pass stopped by a page or time cap answers 202.
func SyncTransactions(store ItemStore, syncer Syncer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		logger := logger.With(zap.Int64("user_id", userID))

		var (
			result *plaidsync.Result
			err    error
		)
		if raw := chi.URLParam(r, "itemId"); raw != "" {
			var item *models.LinkedItem
			item, err = ownedItem(r.Context(), store, userID, raw)
			if err == nil {
				result, err = syncer.SyncItem(r.Context(), item.ID)
			}
		} else {
			result, err = syncer.SyncUser(r.Context(), userID)
		}
		if err != nil {
			writeServiceError(w, logger, err, "Failed to sync transactions")
			return
		}

		status := http.StatusOK
		if result.Incomplete {
			status = http.StatusAccepted
		}
		writeJSON(w, status, syncResponse{Stats: result})
	}
}

func GetSyncStatus(store ItemStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		item, err := ownedItem(r.Context(), store, userID, chi.URLParam(r, "itemId"))
		if errors.Is(err, apperr.ErrNotOwned) {
			err = apperr.ErrNotFound
		}
		if err != nil {
			writeServiceError(w, logger, err, "Failed to retrieve sync status")
			return
		}

		cursor, err := store.GetSyncCursor(r.Context(), item.ID)
		if err != nil {
			writeServiceError(w, logger, err, "Failed to retrieve sync status")
			return
		}
		writeJSON(w, http.StatusOK, cursor)
	}
}

// UnlinkItem removes the item at the provider, then marks it removed and
// deactivates its accounts. Items of other users answer 404.
func UnlinkItem(provider LinkProvider, store ItemStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		logger := logger.With(zap.Int64("user_id", userID))

		item, err := ownedItem(r.Context(), store, userID, chi.URLParam(r, "itemId"))
		if errors.Is(err, apperr.ErrNotOwned) {
			err = apperr.ErrNotFound
		}
		if err != nil {
			writeServiceError(w, logger, err, "Failed to unlink item")
			return
		}

		if err := provider.RemoveItem(r.Context(), item.AccessToken); err != nil {
			logger.Error("failed to remove plaid item", zap.Int64("item_id", item.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to remove item")
			return
		}
		if err := store.UnlinkItem(r.Context(), item.ID); err != nil {
			writeServiceError(w, logger, err, "Failed to unlink item")
			return
		}

		logger.Info("unlinked plaid item", zap.Int64("item_id", item.ID))
		writeJSON(w, http.StatusOK, map[string]string{"message": "Item unlinked"})
	}
}
