package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"budgeteer-server/src/apperr"
	"budgeteer-server/src/middleware"

	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps an error kind to its HTTP status. Storage and unknown
// failures are logged and answered with a generic message.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, msg string) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrNotOwned):
		writeError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, "Item not found")
	case errors.Is(err, apperr.ErrSyncInProgress):
		writeError(w, http.StatusConflict, "Sync already in progress")
	case apperr.IsUpstream(err):
		logger.Warn(msg, zap.Error(err))
		writeError(w, http.StatusBadGateway, msg)
	default:
		logger.Error(msg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func requireUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
	return userID, ok
}
