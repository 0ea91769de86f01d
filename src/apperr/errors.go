// Package apperr defines the error kinds shared by the storage, sync and HTTP layers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// ErrNotOwned is reported when a record exists but belongs to another user.
	// Handlers decide whether to expose it or to answer like ErrNotFound.
	ErrNotOwned       = errors.New("not owned by caller")
	ErrStorage        = errors.New("storage failure")
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Validation wraps ErrValidation with the offending field.
func Validation(field, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrValidation, field, msg)
}

// Storage wraps err as a storage failure unless it already carries a kind.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrNotFound, ErrNotOwned, ErrSyncInProgress, ErrValidation, ErrStorage} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// UpstreamError is a failed call to the bank data provider.
type UpstreamError struct {
	Provider  string
	Operation string
	Code      string
	Message   string
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s failed: %s - %s", e.Provider, e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the call may succeed if repeated.
func (e *UpstreamError) Retryable() bool {
	switch e.Code {
	case "RATE_LIMIT_EXCEEDED", "INTERNAL_SERVER_ERROR", "PLANNED_MAINTENANCE", "INSTITUTION_DOWN", "INSTITUTION_NOT_RESPONDING":
		return true
	case "":
		return e.Err != nil
	}
	return false
}

// IsUpstream reports whether err came from the provider.
func IsUpstream(err error) bool {
	var up *UpstreamError
	return errors.As(err, &up)
}
