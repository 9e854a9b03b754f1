// Package apperr holds the error taxonomy shared by the trade engine, the
// shock processor and the HTTP layer.
//
// Business-rule errors are expected outcomes returned to the caller with
// enough detail to correct the request. ErrStoreCommit marks infrastructure
// failures; its details are logged and never shown to the caller.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInstrumentInactive = errors.New("stock is not active for trading")
	ErrAccountInactive    = errors.New("user account is inactive")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("not enough shares")
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("already exists")
	ErrStoreCommit        = errors.New("store commit failed")
)

var business = []error{
	ErrNotFound,
	ErrInstrumentInactive,
	ErrAccountInactive,
	ErrInsufficientFunds,
	ErrInsufficientShares,
	ErrValidation,
	ErrConflict,
}

// Validation returns an ErrValidation carrying a formatted detail.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsBusiness reports whether err is one of the user-actionable kinds.
func IsBusiness(err error) bool {
	for _, target := range business {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Commit passes business errors through untouched and wraps anything else
// as ErrStoreCommit.
func Commit(err error) error {
	if err == nil || IsBusiness(err) || errors.Is(err, ErrStoreCommit) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreCommit, err)
}

// Status maps an error to its HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case IsBusiness(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text safe to show the caller.
func Message(err error) string {
	if IsBusiness(err) {
		return err.Error()
	}
	return "internal server error"
}
