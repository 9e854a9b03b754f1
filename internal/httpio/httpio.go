// Package httpio holds the JSON request/response helpers shared by the
// HTTP handlers.
package httpio

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/aspire/market-engine/internal/apperr"
)

// maxBodyBytes caps request bodies accepted by DecodeJSON.
const maxBodyBytes = 1 << 20

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes {"success": false, "error": ...} with the status mapped
// from err. Infrastructure failures are logged and reported opaquely;
// business-rule failures are returned verbatim and only logged at debug.
func WriteError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Error(err))
	}
	WriteJSON(w, status, map[string]any{
		"success": false,
		"error":   apperr.Message(err),
	})
}

// WriteStatus writes an error body with an explicit status and message.
func WriteStatus(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

// DecodeJSON decodes the request body into dst, rejecting unknown shapes
// as validation errors.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr):
			return apperr.Validation("malformed JSON body")
		case errors.As(err, &typeErr):
			return apperr.Validation("field %q has the wrong type", typeErr.Field)
		default:
			return apperr.Validation("invalid request body")
		}
	}
	return nil
}
