// Package handlers exposes the agent and reviewer HTTP surface.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/academyhub/backend/internal/services"
)

const maxBodyBytes = 1 << 20

// internalErrors are tagged-result messages that mean the backend failed,
// not the caller.
var internalErrors = map[string]bool{
	"failed to create task":     true,
	"failed to execute query":   true,
	"failed to generate report": true,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// failureStatus maps a failed tagged result to an HTTP status.
func failureStatus(msg string) int {
	if internalErrors[msg] {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// decodeBody reads r's body, checks it against schema and decodes it into dst.
// It writes the error response itself and reports whether the caller may go on.
func decodeBody(w http.ResponseWriter, r *http.Request, v *services.Validator, schema string, dst any, log *slog.Logger) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", maxBodyBytes))
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if v != nil {
		if err := v.Validate(schema, body); err != nil {
			if errors.Is(err, services.ErrValidation) {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return false
			}
			log.Error("validate request body", "schema", schema, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return false
		}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}
