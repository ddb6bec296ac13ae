package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/org/healthgate/internal/access"
	"github.com/org/healthgate/internal/auth"
	"github.com/org/healthgate/internal/clinical"
	"github.com/org/healthgate/internal/idp"
	"github.com/org/healthgate/internal/mfa"
	"github.com/org/healthgate/internal/storage"
)

// envelope is the uniform response shape for every outcome.
type envelope struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      any       `json:"data"`
	Details   any       `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

func writeSuccess(w http.ResponseWriter, code int, message string, data any) {
	writeEnvelope(w, code, envelope{Success: true, Message: message, Data: data})
}

func writeFailure(w http.ResponseWriter, code int, message string, details any) {
	writeEnvelope(w, code, envelope{Success: false, Message: message, Details: details})
}

func writeEnvelope(w http.ResponseWriter, code int, env envelope) {
	env.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(env) //nolint:errcheck
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// statusForError maps the error taxonomy onto the conventional status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidTicket),
		errors.Is(err, idp.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, access.ErrForbidden),
		errors.Is(err, clinical.ErrNotOwner),
		errors.Is(err, mfa.ErrCredentialCompromised):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, mfa.ErrNoCredentials):
		return http.StatusNotFound
	case errors.Is(err, mfa.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, mfa.ErrChallengeExpired),
		errors.Is(err, mfa.ErrInvalidCode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeFailure(w, statusForError(err), err.Error(), nil)
}
