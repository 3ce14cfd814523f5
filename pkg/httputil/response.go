// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/observability"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// QuotaErrorResponse is the 402 body for quota ceilings
type QuotaErrorResponse struct {
	Error    string `json:"error"`
	Resource string `json:"resource"`
	Current  int64  `json:"current"`
	Limit    int64  `json:"limit"`
}

// WriteAppError maps the error taxonomy to an HTTP status code. Unknown and
// data access errors become a 500 with a generic message; the cause is
// logged with the request logger.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		quota      *apperr.QuotaExceededError
		conflict   *apperr.ConflictError
		validation *apperr.ValidationError
	)

	switch {
	case errors.Is(err, apperr.ErrUnauthorized):
		WriteUnauthorized(w, "authentication required")
	case errors.Is(err, apperr.ErrPermissionDenied):
		WriteForbidden(w, "permission denied")
	case errors.Is(err, apperr.ErrNotFound):
		WriteNotFoundError(w, "not found")
	case errors.As(err, &validation):
		_ = WriteJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   validation.Error(),
			Details: fieldDetails(validation),
		})
	case errors.As(err, &conflict):
		WriteConflict(w, conflict.Error())
	case errors.As(err, &quota):
		_ = WriteJSON(w, http.StatusPaymentRequired, QuotaErrorResponse{
			Error:    quota.Error(),
			Resource: quota.Resource,
			Current:  quota.Current,
			Limit:    quota.Limit,
		})
	default:
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func fieldDetails(v *apperr.ValidationError) map[string]string {
	if v.Field == "" {
		return nil
	}
	return map[string]string{"field": v.Field}
}

// WriteNotFoundError writes a not found error response (404 Not Found)
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteConflict writes a conflict error (409)
func WriteConflict(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusConflict, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}
