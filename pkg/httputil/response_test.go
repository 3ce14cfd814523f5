package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/La-R19/fiverecruit/pkg/apperr"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "no token") }, http.StatusUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "nope") }, http.StatusForbidden},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "gone") }, http.StatusNotFound},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "taken") }, http.StatusConflict},
		{"too many", func(w http.ResponseWriter) { WriteTooManyRequests(w, "slow down") }, http.StatusTooManyRequests},
		{"no content", WriteNoContent, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"unauthorized", apperr.ErrUnauthorized, http.StatusUnauthorized, "authentication required"},
		{"denied", fmt.Errorf("update job: %w", apperr.ErrPermissionDenied), http.StatusForbidden, "permission denied"},
		{"not found", apperr.ErrNotFound, http.StatusNotFound, "not found"},
		{"validation", apperr.Invalid("slug", "too short"), http.StatusBadRequest, "slug: too short"},
		{"conflict", apperr.Conflict("invite", "exhausted"), http.StatusConflict, "invite conflict: exhausted"},
		{"data access", apperr.DataAccess("resolve", errors.New("conn reset")), http.StatusInternalServerError, "internal server error"},
		{"unknown", errors.New("surprise"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteAppError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
			assert.NotContains(t, w.Body.String(), "conn reset")
		})
	}

	t.Run("quota carries current and limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := &apperr.QuotaExceededError{Resource: "jobs", Current: 5, Limit: 5}
		WriteAppError(w, httptest.NewRequest(http.MethodPost, "/", nil), fmt.Errorf("create job: %w", err))

		require.Equal(t, http.StatusPaymentRequired, w.Code)
		var body QuotaErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "jobs", body.Resource)
		assert.Equal(t, int64(5), body.Current)
		assert.Equal(t, int64(5), body.Limit)
	})

	t.Run("validation field detail", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteAppError(w, httptest.NewRequest(http.MethodPost, "/", nil), apperr.Invalid("title", "required"))

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "title", body.Details["field"])
	})
}
