package platformadmin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/La-R19/fiverecruit/pkg/auth"
	"github.com/La-R19/fiverecruit/pkg/contextkeys"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
)

func do(router http.Handler, method, target, userID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if userID != "" {
		req = req.WithContext(contextkeys.WithAuth(req.Context(), &auth.AuthContext{UserID: userID}))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlers(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Bootstrap(context.Background(), "root")
	require.NoError(t, err)

	router := mux.NewRouter()
	NewHandlers(svc).RegisterRoutes(router)

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/admin/licenses", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodGet, "/admin/licenses", "user", nil).Code)

	w := do(router, http.MethodPost, "/admin/licenses", "root", entitlements.IssueLicenseRequest{Plan: entitlements.PlanPremium})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var issued []entitlements.License
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	require.Len(t, issued, 1)
	assert.Regexp(t, `^[A-Z0-9]{4}(-[A-Z0-9]{4}){3}$`, issued[0].Key)

	w = do(router, http.MethodPost, "/admin/admins", "root", GrantAdminRequest{UserID: "ops"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(router, http.MethodGet, "/admin/admins", "ops", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var admins []Admin
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &admins))
	assert.Len(t, admins, 2)

	assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, "/admin/admins/root", "ops", nil).Code)
	assert.Equal(t, http.StatusConflict, do(router, http.MethodDelete, "/admin/admins/ops", "ops", nil).Code)
}
