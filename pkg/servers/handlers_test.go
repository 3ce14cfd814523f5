package servers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/La-R19/fiverecruit/pkg/auth"
	"github.com/La-R19/fiverecruit/pkg/contextkeys"
	"github.com/La-R19/fiverecruit/pkg/httputil"
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

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

func TestHandlers(t *testing.T) {
	f := newFixture(t)

	var redeems int
	limit := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			redeems++
			next.ServeHTTP(w, r)
		})
	}

	router := mux.NewRouter()
	h := NewHandlers(f.svc)
	h.RegisterPublicRoutes(router)
	h.RegisterRoutes(router, limit)

	w := do(router, http.MethodPost, "/servers", "owner", CreateServerRequest{Name: "Sandy Shores", Slug: "sandy"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var server Server
	decode(t, w, &server)
	base := "/servers/" + server.ID

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/servers", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodGet, base, "stranger", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/servers/not-a-uuid", "owner", nil).Code)

	t.Run("jobs and quota", func(t *testing.T) {
		w := do(router, http.MethodPost, base+"/jobs", "owner", CreateJobRequest{
			Title:             "Ranger",
			DiscordWebhookURL: "https://discord.com/api/webhooks/1/secret",
			FormSchema:        []FormField{{ID: "why", Type: FieldText, Label: "Why?", Required: true}},
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = do(router, http.MethodPost, base+"/jobs", "owner", CreateJobRequest{Title: "Second"})
		require.Equal(t, http.StatusPaymentRequired, w.Code)
		var quotaErr httputil.QuotaErrorResponse
		decode(t, w, &quotaErr)
		assert.Equal(t, "jobs", quotaErr.Resource)
		assert.Equal(t, int64(1), quotaErr.Limit)

		w = do(router, http.MethodGet, base+"/quota", "owner", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var quota QuotaStatus
		decode(t, w, &quota)
		assert.False(t, quota.Allowed)

		w = do(router, http.MethodGet, base+"/jobs?open=true", "owner", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var jobs []Job
		decode(t, w, &jobs)
		assert.Len(t, jobs, 1)
		assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, base+"/jobs?open=maybe", "owner", nil).Code)
	})

	var jobID string
	t.Run("public pages hide the webhook", func(t *testing.T) {
		w := do(router, http.MethodGet, "/public/servers/sandy/jobs", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var jobs []Job
		decode(t, w, &jobs)
		require.Len(t, jobs, 1)
		assert.Empty(t, jobs[0].DiscordWebhookURL)
		jobID = jobs[0].ID

		w = do(router, http.MethodGet, "/public/jobs/"+jobID, "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "secret")

		assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/public/servers/nowhere", "", nil).Code)
	})

	t.Run("invite and join", func(t *testing.T) {
		w := do(router, http.MethodPost, base+"/invites", "owner", map[string]interface{}{
			"role": "manager", "job_id": jobID, "expires_in_hours": 48,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var invite Invite
		decode(t, w, &invite)
		require.NotNil(t, invite.ExpiresAt)

		w = do(router, http.MethodPost, "/invites/"+invite.Code+"/redeem", "ranger", nil)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var member Member
		decode(t, w, &member)
		assert.Equal(t, jobID, member.JobID)

		w = do(router, http.MethodPost, "/invites/"+invite.Code+"/redeem", "late", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, 2, redeems)

		w = do(router, http.MethodPatch, base+"/members/"+member.ID, "owner", map[string]interface{}{
			"specific_permissions": map[string]bool{"can_teleport": true},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code, "unknown capabilities are rejected")

		w = do(router, http.MethodPatch, base+"/members/"+member.ID, "owner", map[string]interface{}{
			"specific_permissions": map[string]bool{"can_delete_applications": true},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = do(router, http.MethodGet, base+"/members", "ranger", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("apply and review", func(t *testing.T) {
		w := do(router, http.MethodPost, "/jobs/"+jobID+"/applications", "candidate", SubmitApplicationRequest{
			Answers: map[string]json.RawMessage{"why": json.RawMessage(`"I love the outdoors"`)},
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var app Application
		decode(t, w, &app)

		w = do(router, http.MethodPost, "/jobs/"+jobID+"/applications", "candidate", SubmitApplicationRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = do(router, http.MethodGet, base+"/applications", "ranger", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var apps []Application
		decode(t, w, &apps)
		assert.Len(t, apps, 1)

		w = do(router, http.MethodPut, "/applications/"+app.ID+"/status", "ranger",
			UpdateApplicationStatusRequest{Status: StatusAccepted})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = do(router, http.MethodGet, "/me/applications", "candidate", nil)
		require.Equal(t, http.StatusOK, w.Code)
		decode(t, w, &apps)
		require.Len(t, apps, 1)
		assert.Equal(t, StatusAccepted, apps[0].Status)

		assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, "/applications/"+app.ID, "ranger", nil).Code)
	})

	t.Run("leave and delete", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, base+"/members/me", "ranger", nil).Code)
		assert.Equal(t, http.StatusForbidden, do(router, http.MethodDelete, base, "ranger", nil).Code)
		assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, base, "owner", nil).Code)
		assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, base, "owner", nil).Code)
	})
}
