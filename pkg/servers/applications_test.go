package servers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/La-R19/fiverecruit/internal/testdb"
	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/audit"
)

type recordingNotifier struct {
	calls chan *Application
}

func (n *recordingNotifier) ApplicationSubmitted(_ context.Context, _ *Server, _ *Job, app *Application) error {
	n.calls <- app
	return nil
}

var testForm = []FormField{
	{ID: "name", Type: FieldText, Label: "Character name", Required: true},
	{ID: "motivation", Type: FieldTextarea, Label: "Motivation"},
	{ID: "age", Type: FieldNumber, Label: "Age", Required: true},
	{ID: "shift", Type: FieldSelect, Label: "Shift", Options: []string{"day", "night"}},
	{ID: "rules", Type: FieldCheckbox, Label: "I accept the rules", Required: true},
}

func answers(pairs map[string]string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(pairs))
	for k, v := range pairs {
		out[k] = json.RawMessage(v)
	}
	return out
}

func TestValidateAnswers(t *testing.T) {
	valid := map[string]string{"name": `"John Doe"`, "age": `27`, "shift": `"night"`, "rules": `true`}

	with := func(k, v string) map[string]string {
		out := map[string]string{}
		for key, val := range valid {
			out[key] = val
		}
		if v == "" {
			delete(out, k)
		} else {
			out[k] = v
		}
		return out
	}

	tests := []struct {
		name      string
		answers   map[string]string
		wantField string
	}{
		{"valid", valid, ""},
		{"optional fields may be omitted", with("shift", ""), ""},
		{"required text missing", with("name", ""), "answers.name"},
		{"required text blank", with("name", `"   "`), "answers.name"},
		{"required text null", with("name", `null`), "answers.name"},
		{"text must be a string", with("name", `42`), "answers.name"},
		{"number must be numeric", with("age", `"twenty"`), "answers.age"},
		{"select outside options", with("shift", `"weekend"`), "answers.shift"},
		{"required checkbox unchecked", with("rules", `false`), "answers.rules"},
		{"checkbox must be a bool", with("rules", `"yes"`), "answers.rules"},
		{"unknown field", with("favourite_color", `"blue"`), "answers.favourite_color"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAnswers(testForm, answers(tt.answers))
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestSubmitApplication(t *testing.T) {
	notifier := &recordingNotifier{calls: make(chan *Application, 1)}
	f := newFixture(t, WithNotifier(notifier))
	ctx := context.Background()

	serverID := testdb.InsertServer(t, f.db, "owner", "apply", "")
	testdb.InsertSubscription(t, f.db, "sub_apply", "owner", serverID, "active", premiumPrice)
	job, err := f.svc.CreateJob(ctx, "owner", serverID, CreateJobRequest{
		Title:             "Officer",
		DiscordWebhookURL: "https://discord.com/api/webhooks/1/token",
		FormSchema:        testForm,
	})
	require.NoError(t, err)

	app, err := f.svc.SubmitApplication(ctx, "candidate", job.ID, answers(map[string]string{
		"name": `"John Doe"`, "age": `27`, "rules": `true`,
	}))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, app.Status)
	assert.Equal(t, serverID, app.ServerID)
	assert.Equal(t, 1, app.SchemaVersion)
	assert.Equal(t, testForm, app.SchemaSnapshot)
	assert.JSONEq(t, `"John Doe"`, string(app.Answers["name"]))

	select {
	case notified := <-notifier.calls:
		assert.Equal(t, app.ID, notified.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
	}

	t.Run("snapshot survives a schema change", func(t *testing.T) {
		_, err := f.svc.UpdateFormSchema(ctx, "owner", serverID, job.ID, testForm[:1])
		require.NoError(t, err)

		stored, err := f.svc.GetApplication(ctx, "candidate", app.ID)
		require.NoError(t, err)
		assert.Len(t, stored.SchemaSnapshot, len(testForm))
		assert.Equal(t, 1, stored.SchemaVersion)
	})

	t.Run("invalid answers", func(t *testing.T) {
		_, err := f.svc.SubmitApplication(ctx, "candidate", job.ID, answers(map[string]string{"age": `1`}))
		assert.True(t, apperr.IsValidation(err), "got %v", err)
	})

	t.Run("closed job", func(t *testing.T) {
		closed := false
		_, err := f.svc.UpdateJob(ctx, "owner", serverID, job.ID, UpdateJobRequest{IsOpen: &closed})
		require.NoError(t, err)

		_, err = f.svc.SubmitApplication(ctx, "candidate", job.ID, answers(map[string]string{"name": `"x"`}))
		assert.True(t, apperr.IsConflict(err), "got %v", err)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := f.svc.SubmitApplication(ctx, "candidate", "not-a-job", nil)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("anonymous", func(t *testing.T) {
		_, err := f.svc.SubmitApplication(ctx, "", job.ID, nil)
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	})
}

func TestReviewApplications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	serverID := testdb.InsertServer(t, f.db, "owner", "review", "")
	testdb.InsertSubscription(t, f.db, "sub_review", "owner", serverID, "active", premiumPrice)
	police, err := f.svc.CreateJob(ctx, "owner", serverID, CreateJobRequest{Title: "Police"})
	require.NoError(t, err)
	medic, err := f.svc.CreateJob(ctx, "owner", serverID, CreateJobRequest{Title: "Medic"})
	require.NoError(t, err)

	testdb.InsertMember(t, f.db, serverID, "chief", "manager", police.ID, "")
	testdb.InsertMember(t, f.db, serverID, "viewer", "viewer", "", "")
	testdb.InsertMember(t, f.db, serverID, "admin", "admin", "", "")

	toPolice, err := f.svc.SubmitApplication(ctx, "alice", police.ID, nil)
	require.NoError(t, err)
	toMedic, err := f.svc.SubmitApplication(ctx, "bob", medic.ID, nil)
	require.NoError(t, err)

	t.Run("restricted member only sees their job", func(t *testing.T) {
		apps, err := f.svc.ListApplications(ctx, "chief", serverID, "")
		require.NoError(t, err)
		require.Len(t, apps, 1)
		assert.Equal(t, toPolice.ID, apps[0].ID)

		_, err = f.svc.ListApplications(ctx, "chief", serverID, medic.ID)
		assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

		_, err = f.svc.GetApplication(ctx, "chief", toMedic.ID)
		assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	})

	t.Run("unrestricted listing", func(t *testing.T) {
		apps, err := f.svc.ListApplications(ctx, "admin", serverID, "")
		require.NoError(t, err)
		assert.Len(t, apps, 2)

		apps, err = f.svc.ListApplications(ctx, "owner", serverID, medic.ID)
		require.NoError(t, err)
		require.Len(t, apps, 1)
		assert.Equal(t, toMedic.ID, apps[0].ID)

		_, err = f.svc.ListApplications(ctx, "viewer", serverID, "")
		assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	})

	t.Run("status", func(t *testing.T) {
		updated, err := f.svc.UpdateApplicationStatus(ctx, "chief", toPolice.ID, StatusInterview)
		require.NoError(t, err)
		assert.Equal(t, StatusInterview, updated.Status)

		_, err = f.svc.UpdateApplicationStatus(ctx, "chief", toMedic.ID, StatusAccepted)
		assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

		_, err = f.svc.UpdateApplicationStatus(ctx, "chief", toPolice.ID, "hired")
		assert.True(t, apperr.IsValidation(err), "got %v", err)

		events := f.audit.ByType(audit.EventTypeApplicationStatus)
		require.Len(t, events, 1)
		assert.Equal(t, "interview", events[0].Changes.After["status"])
	})

	t.Run("candidates see their own", func(t *testing.T) {
		mine, err := f.svc.ListMyApplications(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, StatusInterview, mine[0].Status)

		_, err = f.svc.GetApplication(ctx, "bob", toPolice.ID)
		assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	})

	t.Run("delete", func(t *testing.T) {
		assert.ErrorIs(t, f.svc.DeleteApplication(ctx, "chief", toPolice.ID), apperr.ErrPermissionDenied,
			"managers cannot delete applications by default")
		require.NoError(t, f.svc.DeleteApplication(ctx, "admin", toPolice.ID))
		assert.ErrorIs(t, f.svc.DeleteApplication(ctx, "admin", toPolice.ID), apperr.ErrNotFound)
	})
}
