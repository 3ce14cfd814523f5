package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/La-R19/fiverecruit/pkg/servers"
)

func TestParseWebhookURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		id      string
		token   string
		wantErr bool
	}{
		{"discord.com", "https://discord.com/api/webhooks/123/abc-DEF", "123", "abc-DEF", false},
		{"versioned api", "https://discord.com/api/v10/webhooks/456/tok", "456", "tok", false},
		{"missing token", "https://discord.com/api/webhooks/123", "", "", true},
		{"not a webhook", "https://example.com/hooks/1/2", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, token, err := ParseWebhookURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestAnswerText(t *testing.T) {
	assert.Equal(t, "John", answerText(json.RawMessage(`" John "`)))
	assert.Equal(t, "Yes", answerText(json.RawMessage(`true`)))
	assert.Equal(t, "No", answerText(json.RawMessage(`false`)))
	assert.Equal(t, "27", answerText(json.RawMessage(`27`)))
	assert.Equal(t, "", answerText(json.RawMessage(`null`)))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}

func TestApplicationSubmitted(t *testing.T) {
	var (
		mu       sync.Mutex
		path     string
		received discordgo.WebhookParams
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	original := discordgo.EndpointWebhooks
	discordgo.EndpointWebhooks = srv.URL + "/webhooks/"
	t.Cleanup(func() { discordgo.EndpointWebhooks = original })

	notifier, err := NewDiscordNotifier("https://fiverecruit.example/", 5*time.Second)
	require.NoError(t, err)

	server := &servers.Server{ID: "s1", Name: "Sandy Shores", Slug: "sandy"}
	job := &servers.Job{ID: "j1", Title: "Ranger", DiscordWebhookURL: "https://discord.com/api/webhooks/42/secret"}
	app := &servers.Application{
		ID: "a1",
		SchemaSnapshot: []servers.FormField{
			{ID: "name", Type: servers.FieldText, Label: "Name"},
			{ID: "why", Type: servers.FieldTextarea, Label: "Why?"},
			{ID: "rules", Type: servers.FieldCheckbox, Label: "Rules"},
			{ID: "skipped", Type: servers.FieldText, Label: "Skipped"},
		},
		Answers: map[string]json.RawMessage{
			"name":  json.RawMessage(`"John"`),
			"why":   json.RawMessage(`"` + strings.Repeat("x", 2000) + `"`),
			"rules": json.RawMessage(`true`),
		},
		CreatedAt: time.Now(),
	}

	require.NoError(t, notifier.ApplicationSubmitted(context.Background(), server, job, app))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/webhooks/42/secret", path)
	assert.Equal(t, "Sandy Shores", received.Username)
	require.Len(t, received.Embeds, 1)
	embed := received.Embeds[0]
	assert.Equal(t, "New application: Ranger", embed.Title)
	assert.Equal(t, "https://fiverecruit.example/dashboard/sandy/applications/a1", embed.URL)
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, "John", embed.Fields[0].Value)
	assert.Len(t, []rune(embed.Fields[1].Value), maxFieldValueRunes)
	assert.False(t, embed.Fields[1].Inline)
	assert.Equal(t, "Yes", embed.Fields[2].Value)
}

func TestApplicationSubmitted_NoWebhook(t *testing.T) {
	notifier, err := NewDiscordNotifier("https://fiverecruit.example", time.Second)
	require.NoError(t, err)
	err = notifier.ApplicationSubmitted(context.Background(), &servers.Server{}, &servers.Job{}, &servers.Application{})
	assert.NoError(t, err)
}
