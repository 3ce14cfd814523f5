// Package notify delivers outbound notifications about recruitment
// activity. Applications are announced on the job's Discord webhook.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/servers"
)

// Discord embed limits
const (
	maxEmbedFields     = 25
	maxFieldValueRunes = 1024
	embedColor         = 0x5865F2
)

// DiscordNotifier posts application embeds to job webhooks
type DiscordNotifier struct {
	session *discordgo.Session
	baseURL string
}

// NewDiscordNotifier creates a notifier. baseURL is the public web origin
// used for links back to the dashboard.
func NewDiscordNotifier(baseURL string, timeout time.Duration) (*DiscordNotifier, error) {
	// webhook execution is authenticated by the URL token, not a bot token
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Client = &http.Client{Timeout: timeout}
	session.MaxRestRetries = 1
	return &DiscordNotifier{session: session, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// ParseWebhookURL splits a Discord webhook URL into its id and token
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("invalid webhook url: no webhook id and token in %q", u.Path)
}

// ApplicationSubmitted posts an embed with the application's answers
func (n *DiscordNotifier) ApplicationSubmitted(ctx context.Context, server *servers.Server, job *servers.Job, app *servers.Application) error {
	if job.DiscordWebhookURL == "" {
		return nil
	}
	id, token, err := ParseWebhookURL(job.DiscordWebhookURL)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &discordgo.WebhookParams{
		Username: server.Name,
		Embeds:   []*discordgo.MessageEmbed{n.embed(server, job, app)},
	}
	if _, err := n.session.WebhookExecute(id, token, false, params); err != nil {
		return fmt.Errorf("failed to execute discord webhook: %w", err)
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"application_id": app.ID,
		"job_id":         job.ID,
	}).Debug("application notification sent")
	return nil
}

func (n *DiscordNotifier) embed(server *servers.Server, job *servers.Job, app *servers.Application) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     "New application: " + job.Title,
		URL:       fmt.Sprintf("%s/dashboard/%s/applications/%s", n.baseURL, server.Slug, app.ID),
		Color:     embedColor,
		Timestamp: app.CreatedAt.UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: server.Name},
	}

	for _, field := range app.SchemaSnapshot {
		if len(embed.Fields) == maxEmbedFields {
			break
		}
		raw, ok := app.Answers[field.ID]
		if !ok {
			continue
		}
		value := answerText(raw)
		if value == "" {
			continue
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   truncate(field.Label, 256),
			Value:  truncate(value, maxFieldValueRunes),
			Inline: field.Type != servers.FieldTextarea,
		})
	}
	return embed
}

// answerText renders a stored answer for humans
func answerText(raw json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case nil:
		return ""
	default:
		return strings.TrimSpace(string(raw))
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
