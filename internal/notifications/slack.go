package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/kestrelhq/kestrel/internal/artifacts"
	"github.com/kestrelhq/kestrel/internal/config"
)

// SlackNotifier delivers notifications to a channel via an incoming
// webhook. Tables are posted as preformatted text; screenshots and CSV
// files cannot travel through a webhook, so those formats link back to the
// source instead.
type SlackNotifier struct {
	webhookURL string
	channel    string
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlackNotifier creates a notifier for one chat channel.
func NewSlackNotifier(cfg config.SlackConfig, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: cfg.WebhookURL,
		channel:    channel,
		post:       slack.PostWebhookContext,
	}
}

// Channel identifies the delivery channel.
func (n *SlackNotifier) Channel() string {
	return "slack"
}

// Send posts the message to the configured webhook.
func (n *SlackNotifier) Send(ctx context.Context, content *Content) error {
	msg := &slack.WebhookMessage{
		Channel: n.channel,
		Text:    n.messageText(content),
	}

	if err := n.post(ctx, n.webhookURL, msg); err != nil {
		return fmt.Errorf("posting to slack channel %s: %w", n.channel, err)
	}

	return nil
}

func (n *SlackNotifier) messageText(content *Content) string {
	var sb strings.Builder

	sb.WriteString("*")
	sb.WriteString(content.Name)
	sb.WriteString("*\n")

	if content.Description != "" {
		sb.WriteString(content.Description)
		sb.WriteString("\n")
	}

	if content.Text != "" {
		sb.WriteString(content.Text)
		sb.WriteString("\n")
	}

	if content.Table != nil {
		sb.WriteString("```\n")
		sb.WriteString(artifacts.RenderText(content.Table))
		sb.WriteString("```\n")
	}

	if content.URL != "" {
		sb.WriteString("<")
		sb.WriteString(content.URL)
		sb.WriteString("|Explore in the dashboard>")
	}

	return sb.String()
}
