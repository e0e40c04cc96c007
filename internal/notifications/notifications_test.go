package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/kestrelhq/kestrel/internal/artifacts"
	"github.com/kestrelhq/kestrel/internal/config"
	"github.com/kestrelhq/kestrel/internal/renderer"
	"github.com/kestrelhq/kestrel/internal/reports"
)

func emailConfig() config.EmailConfig {
	return config.EmailConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "kestrel@example.com",
		Bcc:  []string{"audit@example.com"},
	}
}

func TestNewEmailNotifierWiresDialer(t *testing.T) {
	notifier := NewEmailNotifier(emailConfig(), "ops@example.com")

	require.NotNil(t, notifier.send)
	require.NotNil(t, notifier.sanitizer)
	require.Equal(t, "email", notifier.Channel())
}

func TestEmailNotifierSend(t *testing.T) {
	notifier := NewEmailNotifier(emailConfig(), "ops@example.com")

	var captured *gomail.Message
	notifier.send = func(m *gomail.Message) error {
		captured = m
		return nil
	}

	content := FromArtifact("traffic-alert", "", "https://bi.example.com/chart/42", &artifacts.Artifact{
		Format:     reports.FormatPNG,
		Screenshot: []byte("png-bytes"),
	})

	require.NoError(t, notifier.Send(context.Background(), content))
	require.NotNil(t, captured)
	require.Equal(t, []string{"ops@example.com"}, captured.GetHeader("To"))
	require.Equal(t, []string{"traffic-alert"}, captured.GetHeader("Subject"))
	require.Equal(t, []string{"audit@example.com"}, captured.GetHeader("Bcc"))
}

func TestEmailNotifierBodySanitized(t *testing.T) {
	notifier := NewEmailNotifier(emailConfig(), "ops@example.com")

	body := notifier.htmlBody(&Content{
		Name:        "weekly-report",
		Description: `<b>numbers</b><script>alert(1)</script>`,
		URL:         "https://bi.example.com/dashboard/7",
	})

	require.Contains(t, body, "<b>numbers</b>")
	require.NotContains(t, body, "<script>")
	require.Contains(t, body, `href="https://bi.example.com/dashboard/7"`)
}

func TestEmailNotifierBodyVariants(t *testing.T) {
	notifier := NewEmailNotifier(emailConfig(), "ops@example.com")

	t.Run("screenshot embedded inline", func(t *testing.T) {
		body := notifier.htmlBody(&Content{Name: "r", Screenshot: []byte("png")})
		require.Contains(t, body, `src="cid:report.png"`)
	})

	t.Run("table rendered preformatted", func(t *testing.T) {
		body := notifier.htmlBody(&Content{
			Name: "r",
			Table: &renderer.Table{
				Columns: []string{"metric"},
				Rows:    [][]any{{10.0}},
			},
		})
		require.Contains(t, body, "<pre>")
		require.Contains(t, body, "metric")
		require.Contains(t, body, "10")
	})

	t.Run("failure notice text", func(t *testing.T) {
		body := notifier.htmlBody(ForError("Error occurred for alert: x", "query failed"))
		require.Contains(t, body, "query failed")
	})
}

func TestEmailNotifierSendError(t *testing.T) {
	notifier := NewEmailNotifier(emailConfig(), "ops@example.com")
	notifier.send = func(m *gomail.Message) error {
		return errors.New("connection refused")
	}

	err := notifier.Send(context.Background(), &Content{Name: "r"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ops@example.com")
}

func TestEmailNotifierCancelledContext(t *testing.T) {
	notifier := NewEmailNotifier(emailConfig(), "ops@example.com")

	called := false
	notifier.send = func(m *gomail.Message) error {
		called = true
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := notifier.Send(ctx, &Content{Name: "r"})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestSlackNotifierSend(t *testing.T) {
	notifier := NewSlackNotifier(config.SlackConfig{WebhookURL: "https://hooks.example.com/T/B/x"}, "#alerts")

	var captured *slack.WebhookMessage
	notifier.post = func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
		require.Equal(t, "https://hooks.example.com/T/B/x", url)
		captured = msg
		return nil
	}

	content := FromArtifact("traffic-alert", "", "https://bi.example.com/chart/42", &artifacts.Artifact{
		Format: reports.FormatText,
		Table: &renderer.Table{
			Columns: []string{"metric"},
			Rows:    [][]any{{10.0}},
		},
	})

	require.NoError(t, notifier.Send(context.Background(), content))
	require.NotNil(t, captured)
	require.Equal(t, "#alerts", captured.Channel)
	require.Contains(t, captured.Text, "*traffic-alert*")
	require.Contains(t, captured.Text, "```")
	require.Contains(t, captured.Text, "<https://bi.example.com/chart/42|Explore in the dashboard>")
}

func TestSlackNotifierPostError(t *testing.T) {
	notifier := NewSlackNotifier(config.SlackConfig{WebhookURL: "https://hooks.example.com/T/B/x"}, "#alerts")
	notifier.post = func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
		return errors.New("webhook gone")
	}

	err := notifier.Send(context.Background(), &Content{Name: "r"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "#alerts")
}

type countingNotifier struct {
	sent int
	err  error
}

func (n *countingNotifier) Send(ctx context.Context, content *Content) error {
	if n.err != nil {
		return n.err
	}
	n.sent++
	return nil
}

func (n *countingNotifier) Channel() string { return "fake" }

func recipients(types ...reports.RecipientType) []reports.Recipient {
	var out []reports.Recipient
	for i, typ := range types {
		out = append(out, reports.Recipient{
			ID:         string(rune('a' + i)),
			Type:       typ,
			ConfigJSON: `{"target":"x"}`,
		})
	}
	return out
}

func TestDispatcherSendAll(t *testing.T) {
	notifier := &countingNotifier{}
	d := NewDispatcherWithFactory(func(r reports.Recipient) (Notifier, error) {
		return notifier, nil
	}, time.Second, false)

	err := d.SendAll(context.Background(),
		recipients(reports.RecipientEmail, reports.RecipientSlack),
		&Content{Name: "r"})
	require.NoError(t, err)
	require.Equal(t, 2, notifier.sent)
}

func TestDispatcherDryRun(t *testing.T) {
	notifier := &countingNotifier{}
	d := NewDispatcherWithFactory(func(r reports.Recipient) (Notifier, error) {
		return notifier, nil
	}, time.Second, true)

	err := d.SendAll(context.Background(),
		recipients(reports.RecipientEmail),
		&Content{Name: "r"})
	require.NoError(t, err)
	require.Zero(t, notifier.sent)
}

func TestDispatcherCollectsErrors(t *testing.T) {
	failing := &countingNotifier{err: errors.New("boom")}
	working := &countingNotifier{}

	d := NewDispatcherWithFactory(func(r reports.Recipient) (Notifier, error) {
		if r.Type == reports.RecipientEmail {
			return failing, nil
		}
		return working, nil
	}, time.Second, false)

	err := d.SendAll(context.Background(),
		recipients(reports.RecipientEmail, reports.RecipientSlack),
		&Content{Name: "r"})

	// One channel failing does not starve the other.
	require.Error(t, err)
	require.Equal(t, 1, working.sent)
}

func TestDispatcherFactoryForRecipientTypes(t *testing.T) {
	factory := configFactory(config.NotificationsConfig{
		Email: emailConfig(),
		Slack: config.SlackConfig{WebhookURL: "https://hooks.example.com/T/B/x"},
	})

	email, err := factory(reports.Recipient{Type: reports.RecipientEmail, ConfigJSON: `{"target":"ops@example.com"}`})
	require.NoError(t, err)
	require.Equal(t, "email", email.Channel())

	chat, err := factory(reports.Recipient{Type: reports.RecipientSlack, ConfigJSON: `{"target":"#alerts"}`})
	require.NoError(t, err)
	require.Equal(t, "slack", chat.Channel())

	_, err = factory(reports.Recipient{Type: "pager", ConfigJSON: `{"target":"x"}`})
	require.Error(t, err)
}
