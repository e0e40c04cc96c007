package notifications

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/gomail.v2"

	"github.com/kestrelhq/kestrel/internal/artifacts"
	"github.com/kestrelhq/kestrel/internal/config"
)

const (
	inlineImageName = "report.png"
	csvAttachName   = "report.csv"
)

// EmailNotifier delivers notifications over SMTP. Screenshots are embedded
// inline, CSV data is attached, and tables are rendered into the HTML body.
type EmailNotifier struct {
	cfg       config.EmailConfig
	target    string
	sanitizer *bluemonday.Policy
	send      func(m *gomail.Message) error
}

// NewEmailNotifier creates a notifier for one recipient address.
func NewEmailNotifier(cfg config.EmailConfig, target string) *EmailNotifier {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	return &EmailNotifier{
		cfg:       cfg,
		target:    target,
		sanitizer: bluemonday.UGCPolicy(),
		send: func(m *gomail.Message) error {
			return dialer.DialAndSend(m)
		},
	}
}

// Channel identifies the delivery channel.
func (n *EmailNotifier) Channel() string {
	return "email"
}

// Send builds and delivers the message. Context is checked before the SMTP
// round-trip; gomail itself has no context support.
func (n *EmailNotifier) Send(ctx context.Context, content *Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", n.target)
	m.SetHeader("Subject", content.Name)
	if len(n.cfg.Bcc) > 0 {
		m.SetHeader("Bcc", n.cfg.Bcc...)
	}

	m.SetBody("text/html", n.htmlBody(content))

	if len(content.Screenshot) > 0 {
		m.Embed(inlineImageName, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(content.Screenshot)
			return err
		}))
	}

	if len(content.CSV) > 0 {
		m.Attach(csvAttachName, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(content.CSV)
			return err
		}))
	}

	if err := n.send(m); err != nil {
		return fmt.Errorf("sending email to %s: %w", n.target, err)
	}

	return nil
}

func (n *EmailNotifier) htmlBody(content *Content) string {
	var sb strings.Builder

	sb.WriteString("<html><body>")

	if content.Description != "" {
		sb.WriteString("<p>")
		sb.WriteString(n.sanitizer.Sanitize(content.Description))
		sb.WriteString("</p>")
	}

	if content.Text != "" {
		sb.WriteString("<p>")
		sb.WriteString(n.sanitizer.Sanitize(content.Text))
		sb.WriteString("</p>")
	}

	if len(content.Screenshot) > 0 {
		sb.WriteString(`<img src="cid:` + inlineImageName + `" alt="report"/>`)
	}

	if content.Table != nil {
		sb.WriteString("<pre>")
		sb.WriteString(artifacts.RenderText(content.Table))
		sb.WriteString("</pre>")
	}

	if content.URL != "" {
		sb.WriteString(`<p><a href="` + content.URL + `">Explore in the dashboard</a></p>`)
	}

	sb.WriteString("</body></html>")

	return sb.String()
}
