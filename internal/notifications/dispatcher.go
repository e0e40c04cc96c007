package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kestrelhq/kestrel/internal/config"
	"github.com/kestrelhq/kestrel/internal/metrics"
	"github.com/kestrelhq/kestrel/internal/reports"
)

// Notifier delivers one notification over one channel.
type Notifier interface {
	Send(ctx context.Context, content *Content) error
	Channel() string
}

// Factory resolves a notifier for a recipient. Tests swap this to inject
// fakes.
type Factory func(recipient reports.Recipient) (Notifier, error)

// Dispatcher fans one content payload out to a schedule's recipients.
type Dispatcher struct {
	factory     Factory
	sendTimeout time.Duration
	dryRun      bool
}

// NewDispatcher creates a dispatcher from configuration.
func NewDispatcher(cfg config.NotificationsConfig) *Dispatcher {
	return &Dispatcher{
		factory:     configFactory(cfg),
		sendTimeout: cfg.SendTimeout,
		dryRun:      cfg.DryRun,
	}
}

// NewDispatcherWithFactory creates a dispatcher with a custom notifier
// factory.
func NewDispatcherWithFactory(factory Factory, sendTimeout time.Duration, dryRun bool) *Dispatcher {
	return &Dispatcher{
		factory:     factory,
		sendTimeout: sendTimeout,
		dryRun:      dryRun,
	}
}

func configFactory(cfg config.NotificationsConfig) Factory {
	return func(recipient reports.Recipient) (Notifier, error) {
		rc, err := recipient.Config()
		if err != nil {
			return nil, err
		}

		switch recipient.Type {
		case reports.RecipientEmail:
			return NewEmailNotifier(cfg.Email, rc.Target), nil
		case reports.RecipientSlack:
			return NewSlackNotifier(cfg.Slack, rc.Target), nil
		default:
			return nil, fmt.Errorf("unknown recipient type %q", recipient.Type)
		}
	}
}

// SendAll delivers the content once per recipient. Per-recipient failures
// are collected so one broken channel does not starve the rest; the joined
// error is returned after all recipients were attempted.
func (d *Dispatcher) SendAll(ctx context.Context, recipients []reports.Recipient, content *Content) error {
	var errs []error

	for _, recipient := range recipients {
		if err := d.sendOne(ctx, recipient, content); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (d *Dispatcher) sendOne(ctx context.Context, recipient reports.Recipient, content *Content) error {
	notifier, err := d.factory(recipient)
	if err != nil {
		metrics.RecordNotification(string(recipient.Type), err)
		return fmt.Errorf("resolving notifier for recipient %s: %w", recipient.ID, err)
	}

	if d.dryRun {
		log.Info().
			Str("channel", notifier.Channel()).
			Str("recipient_id", recipient.ID).
			Str("name", content.Name).
			Msg("Dry run enabled, would send notification")
		return nil
	}

	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}

	err = notifier.Send(ctx, content)
	metrics.RecordNotification(notifier.Channel(), err)
	if err != nil {
		return err
	}

	log.Debug().
		Str("channel", notifier.Channel()).
		Str("recipient_id", recipient.ID).
		Msg("Notification sent")

	return nil
}
