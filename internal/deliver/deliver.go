// Package deliver sends composed digests through the email provider
// with throttling and rate-limit-only retries.
package deliver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytesize-news/bytesize/internal/bytesize"
	bserrs "github.com/bytesize-news/bytesize/internal/errors"
	"github.com/bytesize-news/bytesize/internal/retry"
)

// Config tunes the deliverer. Zero fields fall back to the defaults:
// a 500ms pre-send wait and 3 retries starting at one second,
// retrying only on rate-limit responses.
type Config struct {
	SendDelay time.Duration
	Retry     retry.Policy
}

type Deliverer struct {
	sender bytesize.EmailSender
	cfg    Config
}

func New(sender bytesize.EmailSender, cfg Config) *Deliverer {
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = 500 * time.Millisecond
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = retry.NewPolicy()
	}
	// Non-transient provider errors (bad credentials, malformed
	// request) must fail fast rather than back off.
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = bserrs.IsRateLimit
	}

	return &Deliverer{sender: sender, cfg: cfg}
}

// Deliver sends one message and reports the outcome. The pre-send wait
// applies to every attempt, not just retries, keeping the aggregate
// send rate under the provider's limit.
func (d *Deliverer) Deliver(ctx context.Context, msg bytesize.EmailMessage) bytesize.DeliveryOutcome {
	var providerID string
	err := d.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		if !sleep(ctx, d.cfg.SendDelay) {
			return ctx.Err()
		}

		id, err := d.sender.Send(ctx, msg)
		if err != nil {
			return fmt.Errorf("error sending email: %w", err)
		}
		// A "success" without a delivery id is a malformed response.
		if id == "" {
			return fmt.Errorf("email provider returned no delivery id for %s", msg.To)
		}

		providerID = id
		return nil
	})
	if err != nil {
		slog.Error("delivery failed", "to", msg.To, "error", err)
		return bytesize.DeliveryOutcome{
			Email:  msg.To,
			Status: bytesize.DeliveryFailed,
			Err:    err,
		}
	}

	slog.Info("delivered digest", "to", msg.To, "provider_id", providerID)
	return bytesize.DeliveryOutcome{
		Email:      msg.To,
		Status:     bytesize.DeliverySent,
		ProviderID: providerID,
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
