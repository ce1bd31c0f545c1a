// Package bytesize holds the core domain types for the digest pipeline
// and the interfaces of the collaborators it talks to.
package bytesize

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

// IST is the zone used for date bucketing and scheduling. Digest dates
// are always computed here so that a run started either side of UTC
// midnight lands in the same bucket.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// DateBucket formats t as the calendar day used in summary cache keys
// and digest subtitles.
func DateBucket(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

type (
	// Subscription is one (email, handle) row. A subscriber following
	// several handles has several rows.
	Subscription struct {
		ID        string    `db:"id"`
		Email     string    `db:"email"`
		Handle    string    `db:"handle"`
		Active    bool      `db:"active"`
		CreatedAt time.Time `db:"created_at"`
	}

	// Post is a single post fetched from the content source. Fetched
	// fresh each run and never mutated.
	Post struct {
		ID           string
		AuthorHandle string
		Text         string
		IsReply      bool
	}

	// EmailMessage is one outbound email.
	EmailMessage struct {
		From    string
		To      string
		Subject string
		HTML    string
		Text    string
	}

	// EmailSender is the transactional email provider. Send returns the
	// provider-assigned delivery id.
	EmailSender interface {
		Send(ctx context.Context, msg EmailMessage) (string, error)
	}

	// SubscriptionStore is the persistence surface the pipeline reads
	// subscriptions from and records outcomes to.
	SubscriptionStore interface {
		ListActiveSubscriptions(ctx context.Context) ([]Subscription, error)
		AddSubscriptions(ctx context.Context, email string, handles []string) ([]Subscription, error)
		DeactivateSubscriptions(ctx context.Context, email string, handles []string) error
		SubscriptionsByEmail(ctx context.Context, email string) ([]Subscription, error)
		RecordOutcome(ctx context.Context, outcome DeliveryOutcome) error
	}
)

// DeliveryStatus is the terminal state of one subscriber in one run.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped" // dry runs
)

type (
	// DeliveryOutcome reports what happened to one subscriber's digest.
	DeliveryOutcome struct {
		Email      string
		Status     DeliveryStatus
		ProviderID string // id assigned by the email provider on success
		Err        error
	}

	// RunReport summarizes one full digest cycle.
	RunReport struct {
		Processed int
		Failures  []DeliveryOutcome
	}
)
