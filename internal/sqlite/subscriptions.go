package sqlite

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/bytesize-news/bytesize/internal/bytesize"
)

const (
	subscriptionNamespace = "-sub"
	outcomeNamespace      = "-dlv"
)

func (r Repo) ListActiveSubscriptions(ctx context.Context) ([]bytesize.Subscription, error) {
	const q = `SELECT * FROM subscriptions WHERE active = 1;`

	var subs []bytesize.Subscription
	if err := r.db.SelectContext(ctx, &subs, q); err != nil {
		return nil, fmt.Errorf("error selecting active subscriptions: %s", err)
	}

	return subs, nil
}

// AddSubscriptions inserts one row per handle. A row that already
// exists for (email, handle) is reactivated instead of duplicated.
func (r Repo) AddSubscriptions(ctx context.Context, email string, handles []string) ([]bytesize.Subscription, error) {
	const q = `
		INSERT INTO subscriptions (id, email, handle) VALUES (?, ?, ?)
		ON CONFLICT (email, handle) DO UPDATE SET active = 1;`

	for _, handle := range handles {
		id := fmt.Sprintf("%s%s", uuid.NewString(), subscriptionNamespace)
		if _, err := r.db.ExecContext(ctx, q, id, email, handle); err != nil {
			return nil, fmt.Errorf("error inserting subscription: %s", err)
		}
	}

	query, args, err := sq.Select("*").
		From("subscriptions").
		Where(sq.Eq{"email": email, "handle": handles}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	var subs []bytesize.Subscription
	if err := r.db.SelectContext(ctx, &subs, query, args...); err != nil {
		return nil, fmt.Errorf("error fetching inserted subscriptions: %s", err)
	}

	return subs, nil
}

func (r Repo) DeactivateSubscriptions(ctx context.Context, email string, handles []string) error {
	query, args, err := sq.Update("subscriptions").
		Set("active", 0).
		Where(sq.Eq{"email": email, "handle": handles}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error deactivating subscriptions: %s", err)
	}

	return nil
}

func (r Repo) SubscriptionsByEmail(ctx context.Context, email string) ([]bytesize.Subscription, error) {
	const q = `SELECT * FROM subscriptions WHERE email = ? AND active = 1;`

	var subs []bytesize.Subscription
	if err := r.db.SelectContext(ctx, &subs, q, email); err != nil {
		return nil, fmt.Errorf("error selecting subscriptions by email: %s", err)
	}

	return subs, nil
}

// RecordOutcome appends one delivery log row.
func (r Repo) RecordOutcome(ctx context.Context, outcome bytesize.DeliveryOutcome) error {
	const q = `
		INSERT INTO delivery_log (id, email, status, provider_id, error)
		VALUES (?, ?, ?, ?, ?);`

	errMsg := ""
	if outcome.Err != nil {
		errMsg = outcome.Err.Error()
	}

	id := fmt.Sprintf("%s%s", uuid.NewString(), outcomeNamespace)
	if _, err := r.db.ExecContext(ctx, q, id, outcome.Email, string(outcome.Status), outcome.ProviderID, errMsg); err != nil {
		return fmt.Errorf("error inserting delivery log: %s", err)
	}

	return nil
}
