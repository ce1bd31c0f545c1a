// Package digest orchestrates one full run of the pipeline: load the
// subscriptions, then fetch, summarize, and deliver per subscriber,
// fanned out with per-subscriber failure isolation.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bytesize-news/bytesize/internal/bytesize"
	"github.com/bytesize-news/bytesize/internal/retry"
)

type (
	// Fetcher retrieves the recent primary posts for a handle set.
	Fetcher interface {
		Fetch(ctx context.Context, handles []string) []bytesize.Post
	}

	// Summarizer compresses posts into the digest's HTML body blocks.
	Summarizer interface {
		Summarize(ctx context.Context, posts []bytesize.Post) (string, error)
	}

	// Deliverer sends one composed digest.
	Deliverer interface {
		Deliver(ctx context.Context, msg bytesize.EmailMessage) bytesize.DeliveryOutcome
	}
)

// Options for one run.
type Options struct {
	// DryRun executes fetch and summarize normally but skips the send.
	DryRun bool
}

type Runner struct {
	store      bytesize.SubscriptionStore
	fetcher    Fetcher
	summarizer Summarizer
	deliverer  Deliverer

	from      string
	loadRetry retry.Policy
	now       func() time.Time
}

func NewRunner(store bytesize.SubscriptionStore, fetcher Fetcher, summarizer Summarizer, deliverer Deliverer, from string) *Runner {
	return &Runner{
		store:      store,
		fetcher:    fetcher,
		summarizer: summarizer,
		deliverer:  deliverer,
		from:       from,
		loadRetry:  retry.NewPolicy(), // retry-anything: the store read is the run's one prerequisite
		now:        time.Now,
	}
}

// Run executes one digest cycle. Per-subscriber failures are collected
// into the report, never propagated; the run settles only after every
// subscriber's branch finishes.
func (r *Runner) Run(ctx context.Context, opts Options) (bytesize.RunReport, error) {
	start := r.now()
	slog.Info("starting digest run", "dry_run", opts.DryRun)

	var subs []bytesize.Subscription
	err := r.loadRetry.Do(ctx, func(ctx context.Context) error {
		var err error
		subs, err = r.store.ListActiveSubscriptions(ctx)
		return err
	})
	if err != nil {
		return bytesize.RunReport{}, fmt.Errorf("error listing subscriptions: %w", err)
	}

	if len(subs) == 0 {
		slog.Info("no active subscriptions, nothing to do")
		return bytesize.RunReport{}, nil
	}

	grouped := groupByEmail(subs)

	var (
		mu       sync.Mutex
		outcomes []bytesize.DeliveryOutcome
	)
	var wg sync.WaitGroup
	for email, handles := range grouped {
		wg.Add(1)
		go func() {
			defer wg.Done()

			outcome := r.processSubscriber(ctx, email, handles, opts)

			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}()
	}
	wg.Wait()

	report := bytesize.RunReport{Processed: len(grouped)}
	for _, o := range outcomes {
		if o.Status == bytesize.DeliveryFailed {
			report.Failures = append(report.Failures, o)
		}
	}

	slog.Info("digest run complete",
		"processed", report.Processed,
		"failures", len(report.Failures),
		"duration", time.Since(start),
	)
	return report, nil
}

// One subscriber's fetch → summarize → compose → deliver chain. Every
// error ends up in the outcome; nothing escapes to sibling branches.
func (r *Runner) processSubscriber(ctx context.Context, email string, handles []string, opts Options) bytesize.DeliveryOutcome {
	l := slog.With("email", email, "handles", len(handles))
	l.Info("processing subscriber")

	posts := r.fetcher.Fetch(ctx, handles)
	l.Info("fetched posts", "count", len(posts))

	summary, err := r.summarizer.Summarize(ctx, posts)
	if err != nil {
		outcome := bytesize.DeliveryOutcome{
			Email:  email,
			Status: bytesize.DeliveryFailed,
			Err:    fmt.Errorf("error summarizing posts: %w", err),
		}
		r.record(ctx, outcome)
		return outcome
	}

	msg := bytesize.EmailMessage{
		From:    r.from,
		To:      email,
		Subject: "Your Daily ByteSize Digest",
		HTML:    composeBody(summary, r.now()),
	}

	if opts.DryRun {
		l.Info("dry run, skipping send")
		return bytesize.DeliveryOutcome{Email: email, Status: bytesize.DeliverySkipped}
	}

	outcome := r.deliverer.Deliver(ctx, msg)
	r.record(ctx, outcome)
	return outcome
}

// Outcome recording is observability only, never worth failing a run.
func (r *Runner) record(ctx context.Context, outcome bytesize.DeliveryOutcome) {
	if err := r.store.RecordOutcome(ctx, outcome); err != nil {
		slog.Warn("error recording outcome", "email", outcome.Email, "error", err)
	}
}

// Groups rows into email -> distinct handles. Rows with a blank handle
// are dropped, so a subscriber with no usable handles never reaches
// the delivery path.
func groupByEmail(subs []bytesize.Subscription) map[string][]string {
	seen := map[string]map[string]struct{}{}
	for _, sub := range subs {
		if sub.Handle == "" {
			continue
		}
		if seen[sub.Email] == nil {
			seen[sub.Email] = map[string]struct{}{}
		}
		seen[sub.Email][sub.Handle] = struct{}{}
	}

	grouped := make(map[string][]string, len(seen))
	for email, handles := range seen {
		list := make([]string, 0, len(handles))
		for h := range handles {
			list = append(list, h)
		}
		sort.Strings(list)
		grouped[email] = list
	}

	return grouped
}

const noPostsBlock = `<p style="color:#657786;">No new posts from your handles today. See you tomorrow!</p>`

// The fixed wrapper around the summarized blocks: title, date-stamped
// subtitle, body.
func composeBody(summary string, now time.Time) string {
	if summary == "" {
		summary = noPostsBlock
	}

	return fmt.Sprintf(`<div style="max-width:600px; margin:0 auto; padding:20px;">
    <h1 style="color:#1DA1F2; margin-bottom:0;">ByteSized News</h1>
    <p style="color:#657786; margin-top:0;">%s Digest</p>
    %s
</div>`, bytesize.DateBucket(now), summary)
}
