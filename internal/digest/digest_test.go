package digest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytesize-news/bytesize/internal/bytesize"
	"github.com/bytesize-news/bytesize/internal/retry"
	"github.com/bytesize-news/bytesize/internal/summarize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	subs     []bytesize.Subscription
	listErrs int // number of initial ListActiveSubscriptions failures
	recorded []bytesize.DeliveryOutcome
}

func (f *fakeStore) ListActiveSubscriptions(ctx context.Context) ([]bytesize.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErrs > 0 {
		f.listErrs--
		return nil, errors.New("store flaked")
	}
	return f.subs, nil
}

func (f *fakeStore) AddSubscriptions(ctx context.Context, email string, handles []string) ([]bytesize.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) DeactivateSubscriptions(ctx context.Context, email string, handles []string) error {
	return errors.New("not implemented")
}

func (f *fakeStore) SubscriptionsByEmail(ctx context.Context, email string) ([]bytesize.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) RecordOutcome(ctx context.Context, outcome bytesize.DeliveryOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, outcome)
	return nil
}

// fakeFetcher serves a fixed post list per handle.
type fakeFetcher struct {
	mu      sync.Mutex
	posts   map[string][]bytesize.Post
	fetched [][]string
}

func (f *fakeFetcher) Fetch(ctx context.Context, handles []string) []bytesize.Post {
	f.mu.Lock()
	f.fetched = append(f.fetched, handles)
	f.mu.Unlock()

	var out []bytesize.Post
	for _, h := range handles {
		out = append(out, f.posts[h]...)
	}
	return out
}

// fakeGenerator implements summarize.Generator so runner tests can
// exercise the real summarizer and its shared cache.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	failFor string
}

func (f *fakeGenerator) Complete(ctx context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.failFor != "" && strings.Contains(prompt, f.failFor) {
		return "", errors.New("generation failed")
	}
	return "<div><ul><li>summary</li></ul></div>", nil
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []bytesize.EmailMessage
	failFor   map[string]bool
}

func (f *fakeDeliverer) Deliver(ctx context.Context, msg bytesize.EmailMessage) bytesize.DeliveryOutcome {
	f.mu.Lock()
	f.delivered = append(f.delivered, msg)
	f.mu.Unlock()

	if f.failFor[msg.To] {
		return bytesize.DeliveryOutcome{Email: msg.To, Status: bytesize.DeliveryFailed, Err: errors.New("send failed")}
	}
	return bytesize.DeliveryOutcome{Email: msg.To, Status: bytesize.DeliverySent, ProviderID: "email-1"}
}

func (f *fakeDeliverer) messageTo(email string) (bytesize.EmailMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.delivered {
		if m.To == email {
			return m, true
		}
	}
	return bytesize.EmailMessage{}, false
}

func newTestRunner(store *fakeStore, fetcher *fakeFetcher, gen *fakeGenerator, del *fakeDeliverer) *Runner {
	r := NewRunner(store, fetcher, summarize.New(gen, summarize.NewCache(64)), del, "ByteSize <hello@bytesize.news>")
	r.loadRetry = retry.Policy{MaxRetries: 3, InitialDelay: time.Millisecond}
	return r
}

func TestRun_NoSubscriptions(t *testing.T) {
	store := &fakeStore{}
	fetcher := &fakeFetcher{}
	r := newTestRunner(store, fetcher, &fakeGenerator{}, &fakeDeliverer{})

	report, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Processed)
	assert.Empty(t, report.Failures)
	assert.Empty(t, fetcher.fetched)
}

func TestRun_RetriesSubscriptionLoad(t *testing.T) {
	store := &fakeStore{
		listErrs: 2,
		subs:     []bytesize.Subscription{{Email: "a@x.com", Handle: "h1"}},
	}
	del := &fakeDeliverer{}
	r := newTestRunner(store, &fakeFetcher{}, &fakeGenerator{}, del)

	report, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Len(t, del.delivered, 1)
}

func TestRun_SharedHandleScenario(t *testing.T) {
	// a@x.com follows h1 and h2, b@x.com subscribes to h1 after the
	// first run. h1 has posts, h2 is quiet.
	store := &fakeStore{subs: []bytesize.Subscription{
		{Email: "a@x.com", Handle: "h1"},
		{Email: "a@x.com", Handle: "h2"},
	}}
	fetcher := &fakeFetcher{posts: map[string][]bytesize.Post{
		"h1": {
			{ID: "1", AuthorHandle: "h1", Text: "post one"},
			{ID: "2", AuthorHandle: "h1", Text: "post two"},
		},
	}}
	gen := &fakeGenerator{}
	del := &fakeDeliverer{}
	r := newTestRunner(store, fetcher, gen, del)

	report, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Processed)

	store.subs = append(store.subs, bytesize.Subscription{Email: "b@x.com", Handle: "h1"})
	report, err = r.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Empty(t, report.Failures)

	// Both digests carry an h1 block and no h2 block.
	for _, email := range []string{"a@x.com", "b@x.com"} {
		msg, ok := del.messageTo(email)
		require.True(t, ok, "no digest sent to %s", email)
		assert.Contains(t, msg.HTML, "@h1")
		assert.NotContains(t, msg.HTML, "@h2")
		assert.Contains(t, msg.HTML, "ByteSized News")
	}

	// The cache is shared process-wide by (handle, day): both runs and
	// both subscribers cost one generation for h1 total.
	assert.Equal(t, 1, gen.calls)
}

func TestRun_SubscriberFailureIsIsolated(t *testing.T) {
	store := &fakeStore{subs: []bytesize.Subscription{
		{Email: "a@x.com", Handle: "broken"},
		{Email: "b@x.com", Handle: "fine"},
	}}
	fetcher := &fakeFetcher{posts: map[string][]bytesize.Post{
		"broken": {{ID: "1", AuthorHandle: "broken", Text: "boom"}},
		"fine":   {{ID: "2", AuthorHandle: "fine", Text: "hello"}},
	}}
	gen := &fakeGenerator{failFor: "@broken"}
	del := &fakeDeliverer{}
	r := newTestRunner(store, fetcher, gen, del)

	report, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "a@x.com", report.Failures[0].Email)

	// The unrelated subscriber still got their digest.
	msg, ok := del.messageTo("b@x.com")
	require.True(t, ok)
	assert.Contains(t, msg.HTML, "@fine")

	// And no partial email went to the failed subscriber.
	_, sentToA := del.messageTo("a@x.com")
	assert.False(t, sentToA)
}

func TestRun_DryRunSkipsSend(t *testing.T) {
	store := &fakeStore{subs: []bytesize.Subscription{
		{Email: "a@x.com", Handle: "h1"},
	}}
	fetcher := &fakeFetcher{posts: map[string][]bytesize.Post{
		"h1": {{ID: "1", AuthorHandle: "h1", Text: "post"}},
	}}
	gen := &fakeGenerator{}
	del := &fakeDeliverer{}
	r := newTestRunner(store, fetcher, gen, del)

	report, err := r.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Empty(t, report.Failures)
	assert.Empty(t, del.delivered)
	// Fetch and summarize still ran.
	assert.Len(t, fetcher.fetched, 1)
	assert.Equal(t, 1, gen.calls)
}

func TestRun_EmptySummaryStillDelivers(t *testing.T) {
	store := &fakeStore{subs: []bytesize.Subscription{
		{Email: "a@x.com", Handle: "quiet"},
	}}
	gen := &fakeGenerator{}
	del := &fakeDeliverer{}
	r := newTestRunner(store, &fakeFetcher{}, gen, del)

	_, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	msg, ok := del.messageTo("a@x.com")
	require.True(t, ok)
	assert.Contains(t, msg.HTML, "No new posts")
	assert.Equal(t, 0, gen.calls)
}

func TestRun_RecordsOutcomes(t *testing.T) {
	store := &fakeStore{subs: []bytesize.Subscription{
		{Email: "a@x.com", Handle: "h1"},
	}}
	r := newTestRunner(store, &fakeFetcher{}, &fakeGenerator{}, &fakeDeliverer{})

	_, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, store.recorded, 1)
	assert.Equal(t, bytesize.DeliverySent, store.recorded[0].Status)
}

func TestGroupByEmail(t *testing.T) {
	grouped := groupByEmail([]bytesize.Subscription{
		{Email: "a@x.com", Handle: "h1"},
		{Email: "a@x.com", Handle: "h2"},
		{Email: "a@x.com", Handle: "h1"}, // duplicate row
		{Email: "b@x.com", Handle: ""},   // no usable handle
	})

	assert.Equal(t, map[string][]string{
		"a@x.com": {"h1", "h2"},
	}, grouped)
}
