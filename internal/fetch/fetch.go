// Package fetch retrieves recent posts for a set of handles from the
// content source, paginating with bounded pages and per-page timeouts.
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bytesize-news/bytesize/internal/bytesize"
)

type (
	// Query describes one page request against the content source.
	Query struct {
		Author   string
		Page     int // 1-based
		PageSize int
	}

	// Item is a raw post as the content source returns it. ReplyTo is
	// the id of the post this one replies to, empty for primary posts.
	Item struct {
		ID      string
		Author  string
		Text    string
		ReplyTo string
	}

	// Page is one page of search results.
	Page struct {
		Items   []Item
		HasMore bool
	}

	// Source is the content source being paged through.
	Source interface {
		Search(ctx context.Context, q Query) (Page, error)
	}
)

// Config bounds a fetch run. Zero fields fall back to the defaults.
type Config struct {
	PageSize    int
	MaxPages    int // hard cap on pages per handle
	PageTimeout time.Duration
	PageDelay   time.Duration // wait between successive pages of one handle
}

func DefaultConfig() Config {
	return Config{
		PageSize:    20,
		MaxPages:    3,
		PageTimeout: 5 * time.Second,
		PageDelay:   500 * time.Millisecond,
	}
}

type Fetcher struct {
	source Source
	cfg    Config
}

func New(source Source, cfg Config) *Fetcher {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = def.PageTimeout
	}
	if cfg.PageDelay < 0 {
		cfg.PageDelay = 0
	}

	return &Fetcher{source: source, cfg: cfg}
}

// Fetch collects the primary posts for every handle. Handles are
// fetched concurrently; a failure on one handle keeps whatever pages
// it already produced and never disturbs the others, so the result may
// be partial but is never an error.
func (f *Fetcher) Fetch(ctx context.Context, handles []string) []bytesize.Post {
	var (
		mu    sync.Mutex
		seen  = map[string]struct{}{}
		posts []bytesize.Post
	)

	var wg sync.WaitGroup
	for _, handle := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()

			fetched := f.fetchHandle(ctx, handle)

			mu.Lock()
			defer mu.Unlock()
			for _, p := range fetched {
				// Overlapping pages can hand back the same post twice.
				if _, ok := seen[p.ID]; ok {
					continue
				}
				seen[p.ID] = struct{}{}
				posts = append(posts, p)
			}
		}()
	}
	wg.Wait()

	return posts
}

// Pages through a single handle sequentially. Stops on a short page,
// the page cap, or the first error, keeping what it has.
func (f *Fetcher) fetchHandle(ctx context.Context, handle string) []bytesize.Post {
	var posts []bytesize.Post

	for page := 1; page <= f.cfg.MaxPages; page++ {
		result, err := f.searchPage(ctx, Query{
			Author:   handle,
			Page:     page,
			PageSize: f.cfg.PageSize,
		})
		if err != nil {
			slog.Warn("error fetching page, keeping partial results",
				"handle", handle,
				"page", page,
				"error", err,
			)
			break
		}

		for _, item := range result.Items {
			// Replies are never summarized.
			if item.ReplyTo != "" {
				continue
			}
			posts = append(posts, bytesize.Post{
				ID:           item.ID,
				AuthorHandle: item.Author,
				Text:         item.Text,
			})
		}

		if len(result.Items) < f.cfg.PageSize || !result.HasMore {
			break
		}

		// Throttle before the next page of the same handle.
		if page < f.cfg.MaxPages {
			if !sleep(ctx, f.cfg.PageDelay) {
				break
			}
		}
	}

	return posts
}

// One page request raced against the page timeout. The timeout aborts
// this request only; in-flight requests for other handles keep going.
func (f *Fetcher) searchPage(ctx context.Context, q Query) (Page, error) {
	pageCtx, cancel := context.WithTimeout(ctx, f.cfg.PageTimeout)
	defer cancel()

	return f.source.Search(pageCtx, q)
}

// Context-aware sleep. Returns false if ctx ended first.
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
