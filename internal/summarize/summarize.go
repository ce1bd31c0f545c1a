// Package summarize turns a run's posts into the per-handle HTML
// blocks that make up a digest body.
package summarize

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"

	"github.com/bytesize-news/bytesize/internal/bytesize"
)

//go:embed system_prompt.txt
var systemPrompt string

//go:embed user_prompt.txt
var userPrompt string

// Generator is the generative text service.
type Generator interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type Summarizer struct {
	gen   Generator
	cache *Cache

	now func() time.Time
}

func New(gen Generator, cache *Cache) *Summarizer {
	return &Summarizer{
		gen:   gen,
		cache: cache,
		now:   time.Now,
	}
}

// Summarize groups posts by author handle and produces one headed HTML
// block per handle, concatenated. Order across handles follows map
// iteration and is not stable between runs.
//
// An empty input short-circuits to "" without touching the generator.
// One handle's generation failing fails the whole call; partial
// isolation happens a level up, per subscriber.
func (s *Summarizer) Summarize(ctx context.Context, posts []bytesize.Post) (string, error) {
	if len(posts) == 0 {
		return "", nil
	}

	grouped := map[string][]bytesize.Post{}
	for _, p := range posts {
		grouped[p.AuthorHandle] = append(grouped[p.AuthorHandle], p)
	}

	// The bucket is computed once per call so a run straddling
	// midnight keys consistently.
	now := s.now()

	var (
		handles = make([]string, 0, len(grouped))
		blocks  = make([]string, 0, len(grouped))
	)
	for handle := range grouped {
		handles = append(handles, handle)
		blocks = append(blocks, "")
	}

	g, gCtx := errgroup.WithContext(ctx)
	for i, handle := range handles {
		g.Go(func() error {
			summary, err := s.summarizeHandle(gCtx, handle, grouped[handle], now)
			if err != nil {
				return fmt.Errorf("error summarizing @%s: %w", handle, err)
			}
			blocks[i] = fmt.Sprintf("%s\n%s", handleHeader(handle), summary)

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	return strings.Join(blocks, "\n\n"), nil
}

// Produces the summary for one handle's posts, consulting the cache
// before paying for a generation.
func (s *Summarizer) summarizeHandle(ctx context.Context, handle string, posts []bytesize.Post, now time.Time) (string, error) {
	key := Key(handle, now)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	texts := make([]string, 0, len(posts))
	for _, p := range posts {
		texts = append(texts, sanitize(p.Text))
	}
	prompt := fmt.Sprintf(userPrompt, handle, strings.Join(texts, "\n\n"))

	summary, err := s.gen.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return "", err
	}

	s.cache.Add(key, summary)
	return summary, nil
}

func handleHeader(handle string) string {
	return fmt.Sprintf(`<h2 style="color:#1DA1F2;">📢 Updates from @%s</h2>`, handle)
}

var stripPolicy = bluemonday.StrictPolicy()

// Removes all html tags from the post text before it lands in a prompt.
//
// Also limits the length of the string so there's not a massive chunk of text being sent.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = stripPolicy.Sanitize(s)
	if len(s) > 2048 {
		s = s[:2048]
	}

	return s
}
