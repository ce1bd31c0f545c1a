package summarize

import (
	"time"

	"github.com/bytesize-news/bytesize/internal/bytesize"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache holds generated summaries keyed by (handle, calendar day) so a
// second run on the same day reuses yesterday's spend. Safe for
// concurrent use; two branches racing to compute the same key is
// wasteful but fine, since values for a key are idempotent within a
// day.
type Cache struct {
	entries *lru.Cache[string, string]
}

func NewCache(size int) *Cache {
	if size <= 0 {
		size = 1024
	}
	entries, _ := lru.New[string, string](size)

	return &Cache{entries: entries}
}

// Key builds the handle + date-bucket cache key.
func Key(handle string, t time.Time) string {
	return handle + "-" + bytesize.DateBucket(t)
}

func (c *Cache) Get(key string) (string, bool) {
	return c.entries.Get(key)
}

func (c *Cache) Add(key, summary string) {
	c.entries.Add(key, summary)
}
