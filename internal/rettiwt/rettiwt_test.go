package rettiwt_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	bserrs "github.com/bytesize-news/bytesize/internal/errors"
	"github.com/bytesize-news/bytesize/internal/fetch"
	"github.com/bytesize-news/bytesize/internal/rettiwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchBody = `{
  "items": [
    {"id": "100", "author": "alice", "text": "shipping a thing"},
    {"id": "101", "author": "alice", "text": "replying to bob", "reply_to": "99"}
  ],
  "has_more": true
}`

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("author"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("page_size"))
		assert.Equal(t, "sekret", r.Header.Get("x-api-key"))

		w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	c := rettiwt.New(srv.URL, "sekret")
	page, err := c.Search(context.Background(), fetch.Query{Author: "alice", Page: 2, PageSize: 20})
	require.NoError(t, err)

	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "100", page.Items[0].ID)
	assert.Equal(t, "", page.Items[0].ReplyTo)
	assert.Equal(t, "99", page.Items[1].ReplyTo)
}

func TestSearch_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := rettiwt.New(srv.URL, "sekret")
	_, err := c.Search(context.Background(), fetch.Query{Author: "alice", Page: 1, PageSize: 20})
	require.Error(t, err)
	assert.True(t, bserrs.IsRateLimit(err))
}

func TestSearch_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := rettiwt.New(srv.URL, "sekret")
	_, err := c.Search(context.Background(), fetch.Query{Author: "alice", Page: 1, PageSize: 20})
	require.Error(t, err)
	assert.False(t, bserrs.IsRateLimit(err))
}
