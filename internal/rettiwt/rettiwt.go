// Package rettiwt is a client for a rettiwt-proxy style search API,
// the content source posts are pulled from.
package rettiwt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bserrs "github.com/bytesize-news/bytesize/internal/errors"
	"github.com/bytesize-news/bytesize/internal/fetch"
)

// Client implements [fetch.Source] over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		// Per-page deadlines come from the fetcher's context; this is
		// just a backstop against a wedged connection.
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type (
	searchResp struct {
		Items   []searchItem `json:"items"`
		HasMore bool         `json:"has_more"`
	}

	searchItem struct {
		ID      string `json:"id"`
		Author  string `json:"author"`
		Text    string `json:"text"`
		ReplyTo string `json:"reply_to"`
	}
)

func (c *Client) Search(ctx context.Context, q fetch.Query) (fetch.Page, error) {
	u, err := url.Parse(c.baseURL + "/v1/search")
	if err != nil {
		return fetch.Page{}, fmt.Errorf("error parsing search url: %s", err)
	}
	vals := url.Values{}
	vals.Set("author", q.Author)
	vals.Set("page", strconv.Itoa(q.Page))
	vals.Set("page_size", strconv.Itoa(q.PageSize))
	u.RawQuery = vals.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fetch.Page{}, fmt.Errorf("error creating search request: %s", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fetch.Page{}, fmt.Errorf("error searching posts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fetch.Page{}, bserrs.RateLimited(fmt.Errorf("content source rate limited author %s", q.Author))
	}
	if resp.StatusCode != http.StatusOK {
		return fetch.Page{}, bserrs.E(fmt.Sprintf("unexpected status code searching posts: %d", resp.StatusCode), resp.StatusCode)
	}

	var body searchResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fetch.Page{}, fmt.Errorf("error decoding search response: %s", err)
	}

	page := fetch.Page{HasMore: body.HasMore}
	for _, item := range body.Items {
		page.Items = append(page.Items, fetch.Item{
			ID:      item.ID,
			Author:  item.Author,
			Text:    item.Text,
			ReplyTo: item.ReplyTo,
		})
	}

	return page, nil
}
