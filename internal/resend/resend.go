// Package resend is a minimal client for the Resend transactional
// email API.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytesize-news/bytesize/internal/bytesize"
	bserrs "github.com/bytesize-news/bytesize/internal/errors"
)

const defaultBaseURL = "https://api.resend.com"

// Client implements [bytesize.EmailSender].
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates a client. baseURL may be empty to use the real API; tests
// point it at an httptest server.
func New(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type (
	sendReq struct {
		From    string   `json:"from"`
		To      []string `json:"to"`
		Subject string   `json:"subject"`
		HTML    string   `json:"html,omitempty"`
		Text    string   `json:"text,omitempty"`
	}

	sendResp struct {
		ID string `json:"id"`
	}

	errorResp struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
)

func (c *Client) Send(ctx context.Context, msg bytesize.EmailMessage) (string, error) {
	byts, err := json.Marshal(sendReq{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return "", fmt.Errorf("error encoding send request: %s", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(byts))
	if err != nil {
		return "", fmt.Errorf("error creating send request: %s", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", bserrs.RateLimited(fmt.Errorf("email provider rate limited send to %s", msg.To))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResp
		body, _ := io.ReadAll(resp.Body)
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Message != "" {
			return "", bserrs.E(fmt.Sprintf("email provider rejected send: %s (%s)", apiErr.Message, apiErr.Name), resp.StatusCode)
		}
		return "", bserrs.E(fmt.Sprintf("unexpected status code sending email: %d", resp.StatusCode), resp.StatusCode)
	}

	var body sendResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("error decoding send response: %s", err)
	}

	return body.ID, nil
}
