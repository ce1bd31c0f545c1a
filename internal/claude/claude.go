// Package claude implements the summarizer's generator over the
// Anthropic API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	bserrs "github.com/bytesize-news/bytesize/internal/errors"
)

type Generator struct {
	client *anthropic.Client
}

func New(client *anthropic.Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.ModelClaudeHaiku4_5,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{{
			Text: system,
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return "", bserrs.RateLimited(err)
	}
	if err != nil {
		return "", fmt.Errorf("error generating summary: %w", err)
	}

	var sb strings.Builder
	for _, content := range resp.Content {
		sb.WriteString(content.Text)
	}

	return sb.String(), nil
}
