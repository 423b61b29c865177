// Package openai adapts the OpenAI chat completion API to the dispatch
// Backend contract, classifying throttling and server-side failures as
// transient so the owning service retries them.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/calderhq/dispatch/internal/dispatch"
)

// Prompt is the payload a model service executes: one user turn with an
// optional system preamble and sampling parameters passed through untouched.
type Prompt struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Config holds the externally supplied client settings.
type Config struct {
	APIKey  string
	BaseURL string // optional override for gateways and compatible endpoints
	Model   string
}

var _ dispatch.Backend = (*Backend)(nil)

// Backend issues chat completions for dispatched prompts.
type Backend struct {
	client *openai.Client
	model  string
}

// New builds a Backend from cfg.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai backend requires an api key")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai backend requires a model")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Backend{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Execute sends one prompt and returns the trimmed response text. Payload
// must be a Prompt or a plain string (treated as the user turn).
func (b *Backend) Execute(ctx context.Context, payload any) (any, error) {
	var p Prompt
	switch v := payload.(type) {
	case Prompt:
		p = v
	case string:
		p = Prompt{User: v}
	default:
		return nil, dispatch.Usagef("openai backend: unsupported payload type %T", payload)
	}

	var messages []openai.ChatCompletionMessage
	if p.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: p.User,
	})

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, dispatch.Transient(errors.New("empty completion response"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classify wraps throttling, server-side, and network-timeout failures as
// transient; everything else (auth, bad request) is terminal.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError {
			return dispatch.Transient(err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return dispatch.Transient(err)
	}
	return err
}

// EstimateCost approximates the request-equivalent token cost of a prompt
// for the rate gate: roughly four characters per token plus per-message
// overhead and the reserved completion budget.
func EstimateCost(p Prompt) float64 {
	chars := len(p.System) + len(p.User)
	tokens := chars/4 + 8
	if p.MaxTokens > 0 {
		tokens += p.MaxTokens
	}
	return float64(tokens)
}
