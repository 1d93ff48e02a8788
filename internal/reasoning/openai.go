package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/doculens/doculens/internal/config"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client against an OpenAI-compatible chat API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a reasoning client from configuration.
// An empty BaseURL targets the public OpenAI endpoint; setting it allows
// any OpenAI-compatible server (Ollama, vLLM, proxies).
func NewOpenAIClient(cfg config.ReasoningConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	log.Info().Str("model", cfg.Model).Msg("Reasoning client initialized")
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

func (c *OpenAIClient) Ready() bool { return c.client != nil }

// Complete calls the chat completion API with bounded exponential-backoff
// retries. Transient failures are retried; the caller's context deadline is
// the hard stop.
func (c *OpenAIClient) Complete(ctx context.Context, system, content string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
	}

	var out string
	operation := func() error {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("chat completion returned no choices")
		}
		out = resp.Choices[0].Message.Content
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
	), 2), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return out, nil
}
