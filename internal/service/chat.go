package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/timmy/vidtalker/internal/domain"
)

// ChatModel is a chat-style language model.
//
// Stream calls emit for every non-empty content fragment in arrival order.
// If emit returns an error the stream is abandoned and that error returned.
type ChatModel interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Stream(ctx context.Context, system, user string, emit func(fragment string) error) error
}

// ChatConfig holds configuration for an OpenAI-compatible chat endpoint.
type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	MaxRetries  uint64
}

// OpenAIChat talks to any OpenAI-compatible chat completion API (Groq by default).
type OpenAIChat struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
	maxRetries  uint64
}

// NewOpenAIChat creates a chat client.
func NewOpenAIChat(cfg *ChatConfig) (*OpenAIChat, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key not set: set LLM_API_KEY or GROQ_API_KEY")
	}

	// retries are handled here, not inside the SDK
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 3
	}

	return &OpenAIChat{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		maxRetries:  retries,
	}, nil
}

// ModelName returns the model name
func (c *OpenAIChat) ModelName() string {
	return c.model
}

func (c *OpenAIChat) params(system, user string) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}
	return params
}

// Complete returns the whole completion. Rate-limit responses are retried
// with exponential backoff.
func (c *OpenAIChat) Complete(ctx context.Context, system, user string) (string, error) {
	const op = "chat.Complete"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 2 * time.Second
	eb.MaxInterval = 32 * time.Second

	var content string
	err := backoff.Retry(func() error {
		completion, err := c.client.Chat.Completions.New(ctx, c.params(system, user))
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(completion.Choices) == 0 {
			return backoff.Permanent(errors.New("no completion choices returned"))
		}
		content = completion.Choices[0].Message.Content
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx))
	if err != nil {
		return "", domain.E(domain.KindModelInvocation, op, err)
	}
	return content, nil
}

// Stream streams a completion. It is not retried: fragments may already
// have been delivered when an error occurs.
func (c *OpenAIChat) Stream(ctx context.Context, system, user string, emit func(string) error) error {
	const op = "chat.Stream"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(system, user))
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			if err := emit(content); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return domain.E(domain.KindModelInvocation, op, fmt.Errorf("stream failed: %w", err))
	}
	return nil
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
