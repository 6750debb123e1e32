// Package llm adapts OpenAI-compatible chat and embedding endpoints to the
// domain ports. All calls are gated by the shared rate-limit registry, carry
// a deadline, and surface failures in the domain error taxonomy.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/ratelimit"
)

const (
	ResourceChat  = "chat"
	ResourceEmbed = "embed"
)

// Options configure one client.
type Options struct {
	Provider       string // rate-limit key prefix, e.g. "openai"
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	EmbeddingDims  int
	LLMDeadline    time.Duration
	EmbedDeadline  time.Duration
}

// Client implements domain.LLM and domain.Embedder over one provider.
type Client struct {
	client   openai.Client
	opts     Options
	limiters *ratelimit.Registry
}

func New(opts Options, limiters *ratelimit.Registry) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", domain.ErrValidation)
	}
	if opts.Provider == "" {
		opts.Provider = "openai"
	}
	if opts.LLMDeadline <= 0 {
		opts.LLMDeadline = 60 * time.Second
	}
	if opts.EmbedDeadline <= 0 {
		opts.EmbedDeadline = 30 * time.Second
	}
	if opts.EmbeddingDims <= 0 {
		opts.EmbeddingDims = 1536
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &Client{
		client:   openai.NewClient(clientOpts...),
		opts:     opts,
		limiters: limiters,
	}, nil
}

// StructuredComplete asks for a value conforming to a JSON schema using the
// provider's native structured output.
func (c *Client) StructuredComplete(ctx context.Context, req domain.StructuredRequest) (json.RawMessage, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", domain.ErrValidation)
	}
	if err := c.limiters.Acquire(ctx, c.opts.Provider, ResourceChat); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.LLMDeadline)
	defer cancel()

	var schema any
	if len(req.Schema) > 0 {
		if err := json.Unmarshal(req.Schema, &schema); err != nil {
			return nil, fmt.Errorf("%w: bad schema: %v", domain.ErrValidation, err)
		}
	}

	name := req.SchemaName
	if name == "" {
		name = "structured_response"
	}
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:   name,
		Schema: schema,
		Strict: openai.Bool(true),
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(req.Prompt)},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
		},
		Temperature: openai.Float(req.Temperature),
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", domain.ErrTransient)
	}
	return json.RawMessage(completion.Choices[0].Message.Content), nil
}

// Complete generates free text.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if err := c.limiters.Acquire(ctx, c.opts.Provider, ResourceChat); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.LLMDeadline)
	defer cancel()

	completion, err := c.client.Chat.Completions.New(ctx, c.completionParams(req))
	if err != nil {
		return "", mapError(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", domain.ErrTransient)
	}
	return completion.Choices[0].Message.Content, nil
}

// Stream generates free text, delivering deltas to fn as they arrive.
func (c *Client) Stream(ctx context.Context, req domain.CompletionRequest, fn func(delta string) error) error {
	if fn == nil {
		return fmt.Errorf("%w: nil callback", domain.ErrValidation)
	}
	if err := c.limiters.Acquire(ctx, c.opts.Provider, ResourceChat); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.LLMDeadline)
	defer cancel()

	stream := c.client.Chat.Completions.NewStreaming(ctx, c.completionParams(req))
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := fn(delta); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		return mapError(ctx, err)
	}
	return nil
}

func (c *Client) completionParams(req domain.CompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

// Embed returns one vector per input text, in order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.limiters.Acquire(ctx, c.opts.Provider, ResourceEmbed); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.EmbedDeadline)
	defer cancel()

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.opts.EmbeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, mapError(ctx, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d inputs",
			domain.ErrTransient, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		v := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			v[j] = float32(f)
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (c *Client) Dimensions() int { return c.opts.EmbeddingDims }

// mapError converts provider failures into the domain taxonomy. 429 becomes
// a RateLimitError with the server's retry-after hint; 5xx and timeouts are
// transient; other 4xx are permanent.
func mapError(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled || errors.Is(err, context.Canceled) {
		return domain.ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: deadline exceeded", domain.ErrTransient)
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429:
			return &domain.RateLimitError{RetryAfter: retryAfter(apierr)}
		case apierr.StatusCode >= 500:
			return fmt.Errorf("%w: provider %d: %v", domain.ErrTransient, apierr.StatusCode, err)
		default:
			return fmt.Errorf("%w: provider %d: %v", domain.ErrPermanent, apierr.StatusCode, err)
		}
	}
	// Network-level failures without a status are transient.
	return fmt.Errorf("%w: %v", domain.ErrTransient, err)
}

func retryAfter(apierr *openai.Error) time.Duration {
	if apierr.Response == nil {
		return 0
	}
	header := apierr.Response.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

var (
	_ domain.LLM      = (*Client)(nil)
	_ domain.Embedder = (*Client)(nil)
)
