package backend

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/codefionn/personachat/internal/config"
)

// Claude is a hosted chat-completion backend on the official Anthropic SDK.
// Like the OpenAI backend, the assembled prompt travels as one user message.
type Claude struct {
	client     anthropic.Client
	model      string
	maxContext int
	streaming  bool
}

// NewClaude creates a backend against the Anthropic API.
func NewClaude(cfg *config.BackendConfig, maxContext int) (*Claude, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("claude backend requires an API key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	return &Claude{
		client:     anthropic.NewClient(opts...),
		model:      model,
		maxContext: maxContext,
		streaming:  cfg.Streaming,
	}, nil
}

func (c *Claude) Name() string                 { return "claude" }
func (c *Claude) SupportsStreaming() bool      { return c.streaming }
func (c *Claude) SupportsMultigen() bool       { return false }
func (c *Claude) ForcedExampleHeading() string { return ExampleHeadingMarker }

func (c *Claude) ContextCeiling(config.SamplingConfig) int {
	return c.maxContext
}

func (c *Claude) buildParams(req *Request) anthropic.MessageNewParams {
	maxTokens := req.ResponseLength
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	// Anthropic rejects stop sequences with leading whitespace.
	stops := make([]string, 0, len(req.StopSequences))
	for _, s := range req.StopSequences {
		if trimmed := strings.TrimLeft(s, " \n"); trimmed != "" {
			stops = append(stops, trimmed)
		}
	}

	return anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature:   anthropic.Float(req.Sampling.Temperature),
		TopP:          anthropic.Float(req.Sampling.TopP),
		StopSequences: stops,
	}
}

func (c *Claude) Generate(ctx context.Context, req *Request) (*Result, error) {
	msg, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("claude generation failed: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	return &Result{Text: b.String()}, nil
}

func (c *Claude) GenerateStream(ctx context.Context, req *Request, fn StreamFunc) error {
	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(req))
	if stream == nil {
		return fmt.Errorf("claude stream failed: no stream returned")
	}
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()

		deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		textDelta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta)
		if !ok || textDelta.Text == "" {
			continue
		}

		if err := fn(textDelta.Text); err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("claude stream failed: %w", err)
	}
	return nil
}

func (c *Claude) Ping(ctx context.Context) error {
	if _, err := c.client.Models.Get(ctx, c.model, anthropic.ModelGetParams{}); err != nil {
		return fmt.Errorf("claude is unreachable: %w", err)
	}
	return nil
}
