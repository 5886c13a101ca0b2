package backend

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/codefionn/personachat/internal/config"
)

// openAIStopLimit is the API's cap on stop sequences per request.
const openAIStopLimit = 4

// OpenAI is a hosted chat-completion backend on the official SDK. The
// assembled prompt travels as a single user message; the service applies its
// own chat template server-side.
type OpenAI struct {
	client     openai.Client
	model      string
	maxContext int
	streaming  bool
}

// NewOpenAI creates a backend against the OpenAI API.
func NewOpenAI(cfg *config.BackendConfig, maxContext int) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai backend requires an API key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	return &OpenAI{
		client:     openai.NewClient(opts...),
		model:      model,
		maxContext: maxContext,
		streaming:  cfg.Streaming,
	}, nil
}

func (o *OpenAI) Name() string                 { return "openai" }
func (o *OpenAI) SupportsStreaming() bool      { return o.streaming }
func (o *OpenAI) SupportsMultigen() bool       { return false }
func (o *OpenAI) ForcedExampleHeading() string { return ExampleHeadingMarker }

// ContextCeiling is the configured window; the service manages its own
// response headroom.
func (o *OpenAI) ContextCeiling(config.SamplingConfig) int {
	return o.maxContext
}

func (o *OpenAI) buildParams(req *Request) openai.ChatCompletionNewParams {
	stops := req.StopSequences
	if len(stops) > openAIStopLimit {
		stops = stops[:openAIStopLimit]
	}

	return openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Sampling.Temperature),
		TopP:        openai.Float(req.Sampling.TopP),
		MaxTokens:   openai.Int(int64(req.ResponseLength)),
		Stop: openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: stops,
		},
	}
}

func (o *OpenAI) Generate(ctx context.Context, req *Request) (*Result, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &Result{}, nil
	}
	return &Result{Text: resp.Choices[0].Message.Content}, nil
}

func (o *OpenAI) GenerateStream(ctx context.Context, req *Request, fn StreamFunc) error {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.buildParams(req))
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := fn(choice.Delta.Content); err != nil {
				return err
			}
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai stream failed: %w", err)
	}
	return nil
}

func (o *OpenAI) Ping(ctx context.Context) error {
	if _, err := o.client.Models.Get(ctx, o.model); err != nil {
		return fmt.Errorf("openai is unreachable: %w", err)
	}
	return nil
}
