package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/codefionn/personachat/internal/config"
)

// TextGen talks to a text-generation-webui-compatible server: unary JSON
// plus a server-sent event stream of text deltas on a separate endpoint.
type TextGen struct {
	baseURL      string
	streamingURL string
	httpClient   *http.Client
}

// NewTextGen creates a backend for the given server. The streaming URL may be
// empty; streaming generations then fail with a configuration error upstream.
func NewTextGen(cfg *config.BackendConfig) (*TextGen, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("textgen backend requires a base URL")
	}
	return &TextGen{
		baseURL:      base,
		streamingURL: strings.TrimSpace(cfg.StreamingURL),
		httpClient:   newHTTPClient(),
	}, nil
}

func (t *TextGen) Name() string                 { return "textgen" }
func (t *TextGen) SupportsStreaming() bool      { return t.streamingURL != "" }
func (t *TextGen) SupportsMultigen() bool       { return true }
func (t *TextGen) ForcedExampleHeading() string { return "" }

func (t *TextGen) ContextCeiling(s config.SamplingConfig) int {
	return s.MaxContext - s.ResponseLength
}

type textgenRequest struct {
	Prompt            string   `json:"prompt"`
	MaxNewTokens      int      `json:"max_new_tokens"`
	DoSample          bool     `json:"do_sample"`
	Temperature       float64  `json:"temperature"`
	TopP              float64  `json:"top_p"`
	TypicalP          float64  `json:"typical_p"`
	RepetitionPenalty float64  `json:"repetition_penalty"`
	TopK              int      `json:"top_k"`
	MinLength         int      `json:"min_length"`
	NoRepeatNgramSize int      `json:"no_repeat_ngram_size"`
	NumBeams          int      `json:"num_beams"`
	PenaltyAlpha      float64  `json:"penalty_alpha"`
	LengthPenalty     float64  `json:"length_penalty"`
	EarlyStopping     bool     `json:"early_stopping"`
	Seed              int      `json:"seed"`
	AddBosToken       bool     `json:"add_bos_token"`
	StoppingStrings   []string `json:"stopping_strings"`
	TruncationLength  int      `json:"truncation_length"`
	BanEosToken       bool     `json:"ban_eos_token"`
	SkipSpecialTokens bool     `json:"skip_special_tokens"`
}

type textgenResponse struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
	Error bool `json:"error"`
}

func (t *TextGen) buildPayload(req *Request) *textgenRequest {
	return &textgenRequest{
		Prompt:            req.Prompt,
		MaxNewTokens:      req.ResponseLength,
		DoSample:          true,
		Temperature:       req.Sampling.Temperature,
		TopP:              req.Sampling.TopP,
		TypicalP:          req.Sampling.TypicalP,
		RepetitionPenalty: req.Sampling.RepetitionPenalty,
		TopK:              req.Sampling.TopK,
		NumBeams:          1,
		LengthPenalty:     1,
		Seed:              req.Sampling.Seed,
		AddBosToken:       true,
		StoppingStrings:   req.StopSequences,
		TruncationLength:  req.MaxContext,
		SkipSpecialTokens: true,
	}
}

func (t *TextGen) Generate(ctx context.Context, req *Request) (*Result, error) {
	body, err := json.Marshal(t.buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf("textgen failed to encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("textgen failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("textgen generation failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Backend: "textgen", Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out textgenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("textgen generation failed: %w", err)
	}
	if out.Error {
		return nil, fmt.Errorf("textgen reported an error payload")
	}
	if len(out.Results) == 0 {
		return &Result{}, nil
	}
	return &Result{Text: out.Results[0].Text}, nil
}

type textgenStreamChunk struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// GenerateStream reads server-sent "data:" lines from the streaming endpoint
// until the finish sentinel. Each chunk carries the incremental delta.
func (t *TextGen) GenerateStream(ctx context.Context, req *Request, fn StreamFunc) error {
	if t.streamingURL == "" {
		return ErrStreamingUnsupported
	}

	body, err := json.Marshal(t.buildPayload(req))
	if err != nil {
		return fmt.Errorf("textgen failed to encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.streamingURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("textgen failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("textgen stream failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return &StatusError{Backend: "textgen", Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	scanner := bufio.NewScanner(resp.Body)
	buffer := make([]byte, 0, 256*1024)
	scanner.Buffer(buffer, 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk textgenStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("textgen stream failed to decode chunk: %w", err)
		}
		if chunk.Text != "" {
			if err := fn(chunk.Text); err != nil {
				return err
			}
		}
		if chunk.Done {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("textgen stream failed: %w", err)
	}
	return nil
}

func (t *TextGen) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/api/v1/model", nil)
	if err != nil {
		return err
	}
	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("textgen is unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Backend: "textgen", Code: resp.StatusCode}
	}
	return nil
}
