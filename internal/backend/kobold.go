package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/codefionn/personachat/internal/config"
)

// Kobold talks to a KoboldAI-compatible server. It is unary only; streaming
// is simulated by the orchestrator's multigen loop.
type Kobold struct {
	baseURL    string
	httpClient *http.Client
}

// NewKobold creates a backend for the given KoboldAI base URL.
func NewKobold(cfg *config.BackendConfig) (*Kobold, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("kobold backend requires a base URL")
	}
	return &Kobold{baseURL: base, httpClient: newHTTPClient()}, nil
}

func (k *Kobold) Name() string                 { return "kobold" }
func (k *Kobold) SupportsStreaming() bool      { return false }
func (k *Kobold) SupportsMultigen() bool       { return true }
func (k *Kobold) ForcedExampleHeading() string { return "" }

// ContextCeiling reserves the response budget out of the context window.
func (k *Kobold) ContextCeiling(s config.SamplingConfig) int {
	return s.MaxContext - s.ResponseLength
}

type koboldRequest struct {
	Prompt           string   `json:"prompt"`
	MaxLength        int      `json:"max_length"`
	MaxContextLength int      `json:"max_context_length"`
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p,omitempty"`
	TopK             int      `json:"top_k,omitempty"`
	TypicalP         float64  `json:"typical,omitempty"`
	RepPen           float64  `json:"rep_pen,omitempty"`
	RepPenRange      int      `json:"rep_pen_range,omitempty"`
	SamplerSeed      int      `json:"sampler_seed,omitempty"`
	StopSequence     []string `json:"stop_sequence,omitempty"`
	SingleLine       bool     `json:"singleline,omitempty"`
	Quiet            bool     `json:"quiet"`
}

type koboldResponse struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

func (k *Kobold) Generate(ctx context.Context, req *Request) (*Result, error) {
	payload := koboldRequest{
		Prompt:           req.Prompt,
		MaxLength:        req.ResponseLength,
		MaxContextLength: req.MaxContext,
		Temperature:      req.Sampling.Temperature,
		TopP:             req.Sampling.TopP,
		TopK:             req.Sampling.TopK,
		TypicalP:         req.Sampling.TypicalP,
		RepPen:           req.Sampling.RepetitionPenalty,
		RepPenRange:      req.Sampling.RepetitionRange,
		StopSequence:     req.StopSequences,
		SingleLine:       req.Sampling.SingleLine,
		Quiet:            true,
	}
	if req.Sampling.Seed >= 0 {
		payload.SamplerSeed = req.Sampling.Seed
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("kobold failed to encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/api/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kobold failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := k.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("kobold generation failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Backend: "kobold", Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out koboldResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("kobold generation failed: %w", err)
	}
	if len(out.Results) == 0 {
		return &Result{}, nil
	}
	return &Result{Text: out.Results[0].Text}, nil
}

func (k *Kobold) GenerateStream(context.Context, *Request, StreamFunc) error {
	return ErrStreamingUnsupported
}

func (k *Kobold) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/api/v1/model", nil)
	if err != nil {
		return err
	}
	resp, err := k.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("kobold is unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Backend: "kobold", Code: resp.StatusCode}
	}
	return nil
}
