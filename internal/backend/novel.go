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

// Novel talks to the NovelAI completion API. Unary only; multigen provides
// pseudo-streaming. The context budget depends on the subscription tier and
// model because the service rejects oversized inputs instead of truncating.
type Novel struct {
	baseURL    string
	apiKey     string
	model      string
	tier       int
	httpClient *http.Client
}

// NewNovel creates a backend for the NovelAI API.
func NewNovel(cfg *config.BackendConfig) (*Novel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("novel backend requires an API key")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.novelai.net"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "euterpe-v2"
	}
	return &Novel{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		model:      model,
		tier:       cfg.NovelTier,
		httpClient: newHTTPClient(),
	}, nil
}

func (n *Novel) Name() string                 { return "novel" }
func (n *Novel) SupportsStreaming() bool      { return false }
func (n *Novel) SupportsMultigen() bool       { return true }
func (n *Novel) ForcedExampleHeading() string { return "" }

// ContextCeiling follows the tier limits, with headroom for the fat tokens
// of the krake tokenizer.
func (n *Novel) ContextCeiling(config.SamplingConfig) int {
	if n.tier == 1 {
		return 1024
	}
	ceiling := 2048 - 60
	if n.model == "krake-v2" {
		ceiling -= 160
	}
	return ceiling
}

type novelParameters struct {
	Temperature            float64 `json:"temperature"`
	MaxLength              int     `json:"max_length"`
	MinLength              int     `json:"min_length"`
	TopK                   int     `json:"top_k"`
	TopP                   float64 `json:"top_p"`
	TailFreeSampling       float64 `json:"tail_free_sampling"`
	RepetitionPenalty      float64 `json:"repetition_penalty"`
	RepetitionPenaltyRange int     `json:"repetition_penalty_range"`
	RepetitionPenaltySlope float64 `json:"repetition_penalty_slope"`
	BadWordsIDs            [][]int `json:"bad_words_ids,omitempty"`
	UseCache               bool    `json:"use_cache"`
	UseString              bool    `json:"use_string"`
	ReturnFullText         bool    `json:"return_full_text"`
	GenerateUntilSentence  bool    `json:"generate_until_sentence"`
}

type novelRequest struct {
	Input      string          `json:"input"`
	Model      string          `json:"model"`
	Parameters novelParameters `json:"parameters"`
}

type novelResponse struct {
	Output string `json:"output"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (n *Novel) Generate(ctx context.Context, req *Request) (*Result, error) {
	payload := novelRequest{
		Input: req.Prompt,
		Model: n.model,
		Parameters: novelParameters{
			Temperature:            req.Sampling.Temperature,
			MaxLength:              req.ResponseLength,
			MinLength:              1,
			TopK:                   req.Sampling.TopK,
			TopP:                   req.Sampling.TopP,
			TailFreeSampling:       0.95,
			RepetitionPenalty:      req.Sampling.RepetitionPenalty,
			RepetitionPenaltyRange: req.Sampling.RepetitionRange,
			UseCache:               false,
			UseString:              true,
			ReturnFullText:         false,
			GenerateUntilSentence:  true,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("novel failed to encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/ai/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("novel failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("novel generation failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Backend: "novel", Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out novelResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("novel generation failed: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("novel reported an error payload: %s", out.Error.Message)
	}
	return &Result{Text: out.Output}, nil
}

func (n *Novel) GenerateStream(context.Context, *Request, StreamFunc) error {
	return ErrStreamingUnsupported
}

func (n *Novel) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/user/subscription", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("novel is unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Backend: "novel", Code: resp.StatusCode}
	}
	return nil
}
