package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codefionn/personachat/internal/config"
	"github.com/codefionn/personachat/internal/logger"
)

const (
	hordeAnonymousKey = "0000000000"
	hordePollInterval = 3 * time.Second
)

// Horde submits a generation to the AI Horde aggregator and polls until a
// volunteer worker finishes. It presents as unary toward the pipeline.
type Horde struct {
	baseURL    string
	apiKey     string
	models     []string
	httpClient *http.Client
}

// NewHorde creates a backend for the AI Horde. An empty API key uses the
// anonymous tier.
func NewHorde(cfg *config.BackendConfig) (*Horde, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://horde.koboldai.net"
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		key = hordeAnonymousKey
	}
	var models []string
	if m := strings.TrimSpace(cfg.Model); m != "" {
		models = []string{m}
	}
	return &Horde{baseURL: base, apiKey: key, models: models, httpClient: newHTTPClient()}, nil
}

func (h *Horde) Name() string                 { return "horde" }
func (h *Horde) SupportsStreaming() bool      { return false }
func (h *Horde) SupportsMultigen() bool       { return false }
func (h *Horde) ForcedExampleHeading() string { return "" }

func (h *Horde) ContextCeiling(s config.SamplingConfig) int {
	return s.MaxContext - s.ResponseLength
}

type hordeParams struct {
	MaxLength        int      `json:"max_length"`
	MaxContextLength int      `json:"max_context_length"`
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p,omitempty"`
	TopK             int      `json:"top_k,omitempty"`
	RepPen           float64  `json:"rep_pen,omitempty"`
	RepPenRange      int      `json:"rep_pen_range,omitempty"`
	StopSequence     []string `json:"stop_sequence,omitempty"`
}

type hordeSubmission struct {
	Prompt string      `json:"prompt"`
	Params hordeParams `json:"params"`
	Models []string    `json:"models,omitempty"`
}

type hordeSubmitResponse struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

type hordeStatusResponse struct {
	Done        bool `json:"done"`
	Faulted     bool `json:"faulted"`
	Generations []struct {
		Text       string `json:"text"`
		WorkerName string `json:"worker_name"`
	} `json:"generations"`
}

func (h *Horde) Generate(ctx context.Context, req *Request) (*Result, error) {
	id, err := h.submit(ctx, req)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(hordePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.cancel(id)
			return nil, ctx.Err()
		case <-ticker.C:
			status, err := h.status(ctx, id)
			if err != nil {
				return nil, err
			}
			if status.Faulted {
				return nil, fmt.Errorf("horde generation faulted")
			}
			if !status.Done {
				continue
			}
			if len(status.Generations) == 0 {
				return &Result{}, nil
			}
			gen := status.Generations[0]
			return &Result{Text: gen.Text, Worker: gen.WorkerName}, nil
		}
	}
}

func (h *Horde) GenerateStream(context.Context, *Request, StreamFunc) error {
	return ErrStreamingUnsupported
}

func (h *Horde) submit(ctx context.Context, req *Request) (string, error) {
	payload := hordeSubmission{
		Prompt: req.Prompt,
		Params: hordeParams{
			MaxLength:        req.ResponseLength,
			MaxContextLength: req.MaxContext,
			Temperature:      req.Sampling.Temperature,
			TopP:             req.Sampling.TopP,
			TopK:             req.Sampling.TopK,
			RepPen:           req.Sampling.RepetitionPenalty,
			RepPenRange:      req.Sampling.RepetitionRange,
			StopSequence:     req.StopSequences,
		},
		Models: h.models,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("horde failed to encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/api/v2/generate/text/async", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("horde failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("apikey", h.apiKey)

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("horde submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return "", &StatusError{Backend: "horde", Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out hordeSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("horde submission failed: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("horde submission rejected: %s", out.Message)
	}
	return out.ID, nil
}

func (h *Horde) status(ctx context.Context, id string) (*hordeStatusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/api/v2/generate/text/status/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("horde failed to create request: %w", err)
	}

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("horde status check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Backend: "horde", Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out hordeStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("horde status check failed: %w", err)
	}
	return &out, nil
}

// cancel runs detached because the generation context is already done.
func (h *Horde) cancel(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, h.baseURL+"/api/v2/generate/text/status/"+id, nil)
	if err != nil {
		return
	}
	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		logger.Debug("horde cancel failed: %v", err)
		return
	}
	resp.Body.Close()
}

func (h *Horde) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/api/v2/status/heartbeat", nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("horde is unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Backend: "horde", Code: resp.StatusCode}
	}
	return nil
}
