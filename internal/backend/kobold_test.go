package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codefionn/personachat/internal/config"
)

func koboldFor(t *testing.T, handler http.HandlerFunc) *Kobold {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	k, err := NewKobold(&config.BackendConfig{BaseURL: ts.URL})
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestKoboldGenerate(t *testing.T) {
	var payload map[string]any
	k := koboldFor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"text":"Eve: hello!"}]}`))
	})

	res, err := k.Generate(context.Background(), &Request{
		Prompt:         "Eve's persona\nBob: hi\n",
		ResponseLength: 120,
		MaxContext:     2048,
		Sampling:       config.SamplingConfig{Temperature: 0.7, Seed: -1},
		StopSequences:  []string{"\nBob:"},
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Text != "Eve: hello!" {
		t.Fatalf("text = %q", res.Text)
	}

	if payload["max_length"].(float64) != 120 {
		t.Fatalf("max_length = %v", payload["max_length"])
	}
	if payload["max_context_length"].(float64) != 2048 {
		t.Fatalf("max_context_length = %v", payload["max_context_length"])
	}
	if _, ok := payload["sampler_seed"]; ok {
		t.Fatal("a negative seed must not be forwarded")
	}
}

func TestKoboldGenerateStatusError(t *testing.T) {
	k := koboldFor(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model busy", http.StatusServiceUnavailable)
	})

	_, err := k.Generate(context.Background(), &Request{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Generate() error = %v, want StatusError", err)
	}
	if se.Code != http.StatusServiceUnavailable || se.Body != "model busy" {
		t.Fatalf("unexpected status error: %+v", se)
	}
}

func TestKoboldGenerateEmptyResults(t *testing.T) {
	k := koboldFor(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	})

	res, err := k.Generate(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Text != "" {
		t.Fatalf("text = %q, want empty", res.Text)
	}
}

func TestKoboldPing(t *testing.T) {
	k := koboldFor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/model" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"result":"test-model"}`))
	})

	if err := k.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestKoboldRequiresBaseURL(t *testing.T) {
	if _, err := NewKobold(&config.BackendConfig{}); err == nil {
		t.Fatal("expected an error for a missing base URL")
	}
}

func TestKoboldStreamingUnsupported(t *testing.T) {
	k := koboldFor(t, func(http.ResponseWriter, *http.Request) {})
	err := k.GenerateStream(context.Background(), &Request{}, func(string) error { return nil })
	if !errors.Is(err, ErrStreamingUnsupported) {
		t.Fatalf("GenerateStream() error = %v, want ErrStreamingUnsupported", err)
	}
}
