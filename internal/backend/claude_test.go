package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/codefionn/personachat/internal/config"
)

func claudeFor(t *testing.T, handler http.HandlerFunc) *Claude {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c, err := NewClaude(&config.BackendConfig{
		APIKey:  "test-key",
		Model:   "claude-test",
		BaseURL: ts.URL,
	}, 8192)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClaudePing(t *testing.T) {
	c := claudeFor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasSuffix(r.URL.Path, "/models/claude-test") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"claude-test","type":"model","display_name":"Claude Test","created_at":"2024-02-29T00:00:00Z"}`))
	})

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestClaudePingUnknownModel(t *testing.T) {
	c := claudeFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"type":"error","error":{"type":"not_found_error","message":"model not found"}}`))
	})

	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("Ping() must fail for an unknown model")
	}
}

func TestClaudeRequiresAPIKey(t *testing.T) {
	if _, err := NewClaude(&config.BackendConfig{}, 8192); err == nil {
		t.Fatal("NewClaude() must fail without an API key")
	}
}
