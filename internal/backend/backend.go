// Package backend defines the generation backend abstraction and the
// concrete transports: local inference servers (KoboldAI, text-generation-
// webui), hosted completion APIs (NovelAI, OpenAI, Claude) and the AI Horde
// aggregator.
package backend

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/codefionn/personachat/internal/config"
)

// Request is the normalized generation request the orchestrator produces.
// Each backend maps it into its own wire payload; no two backends share a
// payload shape.
type Request struct {
	Prompt string

	// ResponseLength is the token budget for this call. Multigen passes the
	// per-chunk budget here rather than the full response length.
	ResponseLength int
	MaxContext     int

	Sampling      config.SamplingConfig
	StopSequences []string

	// Impersonate marks user-voice generations; some payloads bias samplers
	// differently for them.
	Impersonate bool
}

// Result is a completed unary generation.
type Result struct {
	Text string
	// Worker identifies the aggregator worker that produced the text, when
	// the backend exposes one.
	Worker string
}

// StreamFunc receives incremental text deltas during a streaming generation.
// Returning an error aborts the stream.
type StreamFunc func(delta string) error

// Backend is one generation target. Implementations must be safe for use by
// a single in-flight generation at a time.
type Backend interface {
	// Name returns the backend identifier ("kobold", "novel", ...).
	Name() string

	// SupportsStreaming reports native token streaming capability.
	SupportsStreaming() bool

	// SupportsMultigen reports whether chunked pseudo-streaming applies. It
	// is false for backends with native streaming or server-side chunking.
	SupportsMultigen() bool

	// ContextCeiling computes the prompt token budget for this backend.
	ContextCeiling(s config.SamplingConfig) int

	// ForcedExampleHeading returns a fixed example-block heading the backend
	// requires, or empty to honor user formatting settings.
	ForcedExampleHeading() string

	// Generate performs one unary completion.
	Generate(ctx context.Context, req *Request) (*Result, error)

	// GenerateStream streams a completion through fn. Backends without
	// native streaming return ErrStreamingUnsupported.
	GenerateStream(ctx context.Context, req *Request, fn StreamFunc) error

	// Ping verifies the backend is reachable with the current configuration.
	Ping(ctx context.Context) error
}

// ErrStreamingUnsupported is returned by GenerateStream on unary-only backends.
var ErrStreamingUnsupported = errors.New("backend does not support streaming")

// ExampleHeadingMarker is the fixed example-block heading chat-API backends
// expect regardless of user formatting settings.
const ExampleHeadingMarker = "<START>"

// StatusError is a non-OK HTTP response from a backend.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return e.Backend + " request failed: status " + http.StatusText(e.Code) + ": " + e.Body
	}
	return e.Backend + " request failed: status " + http.StatusText(e.Code)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Minute}
}
