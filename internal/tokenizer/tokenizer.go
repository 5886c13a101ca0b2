// Package tokenizer estimates token counts for context budgeting.
package tokenizer

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens for budget decisions. Implementations are backend
// sensitive; the heuristic fallback keeps the pipeline usable when no
// encoding data is available.
type Estimator interface {
	// CountTokens returns the token count of text plus a fixed padding.
	CountTokens(text string, padding int) int
}

// TiktokenEstimator counts with a tiktoken encoding resolved per model,
// falling back to cl100k_base, then to a chars/4 heuristic.
type TiktokenEstimator struct {
	once    sync.Once
	modelID string
	encoder *tiktoken.Tiktoken
}

// NewTiktokenEstimator creates an estimator for the given model id. The
// encoding is resolved lazily on first use; resolution may download encoding
// data depending on the tiktoken loader in use.
func NewTiktokenEstimator(modelID string) *TiktokenEstimator {
	return &TiktokenEstimator{modelID: modelID}
}

func (e *TiktokenEstimator) resolve() {
	encoder, err := tiktoken.EncodingForModel(e.modelID)
	if err == nil {
		e.encoder = encoder
		return
	}

	if fallback, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		e.encoder = fallback
	}
}

// CountTokens implements Estimator.
func (e *TiktokenEstimator) CountTokens(text string, padding int) int {
	e.once.Do(e.resolve)

	// Carriage returns are stripped before encoding, matching how prompts
	// are sent to backends.
	text = strings.ReplaceAll(text, "\r", "")

	if e.encoder == nil {
		return heuristicCount(text) + padding
	}
	return len(e.encoder.Encode(text, nil, nil)) + padding
}

// HeuristicEstimator approximates one token per four runes. It exists for
// tests and for backends with no known encoding.
type HeuristicEstimator struct{}

// CountTokens implements Estimator.
func (HeuristicEstimator) CountTokens(text string, padding int) int {
	return heuristicCount(text) + padding
}

func heuristicCount(text string) int {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}
