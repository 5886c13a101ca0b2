package prompt

import (
	"sort"
	"strings"
	"sync"

	"github.com/codefionn/personachat/internal/chat"
)

// AnchorPosition selects where injected anchor text lands in the prompt.
type AnchorPosition int

const (
	// PositionInChat splices the anchor between history lines at a depth
	// counted from the newest turn.
	PositionInChat AnchorPosition = iota
	// PositionAfterScenario places the anchor directly after the story string.
	PositionAfterScenario
)

type anchorEntry struct {
	value    string
	position AnchorPosition
	depth    int
}

// AnchorRegistry is the keyed registry of operator/extension injected prompt
// text. Keys are sorted before concatenation so output is deterministic.
type AnchorRegistry struct {
	mu      sync.RWMutex
	entries map[string]anchorEntry
}

// NewAnchorRegistry creates an empty registry.
func NewAnchorRegistry() *AnchorRegistry {
	return &AnchorRegistry{entries: map[string]anchorEntry{}}
}

// Set registers anchor text under key. Empty text keeps the key but the entry
// no longer contributes to any prompt.
func (r *AnchorRegistry) Set(key, value string, position AnchorPosition, depth int) {
	if depth < 0 {
		depth = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = anchorEntry{value: value, position: position, depth: depth}
}

// Remove deletes the anchor under key.
func (r *AnchorRegistry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// All returns every non-empty anchor joined by newlines, persona substituted.
// Used only for token budgeting.
func (r *AnchorRegistry) All(p chat.Persona) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := r.sortedKeys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := strings.TrimSpace(r.entries[k].value); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return Substitute(strings.Join(parts, "\n"), p)
}

// AfterScenario returns the combined after-scenario anchor text.
func (r *AnchorRegistry) AfterScenario(p chat.Persona) string {
	return r.at(PositionAfterScenario, -1, "\n", p)
}

// InChat returns the combined anchor text registered at the given chat depth.
func (r *AnchorRegistry) InChat(depth int, separator string, p chat.Persona) string {
	return r.at(PositionInChat, depth, separator, p)
}

func (r *AnchorRegistry) at(position AnchorPosition, depth int, separator string, p chat.Persona) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parts := make([]string, 0, 2)
	for _, k := range r.sortedKeys() {
		e := r.entries[k]
		if e.position != position || strings.TrimSpace(e.value) == "" {
			continue
		}
		if depth >= 0 && e.depth != depth {
			continue
		}
		parts = append(parts, strings.TrimSpace(e.value))
	}

	joined := strings.Join(parts, separator)
	if joined == "" {
		return ""
	}

	// Pad with the separator on both sides so the anchor splices cleanly
	// between history lines.
	if !strings.HasPrefix(joined, separator) {
		joined = separator + joined
	}
	if !strings.HasSuffix(joined, separator) {
		joined = joined + separator
	}
	return Substitute(joined, p)
}

func (r *AnchorRegistry) sortedKeys() []string {
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
