package chat

// Transcript is an append-mostly ordered sequence of turns. Truncation only
// ever removes a contiguous suffix.
type Transcript struct {
	turns []*Turn
}

// NewTranscript creates a transcript seeded with the given turns.
func NewTranscript(turns ...*Turn) *Transcript {
	return &Transcript{turns: turns}
}

// Len returns the number of turns.
func (tr *Transcript) Len() int {
	return len(tr.turns)
}

// Append adds a turn to the end of the transcript.
func (tr *Transcript) Append(t *Turn) {
	tr.turns = append(tr.turns, t)
}

// Last returns the final turn, or nil for an empty transcript.
func (tr *Transcript) Last() *Turn {
	if len(tr.turns) == 0 {
		return nil
	}
	return tr.turns[len(tr.turns)-1]
}

// At returns the turn at index i, or nil when out of range.
func (tr *Transcript) At(i int) *Turn {
	if i < 0 || i >= len(tr.turns) {
		return nil
	}
	return tr.turns[i]
}

// Turns returns the backing slice. Callers must hold the session lock and
// must not reorder entries.
func (tr *Transcript) Turns() []*Turn {
	return tr.turns
}

// DeleteLast removes the final turn, if any.
func (tr *Transcript) DeleteLast() {
	if len(tr.turns) > 0 {
		tr.turns = tr.turns[:len(tr.turns)-1]
	}
}

// TruncateTo drops every turn at index n and beyond.
func (tr *Transcript) TruncateTo(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(tr.turns) {
		tr.turns = tr.turns[:n]
	}
}

// Core returns the turns that participate in prompting, skipping system
// messages. The result aliases the transcript's turns.
func (tr *Transcript) Core() []*Turn {
	core := make([]*Turn, 0, len(tr.turns))
	for _, t := range tr.turns {
		if t.IsSystem {
			continue
		}
		core = append(core, t)
	}
	return core
}

// Reset replaces all turns.
func (tr *Transcript) Reset(turns []*Turn) {
	tr.turns = turns
}
