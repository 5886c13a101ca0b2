package engine

import (
	"sync"
)

// StreamPhase is the lifecycle phase of a streaming generation.
type StreamPhase int

const (
	// StreamStarted means the request is dispatched but no delta arrived yet.
	StreamStarted StreamPhase = iota
	// StreamStreaming means at least one delta has been applied.
	StreamStreaming
	// StreamFinished means the stream completed normally.
	StreamFinished
	// StreamStopped means the user aborted; partial text is kept.
	StreamStopped
	// StreamErrored means the transport failed mid-stream.
	StreamErrored
)

func (p StreamPhase) String() string {
	switch p {
	case StreamStarted:
		return "started"
	case StreamStreaming:
		return "streaming"
	case StreamFinished:
		return "finished"
	case StreamStopped:
		return "stopped"
	case StreamErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// streamState tracks one streaming generation: the accumulated raw text and
// the phase transitions started -> streaming -> finished|stopped|errored.
// Terminal phases never transition again, so a late delta after an abort
// cannot resurrect the stream.
type streamState struct {
	mu    sync.Mutex
	phase StreamPhase
	raw   string
}

func newStreamState() *streamState {
	return &streamState{phase: StreamStarted}
}

// append applies a delta and returns the accumulated raw text. It returns
// false when the stream is already terminal and the delta must be dropped.
func (s *streamState) append(delta string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != StreamStarted && s.phase != StreamStreaming {
		return s.raw, false
	}
	s.phase = StreamStreaming
	s.raw += delta
	return s.raw, true
}

// finish moves the stream into a terminal phase. The first terminal phase
// wins.
func (s *streamState) finish(phase StreamPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == StreamStarted || s.phase == StreamStreaming {
		s.phase = phase
	}
}

// snapshot returns the current phase and accumulated text.
func (s *streamState) snapshot() (StreamPhase, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.raw
}
