package engine

import "github.com/codefionn/personachat/internal/chat"

// Events receives transcript and generation lifecycle notifications. The web
// layer fans these out to connected clients; tests plug in recorders.
type Events interface {
	GenerationStarted(genType GenType)
	GenerationEnded(err error)

	TurnAdded(index int, t *chat.Turn)
	TurnUpdated(index int, t *chat.Turn)
	TranscriptTruncated(length int)

	// StreamDelta reports the cleaned in-progress text of the turn at index
	// during a streaming generation.
	StreamDelta(index int, text string)

	// ImpersonateDraft delivers user-voice text destined for the input box.
	ImpersonateDraft(text string)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) GenerationStarted(GenType)   {}
func (NopEvents) GenerationEnded(error)       {}
func (NopEvents) TurnAdded(int, *chat.Turn)   {}
func (NopEvents) TurnUpdated(int, *chat.Turn) {}
func (NopEvents) TranscriptTruncated(int)     {}
func (NopEvents) StreamDelta(int, string)     {}
func (NopEvents) ImpersonateDraft(string)     {}
