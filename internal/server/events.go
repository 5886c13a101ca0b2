package server

import (
	"time"

	"github.com/codefionn/personachat/internal/chat"
	"github.com/codefionn/personachat/internal/engine"
)

// hubEvents bridges engine notifications onto the WebSocket hub.
type hubEvents struct {
	hub *Hub
}

func (h *hubEvents) GenerationStarted(genType engine.GenType) {
	h.hub.Broadcast(&WebMessage{
		Type:      MessageTypeGenStarted,
		GenType:   string(genType),
		Timestamp: time.Now(),
	})
}

func (h *hubEvents) GenerationEnded(err error) {
	msg := &WebMessage{Type: MessageTypeGenEnded, Timestamp: time.Now()}
	if err != nil {
		msg.Error = err.Error()
	}
	h.hub.Broadcast(msg)
}

func (h *hubEvents) TurnAdded(index int, t *chat.Turn) {
	h.hub.Broadcast(&WebMessage{
		Type:      MessageTypeTurnAdded,
		Index:     index,
		Turn:      t,
		Timestamp: time.Now(),
	})
}

func (h *hubEvents) TurnUpdated(index int, t *chat.Turn) {
	h.hub.Broadcast(&WebMessage{
		Type:      MessageTypeTurnUpdated,
		Index:     index,
		Turn:      t,
		Timestamp: time.Now(),
	})
}

func (h *hubEvents) TranscriptTruncated(length int) {
	h.hub.Broadcast(&WebMessage{
		Type:      MessageTypeTruncated,
		Length:    length,
		Timestamp: time.Now(),
	})
}

func (h *hubEvents) StreamDelta(index int, text string) {
	h.hub.Broadcast(&WebMessage{
		Type:      MessageTypeStreamDelta,
		Index:     index,
		Text:      text,
		Timestamp: time.Now(),
	})
}

func (h *hubEvents) ImpersonateDraft(text string) {
	h.hub.Broadcast(&WebMessage{
		Type:      MessageTypeDraft,
		Text:      text,
		Timestamp: time.Now(),
	})
}
