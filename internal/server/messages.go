package server

import (
	"time"

	"github.com/codefionn/personachat/internal/chat"
)

// Event types pushed to clients.
const (
	MessageTypeTurnAdded    = "turn_added"
	MessageTypeTurnUpdated  = "turn_updated"
	MessageTypeTruncated    = "transcript_truncated"
	MessageTypeStreamDelta  = "stream_delta"
	MessageTypeDraft        = "impersonate_draft"
	MessageTypeGenStarted   = "generation_started"
	MessageTypeGenEnded     = "generation_ended"
	MessageTypeError        = "error"
	MessageTypeOnlineStatus = "online_status"
)

// Command types accepted from clients.
const (
	CommandSend        = "send"
	CommandRegenerate  = "regenerate"
	CommandSwipeLeft   = "swipe_left"
	CommandSwipeRight  = "swipe_right"
	CommandImpersonate = "impersonate"
	CommandStop        = "stop"
	CommandDeleteLast  = "delete_last"
)

// WebMessage is the envelope for both directions of the WebSocket link.
type WebMessage struct {
	Type string `json:"type"`

	// Outgoing event payload.
	Index   int        `json:"index,omitempty"`
	Turn    *chat.Turn `json:"turn,omitempty"`
	Length  int        `json:"length,omitempty"`
	Text    string     `json:"text,omitempty"`
	GenType string     `json:"gen_type,omitempty"`
	Error   string     `json:"error,omitempty"`
	Online  bool       `json:"online,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}
