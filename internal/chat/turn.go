// Package chat holds the conversation data model: turns, transcripts,
// characters, groups and the session state object that owns them.
package chat

import (
	"time"
)

// TurnExtra carries optional metadata attached to a turn.
type TurnExtra struct {
	Bias       string `json:"bias,omitempty"`
	Image      string `json:"image,omitempty"`
	ImageTitle string `json:"image_title,omitempty"`
	GenID      string `json:"gen_id,omitempty"`
	Type       string `json:"type,omitempty"`
}

// Turn is one transcript entry from the user, a character or the system.
//
// When Swipes is non-nil the entry at SwipeID mirrors Text; every mutation of
// Text for a swipe-bearing turn must go through SetText or the swipe helpers
// to keep that invariant.
type Turn struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	IsUser   bool      `json:"is_user"`
	IsSystem bool      `json:"is_system"`
	IsName   bool      `json:"is_name"`
	Text     string    `json:"mes"`
	SendDate time.Time `json:"send_date"`

	GenStarted  time.Time `json:"gen_started,omitempty"`
	GenFinished time.Time `json:"gen_finished,omitempty"`

	// OriginalAvatar records which group member authored this turn so a later
	// swipe can reactivate exactly that member.
	OriginalAvatar string `json:"original_avatar,omitempty"`

	SwipeID int      `json:"swipe_id"`
	Swipes  []string `json:"swipes,omitempty"`

	Extra TurnExtra `json:"extra,omitempty"`
}

// HasSwipes reports whether the turn carries alternate response variants.
func (t *Turn) HasSwipes() bool {
	return t.Swipes != nil
}

// EnsureSwipes lazily seeds the swipe set with the current text as slot 0.
func (t *Turn) EnsureSwipes() {
	if t.Swipes == nil {
		t.SwipeID = 0
		t.Swipes = []string{t.Text}
	}
}

// SetText updates the visible text, mirroring it into the selected swipe slot.
func (t *Turn) SetText(text string) {
	t.Text = text
	if t.Swipes != nil && t.SwipeID >= 0 && t.SwipeID < len(t.Swipes) {
		t.Swipes[t.SwipeID] = text
	}
}

// SelectSwipe moves the visible variant to index id. Returns false when the
// index is out of range.
func (t *Turn) SelectSwipe(id int) bool {
	if t.Swipes == nil || id < 0 || id >= len(t.Swipes) {
		return false
	}
	t.SwipeID = id
	t.Text = t.Swipes[id]
	return true
}

// AppendSwipe adds a new variant after the current newest slot and selects it.
func (t *Turn) AppendSwipe(text string) {
	t.EnsureSwipes()
	t.Swipes = append(t.Swipes, text)
	t.SwipeID = len(t.Swipes) - 1
	t.Text = text
}
