package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session owns all mutable conversation state. Every component reads and
// writes through its methods instead of touching shared variables; the mutex
// makes transcript mutation safe now that callers run on real goroutines.
//
// Generation remains logically single-writer: TryBeginGeneration gates the
// pipeline so at most one generation mutates the transcript at a time.
type Session struct {
	mu sync.Mutex

	transcript *Transcript
	characters map[string]*CharacterProfile
	groups     map[string]*GroupDefinition

	activeCharID string
	activeGroup  string
	userName     string

	// scenarioOverride replaces the character's scenario for this chat.
	scenarioOverride string

	online     bool
	generating bool
}

// NewSession creates an empty session for the named user.
func NewSession(userName string) *Session {
	return &Session{
		transcript: NewTranscript(),
		characters: map[string]*CharacterProfile{},
		groups:     map[string]*GroupDefinition{},
		userName:   userName,
		online:     true,
	}
}

// Transcript returns the live transcript. Mutations must happen while a
// generation claim is held or through Session mutators.
func (s *Session) Transcript() *Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// AddCharacter registers a character, assigning an id when absent.
func (s *Session) AddCharacter(c *CharacterProfile) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.characters[c.ID] = c
	return c.ID
}

// Character looks up a character by id.
func (s *Session) Character(id string) *CharacterProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.characters[id]
}

// CharacterByName returns the first character whose name matches.
func (s *Session) CharacterByName(name string) *CharacterProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.characters {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// AddGroup registers a group, assigning an id when absent.
func (s *Session) AddGroup(g *GroupDefinition) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	s.groups[g.ID] = g
	return g.ID
}

// Group looks up a group by id.
func (s *Session) Group(id string) *GroupDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[id]
}

// SelectCharacter makes the character the active speaker and leaves any group.
func (s *Session) SelectCharacter(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeCharID = id
	s.activeGroup = ""
}

// SelectGroup activates a group conversation.
func (s *Session) SelectGroup(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeGroup = id
	s.activeCharID = ""
}

// SetActiveSpeaker pins the character that speaks for the next generation.
// Used by the group scheduler while cycling members.
func (s *Session) SetActiveSpeaker(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeCharID = id
}

// ActiveCharacter returns the character currently set to speak, or nil.
func (s *Session) ActiveCharacter() *CharacterProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeCharID == "" {
		return nil
	}
	return s.characters[s.activeCharID]
}

// ActiveGroup returns the selected group, or nil for 1:1 chats.
func (s *Session) ActiveGroup() *GroupDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeGroup == "" {
		return nil
	}
	return s.groups[s.activeGroup]
}

// UserName returns the persona user name.
func (s *Session) UserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userName
}

// SetUserName updates the persona user name.
func (s *Session) SetUserName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userName = name
}

// ScenarioOverride returns the per-chat scenario override.
func (s *Session) ScenarioOverride() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scenarioOverride
}

// SetScenarioOverride sets the per-chat scenario override.
func (s *Session) SetScenarioOverride(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarioOverride = v
}

// Online reports whether a backend connection is established.
func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline updates the backend connection status.
func (s *Session) SetOnline(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = v
}

// TryBeginGeneration claims the single generation slot. It returns false when
// another generation is already in flight.
func (s *Session) TryBeginGeneration() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generating {
		return false
	}
	s.generating = true
	return true
}

// EndGeneration releases the generation slot.
func (s *Session) EndGeneration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generating = false
}

// Generating reports whether a generation is in flight.
func (s *Session) Generating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating
}

// AppendUserTurn appends a user message and returns it.
func (s *Session) AppendUserTurn(text, bias string) *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Turn{
		ID:       uuid.NewString(),
		Name:     s.userName,
		IsUser:   true,
		IsName:   true,
		Text:     text,
		SendDate: time.Now(),
		SwipeID:  -1,
	}
	if bias != "" {
		t.Extra.Bias = bias
	}
	s.transcript.Append(t)
	return t
}

// AppendSystemTurn appends a system notice and returns it.
func (s *Session) AppendSystemTurn(kind, text string) *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Turn{
		ID:       uuid.NewString(),
		Name:     "System",
		IsSystem: true,
		IsName:   true,
		Text:     text,
		SendDate: time.Now(),
		SwipeID:  -1,
	}
	t.Extra.Type = kind
	s.transcript.Append(t)
	return t
}

// SystemMessageEmptyGroup is emitted when generation runs in a memberless group.
const SystemMessageEmptyGroup = "There is no one in the room but you. Add members to the group to get replies."
