// Package group schedules multi-character conversations: it activates the
// responding members for a turn and runs their generations one after another.
package group

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/personachat/internal/chat"
	"github.com/codefionn/personachat/internal/engine"
	"github.com/codefionn/personachat/internal/logger"
)

var (
	// ErrNoGroupSelected is returned when a group command runs in a 1:1 chat.
	ErrNoGroupSelected = errors.New("no group selected")

	// ErrMemberMissing is returned when a swipe targets a turn whose author
	// has been removed from the character roster.
	ErrMemberMissing = errors.New("the character who authored this message no longer exists")
)

// TriggerOptions parameterizes one group turn.
type TriggerOptions struct {
	Type      engine.GenType
	UserInput string

	// AutoMode marks ticks from the idle worker; they activate at most one
	// member, keyed off the last message instead of fresh input.
	AutoMode bool
}

// Scheduler runs group turns. Member generations are strictly serialized:
// each member's engine call completes (or fails) before the next member is
// considered, so a shared group chat never interleaves replies.
type Scheduler struct {
	session *chat.Session
	engine  *engine.Engine
	events  engine.Events

	mu         sync.Mutex
	generating bool
	rng        *rand.Rand

	autoStop chan struct{}
}

// NewScheduler creates a scheduler driving the engine.
func NewScheduler(session *chat.Session, eng *engine.Engine) *Scheduler {
	return &Scheduler{
		session: session,
		engine:  eng,
		events:  engine.NopEvents{},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetEvents installs the notification sink for scheduler-added turns.
func (s *Scheduler) SetEvents(ev engine.Events) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev == nil {
		ev = engine.NopEvents{}
	}
	s.events = ev
}

// Generating reports whether a group turn is running.
func (s *Scheduler) Generating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating
}

// Trigger runs one group turn: member activation, then one serialized engine
// generation per activated member. Every new reply is tagged with a shared
// generation id so the whole turn can be regenerated later.
func (s *Scheduler) Trigger(ctx context.Context, opts TriggerOptions) error {
	g := s.session.ActiveGroup()
	if g == nil {
		return ErrNoGroupSelected
	}

	s.mu.Lock()
	if s.generating {
		s.mu.Unlock()
		return engine.ErrGenerationInProgress
	}
	s.generating = true
	s.mu.Unlock()

	defer func() {
		s.session.SetActiveSpeaker("")
		s.mu.Lock()
		s.generating = false
		s.mu.Unlock()
	}()

	members := s.resolveMembers(g)
	if len(members) == 0 {
		t := s.session.AppendSystemTurn("empty_group", chat.SystemMessageEmptyGroup)
		s.events.TurnAdded(s.session.Transcript().Len()-1, t)
		return nil
	}

	if opts.Type == engine.GenRegenerate {
		s.trimLastGeneration()
		opts.Type = engine.GenNormal
		opts.UserInput = ""
	}

	activated, err := s.activate(g, members, opts)
	if err != nil {
		return err
	}
	genID := uuid.NewString()

	for i, member := range activated {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.session.SetActiveSpeaker(member.ID)
		genOpts := engine.GenOptions{
			Type:         opts.Type,
			ForceName:    true,
			IsGroup:      true,
			GroupMembers: otherNames(members, member),
			GenID:        genID,
		}
		// The outgoing user message enters the transcript with the first
		// member's generation; later members already see it as history.
		if i == 0 {
			genOpts.UserInput = opts.UserInput
		} else {
			genOpts.Type = engine.GenNormal
		}

		logger.Debug("group turn: %s speaks (%d/%d)", member.Name, i+1, len(activated))
		if _, err := s.engine.Generate(ctx, genOpts); err != nil {
			return fmt.Errorf("group member %s failed: %w", member.Name, err)
		}
	}
	return nil
}

// activate picks the responding members for this trigger.
func (s *Scheduler) activate(g *chat.GroupDefinition, members []*chat.CharacterProfile, opts TriggerOptions) ([]*chat.CharacterProfile, error) {
	switch opts.Type {
	case engine.GenSwipe:
		m, err := s.swipeAuthor(members)
		if err != nil {
			return nil, err
		}
		return []*chat.CharacterProfile{m}, nil

	case engine.GenImpersonate:
		s.mu.Lock()
		m := members[s.rng.Intn(len(members))]
		s.mu.Unlock()
		return []*chat.CharacterProfile{m}, nil
	}

	if g.ActivationStrategy == chat.ActivationList {
		return activateList(members), nil
	}

	input := opts.UserInput
	if opts.AutoMode {
		if last := s.session.Transcript().Last(); last != nil {
			input = last.Text
		}
	}

	s.mu.Lock()
	activated := activateNatural(members, input, s.lastSpeaker(), g.AllowSelfResponses, s.rng)
	s.mu.Unlock()

	if opts.AutoMode && len(activated) > 1 {
		activated = activated[:1]
	}
	return activated, nil
}

// swipeAuthor finds the member who authored the newest reply, preferring the
// recorded avatar over the display name.
func (s *Scheduler) swipeAuthor(members []*chat.CharacterProfile) (*chat.CharacterProfile, error) {
	last := s.session.Transcript().Last()
	if last == nil || last.IsUser || last.IsSystem {
		return nil, ErrMemberMissing
	}

	if last.OriginalAvatar != "" {
		for _, m := range members {
			if m.Avatar == last.OriginalAvatar {
				return m, nil
			}
		}
	}
	for _, m := range members {
		if m.Name == last.Name {
			return m, nil
		}
	}
	return nil, ErrMemberMissing
}

// lastSpeaker returns the name of the member who wrote the newest reply.
func (s *Scheduler) lastSpeaker() string {
	last := s.session.Transcript().Last()
	if last == nil || last.IsUser || last.IsSystem {
		return ""
	}
	return last.Name
}

// trimLastGeneration removes the trailing replies that share the newest
// generation id so the whole group turn regenerates together.
func (s *Scheduler) trimLastGeneration() {
	tr := s.session.Transcript()
	last := tr.Last()
	if last == nil || last.IsUser || last.IsSystem {
		return
	}

	genID := last.Extra.GenID
	trimmed := false
	for {
		t := tr.Last()
		if t == nil || t.IsUser || t.IsSystem || t.Extra.GenID != genID {
			break
		}
		tr.DeleteLast()
		trimmed = true
		if genID == "" {
			// Untagged replies regenerate one at a time.
			break
		}
	}
	if trimmed {
		s.events.TranscriptTruncated(tr.Len())
	}
}

func (s *Scheduler) resolveMembers(g *chat.GroupDefinition) []*chat.CharacterProfile {
	out := make([]*chat.CharacterProfile, 0, len(g.Members))
	for _, id := range g.Members {
		if c := s.session.Character(id); c != nil {
			out = append(out, c)
		}
	}
	return out
}

func otherNames(members []*chat.CharacterProfile, speaker *chat.CharacterProfile) []string {
	out := make([]string, 0, len(members)-1)
	for _, m := range members {
		if m.ID != speaker.ID {
			out = append(out, m.Name)
		}
	}
	return out
}

// StartAutoMode launches the idle worker: while the active group has auto
// mode enabled, an idle session gets a fresh group turn every interval.
func (s *Scheduler) StartAutoMode(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	if s.autoStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.autoStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.autoModeTick(ctx)
			}
		}
	}()
}

// StopAutoMode stops the idle worker.
func (s *Scheduler) StopAutoMode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.autoStop != nil {
		close(s.autoStop)
		s.autoStop = nil
	}
}

func (s *Scheduler) autoModeTick(ctx context.Context) {
	g := s.session.ActiveGroup()
	if g == nil || !g.AutoMode {
		return
	}
	if !s.session.Online() || s.session.Generating() || s.Generating() {
		return
	}

	if err := s.Trigger(ctx, TriggerOptions{Type: engine.GenNormal, AutoMode: true}); err != nil {
		logger.Warn("auto mode turn failed: %v", err)
	}
}
