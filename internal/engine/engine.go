// Package engine orchestrates generation: it turns commands into prompt
// builds, dispatches them to the active backend, reconciles replies into the
// transcript and enforces the single-generation discipline.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/personachat/internal/backend"
	"github.com/codefionn/personachat/internal/chat"
	"github.com/codefionn/personachat/internal/config"
	"github.com/codefionn/personachat/internal/prompt"
	"github.com/codefionn/personachat/internal/tokenizer"
)

// Engine drives the generation pipeline for one session.
type Engine struct {
	session *chat.Session
	fitter  *prompt.Fitter
	anchors *prompt.AnchorRegistry

	mu      sync.Mutex
	cfg     *config.Config
	backend backend.Backend
	world   prompt.WorldInfoProvider
	events  Events
	onSave  func()
	cancel  context.CancelFunc
	stream  *streamState

	// retryDelay scales the backoff between empty-reply retries.
	retryDelay time.Duration
}

// New creates an engine around the session, configuration and backend.
func New(session *chat.Session, cfg *config.Config, b backend.Backend, est tokenizer.Estimator) *Engine {
	return &Engine{
		session:    session,
		fitter:     prompt.NewFitter(est),
		anchors:    prompt.NewAnchorRegistry(),
		cfg:        cfg,
		backend:    b,
		world:      prompt.NullWorldInfo{},
		events:     NopEvents{},
		retryDelay: time.Second,
	}
}

// SetEvents installs the notification sink.
func (e *Engine) SetEvents(ev Events) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ev == nil {
		ev = NopEvents{}
	}
	e.events = ev
}

// SetWorldInfo installs the lore book provider.
func (e *Engine) SetWorldInfo(w prompt.WorldInfoProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w == nil {
		w = prompt.NullWorldInfo{}
	}
	e.world = w
}

// SetSaveHook installs the persistence trigger invoked after transcript
// mutations. Typically a debounced store save.
func (e *Engine) SetSaveHook(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSave = fn
}

// SetBackend swaps the active backend. Fails while a generation is running.
func (e *Engine) SetBackend(b backend.Backend) error {
	if !e.session.TryBeginGeneration() {
		return ErrGenerationInProgress
	}
	defer e.session.EndGeneration()

	e.mu.Lock()
	e.backend = b
	e.mu.Unlock()
	e.session.SetOnline(false)
	return nil
}

// Backend returns the active backend.
func (e *Engine) Backend() backend.Backend {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend
}

// SetConfig replaces the live configuration, e.g. after a file reload.
func (e *Engine) SetConfig(cfg *config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// Config returns the live configuration.
func (e *Engine) Config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Anchors returns the prompt anchor registry.
func (e *Engine) Anchors() *prompt.AnchorRegistry {
	return e.anchors
}

// Session returns the session this engine drives.
func (e *Engine) Session() *chat.Session {
	return e.session
}

// Connect pings the backend and flips the session online on success.
func (e *Engine) Connect(ctx context.Context) error {
	b := e.Backend()
	if err := b.Ping(ctx); err != nil {
		e.session.SetOnline(false)
		return err
	}
	e.session.SetOnline(true)
	return nil
}

// Abort cancels the in-flight generation, if any. Partial streamed text stays
// in the transcript.
func (e *Engine) Abort() {
	e.mu.Lock()
	cancel := e.cancel
	stream := e.stream
	e.mu.Unlock()

	if stream != nil {
		stream.finish(StreamStopped)
	}
	if cancel != nil {
		cancel()
	}
}

// StreamPhase reports the phase of the current (or last) streaming
// generation.
func (e *Engine) StreamPhase() StreamPhase {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil {
		return StreamFinished
	}
	phase, _ := e.stream.snapshot()
	return phase
}

// Send appends the user message and generates the reply.
func (e *Engine) Send(ctx context.Context, text string) error {
	_, err := e.Generate(ctx, GenOptions{Type: GenNormal, UserInput: text})
	return err
}

// Regenerate discards the newest reply turns and generates a replacement.
func (e *Engine) Regenerate(ctx context.Context) error {
	_, err := e.Generate(ctx, GenOptions{Type: GenRegenerate})
	return err
}

// Impersonate generates a message in the user's voice and returns it as a
// draft without touching the transcript.
func (e *Engine) Impersonate(ctx context.Context) (string, error) {
	return e.Generate(ctx, GenOptions{Type: GenImpersonate})
}

// Quiet runs an off-transcript generation with quietPrompt as the hidden
// final user line and returns the cleaned reply.
func (e *Engine) Quiet(ctx context.Context, quietPrompt string) (string, error) {
	return e.Generate(ctx, GenOptions{Type: GenQuiet, QuietPrompt: quietPrompt})
}

// SwipeLeft selects the previous variant of the newest turn.
func (e *Engine) SwipeLeft() error {
	if !e.session.TryBeginGeneration() {
		return ErrGenerationInProgress
	}
	defer e.session.EndGeneration()

	tr := e.session.Transcript()
	last := tr.Last()
	if last == nil || !last.HasSwipes() || last.SwipeID <= 0 {
		return nil
	}
	last.SelectSwipe(last.SwipeID - 1)
	e.notifyTurnUpdated(tr.Len()-1, last)
	e.save()
	return nil
}

// SwipeRight moves the newest turn to the next variant, generating a fresh
// one when the user swipes past the newest slot. Returns whether a generation
// ran.
func (e *Engine) SwipeRight(ctx context.Context) (bool, error) {
	if !e.session.TryBeginGeneration() {
		return false, ErrGenerationInProgress
	}

	tr := e.session.Transcript()
	last := tr.Last()
	if last == nil || last.IsUser || last.IsSystem {
		e.session.EndGeneration()
		return false, nil
	}

	last.EnsureSwipes()
	if last.SwipeID+1 < len(last.Swipes) {
		last.SelectSwipe(last.SwipeID + 1)
		e.notifyTurnUpdated(tr.Len()-1, last)
		e.save()
		e.session.EndGeneration()
		return false, nil
	}
	// The claim taken above carries into the generation, closing the window
	// where another command could slip in between navigation and generation.
	_, err := e.generateHolding(ctx, GenOptions{Type: GenSwipe})
	return true, err
}

// EditTurn replaces the text of the turn at index, keeping the swipe mirror
// intact.
func (e *Engine) EditTurn(index int, text string) error {
	if !e.session.TryBeginGeneration() {
		return ErrGenerationInProgress
	}
	defer e.session.EndGeneration()

	tr := e.session.Transcript()
	t := tr.At(index)
	if t == nil {
		return nil
	}
	t.SetText(text)
	e.notifyTurnUpdated(index, t)
	e.save()
	return nil
}

// DeleteLastTurn removes the newest turn.
func (e *Engine) DeleteLastTurn() error {
	if !e.session.TryBeginGeneration() {
		return ErrGenerationInProgress
	}
	defer e.session.EndGeneration()

	tr := e.session.Transcript()
	if tr.Len() == 0 {
		return nil
	}
	tr.DeleteLast()
	e.notifyTruncated(tr.Len())
	e.save()
	return nil
}

// StartChat activates the character and seeds an empty transcript with its
// greeting, persona placeholders substituted.
func (e *Engine) StartChat(characterID string) error {
	if !e.session.TryBeginGeneration() {
		return ErrGenerationInProgress
	}
	defer e.session.EndGeneration()

	c := e.session.Character(characterID)
	if c == nil {
		return ErrNoCharacterSelected
	}
	e.session.SelectCharacter(characterID)

	tr := e.session.Transcript()
	tr.Reset(nil)
	e.notifyTruncated(0)

	if strings.TrimSpace(c.FirstMessage) != "" {
		persona := chat.Persona{UserName: e.session.UserName(), CharName: c.Name}
		greeting := &chat.Turn{
			ID:       uuid.NewString(),
			Name:     c.Name,
			IsName:   true,
			Text:     prompt.Substitute(c.FirstMessage, persona),
			SendDate: time.Now(),
			SwipeID:  -1,
		}
		tr.Append(greeting)
		e.notifyTurnAdded(tr.Len()-1, greeting)
	}
	e.save()
	return nil
}

func (e *Engine) eventSink() Events {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

func (e *Engine) notifyTurnAdded(index int, t *chat.Turn) {
	e.eventSink().TurnAdded(index, t)
}

func (e *Engine) notifyTurnUpdated(index int, t *chat.Turn) {
	e.eventSink().TurnUpdated(index, t)
}

func (e *Engine) notifyTruncated(length int) {
	e.eventSink().TranscriptTruncated(length)
}

func (e *Engine) save() {
	e.mu.Lock()
	fn := e.onSave
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}
