package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/personachat/internal/backend"
	"github.com/codefionn/personachat/internal/chat"
	"github.com/codefionn/personachat/internal/config"
	"github.com/codefionn/personachat/internal/logger"
	"github.com/codefionn/personachat/internal/prompt"
)

// mergeMode selects how a reply lands in the transcript.
type mergeMode int

const (
	// mergeNormal appends a new reply turn.
	mergeNormal mergeMode = iota
	// mergeSwipe adds a new variant slot to the swipe target.
	mergeSwipe
	// mergeAppend concatenates a continuation chunk onto the newest turn.
	mergeAppend
	// mergeFinal replaces the newest turn's text with the fully cleaned
	// accumulated reply.
	mergeFinal
)

// genContext is the per-generation working state shared by the dispatch
// paths.
type genContext struct {
	opts    GenOptions
	cfg     *config.Config
	backend backend.Backend

	char    *chat.CharacterProfile
	persona chat.Persona

	cleaner   *Cleaner
	stops     []string
	asm       *prompt.AssembleInput
	forceName bool

	// magPrefix is the speaker marker prepended to accumulated raw output so
	// name extraction and cleanup see the text the way the model framed it.
	magPrefix string

	genStarted  time.Time
	swipeTarget *chat.Turn
}

// Generate runs one full generation: transcript preparation, prompt
// assembly, backend dispatch, reconciliation and the empty-reply retry loop.
// It returns the cleaned reply text (for quiet and impersonate callers).
func (e *Engine) Generate(ctx context.Context, opts GenOptions) (string, error) {
	if !e.session.TryBeginGeneration() {
		return "", ErrGenerationInProgress
	}
	return e.generateHolding(ctx, opts)
}

// generateHolding runs a generation on an already claimed generation slot and
// releases the claim when done. Callers that navigated the transcript under
// their own claim pass it through here instead of releasing and re-claiming.
func (e *Engine) generateHolding(ctx context.Context, opts GenOptions) (string, error) {
	events := e.eventSink()
	events.GenerationStarted(opts.Type)

	gctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	text, err := e.generateWithRetry(gctx, opts)

	cancel()
	e.mu.Lock()
	e.cancel = nil
	e.mu.Unlock()

	e.session.EndGeneration()
	events.GenerationEnded(err)
	return text, err
}

func (e *Engine) generateWithRetry(ctx context.Context, opts GenOptions) (string, error) {
	if e.session.ActiveCharacter() == nil {
		return "", ErrNoCharacterSelected
	}
	if !e.session.Online() {
		return "", ErrNotConnected
	}

	cfg := e.Config()
	b := e.Backend()
	bc := cfg.Backend(b.Name())
	if bc.Streaming && b.Name() == "textgen" && bc.StreamingURL == "" {
		return "", ErrStreamingURLMissing
	}

	bias, biasSeen := prompt.ExtractBias(opts.UserInput)

	switch opts.Type {
	case GenNormal:
		if strings.TrimSpace(opts.UserInput) != "" || biasSeen {
			t := e.session.AppendUserTurn(opts.UserInput, bias)
			e.notifyTurnAdded(e.session.Transcript().Len()-1, t)
			e.save()
		}
	case GenRegenerate:
		tr := e.session.Transcript()
		trimmed := false
		for {
			last := tr.Last()
			if last == nil || last.IsUser || last.IsSystem {
				break
			}
			tr.DeleteLast()
			trimmed = true
		}
		if trimmed {
			e.notifyTruncated(tr.Len())
		}
	}

	// Without fresh bias markup the latest user message's stored bias carries
	// forward; bare braces in the input cancel it.
	promptBias := bias
	if !biasSeen {
		promptBias = e.inheritedBias()
	}

	forceName := opts.ForceName
	for attempt := 0; ; attempt++ {
		text, err := e.generateOnce(ctx, opts, promptBias, forceName)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, errEmptyReply) {
			return "", err
		}
		if attempt+1 > MaxGenerationLoops {
			logger.Error("no usable reply after %d attempts, giving up", attempt+1)
			return "", ErrCouldNotExtractReply
		}

		logger.Warn("reply was empty after cleanup, retrying with forced speaker prefix (attempt %d)", attempt+1)
		forceName = true
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt+1) * e.retryDelay):
		}
	}
}

func (e *Engine) generateOnce(ctx context.Context, opts GenOptions, promptBias string, forceName bool) (string, error) {
	cfg := e.Config()
	b := e.Backend()

	char := e.session.ActiveCharacter()
	if char == nil {
		return "", ErrNoCharacterSelected
	}
	persona := chat.Persona{UserName: e.session.UserName(), CharName: char.Name}

	tr := e.session.Transcript()
	core := tr.Core()
	coreLen := len(core)

	// A swipe regenerates the newest reply, so it leaves the prompt.
	var swipeTarget *chat.Turn
	if opts.Type == GenSwipe {
		if n := len(core); n > 0 && !core[n-1].IsUser && !core[n-1].IsSystem {
			swipeTarget = core[n-1]
			core = core[:n-1]
		}
	}

	frag := prompt.Build(prompt.BuildInput{
		Turns:                core,
		Character:            char,
		Persona:              persona,
		ScenarioOverride:     e.session.ScenarioOverride(),
		IsGroup:              opts.IsGroup,
		Formatting:           cfg.Formatting,
		Instruct:             cfg.Instruct,
		ForcedExampleHeading: b.ForcedExampleHeading(),
	})

	e.mu.Lock()
	world := e.world
	e.mu.Unlock()

	impersonate := opts.impersonate()

	fitIn := &prompt.FitInput{
		Fragments:   frag,
		WorldInfo:   world.Lookup(frag.HistoryLines),
		Anchors:     e.anchors,
		Persona:     persona,
		Bias:        promptBias,
		QuietPrompt: prompt.Substitute(opts.QuietPrompt, persona),
		Ceiling:     b.ContextCeiling(cfg.Sampling),
		Padding:     cfg.Formatting.TokenPadding,
		PinExamples: cfg.Formatting.PinExamples,
	}
	fitRes := e.fitter.Fit(fitIn)

	forceCharName := !impersonate &&
		(forceName || cfg.Formatting.AlwaysForceName || (opts.IsGroup && !opts.quiet()))

	stops := prompt.StopStrings(prompt.StopStringInput{
		Persona:          persona,
		OtherMemberNames: opts.GroupMembers,
		Instruct:         cfg.Instruct,
		Impersonate:      impersonate,
	})

	magPrefix := persona.CharName + ": "
	if impersonate {
		magPrefix = persona.UserName + ": "
	}

	g := &genContext{
		opts:    opts,
		cfg:     cfg,
		backend: b,
		char:    char,
		persona: persona,
		cleaner: &Cleaner{
			Persona:          persona,
			Formatting:       cfg.Formatting,
			Instruct:         cfg.Instruct,
			OtherMemberNames: opts.GroupMembers,
			StopStrings:      stops,
		},
		stops:     stops,
		forceName: forceCharName,
		magPrefix: magPrefix,
		asm: &prompt.AssembleInput{
			Fit:            fitIn,
			Res:            fitRes,
			Formatting:     cfg.Formatting,
			Instruct:       cfg.Instruct,
			CoreLen:        coreLen,
			UserInputEmpty: strings.TrimSpace(opts.UserInput) == "",
			ForceCharName:  forceCharName,
			Impersonate:    impersonate,
			FirstCycle:     true,
		},
		genStarted:  time.Now(),
		swipeTarget: swipeTarget,
	}

	bc := cfg.Backend(b.Name())
	switch {
	case bc.Streaming && b.SupportsStreaming() && !opts.quiet():
		return e.runStreaming(ctx, g)
	case cfg.Multigen.Enabled && b.SupportsMultigen() && !opts.quiet():
		return e.runMultigen(ctx, g)
	default:
		return e.runUnary(ctx, g)
	}
}

func (e *Engine) request(g *genContext, finalPrompt string, responseLength int) *backend.Request {
	return &backend.Request{
		Prompt:         finalPrompt,
		ResponseLength: responseLength,
		MaxContext:     g.cfg.Sampling.MaxContext,
		Sampling:       g.cfg.Sampling,
		StopSequences:  g.stops,
		Impersonate:    g.opts.impersonate(),
	}
}

func (e *Engine) runUnary(ctx context.Context, g *genContext) (string, error) {
	final := e.fitter.Assemble(g.asm)
	logger.Debug("dispatching prompt to %s (%d bytes)", g.backend.Name(), len(final))

	res, err := g.backend.Generate(ctx, e.request(g, final, g.cfg.Sampling.ResponseLength))
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	return e.finishReply(g, res.Text)
}

// finishReply reconciles a completed raw reply: speaker extraction, cleanup,
// the empty check and the transcript merge.
func (e *Engine) finishReply(g *genContext, raw string) (string, error) {
	impersonate := g.opts.impersonate()

	text, isName := extractName(raw, g.persona, g.forceName, impersonate)
	text = g.cleaner.Clean(text, impersonate)
	if strings.TrimSpace(text) == "" {
		return "", errEmptyReply
	}

	if impersonate {
		e.eventSink().ImpersonateDraft(text)
		return text, nil
	}
	if g.opts.quiet() {
		return text, nil
	}

	e.mergeReply(g, mergeModeFor(g.opts.Type), text, isName)
	e.save()
	return text, nil
}

func (e *Engine) runMultigen(ctx context.Context, g *genContext) (string, error) {
	rb := e.snapshotTranscript(g)
	impersonate := g.opts.impersonate()
	responseLength := g.cfg.Sampling.ResponseLength

	mag := g.magPrefix
	tokensGenerated := 0
	merged := false

	for {
		chunk := responseLength - tokensGenerated
		if tokensGenerated == 0 {
			if g.cfg.Multigen.FirstChunk < chunk {
				chunk = g.cfg.Multigen.FirstChunk
			}
		} else if g.cfg.Multigen.NextChunks < chunk {
			chunk = g.cfg.Multigen.NextChunks
		}
		if chunk <= 0 {
			break
		}

		g.asm.FirstCycle = tokensGenerated == 0
		if !g.asm.FirstCycle {
			g.asm.GeneratedSoFar = mag
		}
		final := e.fitter.Assemble(g.asm)

		res, err := g.backend.Generate(ctx, e.request(g, final, chunk))
		if err != nil {
			if !merged {
				e.restoreTranscript(rb)
			}
			return "", fmt.Errorf("generation failed: %w", err)
		}
		raw := res.Text
		mag += raw

		if impersonate {
			draft, _ := extractName(g.cleaner.Clean(mag, true), g.persona, g.forceName, true)
			e.eventSink().ImpersonateDraft(draft)
		} else {
			cycleText, isName := extractName(raw, g.persona, g.forceName, false)
			if tokensGenerated == 0 {
				e.mergeReply(g, mergeModeFor(g.opts.Type), cycleText, isName)
			} else {
				e.mergeReply(g, mergeAppend, cycleText, isName)
			}
			merged = true
		}

		if !shouldContinueMultigen(mag, raw, g.persona, g.cfg.Instruct, impersonate, tokensGenerated, responseLength) {
			break
		}
		tokensGenerated += chunk
		logger.Debug("multigen continues at %d/%d tokens", tokensGenerated, responseLength)
	}

	full := strings.TrimPrefix(mag, g.magPrefix)
	text, isName := extractName(full, g.persona, g.forceName, impersonate)
	text = g.cleaner.Clean(text, impersonate)
	if strings.TrimSpace(text) == "" {
		e.restoreTranscript(rb)
		return "", errEmptyReply
	}

	if impersonate {
		e.eventSink().ImpersonateDraft(text)
		return text, nil
	}

	e.mergeReply(g, mergeFinal, text, isName)
	e.save()
	return text, nil
}

func (e *Engine) runStreaming(ctx context.Context, g *genContext) (string, error) {
	state := newStreamState()
	e.mu.Lock()
	e.stream = state
	e.mu.Unlock()

	rb := e.snapshotTranscript(g)
	impersonate := g.opts.impersonate()

	var target *chat.Turn
	targetIdx := -1
	if !impersonate {
		target = e.mergeReply(g, mergeModeFor(g.opts.Type), "", true)
		targetIdx = e.session.Transcript().Len() - 1
	}

	final := e.fitter.Assemble(g.asm)
	logger.Debug("streaming prompt to %s (%d bytes)", g.backend.Name(), len(final))

	err := g.backend.GenerateStream(ctx, e.request(g, final, g.cfg.Sampling.ResponseLength),
		func(delta string) error {
			raw, ok := state.append(delta)
			if !ok {
				return context.Canceled
			}

			text, _ := extractName(g.magPrefix+raw, g.persona, g.forceName, impersonate)
			text = g.cleaner.Clean(text, impersonate)

			if impersonate {
				e.eventSink().ImpersonateDraft(text)
			} else {
				target.SetText(text)
				e.eventSink().StreamDelta(targetIdx, text)
			}
			return nil
		})

	_, raw := state.snapshot()
	text, isName := extractName(g.magPrefix+raw, g.persona, g.forceName, impersonate)
	text = g.cleaner.Clean(text, impersonate)

	if err != nil {
		aborted := errors.Is(err, context.Canceled) || ctx.Err() != nil
		if aborted {
			state.finish(StreamStopped)
		} else {
			state.finish(StreamErrored)
		}

		// Nothing usable arrived: drop the placeholder turn.
		if strings.TrimSpace(text) == "" {
			e.restoreTranscript(rb)
			if aborted {
				return "", context.Canceled
			}
			return "", fmt.Errorf("streaming failed: %w", err)
		}

		// Keep the partial reply.
		if !impersonate {
			e.mergeReply(g, mergeFinal, text, isName)
			e.save()
		}
		if aborted {
			return text, nil
		}
		return text, fmt.Errorf("streaming failed: %w", err)
	}

	state.finish(StreamFinished)

	if strings.TrimSpace(text) == "" {
		e.restoreTranscript(rb)
		return "", errEmptyReply
	}
	if impersonate {
		e.eventSink().ImpersonateDraft(text)
		return text, nil
	}

	e.mergeReply(g, mergeFinal, text, isName)
	e.save()
	return text, nil
}

func mergeModeFor(t GenType) mergeMode {
	if t == GenSwipe {
		return mergeSwipe
	}
	return mergeNormal
}

// mergeReply applies text to the transcript under the merge mode and returns
// the affected turn.
func (e *Engine) mergeReply(g *genContext, mode mergeMode, text string, isName bool) *chat.Turn {
	tr := e.session.Transcript()
	now := time.Now()

	switch mode {
	case mergeNormal:
		t := &chat.Turn{
			ID:          uuid.NewString(),
			Name:        g.persona.CharName,
			IsName:      isName,
			Text:        text,
			SendDate:    now,
			GenStarted:  g.genStarted,
			GenFinished: now,
			SwipeID:     -1,
		}
		if g.opts.GenID != "" {
			t.Extra.GenID = g.opts.GenID
		}
		if g.opts.IsGroup {
			t.OriginalAvatar = g.char.Avatar
		}
		tr.Append(t)
		e.notifyTurnAdded(tr.Len()-1, t)
		return t

	case mergeSwipe:
		t := g.swipeTarget
		if t == nil {
			return e.mergeReply(g, mergeNormal, text, isName)
		}
		t.EnsureSwipes()
		wasNewest := t.SwipeID == len(t.Swipes)-1
		t.Swipes = append(t.Swipes, text)
		if wasNewest {
			t.SwipeID = len(t.Swipes) - 1
			t.Text = text
			t.GenStarted = g.genStarted
			t.GenFinished = now
		}
		e.notifyTurnUpdated(tr.Len()-1, t)
		return t

	case mergeAppend:
		t := tr.Last()
		if t == nil {
			return e.mergeReply(g, mergeNormal, text, isName)
		}
		t.SetText(t.Text + text)
		t.GenFinished = now
		e.notifyTurnUpdated(tr.Len()-1, t)
		return t

	default: // mergeFinal
		t := tr.Last()
		if t == nil {
			return e.mergeReply(g, mergeNormal, text, isName)
		}
		t.SetText(text)
		t.IsName = t.IsName || isName
		t.GenFinished = now
		e.notifyTurnUpdated(tr.Len()-1, t)
		return t
	}
}

// inheritedBias returns the bias stored on the latest user message.
func (e *Engine) inheritedBias() string {
	turns := e.session.Transcript().Turns()
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].IsUser {
			return turns[i].Extra.Bias
		}
	}
	return ""
}

// transcriptSnapshot records enough state to undo partial merges when a
// chunked or streamed generation ends up empty.
type transcriptSnapshot struct {
	length int

	swipe      *chat.Turn
	swipeCount int
	swipeID    int
	swipeText  string
}

func (e *Engine) snapshotTranscript(g *genContext) transcriptSnapshot {
	s := transcriptSnapshot{length: e.session.Transcript().Len()}
	if t := g.swipeTarget; t != nil {
		s.swipe = t
		s.swipeCount = len(t.Swipes)
		s.swipeID = t.SwipeID
		s.swipeText = t.Text
	}
	return s
}

func (e *Engine) restoreTranscript(s transcriptSnapshot) {
	tr := e.session.Transcript()
	if tr.Len() > s.length {
		tr.TruncateTo(s.length)
		e.notifyTruncated(s.length)
	}
	if s.swipe != nil {
		if len(s.swipe.Swipes) > s.swipeCount {
			s.swipe.Swipes = s.swipe.Swipes[:s.swipeCount]
		}
		s.swipe.SwipeID = s.swipeID
		s.swipe.Text = s.swipeText
	}
}
