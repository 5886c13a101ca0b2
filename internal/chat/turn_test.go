package chat

import "testing"

func TestEnsureSwipesSeedsCurrentText(t *testing.T) {
	turn := &Turn{Text: "hello", SwipeID: -1}

	turn.EnsureSwipes()
	if turn.SwipeID != 0 || len(turn.Swipes) != 1 || turn.Swipes[0] != "hello" {
		t.Fatalf("unexpected swipe seed: %+v", turn)
	}

	// Idempotent.
	turn.EnsureSwipes()
	if len(turn.Swipes) != 1 {
		t.Fatalf("EnsureSwipes must not reseed, got %v", turn.Swipes)
	}
}

func TestSetTextMirrorsSelectedSlot(t *testing.T) {
	turn := &Turn{Text: "hello", SwipeID: -1}
	turn.EnsureSwipes()
	turn.AppendSwipe("variant")

	turn.SetText("variant edited")
	if turn.Swipes[1] != "variant edited" {
		t.Fatalf("slot not mirrored: %v", turn.Swipes)
	}
	if turn.Swipes[0] != "hello" {
		t.Fatalf("other slots must not change: %v", turn.Swipes)
	}
}

func TestSelectSwipeBounds(t *testing.T) {
	turn := &Turn{Text: "a", SwipeID: -1}
	turn.EnsureSwipes()
	turn.AppendSwipe("b")

	if !turn.SelectSwipe(0) || turn.Text != "a" {
		t.Fatalf("select 0 failed: %+v", turn)
	}
	if turn.SelectSwipe(2) {
		t.Fatal("out-of-range select must fail")
	}
	if turn.Text != "a" || turn.SwipeID != 0 {
		t.Fatalf("failed select must not change state: %+v", turn)
	}
}

func TestTranscriptCoreSkipsSystemTurns(t *testing.T) {
	tr := NewTranscript(
		&Turn{Text: "hi", IsUser: true},
		&Turn{Text: "notice", IsSystem: true},
		&Turn{Text: "hello"},
	)

	core := tr.Core()
	if len(core) != 2 {
		t.Fatalf("core = %d turns, want 2", len(core))
	}
	for _, turn := range core {
		if turn.IsSystem {
			t.Fatal("system turns must not enter the prompt core")
		}
	}
}

func TestTranscriptTruncateTo(t *testing.T) {
	tr := NewTranscript(&Turn{Text: "a"}, &Turn{Text: "b"}, &Turn{Text: "c"})

	tr.TruncateTo(1)
	if tr.Len() != 1 || tr.Last().Text != "a" {
		t.Fatalf("unexpected transcript after truncate: %d", tr.Len())
	}

	tr.TruncateTo(-1)
	if tr.Len() != 0 {
		t.Fatalf("negative truncate clears, got %d", tr.Len())
	}
}

func TestSessionGenerationGate(t *testing.T) {
	s := NewSession("Bob")

	if !s.TryBeginGeneration() {
		t.Fatal("first claim must succeed")
	}
	if s.TryBeginGeneration() {
		t.Fatal("second claim must fail while the first is held")
	}
	s.EndGeneration()
	if !s.TryBeginGeneration() {
		t.Fatal("claim must succeed after release")
	}
	s.EndGeneration()
}

func TestSessionSelectGroupClearsCharacter(t *testing.T) {
	s := NewSession("Bob")
	cid := s.AddCharacter(&CharacterProfile{Name: "Eve"})
	gid := s.AddGroup(&GroupDefinition{Name: "duo", Members: []string{cid}})

	s.SelectCharacter(cid)
	s.SelectGroup(gid)

	if s.ActiveCharacter() != nil {
		t.Fatal("selecting a group leaves 1:1 mode")
	}
	if s.ActiveGroup() == nil {
		t.Fatal("group not active")
	}

	// The scheduler pins members as active speaker without leaving the group.
	s.SetActiveSpeaker(cid)
	if s.ActiveCharacter() == nil || s.ActiveGroup() == nil {
		t.Fatal("active speaker and group must coexist")
	}
}

func TestTalkativenessOrDefault(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0, DefaultTalkativeness},
		{-1, DefaultTalkativeness},
		{1.5, DefaultTalkativeness},
		{0.3, 0.3},
		{1.0, 1.0},
	}
	for _, c := range cases {
		p := &CharacterProfile{Talkativeness: c.in}
		if got := p.TalkativenessOrDefault(); got != c.want {
			t.Fatalf("TalkativenessOrDefault(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
