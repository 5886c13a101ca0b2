package engine

import (
	"testing"

	"github.com/codefionn/personachat/internal/chat"
	"github.com/codefionn/personachat/internal/config"
	"github.com/codefionn/personachat/internal/prompt"
)

// The user is Alice here on purpose: the stop-sequence truncation cases work
// on the user's name marker.
var cleanPersona = chat.Persona{UserName: "Alice", CharName: "Eve"}

func newCleaner(others ...string) *Cleaner {
	return &Cleaner{
		Persona:          cleanPersona,
		OtherMemberNames: others,
		StopStrings: prompt.StopStrings(prompt.StopStringInput{
			Persona:          cleanPersona,
			OtherMemberNames: others,
		}),
	}
}

func TestCleanTruncatesAtUserMarker(t *testing.T) {
	got := newCleaner().Clean("Hello there\nAlice: and then I said", false)
	if got != "Hello there" {
		t.Fatalf("Clean() = %q, want %q", got, "Hello there")
	}
}

func TestCleanKeepsInlineNameMention(t *testing.T) {
	// No newline before the name, so this is content, not a turn marker.
	got := newCleaner().Clean("Hi there, Alice:", false)
	if got != "Hi there, Alice:" {
		t.Fatalf("Clean() = %q, want input unchanged", got)
	}
}

func TestCleanPartialStopSuffix(t *testing.T) {
	got := newCleaner().Clean("Good morning!\nAlic", false)
	if got != "Good morning!" {
		t.Fatalf("partial stop sequence at the tail must truncate, got %q", got)
	}
}

func TestCleanEmptyWhenOnlyUserEcho(t *testing.T) {
	if got := newCleaner().Clean("Alice: hello", false); got != "" {
		t.Fatalf("a reply that only echoes the user marker is empty, got %q", got)
	}
}

func TestCleanEndOfTextSentinel(t *testing.T) {
	got := newCleaner().Clean("All done.<|endoftext|>garbage", false)
	if got != "All done." {
		t.Fatalf("Clean() = %q", got)
	}
}

func TestCleanGroupCrossTalk(t *testing.T) {
	got := newCleaner("Mallory").Clean("Sure, I can help!\nMallory: me too!", false)
	if got != "Sure, I can help!" {
		t.Fatalf("cross-talk must be cut at the other member's marker, got %q", got)
	}
}

func TestCleanInstructSequences(t *testing.T) {
	c := newCleaner()
	c.Instruct = config.InstructConfig{
		Enabled:        true,
		StopSequence:   "</s>",
		OutputSequence: "### Response:",
	}

	got := c.Clean("### Response: fine by me</s>more", false)
	if got != " fine by me" {
		t.Fatalf("Clean() = %q", got)
	}
}

func TestCleanTrimsPerLineTrailingWhitespace(t *testing.T) {
	got := newCleaner().Clean("line one   \nline two\t", false)
	if got != "line one\nline two" {
		t.Fatalf("Clean() = %q", got)
	}
}

func TestCleanImpersonateTrimsCharEcho(t *testing.T) {
	c := newCleaner()
	got := c.Clean("Eve: you cannot be serious", true)
	if got != "" {
		t.Fatalf("impersonation echoing the character marker is empty, got %q", got)
	}
}

func TestExtractName(t *testing.T) {
	text, isName := extractName("Eve: hello there", cleanPersona, false, false)
	if text != "hello there" || !isName {
		t.Fatalf("extractName() = %q, %v", text, isName)
	}

	text, isName = extractName("hello there", cleanPersona, false, false)
	if text != "hello there" || isName {
		t.Fatalf("unprefixed reply should not count as named, got %v", isName)
	}

	_, isName = extractName("hello there", cleanPersona, true, false)
	if !isName {
		t.Fatal("forced generations always count as named")
	}
}

func TestShouldContinueMultigen(t *testing.T) {
	instruct := config.InstructConfig{}

	if !shouldContinueMultigen("Eve: partial", "partial", cleanPersona, instruct, false, 50, 250) {
		t.Fatal("expected continuation for a plain partial chunk")
	}
	if shouldContinueMultigen("Eve: done\nAlice: next", "next", cleanPersona, instruct, false, 50, 250) {
		t.Fatal("a user marker in the accumulated text stops the loop")
	}
	if shouldContinueMultigen("Eve: done<|endoftext|>", "x", cleanPersona, instruct, false, 50, 250) {
		t.Fatal("the end sentinel stops the loop")
	}
	if shouldContinueMultigen("Eve: done", "", cleanPersona, instruct, false, 50, 250) {
		t.Fatal("an empty chunk stops the loop")
	}
	if shouldContinueMultigen("Eve: done", "done", cleanPersona, instruct, false, 250, 250) {
		t.Fatal("an exhausted budget stops the loop")
	}

	instruct = config.InstructConfig{Enabled: true, StopSequence: "</s>"}
	if shouldContinueMultigen("Eve: done</s>", "x", cleanPersona, instruct, false, 0, 250) {
		t.Fatal("the instruct stop sequence stops the loop")
	}
}
