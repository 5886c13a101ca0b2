package prompt

import (
	"testing"

	"github.com/codefionn/personachat/internal/chat"
)

var testPersona = chat.Persona{UserName: "Bob", CharName: "Eve"}

func TestSubstituteCaseInsensitive(t *testing.T) {
	got := Substitute("{{USER}} meets {{Char}} near <user>'s house, says <BOT>", testPersona)
	want := "Bob meets Eve near Bob's house, says Eve"
	if got != want {
		t.Fatalf("Substitute() = %q, want %q", got, want)
	}
}

func TestSubstituteEmpty(t *testing.T) {
	if got := Substitute("", testPersona); got != "" {
		t.Fatalf("Substitute(\"\") = %q, want empty", got)
	}
}

func TestExtractBias(t *testing.T) {
	bias, seen := ExtractBias("Tell me a story {{dramatic tone}}")
	if !seen {
		t.Fatal("expected bias markup to be seen")
	}
	if bias != " dramatic tone " {
		t.Fatalf("bias = %q, want %q", bias, " dramatic tone ")
	}
}

func TestExtractBiasMultiple(t *testing.T) {
	bias, seen := ExtractBias("{{slow}} and {{sad}}")
	if !seen || bias != " slow sad " {
		t.Fatalf("bias = %q seen = %v", bias, seen)
	}
}

func TestExtractBiasBareBracesCancels(t *testing.T) {
	bias, seen := ExtractBias("never mind {{}}")
	if !seen {
		t.Fatal("bare braces should count as seen")
	}
	if bias != "" {
		t.Fatalf("bare braces should cancel the bias, got %q", bias)
	}
}

func TestExtractBiasNone(t *testing.T) {
	bias, seen := ExtractBias("just a plain message")
	if seen || bias != "" {
		t.Fatalf("unexpected bias %q (seen=%v)", bias, seen)
	}
}

func TestStripBiasMarkup(t *testing.T) {
	got := StripBiasMarkup("Bob: hello {{be nice}}\n")
	if got != "Bob: hello \n" {
		t.Fatalf("StripBiasMarkup() = %q", got)
	}
}

func TestCollapseNewlines(t *testing.T) {
	if got := CollapseNewlines("a\n\n\nb\nc"); got != "a\nb\nc" {
		t.Fatalf("CollapseNewlines() = %q", got)
	}
}

func TestTrimPerLineTrailing(t *testing.T) {
	if got := TrimPerLineTrailing("a  \nb\t\nc"); got != "a\nb\nc" {
		t.Fatalf("TrimPerLineTrailing() = %q", got)
	}
}
