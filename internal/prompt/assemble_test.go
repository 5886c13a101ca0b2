package prompt

import (
	"strings"
	"testing"

	"github.com/codefionn/personachat/internal/config"
	"github.com/codefionn/personachat/internal/tokenizer"
)

func assembleInput(lines []string, ceiling int) *AssembleInput {
	fit := fitInput(lines, ceiling)
	f := NewFitter(tokenizer.HeuristicEstimator{})
	return &AssembleInput{
		Fit:        fit,
		Res:        f.Fit(fit),
		CoreLen:    len(lines),
		FirstCycle: true,
	}
}

func TestAssembleStartSeparator(t *testing.T) {
	f := NewFitter(tokenizer.HeuristicEstimator{})

	in := assembleInput([]string{"Bob: hi\n"}, 1000)
	got := f.Assemble(in)
	if !strings.Contains(got, "\nThen the roleplay chat between Bob and Eve begins.\n") {
		t.Fatalf("missing default start separator: %q", got)
	}

	in = assembleInput([]string{"Bob: hi\n"}, 1000)
	in.Formatting = config.FormattingConfig{CustomChatSeparator: "***"}
	got = f.Assemble(in)
	if !strings.Contains(got, "***\nBob: hi\n") {
		t.Fatalf("custom separator not applied: %q", got)
	}

	in = assembleInput([]string{"Bob: hi\n"}, 1000)
	in.Formatting = config.FormattingConfig{DisableStartFormatting: true}
	got = f.Assemble(in)
	if strings.Contains(got, "roleplay chat") {
		t.Fatalf("separator should be disabled: %q", got)
	}
}

func TestAssembleForceCharNameTail(t *testing.T) {
	f := NewFitter(tokenizer.HeuristicEstimator{})

	in := assembleInput([]string{"Bob: hi\n"}, 1000)
	in.ForceCharName = true
	got := f.Assemble(in)
	if !strings.HasSuffix(got, "Eve:") {
		t.Fatalf("forced speaker prefix missing: %q", got)
	}
}

func TestAssembleImpersonateTail(t *testing.T) {
	f := NewFitter(tokenizer.HeuristicEstimator{})

	in := assembleInput([]string{"Eve: hi\n"}, 1000)
	in.Impersonate = true
	in.UserInputEmpty = true
	got := f.Assemble(in)
	if !strings.HasSuffix(got, "Bob:") {
		t.Fatalf("impersonation prompts for the user voice: %q", got)
	}
}

func TestAssembleContinuationSkipsTail(t *testing.T) {
	f := NewFitter(tokenizer.HeuristicEstimator{})

	in := assembleInput([]string{"Bob: hi\n"}, 1000)
	in.ForceCharName = true
	in.FirstCycle = false
	in.GeneratedSoFar = "Eve: I was saying"
	got := f.Assemble(in)

	if !strings.HasSuffix(got, "Eve: I was saying") {
		t.Fatalf("continuation should end with accumulated text: %q", got)
	}
}

func TestAssembleShrinksOnContinuation(t *testing.T) {
	f := NewFitter(tokenizer.HeuristicEstimator{})

	lines := historyLines(10)
	fit := fitInput(lines, 60)
	fit.Fragments.ExampleBlocks = []string{"This is how Eve should talk\nEve: example line here\n"}
	res := f.Fit(fit)

	in := &AssembleInput{
		Fit:            fit,
		Res:            res,
		CoreLen:        len(lines),
		GeneratedSoFar: strings.Repeat("Eve: a very long continuation chunk. ", 4),
	}
	got := f.Assemble(in)

	if strings.Contains(got, "example line here") {
		t.Fatalf("examples are dropped first when a continuation overflows: %q", got)
	}
	if strings.Contains(got, "message number 0") {
		t.Fatalf("oldest history should be shed on overflow: %q", got)
	}
	if !strings.Contains(got, "continuation chunk") {
		t.Fatalf("accumulated text must survive: %q", got)
	}
}

func TestAssembleQuietPromptLine(t *testing.T) {
	f := NewFitter(tokenizer.HeuristicEstimator{})

	in := assembleInput([]string{"Bob: hi\n"}, 1000)
	in.Fit.QuietPrompt = "Summarize the chat so far."
	got := f.Assemble(in)
	if !strings.Contains(got, "\nBob: Summarize the chat so far.") {
		t.Fatalf("quiet prompt line missing: %q", got)
	}
}

func TestAssembleStripsCarriageReturns(t *testing.T) {
	f := NewFitter(tokenizer.HeuristicEstimator{})

	in := assembleInput([]string{"Bob: hi\r\n"}, 1000)
	if got := f.Assemble(in); strings.Contains(got, "\r") {
		t.Fatalf("carriage returns must not reach the backend: %q", got)
	}
}
