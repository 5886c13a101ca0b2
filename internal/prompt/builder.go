package prompt

import (
	"regexp"
	"strings"

	"github.com/codefionn/personachat/internal/chat"
	"github.com/codefionn/personachat/internal/config"
)

const (
	// TopAnchorDepth is the history depth at which the personality block and
	// top anchor are spliced back in when the chat has grown past it.
	TopAnchorDepth = 8
	// BottomAnchorThreshold is the minimum chat length before the bottom
	// anchor attaches to the final user line.
	BottomAnchorThreshold = 8
	// ExampleMarker separates example dialogue blocks in character cards.
	ExampleMarker = "<START>"
)

var exampleSplit = regexp.MustCompile(`(?i)<START>`)

// BuildInput is everything the fragment builder reads. Turns must be the
// non-system turns in transcript order, with the swipe target already
// excluded for swipe generations.
type BuildInput struct {
	Turns            []*chat.Turn
	Character        *chat.CharacterProfile
	Persona          chat.Persona
	ScenarioOverride string
	IsGroup          bool

	Formatting config.FormattingConfig
	Instruct   config.InstructConfig

	// ForcedExampleHeading overrides the settings-derived block heading for
	// backends that require a fixed one.
	ForcedExampleHeading string
}

// Fragments is the named fragment set the fitter budgets over.
type Fragments struct {
	StoryString   string
	Description   string
	Personality   string
	Scenario      string
	ExampleBlocks []string
	// HistoryLines is oldest-first and parallel to BuildInput.Turns.
	HistoryLines []string
	AnchorTop    string
	AnchorBottom string
}

// Build assembles the prompt fragments. It is a pure function of its input;
// all transcript mutation happens in the orchestrator.
func Build(in BuildInput) *Fragments {
	collapse := in.Formatting.CollapseNewlines

	f := &Fragments{
		Description: baseReplace(strings.TrimSpace(in.Character.Description), in.Persona, collapse),
		Personality: baseReplace(strings.TrimSpace(in.Character.Personality), in.Persona, collapse),
	}

	scenario := in.Character.Scenario
	if in.ScenarioOverride != "" {
		scenario = in.ScenarioOverride
	}
	f.Scenario = baseReplace(strings.TrimSpace(scenario), in.Persona, collapse)

	f.ExampleBlocks = buildExampleBlocks(in)
	f.HistoryLines = buildHistoryLines(in)
	f.AnchorTop, f.AnchorBottom = legacyAnchors(in.Formatting, in.Persona.CharName)
	f.StoryString = buildStoryString(in, f)

	return f
}

func buildStoryString(in BuildInput, f *Fragments) string {
	var b strings.Builder

	appendPart := func(value, prefix string) {
		if value != "" {
			b.WriteString(prefix)
			b.WriteString(value)
			b.WriteString("\n")
		}
	}

	appendPart(f.Description, "")

	// The personality block rides in the story string only while the chat is
	// short; afterwards it is re-injected near the tail (see Assemble).
	if len(in.Turns) < TopAnchorDepth {
		prefix := in.Persona.CharName + "'s personality: "
		if in.Formatting.DisablePersonalityFormatting {
			prefix = ""
		}
		appendPart(f.Personality, prefix)
	}

	scenarioPrefix := "Circumstances and context of the dialogue: "
	if in.Formatting.DisableScenarioFormatting {
		scenarioPrefix = ""
	}
	appendPart(f.Scenario, scenarioPrefix)

	story := b.String()
	if in.Instruct.Enabled {
		story = instructStory(in.Instruct, story)
	}
	return story
}

func buildExampleBlocks(in BuildInput) []string {
	examples := baseReplace(strings.TrimSpace(in.Character.ExampleDialogue), in.Persona, in.Formatting.CollapseNewlines)

	if !strings.HasPrefix(examples, ExampleMarker) {
		examples = ExampleMarker + "\n" + strings.TrimSpace(examples)
	}
	if strings.TrimSpace(exampleSplit.ReplaceAllString(examples, "")) == "" {
		return nil
	}

	heading := exampleHeading(in)

	parts := exampleSplit.Split(examples, -1)[1:]
	blocks := make([]string, 0, len(parts))
	for _, part := range parts {
		blocks = append(blocks, heading+"\n"+strings.TrimSpace(part)+"\n")
	}
	return blocks
}

func exampleHeading(in BuildInput) string {
	if in.ForcedExampleHeading != "" {
		return in.ForcedExampleHeading
	}
	if in.Formatting.CustomChatSeparator != "" {
		return in.Formatting.CustomChatSeparator
	}
	if in.Formatting.DisableExamplesFormatting {
		return ""
	}
	return "This is how " + in.Persona.CharName + " should talk"
}

func buildHistoryLines(in BuildInput) []string {
	lines := make([]string, len(in.Turns))
	for i, turn := range in.Turns {
		speaker := in.Persona.CharName
		if in.IsGroup || turn.IsUser {
			speaker = turn.Name
		}

		var line string
		switch {
		case in.Instruct.Enabled:
			line = instructChat(in.Instruct, speaker, turn.Text, turn.IsUser)
		case turn.IsName:
			line = speaker + ": " + turn.Text + "\n"
		default:
			line = turn.Text + "\n"
		}

		lines[i] = StripBiasMarkup(line)
	}
	return lines
}

func legacyAnchors(f config.FormattingConfig, charName string) (top, bottom string) {
	var anchorChar, anchorStyle string
	if f.CharacterAnchor {
		anchorChar = charName + " Elaborate speaker"
	}
	if f.StyleAnchor {
		anchorStyle = "Writing style: very long messages"
	}

	if f.AnchorOrder == 0 {
		top, bottom = anchorChar, anchorStyle
	} else {
		top, bottom = anchorStyle, anchorChar
	}

	if bottom != "" {
		bottom = "[" + bottom + "]"
	}
	return top, bottom
}
