package prompt

import (
	"strings"

	"github.com/codefionn/personachat/internal/config"
)

// instructChat renders one history turn in instruct-mode framing.
func instructChat(cfg config.InstructConfig, name, text string, isUser bool) string {
	sequence := cfg.OutputSequence
	if isUser {
		sequence = cfg.InputSequence
	}

	var b strings.Builder
	if sequence != "" {
		b.WriteString(sequence)
		if cfg.WrapNewlines {
			b.WriteString("\n")
		}
	}
	if name != "" {
		b.WriteString(name)
		b.WriteString(": ")
	}
	b.WriteString(text)
	b.WriteString("\n")
	return b.String()
}

// instructPrompt renders the trailing sequence that cues the model to speak
// as name. Impersonation cues the user's voice via the input sequence.
func instructPrompt(cfg config.InstructConfig, name string, impersonate bool) string {
	sequence := cfg.OutputSequence
	if impersonate {
		sequence = cfg.InputSequence
	}

	var b strings.Builder
	if sequence != "" {
		b.WriteString(sequence)
		if cfg.WrapNewlines {
			b.WriteString("\n")
		}
	}
	b.WriteString(name)
	b.WriteString(":")
	return b.String()
}

// instructStory wraps the story string in the system sequence.
func instructStory(cfg config.InstructConfig, story string) string {
	if cfg.SystemSequence == "" {
		return story
	}
	if cfg.WrapNewlines {
		return cfg.SystemSequence + "\n" + story
	}
	return cfg.SystemSequence + story
}
