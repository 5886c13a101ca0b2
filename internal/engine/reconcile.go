package engine

import (
	"strings"

	"github.com/codefionn/personachat/internal/chat"
	"github.com/codefionn/personachat/internal/config"
	"github.com/codefionn/personachat/internal/prompt"
)

// endOfTextSentinel terminates a reply on backends that emit it.
const endOfTextSentinel = "<|endoftext|>"

// Cleaner normalizes raw model output for one generation attempt.
type Cleaner struct {
	Persona    chat.Persona
	Formatting config.FormattingConfig
	Instruct   config.InstructConfig

	// OtherMemberNames are the remaining group members; their name markers
	// cut the reply to stop cross-talk.
	OtherMemberNames []string

	// StopStrings are matched by longest trailing overlap, so a stop
	// sequence partially present at the tail still truncates.
	StopStrings []string
}

// Clean strips speaker prefixes, stop sequences, instruct markers and group
// cross-talk from raw output. An empty result signals the retry path.
func (c *Cleaner) Clean(text string, impersonate bool) string {
	if c.Formatting.CollapseNewlines {
		text = prompt.CollapseNewlines(text)
	}

	text = strings.TrimSpace(text)
	text = prompt.TrimPerLineTrailing(text)

	var nameToTrim string
	if impersonate {
		if !c.Formatting.AllowCharNameDisplay {
			nameToTrim = c.Persona.CharName
		}
	} else {
		if !c.Formatting.AllowUserNameDisplay {
			nameToTrim = c.Persona.UserName
		}
	}

	if nameToTrim != "" {
		if strings.HasPrefix(text, nameToTrim+":") {
			text = ""
		}
		if idx := strings.Index(text, "\n"+nameToTrim+":"); idx > 0 {
			text = text[:idx]
		}
	}

	if idx := strings.Index(text, endOfTextSentinel); idx != -1 {
		text = text[:idx]
	}

	if c.Instruct.Enabled {
		if c.Instruct.StopSequence != "" {
			if idx := strings.Index(text, c.Instruct.StopSequence); idx != -1 {
				text = text[:idx]
			}
		}
		if c.Instruct.InputSequence != "" && impersonate {
			text = strings.ReplaceAll(text, c.Instruct.InputSequence, "")
		}
		if c.Instruct.OutputSequence != "" && !impersonate {
			text = strings.ReplaceAll(text, c.Instruct.OutputSequence, "")
		}
	}

	for _, name := range c.OtherMemberNames {
		if name == c.Persona.CharName {
			continue
		}
		if idx := strings.Index(text, name+":"); idx != -1 {
			text = text[:idx]
		}
	}

	if impersonate {
		text = strings.TrimSpace(text)
	}

	for _, stop := range c.StopStrings {
		if stop == "" {
			continue
		}
		for j := len(stop) - 1; j > 0; j-- {
			if strings.HasSuffix(text, stop[:j]) {
				text = text[:len(text)-j]
				break
			}
		}
	}

	return text
}

// extractName strips the expected speaker prefix and reports whether the
// model emitted one. Forced generations always count as named so the prefix
// stays attributed.
func extractName(text string, persona chat.Persona, forceName, impersonate bool) (string, bool) {
	nameToTrim := persona.CharName
	if impersonate {
		nameToTrim = persona.UserName
	}

	isName := true
	if strings.HasPrefix(text, nameToTrim+":") {
		text = strings.TrimLeft(strings.TrimPrefix(text, nameToTrim+":"), " \t")
	} else {
		isName = false
	}

	if forceName {
		isName = true
	}
	if impersonate {
		text = strings.TrimSpace(text)
	}
	return text, isName
}

// shouldContinueMultigen decides whether another chunk is dispatched:
// continue only while no turn marker, no end sentinel, budget remains and the
// last chunk produced text.
func shouldContinueMultigen(accumulated, lastChunk string, persona chat.Persona, instruct config.InstructConfig, impersonate bool, tokensGenerated, responseLength int) bool {
	if instruct.Enabled && instruct.StopSequence != "" &&
		strings.Contains(accumulated, instruct.StopSequence) {
		return false
	}

	nameMarker := persona.UserName + ":"
	if impersonate {
		nameMarker = persona.CharName + ":"
	}

	return !strings.Contains(accumulated, nameMarker) &&
		!strings.Contains(accumulated, endOfTextSentinel) &&
		tokensGenerated < responseLength &&
		len(lastChunk) > 0
}
