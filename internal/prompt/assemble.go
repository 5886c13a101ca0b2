package prompt

import (
	"strings"

	"github.com/codefionn/personachat/internal/config"
)

// AssembleInput carries the per-cycle state needed to turn fitted fragments
// into the final prompt string.
type AssembleInput struct {
	Fit *FitInput
	Res *FitResult

	Formatting config.FormattingConfig
	Instruct   config.InstructConfig

	// CoreLen is the full (unfitted) non-system history length.
	CoreLen int
	// UserInputEmpty marks continuations where the model resumes the last
	// line instead of answering fresh input.
	UserInputEmpty bool

	ForceCharName bool
	Impersonate   bool

	// GeneratedSoFar accumulates multigen continuation text. Non-empty values
	// trigger the shrink-on-overflow pass.
	GeneratedSoFar string
	// FirstCycle is true until multigen has produced any tokens.
	FirstCycle bool
}

// Assemble splices anchors into the accepted history, appends the prompt
// tail, shrinks on overflow and concatenates the final prompt.
//
// When both examples and history are exhausted and the prompt still exceeds
// the ceiling, the over-budget prompt is returned as-is (best effort).
func (f *Fitter) Assemble(in *AssembleInput) string {
	frag := in.Fit.Fragments
	mesSend := f.spliceAnchors(in)
	exampleCount := in.Res.ExampleCount

	examplesFor := func(count int) string {
		if in.Res.Pinned {
			return strings.Join(frag.ExampleBlocks, "")
		}
		if count > len(frag.ExampleBlocks) {
			count = len(frag.ExampleBlocks)
		}
		return strings.Join(frag.ExampleBlocks[:count], "")
	}

	mesExmString := examplesFor(exampleCount)
	mesSendString := f.joinHistory(in, mesSend)

	if in.GeneratedSoFar != "" {
		for {
			full := strings.Join([]string{
				in.Fit.WorldInfo.Combined,
				frag.StoryString,
				mesExmString,
				mesSendString,
				frag.AnchorTop,
				frag.AnchorBottom,
				frag.Personality,
				in.GeneratedSoFar,
				in.Fit.Bias,
				in.Fit.Anchors.All(in.Fit.Persona),
				in.Fit.QuietPrompt,
			}, "")
			if f.est.CountTokens(full, in.Fit.Padding) <= in.Fit.Ceiling {
				break
			}

			// Cut examples before history; oldest entries first.
			if !in.Res.Pinned && exampleCount > 0 {
				exampleCount--
				mesExmString = examplesFor(exampleCount)
				continue
			}
			if len(mesSend) > 0 {
				mesSend = mesSend[1:]
				mesSendString = f.joinHistory(in, mesSend)
				continue
			}
			break
		}
	}

	mesSendString = f.applyStartSeparator(in, mesSendString)

	final := in.Fit.WorldInfo.Before +
		frag.StoryString +
		in.Fit.WorldInfo.After +
		in.Fit.Anchors.AfterScenario(in.Fit.Persona) +
		mesExmString +
		mesSendString +
		in.GeneratedSoFar +
		in.Fit.Bias

	final = f.applyZeroDepthAnchor(in, final)
	final = strings.ReplaceAll(final, "\r", "")

	if in.Formatting.CollapseNewlines {
		final = CollapseNewlines(final)
	}
	return final
}

// spliceAnchors rebuilds the accepted history with personality/top-anchor
// re-injection, bottom anchor attachment and in-chat anchors at their depths.
func (f *Fitter) spliceAnchors(in *AssembleInput) []string {
	frag := in.Fit.Fragments
	userMarker := in.Fit.Persona.UserName + ":"

	lines := make([]string, len(in.Res.History))
	copy(lines, in.Res.History)
	n := len(lines)

	for i := range lines {
		item := lines[i]
		isLast := i == n-1

		if isLast && !strings.HasPrefix(strings.TrimSpace(item), userMarker) && in.UserInputEmpty {
			// Let the model continue where it left off; only the trailing
			// newline added by the line builder is removed.
			item = strings.TrimSuffix(item, "\n")
		}

		if i == n-TopAnchorDepth && !in.Instruct.Enabled {
			personalityAndAnchor := joinNonEmpty(" ", frag.Personality, frag.AnchorTop)
			if personalityAndAnchor != "" {
				item += "[" + personalityAndAnchor + "]\n"
			}
		}

		if isLast && in.CoreLen > BottomAnchorThreshold &&
			strings.HasPrefix(strings.TrimSpace(item), userMarker) && frag.AnchorBottom != "" {
			item = strings.TrimSuffix(item, "\n") + " "
			item += frag.AnchorBottom + "\n"
		}

		if i == 0 {
			// Anchors registered deeper than the accepted history still land
			// in front of the oldest line.
			for depth := maxAnchorDepth; depth >= n; depth-- {
				if upper := in.Fit.Anchors.InChat(depth, "\n", in.Fit.Persona); upper != "" {
					item = upper + item
				}
			}
		}

		if depth := n - 1 - i; depth > 0 {
			if anchor := in.Fit.Anchors.InChat(depth, "\n", in.Fit.Persona); anchor != "" {
				item += anchor
			}
		}

		lines[i] = item
	}
	return lines
}

func (f *Fitter) joinHistory(in *AssembleInput, mesSend []string) string {
	var b strings.Builder
	for j, item := range mesSend {
		isBottom := j == len(mesSend)-1
		b.WriteString(item)

		if !isBottom {
			continue
		}

		if in.Fit.QuietPrompt != "" {
			if in.Instruct.Enabled {
				b.WriteString(instructChat(in.Instruct, in.Fit.Persona.UserName, in.Fit.QuietPrompt, true))
			} else {
				b.WriteString("\n" + in.Fit.Persona.UserName + ": " + in.Fit.QuietPrompt)
			}
		}

		if in.Instruct.Enabled && in.FirstCycle {
			name := in.Fit.Persona.CharName
			if in.Impersonate {
				name = in.Fit.Persona.UserName
			}
			b.WriteString(instructPrompt(in.Instruct, name, in.Impersonate))
		}

		if !in.Instruct.Enabled && in.Impersonate && in.FirstCycle {
			ensureTrailingNewline(&b)
			b.WriteString(in.Fit.Persona.UserName + ":")
		}

		if in.ForceCharName && in.FirstCycle {
			ensureTrailingNewline(&b)
			b.WriteString(in.Fit.Persona.CharName + ":")
		}
	}
	return b.String()
}

func (f *Fitter) applyStartSeparator(in *AssembleInput, mesSendString string) string {
	switch {
	case in.Formatting.CustomChatSeparator != "":
		return in.Formatting.CustomChatSeparator + "\n" + mesSendString
	case in.Formatting.DisableStartFormatting:
		return mesSendString
	default:
		return "\nThen the roleplay chat between " + in.Fit.Persona.UserName +
			" and " + in.Fit.Persona.CharName + " begins.\n" + mesSendString
	}
}

func (f *Fitter) applyZeroDepthAnchor(in *AssembleInput, final string) string {
	if !in.FirstCycle {
		return final
	}
	zero := in.Fit.Anchors.InChat(0, " ", in.Fit.Persona)
	if zero == "" {
		return final
	}

	trimBothEnds := !in.ForceCharName
	trimmed := strings.TrimRight(zero, " \t")
	if trimBothEnds {
		trimmed = strings.TrimSpace(zero)
		if !strings.HasSuffix(final, "\n") {
			final += "\n"
		}
	}
	final += trimmed
	if in.ForceCharName {
		final += " "
	}
	return final
}

func ensureTrailingNewline(b *strings.Builder) {
	if s := b.String(); s != "" && !strings.HasSuffix(s, "\n") {
		b.WriteString("\n")
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
