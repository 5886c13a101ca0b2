package prompt

import (
	"github.com/codefionn/personachat/internal/chat"
	"github.com/codefionn/personachat/internal/config"
)

// StopStringInput collects everything that contributes stop sequences.
type StopStringInput struct {
	Persona chat.Persona
	// OtherMemberNames lists active group members excluding the speaker.
	OtherMemberNames []string
	Instruct         config.InstructConfig
	Impersonate      bool
	// AddSpace appends a trailing space to every sequence; some backends
	// tokenize the name marker together with the following space.
	AddSpace bool
}

// StopStrings computes the stop sequences for one generation: the speaker and
// user name markers, other group member markers and instruct sequences.
func StopStrings(in StopStringInput) []string {
	charMarker := "\n" + in.Persona.CharName + ":"
	userMarker := "\n" + in.Persona.UserName + ":"

	var result []string
	if in.Impersonate {
		result = append(result, charMarker)
	} else {
		result = append(result, "\nYou:")
	}
	result = append(result, userMarker)

	for _, name := range in.OtherMemberNames {
		if name == in.Persona.CharName {
			continue
		}
		result = append(result, "\n"+name+":")
	}

	if in.Instruct.Enabled {
		if in.Instruct.InputSequence != "" {
			result = append(result, "\n"+in.Instruct.InputSequence)
		}
		if in.Instruct.OutputSequence != "" {
			result = append(result, "\n"+in.Instruct.OutputSequence)
		}
	}

	if in.AddSpace {
		for i, s := range result {
			result[i] = s + " "
		}
	}
	return result
}
