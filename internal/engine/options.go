package engine

// GenType selects the generation flavor; it decides how the reply merges back
// into the transcript.
type GenType string

const (
	// GenNormal appends a fresh reply turn.
	GenNormal GenType = "normal"
	// GenRegenerate discards the newest reply turns and generates anew.
	GenRegenerate GenType = "regenerate"
	// GenSwipe generates an alternate variant for the newest reply turn.
	GenSwipe GenType = "swipe"
	// GenImpersonate generates in the user's voice; the result is returned as
	// a draft instead of entering the transcript.
	GenImpersonate GenType = "impersonate"
	// GenQuiet generates off-transcript with an extra prompt line.
	GenQuiet GenType = "quiet"
)

// GenOptions parameterizes one call into the generation pipeline.
type GenOptions struct {
	Type GenType

	// UserInput is the outgoing user message for GenNormal. Empty input turns
	// the generation into a continuation of the last line.
	UserInput string

	// QuietPrompt is the hidden instruction line for GenQuiet.
	QuietPrompt string

	// ForceName appends the speaker prefix to the prompt tail so the model
	// answers as the active character. The retry path and group turns set it.
	ForceName bool

	// IsGroup marks a group-member turn: history lines keep their stored
	// speaker names and replies record the member avatar.
	IsGroup bool

	// GroupMembers lists the other active members; their name markers become
	// stop sequences and cleanup boundaries.
	GroupMembers []string

	// GenID tags reply turns with the group generation they belong to.
	GenID string
}

func (o GenOptions) impersonate() bool { return o.Type == GenImpersonate }
func (o GenOptions) quiet() bool       { return o.Type == GenQuiet }
