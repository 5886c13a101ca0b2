package chat

// DefaultTalkativeness is used when a character does not define its own.
const DefaultTalkativeness = 0.5

// CharacterProfile is the immutable-during-generation character definition.
type CharacterProfile struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Avatar          string  `json:"avatar,omitempty"`
	Description     string  `json:"description"`
	Personality     string  `json:"personality"`
	Scenario        string  `json:"scenario"`
	ExampleDialogue string  `json:"mes_example"`
	FirstMessage    string  `json:"first_mes"`
	Talkativeness   float64 `json:"talkativeness"`
}

// TalkativenessOrDefault returns the configured talkativeness, falling back
// to the default for zero-valued legacy records.
func (c *CharacterProfile) TalkativenessOrDefault() float64 {
	if c.Talkativeness <= 0 || c.Talkativeness > 1 {
		return DefaultTalkativeness
	}
	return c.Talkativeness
}

// Persona is the active user/character name pair substituted into template
// placeholders. In group conversations CharName varies per member turn.
type Persona struct {
	UserName string
	CharName string
}
