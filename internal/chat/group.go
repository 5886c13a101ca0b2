package chat

// ActivationStrategy governs which group members respond to a turn.
type ActivationStrategy int

const (
	// ActivationNatural activates by name mention and talkativeness rolls.
	ActivationNatural ActivationStrategy = iota
	// ActivationList activates every member in declared order.
	ActivationList
)

// GroupDefinition describes a multi-member conversation.
type GroupDefinition struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Members            []string           `json:"members"`
	ActivationStrategy ActivationStrategy `json:"activation_strategy"`
	AllowSelfResponses bool               `json:"allow_self_responses"`
	AutoMode           bool               `json:"auto_mode"`
	ChatID             string             `json:"chat_id,omitempty"`
}

// HasMember reports whether the character id is part of the group.
func (g *GroupDefinition) HasMember(id string) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}
