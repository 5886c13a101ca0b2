package group

import (
	"math/rand"
	"regexp"
	"strings"

	"github.com/codefionn/personachat/internal/chat"
)

// activateNatural picks responders for a turn: members mentioned by name in
// the input first, then talkativeness rolls over a shuffled member order, and
// finally one random member so somebody always answers. The previous speaker
// is excluded unless the group allows self responses.
func activateNatural(members []*chat.CharacterProfile, input, lastSpeaker string, allowSelf bool, rng *rand.Rand) []*chat.CharacterProfile {
	eligible := members
	if !allowSelf && lastSpeaker != "" {
		filtered := make([]*chat.CharacterProfile, 0, len(members))
		for _, m := range members {
			if m.Name != lastSpeaker {
				filtered = append(filtered, m)
			}
		}
		if len(filtered) > 0 {
			eligible = filtered
		}
	}

	var activated []*chat.CharacterProfile

	if strings.TrimSpace(input) != "" {
		for _, m := range eligible {
			if mentionsName(input, m.Name) {
				activated = append(activated, m)
			}
		}
	}

	shuffled := make([]*chat.CharacterProfile, len(eligible))
	copy(shuffled, eligible)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	for _, m := range shuffled {
		if m.TalkativenessOrDefault() >= rng.Float64() {
			activated = append(activated, m)
		}
	}

	// The forced fallback draws from the whole group, so even the previous
	// speaker can be picked when nobody else activated.
	if len(activated) == 0 && len(members) > 0 {
		activated = append(activated, members[rng.Intn(len(members))])
	}

	return dedupeMembers(activated)
}

// activateList activates every member in declared order.
func activateList(members []*chat.CharacterProfile) []*chat.CharacterProfile {
	return dedupeMembers(members)
}

// dedupeMembers removes duplicates while preserving first-seen order.
func dedupeMembers(members []*chat.CharacterProfile) []*chat.CharacterProfile {
	seen := make(map[string]bool, len(members))
	out := make([]*chat.CharacterProfile, 0, len(members))
	for _, m := range members {
		if m == nil || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

var wordPattern = regexp.MustCompile(`\w+`)

// mentionsName reports whether any word of the member's name appears as a
// word in the input, so "Smith?" addresses a member named "Bob Smith".
func mentionsName(input, name string) bool {
	nameWords := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(name, -1) {
		nameWords[strings.ToLower(w)] = true
	}
	if len(nameWords) == 0 {
		return false
	}
	for _, w := range wordPattern.FindAllString(input, -1) {
		if nameWords[strings.ToLower(w)] {
			return true
		}
	}
	return false
}
