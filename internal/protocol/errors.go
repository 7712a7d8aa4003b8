package protocol

import "strings"

// Server error fragments the bot reacts to. The API reports errors as free text.
const (
	ErrTextNotParticipating = "not participating in this round"
	ErrTextRoundNotStarted  = "round not started"
	ErrTextNoRealm          = "realm not found"
)

var knownFragments = []string{
	ErrTextNotParticipating,
	ErrTextRoundNotStarted,
	ErrTextNoRealm,
}

// IsNotParticipating reports whether an error body says the player has not joined the round.
func IsNotParticipating(body string) bool {
	return strings.Contains(strings.ToLower(body), ErrTextNotParticipating)
}

// KnownFragment returns the first known error fragment contained in body, or "".
func KnownFragment(body string) string {
	lower := strings.ToLower(body)
	for _, f := range knownFragments {
		if strings.Contains(lower, f) {
			return f
		}
	}
	return ""
}
