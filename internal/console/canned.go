package console

import (
	"strings"

	"github.com/noveloffice/supportify/internal/domain"
)

// MinCannedInputLen gates matching until the agent has typed enough to
// be deliberate about a hotword.
const MinCannedInputLen = 3

// MatchCanned returns the canned replies whose "/hotword" trigger
// matches the typed input. Matching is case insensitive; input "/wlc"
// against hotwords ["wlc","thanks"] returns only the wlc entry.
func MatchCanned(input string, canned []domain.CannedMessage) []domain.CannedMessage {
	if len(input) < MinCannedInputLen || !strings.HasPrefix(input, "/") {
		return nil
	}
	needle := strings.ToLower(input)

	var matches []domain.CannedMessage
	for _, c := range canned {
		if strings.Contains("/"+strings.ToLower(c.HotWord), needle) {
			matches = append(matches, c)
		}
	}
	return matches
}
