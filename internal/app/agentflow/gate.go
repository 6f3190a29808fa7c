package agentflow

import "github.com/PabloGalante/insurance-agent/internal/domain"

type Resolution string

const (
	ResolutionExecute Resolution = "execute"
	ResolutionCancel  Resolution = "cancel"
	ResolutionUnclear Resolution = "unclear"
)

var (
	affirmativeWords = map[string]bool{
		"yes": true, "y": true, "confirm": true, "proceed": true, "ok": true, "okay": true,
	}
	negativeWords = map[string]bool{
		"no": true, "n": true, "cancel": true, "stop": true,
	}
)

const (
	unclearReply = "I didn't understand. Please respond with 'yes' to proceed or 'no' to cancel."
	cancelReply  = "Action cancelled. How else can I help you?"
)

// Gate interprets the reply to a confirmation prompt.
type Gate struct{}

func NewGate() *Gate { return &Gate{} }

// Resolve matches whole words, case-insensitively. A reply containing both an
// affirmative and a negative word is unclear.
func (g *Gate) Resolve(message string, action *domain.PendingAction) Resolution {
	if action == nil {
		return ResolutionUnclear
	}
	var yes, no bool
	for _, t := range tokenize(message) {
		if affirmativeWords[t] {
			yes = true
		}
		if negativeWords[t] {
			no = true
		}
	}
	switch {
	case yes && !no:
		return ResolutionExecute
	case no && !yes:
		return ResolutionCancel
	default:
		return ResolutionUnclear
	}
}
