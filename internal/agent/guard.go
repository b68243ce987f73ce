package agent

import "github.com/familienverein/meistereder/internal/models"

// DefaultMaxUserMessages is the inbound cap per conversation.
const DefaultMaxUserMessages = 20

type Verdict int

const (
	// Proceed: normal processing.
	Proceed Verdict = iota
	// Escalate: the cap was just exceeded; alert staff once and go silent.
	Escalate
	// Silent: already escalated; persist and say nothing.
	Silent
)

func (v Verdict) String() string {
	switch v {
	case Escalate:
		return "escalate"
	case Silent:
		return "silent"
	}
	return "proceed"
}

// Guard caps the number of user messages in one conversation. The count is
// recomputed from history each turn.
type Guard struct {
	Max int
}

func (g Guard) max() int {
	if g.Max <= 0 {
		return DefaultMaxUserMessages
	}
	return g.Max
}

// Check must run after the inbound message has been appended.
func (g Guard) Check(conv *models.Conversation) Verdict {
	if conv.Escalation() == models.EscalationEscalated {
		return Silent
	}
	if conv.UserMessageCount() > g.max() {
		return Escalate
	}
	return Proceed
}
