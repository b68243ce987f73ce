// Package events holds the notification requests the agent emits.
package events

import "github.com/familienverein/meistereder/internal/models"

// RegistrationSubmitted is raised once when a registration is first completed.
type RegistrationSubmitted struct {
	Registration   models.Registration
	RegistrationID string
	Version        int
	ConversationID string
	Channel        models.Channel
}

// RegistrationUpdated carries a confirmed post-completion change.
type RegistrationUpdated struct {
	Registration   models.Registration
	RegistrationID string
	Version        int
	Changes        map[string]models.Change
	ConversationID string
}

// ParentConfirmation asks for the confirmation mail to the parent.
type ParentConfirmation struct {
	Registration models.Registration
	Language     models.Language
}

// LoopEscalation warns staff that a conversation went silent on purpose.
type LoopEscalation struct {
	Sender         string
	ConversationID string
	Reason         string
	MessageCount   int
}
