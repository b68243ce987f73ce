package models

import (
	"fmt"
	"time"
)

type FlowStep string

const (
	StepGreeting           FlowStep = "greeting"
	StepChildName          FlowStep = "child_name"
	StepChildDOB           FlowStep = "child_dob"
	StepPlaygroupSelection FlowStep = "playgroup_selection"
	StepSpecialNeeds       FlowStep = "special_needs"
	StepParentContact      FlowStep = "parent_contact"
	StepEmergencyContact   FlowStep = "emergency_contact"
	StepConfirmation       FlowStep = "confirmation"
	StepComplete           FlowStep = "complete"
)

// FlowSteps lists the registration script in order.
var FlowSteps = []FlowStep{
	StepGreeting,
	StepChildName,
	StepChildDOB,
	StepPlaygroupSelection,
	StepSpecialNeeds,
	StepParentContact,
	StepEmergencyContact,
	StepConfirmation,
	StepComplete,
}

func ParseFlowStep(s string) (FlowStep, bool) {
	for _, st := range FlowSteps {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

type Language string

const (
	LangDE Language = "de"
	LangEN Language = "en"
)

func ParseLanguage(s string) (Language, bool) {
	switch Language(s) {
	case LangDE, LangEN:
		return Language(s), true
	}
	return "", false
}

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelChat     Channel = "chat"
	ChannelTelegram Channel = "telegram"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Phase and Escalation expose the two one-way latches of a conversation.
type Phase int

const (
	PhaseActive Phase = iota
	PhaseCompleted
)

type Escalation int

const (
	EscalationNormal Escalation = iota
	EscalationEscalated
)

// Conversation is the unit of persistence: one per normalized identity.
type Conversation struct {
	ConversationID       string        `json:"conversation_id"`
	Channel              Channel       `json:"channel,omitempty"`
	Language             Language      `json:"language"`
	FlowStep             FlowStep      `json:"flow_step"`
	Registration         Registration  `json:"registration"`
	Messages             []ChatMessage `json:"messages"`
	ParentEmail          string        `json:"parent_email,omitempty"`
	ParentName           string        `json:"parent_name,omitempty"`
	Completed            bool          `json:"completed"`
	LoopEscalated        bool          `json:"loop_escalated"`
	ReminderCount        int           `json:"reminder_count"`
	LastInboundMessageID string        `json:"last_inbound_message_id,omitempty"`
	ChildIndex           int           `json:"child_index,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
	LastActivity         time.Time     `json:"last_activity"`
}

func NewConversation(id string, ch Channel, now time.Time) *Conversation {
	return &Conversation{
		ConversationID: id,
		Channel:        ch,
		Language:       LangDE,
		FlowStep:       StepGreeting,
		Registration:   NewRegistration(),
		Messages:       []ChatMessage{},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivity:   now,
	}
}

func (c *Conversation) Phase() Phase {
	if c.Completed {
		return PhaseCompleted
	}
	return PhaseActive
}

func (c *Conversation) Escalation() Escalation {
	if c.LoopEscalated {
		return EscalationEscalated
	}
	return EscalationNormal
}

func (c *Conversation) Append(role Role, content string, at time.Time) {
	c.Messages = append(c.Messages, ChatMessage{Role: role, Content: content, Timestamp: at})
}

// UserMessageCount counts inbound turns only.
func (c *Conversation) UserMessageCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// RegistrationKey identifies the registration currently owned by the
// conversation. The first child uses the conversation id itself; later
// children started with a new-child request get a numbered suffix.
func (c *Conversation) RegistrationKey() string {
	if c.ChildIndex <= 0 {
		return c.ConversationID
	}
	return fmt.Sprintf("%s~%d", c.ConversationID, c.ChildIndex+1)
}

// StartNewChild discards the current registration and re-enters the script.
func (c *Conversation) StartNewChild() {
	c.Registration = NewRegistration()
	c.Completed = false
	c.FlowStep = StepChildName
	c.ChildIndex++
}

// FillDefaults repairs zero values left by decoding older documents.
func (c *Conversation) FillDefaults() {
	if c.Language == "" {
		c.Language = LangDE
	}
	if c.FlowStep == "" {
		c.FlowStep = StepGreeting
	}
	if c.Messages == nil {
		c.Messages = []ChatMessage{}
	}
	if c.Registration.Booking.PlaygroupTypes == nil {
		c.Registration.Booking.PlaygroupTypes = []string{}
	}
	if c.Registration.Booking.SelectedDays == nil {
		c.Registration.Booking.SelectedDays = []BookingDay{}
	}
}
