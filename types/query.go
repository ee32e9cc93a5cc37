// Package types provides the core types shared across the agrosense
// orchestrator. It has no dependencies on other agrosense packages so
// every layer can import it without cycles.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents one conversation message.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content,omitempty"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewMessage creates a message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// FarmContext carries the farm/organization scoping attached to a query.
// All fields are optional; a query without scoping is answered without
// farm-specific grounding.
type FarmContext struct {
	OrganizationID string `json:"organization_id,omitempty"`
	FarmID         string `json:"farm_id,omitempty"`
	// Region is the administrative region used for regulatory scoping
	// (e.g. French department code).
	Region string `json:"region,omitempty"`
	// Crops lists the crops grown on the farm, EPPO codes preferred.
	Crops []string `json:"crops,omitempty"`
}

// Query is the immutable input unit for one user turn. It is created
// once when the request is accepted and never mutated afterwards.
type Query struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Text           string       `json:"text"`
	Farm           *FarmContext `json:"farm,omitempty"`
	ReceivedAt     time.Time    `json:"received_at"`
}

// NewQuery creates a query with a fresh id and the current timestamp.
func NewQuery(conversationID, text string, farm *FarmContext) Query {
	return Query{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Text:           text,
		Farm:           farm,
		ReceivedAt:     time.Now(),
	}
}

// Turn is one completed exchange persisted to the conversation window.
type Turn struct {
	QueryID   string    `json:"query_id"`
	User      Message   `json:"user"`
	Assistant Message   `json:"assistant"`
	Roles     []string  `json:"roles,omitempty"` // contributing agent roles
	CreatedAt time.Time `json:"created_at"`
}

// ConversationContext is the bounded, ordered window of prior turns the
// classifier and agents consume. It is read-only within one query; the
// memory manager is the only writer.
type ConversationContext struct {
	ConversationID string       `json:"conversation_id"`
	Turns          []Turn       `json:"turns"`
	Farm           *FarmContext `json:"farm,omitempty"`
}

// LastUserText returns the text of the most recent user turn, or "".
func (c ConversationContext) LastUserText() string {
	if len(c.Turns) == 0 {
		return ""
	}
	return c.Turns[len(c.Turns)-1].User.Content
}
