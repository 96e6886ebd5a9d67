package remote

import "time"

// Organization is a tenant on the remote chat service.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Agent is a specialist agent as reported by the remote chat service.
// It is an immutable snapshot: discovery never caches it beyond one call.
type Agent struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Visible        bool   `json:"visible"`
	RequestURL     string `json:"request_url,omitempty"`
	DeploymentID   string `json:"active_deployment_id,omitempty"`
}

// ChatStatus is the remote chat lifecycle status. The service reports
// "idle" and "streaming" as stable values; anything else is an
// intermediate queued-like state and must be handled as such.
type ChatStatus string

const (
	// StatusIdle means the specialist has stopped working on the chat.
	StatusIdle ChatStatus = "idle"
	// StatusStreaming means the specialist is actively generating output.
	StatusStreaming ChatStatus = "streaming"
)

// Intermediate reports whether the status is neither idle nor streaming.
func (s ChatStatus) Intermediate() bool {
	return s != StatusIdle && s != StatusStreaming
}

// Chat is the status/metadata snapshot of a remote chat.
type Chat struct {
	ID        string     `json:"id"`
	Status    ChatStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	Error     string     `json:"error,omitempty"`
}

// Part is one piece of a message. Only text parts carry content the
// coordinator cares about; other part types are passed through untouched.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is one entry in a chat's history.
type Message struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// PartTypeText is the part type carrying plain text.
const PartTypeText = "text"

// RoleUser and RoleAssistant are the two roles the coordinator produces
// or consumes. The service may report others (system, tool); they are
// ignored during aggregation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TextMessage builds a single-part user message with the given text,
// exactly as provided. Callers must not transform the text first.
func TextMessage(text string) Message {
	return Message{
		Role:  RoleUser,
		Parts: []Part{{Type: PartTypeText, Text: text}},
	}
}
