// Package llm defines the Provider interface for the hosted text model that
// backs the concierge text chat, the per-project strategy advisor and the
// admin catalog regeneration.
//
// Two operations are exposed: conversational chat, where the provider retains
// history behind an opaque [Chat] handle, and one-shot structured generation,
// where the model is asked for JSON conforming to a [Schema].
//
// Implementations must be safe for concurrent use. A single Chat is used by
// one conversation at a time.
package llm

import (
	"context"
	"errors"
)

// ErrTransientUnavailable reports that the text model could not serve a
// request. Callers recover locally: a canned reply, an alert, or a retry.
var ErrTransientUnavailable = errors.New("llm: temporarily unavailable")

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one turn of a conversation.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ChatConfig configures a new conversation.
type ChatConfig struct {
	// Instructions is the system prompt for the conversation.
	Instructions string

	// History seeds the conversation with earlier turns, oldest first.
	History []Message
}

// Chat is an open conversation. The provider keeps the history; each Send
// appends the user turn and the model's reply.
type Chat interface {
	Send(ctx context.Context, text string) (string, error)
}

// SchemaType is a JSON schema primitive.
type SchemaType string

const (
	TypeString SchemaType = "string"
	TypeObject SchemaType = "object"
	TypeArray  SchemaType = "array"
)

// Schema is the subset of JSON schema used to constrain structured output.
type Schema struct {
	Type        SchemaType         `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// GenerateRequest asks for a single structured response.
type GenerateRequest struct {
	// Prompt is the full user prompt.
	Prompt string

	// Schema constrains the JSON the model returns. Nil requests free-form JSON.
	Schema *Schema

	// Model overrides the provider's default model when non-empty.
	Model string
}

// Provider is the abstraction over text model backends.
type Provider interface {
	// NewChat opens a conversation. It performs no network round-trip for
	// providers that keep history locally.
	NewChat(ctx context.Context, cfg ChatConfig) (Chat, error)

	// GenerateJSON returns the raw JSON text produced for req.
	GenerateJSON(ctx context.Context, req GenerateRequest) ([]byte, error)
}
