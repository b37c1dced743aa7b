package domain

import "encoding/json"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the
// conversation store, the prompts and the oracle integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FormatKind selects how the oracle is asked to answer.
type FormatKind int

const (
	FormatText FormatKind = iota
	FormatJSON
)

// ResponseFormat describes the requested oracle output. Schema is only
// meaningful for FormatJSON.
type ResponseFormat struct {
	Kind       FormatKind
	SchemaName string
	Schema     json.RawMessage
}

// TextFormat requests free-form text.
func TextFormat() ResponseFormat {
	return ResponseFormat{Kind: FormatText}
}

// JSONFormat requests strictly-JSON output conforming to schema.
func JSONFormat(name string, schema json.RawMessage) ResponseFormat {
	return ResponseFormat{Kind: FormatJSON, SchemaName: name, Schema: schema}
}
