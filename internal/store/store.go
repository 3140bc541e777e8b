// Package store provides durable conversation and message log storage.
//
// A conversation belongs to exactly one space. Its message log is
// append-only: entries are never edited, only appended and, on
// conversation deletion, removed in bulk.
package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation id does not exist.
var ErrNotFound = errors.New("not found")

// Role identifies the author of a message log entry.
type Role string

// Message log entry roles.
const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleSystem      Role = "system"
	RoleToolRequest Role = "tool_request"
	RoleToolResult  Role = "tool_result"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleToolRequest, RoleToolResult:
		return true
	}
	return false
}

// Tool result statuses recorded in entry metadata.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metadata is the structured payload attached to tool_request and
// tool_result entries. The correlation id links a result back to the
// request that produced it.
type Metadata struct {
	Tool          string `json:"tool,omitempty"`
	Arguments     string `json:"arguments,omitempty"` // JSON-encoded argument object
	CorrelationID string `json:"correlation_id,omitempty"`
	Status        string `json:"status,omitempty"` // ok | error, tool_result only
}

// Entry is one immutable message log record.
type Entry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Metadata       *Metadata `json:"metadata,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Conversation is the durable record of one conversational thread.
type Conversation struct {
	ID             string    `json:"id"`
	SpaceID        string    `json:"space_id"`
	Name           string    `json:"name"`
	AgentConfig    string    `json:"agent_config,omitempty"` // serialized snapshot, opaque here
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// encodeMetadata serializes metadata for storage. Nil metadata is
// stored as NULL.
func encodeMetadata(m *Metadata) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// decodeMetadata parses stored metadata. Empty input yields nil.
func decodeMetadata(raw string) (*Metadata, error) {
	if raw == "" {
		return nil, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return &m, nil
}
