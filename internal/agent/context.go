package agent

import (
	"encoding/json"

	"github.com/xxflyingknife/devspace/internal/llm"
	"github.com/xxflyingknife/devspace/internal/store"
)

// interruptedResult is the synthetic observation paired with a
// tool_request whose result never got recorded (crash, cancellation).
// The model sees the tool as failed rather than a malformed transcript.
const interruptedResult = "tool execution was interrupted before a result was recorded"

// windowOversample is how many raw entries to fetch per context turn.
// Tool exchanges inflate entry counts, so a turn can span several
// entries; 3x covers a user message plus a tool exchange per turn.
const windowOversample = 3

// BuildWindow converts stored entries into model messages, keeping at
// most maxTurns of the most recent turns. A turn starts at a user
// entry, so cutting at turn boundaries can never split a tool
// request/result pair. Orphaned tool_request entries are paired with a
// synthetic error result.
func BuildWindow(entries []store.Entry, maxTurns int) []llm.Message {
	entries = repairOrphans(entries)

	// Find the start of the maxTurns-th most recent turn.
	start := 0
	if maxTurns > 0 {
		seen := 0
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].Role == store.RoleUser {
				seen++
				if seen == maxTurns {
					start = i
					break
				}
			}
		}
	}

	var messages []llm.Message
	for _, e := range entries[start:] {
		messages = append(messages, toMessage(e))
	}
	return messages
}

// repairOrphans inserts a synthetic error tool_result after every
// tool_request that has no matching result entry.
func repairOrphans(entries []store.Entry) []store.Entry {
	resolved := make(map[string]bool)
	for _, e := range entries {
		if e.Role == store.RoleToolResult && e.Metadata != nil {
			resolved[e.Metadata.CorrelationID] = true
		}
	}

	out := make([]store.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
		if e.Role != store.RoleToolRequest || e.Metadata == nil {
			continue
		}
		if resolved[e.Metadata.CorrelationID] {
			continue
		}
		out = append(out, store.Entry{
			ConversationID: e.ConversationID,
			Role:           store.RoleToolResult,
			Content:        interruptedResult,
			Metadata: &store.Metadata{
				Tool:          e.Metadata.Tool,
				CorrelationID: e.Metadata.CorrelationID,
				Status:        store.StatusError,
			},
			Timestamp: e.Timestamp,
		})
	}
	return out
}

// toMessage maps one log entry to a chat message. Tool requests become
// assistant messages carrying native tool calls; tool results become
// tool role messages tagged with the correlation id.
func toMessage(e store.Entry) llm.Message {
	switch e.Role {
	case store.RoleToolRequest:
		var tc llm.ToolCall
		if e.Metadata != nil {
			tc.Function.Name = e.Metadata.Tool
			if e.Metadata.Arguments != "" {
				// Undecodable stored arguments degrade to an
				// argument-less call rather than dropping the entry.
				_ = json.Unmarshal([]byte(e.Metadata.Arguments), &tc.Function.Arguments)
			}
		}
		return llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{tc}}
	case store.RoleToolResult:
		m := llm.Message{Role: "tool", Content: e.Content}
		if e.Metadata != nil {
			m.ToolCallID = e.Metadata.CorrelationID
		}
		return m
	case store.RoleSystem:
		return llm.Message{Role: "system", Content: e.Content}
	case store.RoleAssistant:
		return llm.Message{Role: "assistant", Content: e.Content}
	default:
		return llm.Message{Role: "user", Content: e.Content}
	}
}
