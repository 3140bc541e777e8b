package agent

import (
	"testing"

	"github.com/xxflyingknife/devspace/internal/store"
)

func userEntry(content string) store.Entry {
	return store.Entry{Role: store.RoleUser, Content: content}
}

func assistantEntry(content string) store.Entry {
	return store.Entry{Role: store.RoleAssistant, Content: content}
}

func toolRequestEntry(tool, corrID, args string) store.Entry {
	return store.Entry{
		Role: store.RoleToolRequest,
		Metadata: &store.Metadata{
			Tool:          tool,
			Arguments:     args,
			CorrelationID: corrID,
		},
	}
}

func toolResultEntry(tool, corrID, content string) store.Entry {
	return store.Entry{
		Role:    store.RoleToolResult,
		Content: content,
		Metadata: &store.Metadata{
			Tool:          tool,
			CorrelationID: corrID,
			Status:        store.StatusOK,
		},
	}
}

func TestBuildWindowRoles(t *testing.T) {
	entries := []store.Entry{
		userEntry("hi"),
		toolRequestEntry("list_branches", "c1", `{}`),
		toolResultEntry("list_branches", "c1", `["main"]`),
		assistantEntry("done"),
	}

	messages := BuildWindow(entries, 10)
	if len(messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(messages))
	}

	wantRoles := []string{"user", "assistant", "tool", "assistant"}
	for i, want := range wantRoles {
		if messages[i].Role != want {
			t.Errorf("message %d role = %q, want %q", i, messages[i].Role, want)
		}
	}

	if len(messages[1].ToolCalls) != 1 || messages[1].ToolCalls[0].Function.Name != "list_branches" {
		t.Errorf("tool_request did not become a tool call message: %+v", messages[1])
	}
	if messages[2].ToolCallID != "c1" {
		t.Errorf("tool result correlation id = %q, want c1", messages[2].ToolCallID)
	}
}

func TestBuildWindowCapsTurns(t *testing.T) {
	var entries []store.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, userEntry("q"), assistantEntry("a"))
	}

	messages := BuildWindow(entries, 2)
	if len(messages) != 4 {
		t.Fatalf("got %d messages, want last 2 turns = 4 messages", len(messages))
	}
	if messages[0].Role != "user" {
		t.Errorf("window must start at a turn boundary, got role %q", messages[0].Role)
	}
}

func TestBuildWindowNeverSplitsToolPairs(t *testing.T) {
	// Two turns, the older one containing a tool exchange. Cutting to
	// one turn must drop the whole older turn, pair included.
	entries := []store.Entry{
		userEntry("older"),
		toolRequestEntry("calculator", "c1", `{"expression":"1+1"}`),
		toolResultEntry("calculator", "c1", "2"),
		assistantEntry("it is 2"),
		userEntry("newer"),
	}

	messages := BuildWindow(entries, 1)
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	if messages[0].Content != "newer" {
		t.Errorf("window content = %q, want the newest turn only", messages[0].Content)
	}
}

func TestBuildWindowRepairsOrphanedRequest(t *testing.T) {
	entries := []store.Entry{
		userEntry("hi"),
		toolRequestEntry("git_pull", "c9", `{}`),
		// No result: the process died mid-turn.
	}

	messages := BuildWindow(entries, 10)
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want request + synthetic result = 3", len(messages))
	}
	last := messages[2]
	if last.Role != "tool" || last.ToolCallID != "c9" {
		t.Fatalf("expected synthetic tool result for c9, got %+v", last)
	}
	if last.Content != interruptedResult {
		t.Errorf("synthetic result content = %q", last.Content)
	}
}

func TestBuildWindowOrphanRepairDoesNotDuplicate(t *testing.T) {
	entries := []store.Entry{
		userEntry("hi"),
		toolRequestEntry("git_pull", "c1", `{}`),
		toolResultEntry("git_pull", "c1", "ok"),
	}

	messages := BuildWindow(entries, 10)
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3 (no synthetic result for a paired request)", len(messages))
	}
}

func TestBuildWindowParsesStoredArguments(t *testing.T) {
	entries := []store.Entry{
		userEntry("hi"),
		toolRequestEntry("calculator", "c1", `{"expression":"2*3"}`),
		toolResultEntry("calculator", "c1", "6"),
	}

	messages := BuildWindow(entries, 10)
	args := messages[1].ToolCalls[0].Function.Arguments
	if args["expression"] != "2*3" {
		t.Errorf("arguments = %v, want expression 2*3", args)
	}
}
