package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/xxflyingknife/devspace/internal/agent"
	"github.com/xxflyingknife/devspace/internal/config"
	"github.com/xxflyingknife/devspace/internal/llm"
	"github.com/xxflyingknife/devspace/internal/scm"
	"github.com/xxflyingknife/devspace/internal/space"
	"github.com/xxflyingknife/devspace/internal/store"
	"github.com/xxflyingknife/devspace/internal/tools"
)

// scriptedLLM plays back canned responses in order.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []llm.ChatResponse
	calls     int
}

func (s *scriptedLLM) Chat(ctx context.Context, model string, messages []llm.Message, toolSchemas []map[string]any) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls < len(s.responses) {
		resp := s.responses[s.calls]
		s.calls++
		return &resp, nil
	}
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "done"}}, nil
}

func (s *scriptedLLM) Ping(ctx context.Context) error { return nil }

type fixture struct {
	server *httptest.Server
	store  *store.Store
}

// newFixture stands up the full API over a temp database, a scripted
// model, and a stubbed tree fetch.
func newFixture(t *testing.T, client llm.Client) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	spaces, err := space.NewConfigResolver([]config.SpaceConfig{
		{ID: "shop", Name: "Shop", Domain: "dev", Repo: &config.RepoConfig{
			ID: "shop-repo", URL: "https://example.com/shop.git", DefaultBranch: "main",
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	cache := agent.NewExecutorCache(func(ctx context.Context, sp *space.Space) (*agent.Executor, error) {
		reg := tools.NewRegistry()
		reg.Register(tools.GroupDev, &tools.Tool{
			Name:       "list_branches",
			Parameters: map[string]any{"type": "object"},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return `["main","dev"]`, nil
			},
		})
		return &agent.Executor{
			SpaceID: sp.ID,
			Domain:  sp.Domain,
			Model:   "test-model",
			System:  agent.SystemDirective(sp),
			LLM:     client,
			Tools:   reg.ForDomain(tools.GroupDev),
		}, nil
	})

	orch := agent.NewOrchestrator(st, spaces, cache, 10, 10, 5*time.Second, logger)

	treeFunc := func(ctx context.Context, sp *space.Space, branch string, refresh bool) ([]*scm.TreeNode, bool, error) {
		return []*scm.TreeNode{
			{ID: "src", Name: "src", Type: scm.NodeFolder},
			{ID: "go.mod", Name: "go.mod", Type: scm.NodeFile},
		}, !refresh, nil
	}

	srv := NewServer("127.0.0.1:0", orch, st, spaces, treeFunc, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{server: ts, store: st}
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestChatEndpoint(t *testing.T) {
	client := &scriptedLLM{responses: []llm.ChatResponse{
		{Message: llm.Message{Role: "assistant", Content: "hello from the model"}},
	}}
	f := newFixture(t, client)

	resp, err := http.Post(f.server.URL+"/api/spaces/shop/chat", "application/json",
		strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var result agent.TurnResult
	decodeBody(t, resp, &result)
	if result.Answer != "hello from the model" {
		t.Errorf("answer = %q", result.Answer)
	}
	if result.ConversationID == "" {
		t.Error("expected a conversation id")
	}
}

func TestChatEndpointValidation(t *testing.T) {
	f := newFixture(t, &scriptedLLM{})

	resp, err := http.Post(f.server.URL+"/api/spaces/shop/chat", "application/json",
		strings.NewReader(`{"message":"  "}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(f.server.URL+"/api/spaces/ghost/chat", "application/json",
		strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown space status = %d, want 404", resp.StatusCode)
	}
}

func TestDefaultConversationAndMessages(t *testing.T) {
	client := &scriptedLLM{responses: []llm.ChatResponse{
		{Message: llm.Message{Role: "assistant", Content: "first answer"}},
	}}
	f := newFixture(t, client)

	// A turn creates the default conversation.
	resp, err := http.Post(f.server.URL+"/api/spaces/shop/chat", "application/json",
		strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	var result agent.TurnResult
	decodeBody(t, resp, &result)

	resp, err = http.Get(f.server.URL + "/api/spaces/shop/conversations/default")
	if err != nil {
		t.Fatal(err)
	}
	var conv store.Conversation
	decodeBody(t, resp, &conv)
	if conv.ID != result.ConversationID {
		t.Errorf("default conversation = %s, want %s", conv.ID, result.ConversationID)
	}

	resp, err = http.Get(f.server.URL + "/api/conversations/" + conv.ID + "/messages?limit=10")
	if err != nil {
		t.Fatal(err)
	}
	var page struct {
		Messages []store.Entry `json:"messages"`
	}
	decodeBody(t, resp, &page)
	if len(page.Messages) != 2 {
		t.Errorf("got %d messages, want user + assistant", len(page.Messages))
	}
}

func TestConversationCreateAndDelete(t *testing.T) {
	f := newFixture(t, &scriptedLLM{})

	resp, err := http.Post(f.server.URL+"/api/spaces/shop/conversations", "application/json",
		strings.NewReader(`{"name":"scratch"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var conv store.Conversation
	decodeBody(t, resp, &conv)
	if conv.Name != "scratch" {
		t.Errorf("name = %q", conv.Name)
	}

	req, _ := http.NewRequest("DELETE", f.server.URL+"/api/conversations/"+conv.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}

	// Deleting again is 404.
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestTreeEndpoint(t *testing.T) {
	f := newFixture(t, &scriptedLLM{})

	resp, err := http.Get(f.server.URL + "/api/spaces/shop/tree")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Branch    string          `json:"branch"`
		FromCache bool            `json:"from_cache"`
		Tree      []*scm.TreeNode `json:"tree"`
	}
	decodeBody(t, resp, &body)
	if body.Branch != "main" {
		t.Errorf("branch = %q, want default main", body.Branch)
	}
	if !body.FromCache {
		t.Error("stub reports cached when refresh is not set")
	}
	if len(body.Tree) != 2 {
		t.Errorf("tree = %+v", body.Tree)
	}

	resp, err = http.Get(f.server.URL + "/api/spaces/shop/tree?refresh=true")
	if err != nil {
		t.Fatal(err)
	}
	decodeBody(t, resp, &body)
	if body.FromCache {
		t.Error("refresh=true must bypass the cache")
	}
}

func TestSpaceListEndpoint(t *testing.T) {
	f := newFixture(t, &scriptedLLM{})

	resp, err := http.Get(f.server.URL + "/api/spaces")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Spaces []spaceSummary `json:"spaces"`
	}
	decodeBody(t, resp, &body)
	if len(body.Spaces) != 1 || body.Spaces[0].ID != "shop" {
		t.Errorf("spaces = %+v", body.Spaces)
	}
}

func TestTranscriptEndpoint(t *testing.T) {
	client := &scriptedLLM{responses: []llm.ChatResponse{
		{Message: llm.Message{Role: "assistant", Content: "**bold** answer"}},
	}}
	f := newFixture(t, client)

	resp, err := http.Post(f.server.URL+"/api/spaces/shop/chat", "application/json",
		strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	var result agent.TurnResult
	decodeBody(t, resp, &result)

	resp, err = http.Get(f.server.URL + "/api/conversations/" + result.ConversationID + "/transcript")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	page, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(page), "<strong>bold</strong>") {
		t.Error("assistant markdown was not rendered to HTML")
	}
}

func TestTruncateStaysOnRuneBoundaries(t *testing.T) {
	s := strings.Repeat("界", 5)
	got := truncate(s, 7)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got)
	}
	if got != "界界..." {
		t.Errorf("truncate = %q, want two runes plus ellipsis", got)
	}
	if truncate("short", 300) != "short" {
		t.Error("strings under the limit must pass through unchanged")
	}
}

func TestHealthAndVersion(t *testing.T) {
	f := newFixture(t, &scriptedLLM{})

	resp, err := http.Get(f.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(f.server.URL + "/api/version")
	if err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	decodeBody(t, resp, &info)
	if info["version"] == "" {
		t.Errorf("version info = %v", info)
	}
}
