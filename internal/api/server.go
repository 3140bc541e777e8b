// Package api implements the HTTP API over the turn orchestrator and
// the conversation store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xxflyingknife/devspace/internal/agent"
	"github.com/xxflyingknife/devspace/internal/buildinfo"
	"github.com/xxflyingknife/devspace/internal/scm"
	"github.com/xxflyingknife/devspace/internal/space"
	"github.com/xxflyingknife/devspace/internal/store"
	"github.com/xxflyingknife/devspace/internal/tools"
)

// TreeFunc fetches the file tree for a space. Wiring binds it to the
// tree cache and the space's source-control provider.
type TreeFunc func(ctx context.Context, sp *space.Space, branch string, refresh bool) ([]*scm.TreeNode, bool, error)

// Server is the HTTP API server.
type Server struct {
	listen       string
	orchestrator *agent.Orchestrator
	store        *store.Store
	spaces       *space.ConfigResolver
	tree         TreeFunc
	logger       *slog.Logger
	server       *http.Server
}

// NewServer wires the API server. tree may be nil if no dev spaces are
// configured.
func NewServer(listen string, orch *agent.Orchestrator, st *store.Store, spaces *space.ConfigResolver, tree TreeFunc, logger *slog.Logger) *Server {
	return &Server{
		listen:       listen,
		orchestrator: orch,
		store:        st,
		spaces:       spaces,
		tree:         tree,
		logger:       logger,
	}
}

// Start runs the server until ListenAndServe returns.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // turns can run many model calls
	}

	s.logger.Info("starting API server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /api/spaces/{space}/chat", s.handleChat)

	// Spaces
	mux.HandleFunc("GET /api/spaces", s.handleSpaceList)
	mux.HandleFunc("GET /api/spaces/{space}/tree", s.handleTree)

	// Conversations
	mux.HandleFunc("GET /api/spaces/{space}/conversations", s.handleConversationList)
	mux.HandleFunc("POST /api/spaces/{space}/conversations", s.handleConversationCreate)
	mux.HandleFunc("GET /api/spaces/{space}/conversations/default", s.handleDefaultConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleMessages)
	mux.HandleFunc("GET /api/conversations/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleConversationDelete)

	// Health
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.withLogging(mux)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v to w. Encode errors usually mean the client
// disconnected, so they are only logged at debug level.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

// writeError maps domain errors to status codes: validation 400,
// not-found 404, upstream failures 502, everything else 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var extErr *tools.ExternalCallError
	switch {
	case errors.Is(err, agent.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, agent.ErrUpstream), errors.As(err, &extErr):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	result, err := s.orchestrator.ProcessTurn(r.Context(), r.PathValue("space"), req.ConversationID, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type spaceSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Repo   string `json:"repo,omitempty"`
}

func (s *Server) handleSpaceList(w http.ResponseWriter, r *http.Request) {
	all := s.spaces.All()
	summaries := make([]spaceSummary, 0, len(all))
	for _, sp := range all {
		sum := spaceSummary{ID: sp.ID, Name: sp.Name, Domain: string(sp.Domain)}
		if sp.Repo != nil {
			sum.Repo = sp.Repo.URL
		}
		summaries = append(summaries, sum)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"spaces": summaries})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	sp, err := s.spaces.Resolve(r.PathValue("space"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sp.Repo == nil || s.tree == nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "space has no repository"})
		return
	}

	branch := r.URL.Query().Get("branch")
	if branch == "" {
		branch = sp.Repo.DefaultBranch
	}
	refresh := r.URL.Query().Get("refresh") == "true"

	tree, fromCache, err := s.tree(r.Context(), sp, branch, refresh)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"branch":     branch,
		"from_cache": fromCache,
		"tree":       tree,
	})
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	sp, err := s.spaces.Resolve(r.PathValue("space"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	conversations, err := s.store.ListBySpace(r.Context(), sp.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (s *Server) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	sp, err := s.spaces.Resolve(r.PathValue("space"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
	}

	conv, err := s.store.Create(r.Context(), sp.ID, strings.TrimSpace(req.Name), "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleDefaultConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.orchestrator.DefaultConversation(r.Context(), r.PathValue("space"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	entries, err := s.store.List(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"messages": entries,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !deleted {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, buildinfo.Info())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
