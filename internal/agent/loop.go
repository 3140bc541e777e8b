// Package agent implements the turn orchestrator: it drives the
// model/tool loop for one user message and records every step in the
// conversation log.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xxflyingknife/devspace/internal/llm"
	"github.com/xxflyingknife/devspace/internal/space"
	"github.com/xxflyingknife/devspace/internal/store"
	"github.com/xxflyingknife/devspace/internal/tools"
)

// ErrValidation marks a request rejected before any side effect.
var ErrValidation = errors.New("invalid request")

// ErrUpstream marks a turn that failed because the model endpoint did.
var ErrUpstream = errors.New("upstream call failed")

// fallbackAnswer is used when even the wrap-up model call fails after
// the iteration cap.
const fallbackAnswer = "I'm sorry, I wasn't able to finish working on that. Please try again."

// recordTimeout bounds log writes that must survive caller
// cancellation.
const recordTimeout = 10 * time.Second

// ToolExecution summarizes one tool call made during a turn: the name,
// the marshalled arguments, the recorded result text and its status.
type ToolExecution struct {
	Tool          string `json:"tool"`
	Arguments     string `json:"arguments,omitempty"`
	CorrelationID string `json:"correlation_id"`
	Result        string `json:"result,omitempty"`
	Status        string `json:"status"`
}

// TurnResult is what a completed turn returns to the caller.
type TurnResult struct {
	ConversationID string          `json:"conversation_id"`
	Answer         string          `json:"answer"`
	ToolExecutions []ToolExecution `json:"tool_executions,omitempty"`
	Iterations     int             `json:"iterations"`
}

// Orchestrator processes turns. One turn per conversation runs at a
// time; concurrent requests for the same conversation queue.
type Orchestrator struct {
	store     *store.Store
	spaces    space.Resolver
	executors *ExecutorCache
	logger    *slog.Logger

	maxIterations int
	windowTurns   int
	toolTimeout   time.Duration

	mu        sync.Mutex
	convLocks map[string]*sync.Mutex
}

// NewOrchestrator wires the orchestrator. Zero bounds fall back to 10
// iterations, 10 window turns and a 60s tool timeout.
func NewOrchestrator(st *store.Store, spaces space.Resolver, executors *ExecutorCache, maxIterations, windowTurns int, toolTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	if windowTurns <= 0 {
		windowTurns = 10
	}
	if toolTimeout <= 0 {
		toolTimeout = 60 * time.Second
	}
	return &Orchestrator{
		store:         st,
		spaces:        spaces,
		executors:     executors,
		logger:        logger,
		maxIterations: maxIterations,
		windowTurns:   windowTurns,
		toolTimeout:   toolTimeout,
		convLocks:     make(map[string]*sync.Mutex),
	}
}

// conversationLock returns the mutex serializing turns for one
// conversation id. Locks are never evicted; a conversation's lock is
// tiny and ids are bounded by actual usage.
func (o *Orchestrator) conversationLock(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.convLocks[id]
	if !ok {
		l = &sync.Mutex{}
		o.convLocks[id] = l
	}
	return l
}

// agentConfigSnapshot is stored on the conversation at creation so a
// transcript records which model and bounds produced it.
func (o *Orchestrator) agentConfigSnapshot(model string) string {
	snap, _ := json.Marshal(map[string]any{
		"model":          model,
		"max_iterations": o.maxIterations,
	})
	return string(snap)
}

// ProcessTurn runs one full turn: record the user message, loop model
// calls and tool executions, and record the final answer. An empty
// conversationID addresses the space's default conversation, creating
// it if needed.
func (o *Orchestrator) ProcessTurn(ctx context.Context, spaceID, conversationID, userMessage string) (*TurnResult, error) {
	userMessage = strings.TrimSpace(userMessage)
	if userMessage == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrValidation)
	}
	if spaceID == "" {
		return nil, fmt.Errorf("%w: space is required", ErrValidation)
	}

	sp, err := o.spaces.Resolve(spaceID)
	if err != nil {
		return nil, err
	}
	exec, err := o.executors.Get(ctx, sp)
	if err != nil {
		return nil, err
	}

	conv, err := o.resolveConversation(ctx, sp, exec, conversationID)
	if err != nil {
		return nil, err
	}

	lock := o.conversationLock(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	return o.runTurn(ctx, sp, exec, conv, userMessage)
}

// DefaultConversation returns the space's default conversation,
// creating it with the current agent-config snapshot if the space has
// none yet.
func (o *Orchestrator) DefaultConversation(ctx context.Context, spaceID string) (*store.Conversation, error) {
	sp, err := o.spaces.Resolve(spaceID)
	if err != nil {
		return nil, err
	}
	exec, err := o.executors.Get(ctx, sp)
	if err != nil {
		return nil, err
	}
	return o.store.GetOrCreateDefault(ctx, sp.ID, o.agentConfigSnapshot(exec.Model))
}

// resolveConversation loads the addressed conversation, or the space's
// default one, creating it on first contact. A conversation belonging
// to another space is treated as not found.
func (o *Orchestrator) resolveConversation(ctx context.Context, sp *space.Space, exec *Executor, conversationID string) (*store.Conversation, error) {
	if conversationID == "" {
		return o.store.GetOrCreateDefault(ctx, sp.ID, o.agentConfigSnapshot(exec.Model))
	}
	conv, err := o.store.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.SpaceID != sp.ID {
		return nil, fmt.Errorf("conversation %s in space %s: %w", conversationID, sp.ID, store.ErrNotFound)
	}
	return conv, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, sp *space.Space, exec *Executor, conv *store.Conversation, userMessage string) (*TurnResult, error) {
	logger := o.logger.With("space", sp.ID, "conversation", conv.ID)
	logger.Info("turn started", "model", exec.Model)

	if _, err := o.store.Append(ctx, conv.ID, store.RoleUser, userMessage, nil); err != nil {
		return nil, fmt.Errorf("record user message: %w", err)
	}

	entries, err := o.store.Tail(ctx, conv.ID, o.windowTurns*windowOversample)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := []llm.Message{{Role: "system", Content: exec.System}}
	messages = append(messages, BuildWindow(entries, o.windowTurns)...)

	toolCtx := tools.WithConversationID(ctx, conv.ID)
	var executions []ToolExecution
	// Correlation ids of tool_request entries recorded this turn that
	// have no tool_result yet. Reconciled on the fatal path.
	var pending []pendingRequest

	for iteration := 1; iteration <= o.maxIterations; iteration++ {
		if cancelErr := ctx.Err(); cancelErr != nil {
			o.reconcilePending(ctx, conv.ID, pending, logger)
			logger.Warn("turn cancelled", "iteration", iteration)
			return nil, fmt.Errorf("turn cancelled: %w", cancelErr)
		}

		resp, err := exec.LLM.Chat(ctx, exec.Model, messages, exec.Tools.Schemas())
		if err != nil {
			o.reconcilePending(ctx, conv.ID, pending, logger)
			logger.Error("model call failed", "iteration", iteration, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}

		if len(resp.Message.ToolCalls) == 0 {
			answer := resp.Message.Content
			if _, err := o.store.Append(ctx, conv.ID, store.RoleAssistant, answer, nil); err != nil {
				o.reconcilePending(ctx, conv.ID, pending, logger)
				return nil, fmt.Errorf("record answer: %w", err)
			}
			logger.Info("turn completed", "iterations", iteration, "tool_calls", len(executions))
			return &TurnResult{
				ConversationID: conv.ID,
				Answer:         answer,
				ToolExecutions: executions,
				Iterations:     iteration,
			}, nil
		}

		// Caller cancellation stops the turn before the next tool call
		// starts; only an already in-flight execution gets to finish
		// and record.
		for _, call := range resp.Message.ToolCalls {
			if cancelErr := ctx.Err(); cancelErr != nil {
				o.reconcilePending(ctx, conv.ID, pending, logger)
				logger.Warn("turn cancelled, skipping remaining tool calls", "next_tool", call.Function.Name)
				return nil, fmt.Errorf("turn cancelled: %w", cancelErr)
			}
			exchange, execution, err := o.executeToolCall(toolCtx, exec, conv.ID, call, &pending, logger)
			if err != nil {
				o.reconcilePending(ctx, conv.ID, pending, logger)
				return nil, err
			}
			messages = append(messages, exchange...)
			executions = append(executions, execution)
		}
	}

	// Cap reached: ask for a wrap-up answer without offering tools.
	logger.Warn("iteration cap reached", "cap", o.maxIterations)
	answer := o.wrapUpAnswer(ctx, exec, messages, logger)
	if _, err := o.store.Append(ctx, conv.ID, store.RoleAssistant, answer, nil); err != nil {
		o.reconcilePending(ctx, conv.ID, pending, logger)
		return nil, fmt.Errorf("record answer: %w", err)
	}
	return &TurnResult{
		ConversationID: conv.ID,
		Answer:         answer,
		ToolExecutions: executions,
		Iterations:     o.maxIterations,
	}, nil
}

type pendingRequest struct {
	Tool          string
	CorrelationID string
}

// executeToolCall records the request, runs the tool, records the
// result, and returns the two scratch messages for the model plus the
// execution summary for the caller. Tool failure is not a turn
// failure: it becomes an error observation. Once started, execution
// and both log writes survive caller cancellation so the
// request/result pairing holds.
func (o *Orchestrator) executeToolCall(ctx context.Context, exec *Executor, convID string, call llm.ToolCall, pending *[]pendingRequest, logger *slog.Logger) ([]llm.Message, ToolExecution, error) {
	name := call.Function.Name
	correlationID := uuid.NewString()

	argsJSON, err := json.Marshal(call.Function.Arguments)
	if err != nil {
		argsJSON = []byte("{}")
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if _, err := o.store.Append(recordCtx, convID, store.RoleToolRequest, "", &store.Metadata{
		Tool:          name,
		Arguments:     string(argsJSON),
		CorrelationID: correlationID,
	}); err != nil {
		return nil, ToolExecution{}, fmt.Errorf("record tool request: %w", err)
	}
	*pending = append(*pending, pendingRequest{Tool: name, CorrelationID: correlationID})

	execCtx, cancelExec := context.WithTimeout(context.WithoutCancel(ctx), o.toolTimeout)
	defer cancelExec()

	logger.Debug("executing tool", "tool", name, "correlation_id", correlationID)
	result, execErr := exec.Tools.Execute(execCtx, name, call.Function.Arguments)

	status := store.StatusOK
	if execErr != nil {
		status = store.StatusError
		result = execErr.Error()
		logger.Warn("tool failed", "tool", name, "correlation_id", correlationID, "error", execErr)
	}

	if _, err := o.store.Append(recordCtx, convID, store.RoleToolResult, result, &store.Metadata{
		Tool:          name,
		CorrelationID: correlationID,
		Status:        status,
	}); err != nil {
		return nil, ToolExecution{}, fmt.Errorf("record tool result: %w", err)
	}
	*pending = (*pending)[:len(*pending)-1]

	request := llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{call}}
	observation := llm.Message{Role: "tool", Content: result, ToolCallID: correlationID}
	if status == store.StatusError {
		observation.Content = "Error: " + result
	}
	execution := ToolExecution{
		Tool:          name,
		Arguments:     string(argsJSON),
		CorrelationID: correlationID,
		Result:        result,
		Status:        status,
	}
	return []llm.Message{request, observation}, execution, nil
}

// reconcilePending writes synthetic error results for every recorded
// tool_request still missing its result, so the log never ends a turn
// with an unpaired request.
func (o *Orchestrator) reconcilePending(ctx context.Context, convID string, pending []pendingRequest, logger *slog.Logger) {
	if len(pending) == 0 {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	for _, p := range pending {
		_, err := o.store.Append(recordCtx, convID, store.RoleToolResult, interruptedResult, &store.Metadata{
			Tool:          p.Tool,
			CorrelationID: p.CorrelationID,
			Status:        store.StatusError,
		})
		if err != nil {
			logger.Error("failed to reconcile tool request", "correlation_id", p.CorrelationID, "error", err)
		}
	}
}

// wrapUpAnswer asks the model to conclude without tools. If that call
// also fails we fall back to a canned apology rather than erroring a
// turn that already did real work.
func (o *Orchestrator) wrapUpAnswer(ctx context.Context, exec *Executor, messages []llm.Message, logger *slog.Logger) string {
	messages = append(messages, llm.Message{Role: "system", Content: capReachedPrompt})
	resp, err := exec.LLM.Chat(ctx, exec.Model, messages, nil)
	if err != nil || strings.TrimSpace(resp.Message.Content) == "" {
		if err != nil {
			logger.Error("wrap-up call failed", "error", err)
		}
		return fallbackAnswer
	}
	return resp.Message.Content
}
