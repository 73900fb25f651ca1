// Package agent implements the core agent loop: load conversation
// context, ask the completion provider for a decision, execute any
// requested tools, and persist the full turn batch.
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
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/config"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/llm"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/metrics"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/session"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/tools"
)

// MaxMessageLen is the longest user message the loop accepts, in runes.
const MaxMessageLen = 10000

const systemPrompt = `You are a helpful todo-list assistant. You manage the user's tasks
using the tools provided: create_task, list_tasks, complete_task, delete_task,
and update_task. Use tools whenever the user asks to add, view, finish, remove,
or change a task, then answer based on the tool results. Be concise and friendly.
Never invent task IDs; look tasks up first when you are unsure.`

// degradedAnswer is returned when the tool-iteration ceiling is hit
// before the model produces a final answer.
const degradedAnswer = "I ran several task operations but couldn't finish composing a full answer. Please check your task list or rephrase your request."

// ErrServiceUnavailable reports that the completion provider could not
// be reached after all retries.
var ErrServiceUnavailable = errors.New("completion service unavailable")

// InputError reports an invalid user message.
type InputError struct {
	Reason string
}

func (e InputError) Error() string { return e.Reason }

// ToolCallRecord describes one tool execution performed during a turn.
type ToolCallRecord struct {
	Name      string          `json:"name"`
	Arguments map[string]any  `json:"arguments"`
	Result    json.RawMessage `json:"result"`
}

// Result is the outcome of one chat turn.
type Result struct {
	ConversationID int64
	Reply          string
	ToolCalls      []ToolCallRecord
}

// Loop is the stateless agent execution loop. All conversation state
// lives in the session store; the loop only serializes concurrent
// turns on the same conversation.
type Loop struct {
	logger   *slog.Logger
	sessions *session.Store
	registry *tools.Registry
	client   llm.Client
	cfg      config.AgentConfig

	mu        sync.Mutex
	convLocks map[int64]*convLock
	retryBase time.Duration
}

// convLock serializes turns on one conversation. refs counts holders and
// waiters so the entry can be dropped once nobody needs it.
type convLock struct {
	mu   sync.Mutex
	refs int
}

// NewLoop creates an agent loop.
func NewLoop(logger *slog.Logger, sessions *session.Store, registry *tools.Registry, client llm.Client, cfg config.AgentConfig) *Loop {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 5
	}
	if cfg.CompletionRetries <= 0 {
		cfg.CompletionRetries = 1
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return &Loop{
		logger:    logger,
		sessions:  sessions,
		registry:  registry,
		client:    client,
		cfg:       cfg,
		convLocks: make(map[int64]*convLock),
		retryBase: 500 * time.Millisecond,
	}
}

// HandleTurn runs one full chat turn for userID. A conversationID of 0
// starts a new conversation; otherwise the conversation must belong to
// userID or session.ErrNotFound is returned.
func (l *Loop) HandleTurn(ctx context.Context, userID, conversationID int64, message string) (*Result, error) {
	start := time.Now()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, InputError{Reason: "message must not be empty"}
	}
	if utf8.RuneCountInString(message) > MaxMessageLen {
		return nil, InputError{Reason: fmt.Sprintf("message exceeds %d characters", MaxMessageLen)}
	}

	var conv *session.Conversation
	var err error
	if conversationID == 0 {
		conv, err = l.sessions.CreateConversation(userID)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
	} else {
		conv, err = l.sessions.GetConversation(conversationID, userID)
		if err != nil {
			return nil, err
		}
	}

	unlock := l.lockConversation(conv.ID)
	defer unlock()

	history, err := l.sessions.LoadTurns(conv.ID, userID, l.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, t := range history {
		// Tool turns are stored for audit but not replayed: without
		// their originating tool_call ids the provider rejects them.
		if t.Role != session.RoleUser && t.Role != session.RoleAssistant {
			continue
		}
		if t.Content == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: session.RoleUser, Content: message})

	l.logger.Info("turn started",
		"user", userID,
		"conversation", conv.ID,
		"history", len(history),
	)

	// Turns persisted at the end, in order: the user message, any tool
	// results, and the assistant reply. One batch, one transaction.
	batch := []session.Turn{{Role: session.RoleUser, Content: message}}

	var records []ToolCallRecord
	reply := degradedAnswer

	for iter := 0; ; iter++ {
		if iter >= l.cfg.MaxToolIterations {
			l.logger.Warn("tool iteration ceiling reached", "conversation", conv.ID, "iterations", iter)
			break
		}

		decision, err := l.completeWithRetry(ctx, messages)
		if err != nil {
			// Keep everything that already happened: the user's message
			// and any tool results from earlier iterations. Those tools
			// mutated the task store, so dropping their turns would leave
			// the conversation record claiming less than what ran.
			if perr := l.sessions.AppendTurns(conv.ID, userID, batch); perr != nil {
				l.logger.Error("persist partial turn failed", "error", perr)
			}
			metrics.TurnsTotal.WithLabelValues("service_unavailable").Inc()
			// The partial result carries the conversation id so callers
			// can still point the user back at the conversation.
			return &Result{ConversationID: conv.ID}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}

		if !decision.IsToolCalls() {
			reply = decision.FinalAnswer
			break
		}

		calls := decision.ToolCalls
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = uuid.NewString()
			}
		}
		messages = append(messages, llm.Message{Role: session.RoleAssistant, ToolCalls: calls})

		for _, call := range calls {
			payload := l.executeTool(userID, call)
			records = append(records, ToolCallRecord{
				Name:      call.Name,
				Arguments: call.Arguments,
				Result:    payload,
			})
			batch = append(batch, session.Turn{
				Role:     session.RoleTool,
				Content:  string(payload),
				ToolName: call.Name,
			})
			messages = append(messages, llm.Message{
				Role:       session.RoleTool,
				Content:    string(payload),
				ToolCallID: call.ID,
			})
		}
	}

	batch = append(batch, session.Turn{Role: session.RoleAssistant, Content: reply})
	if err := l.sessions.AppendTurns(conv.ID, userID, batch); err != nil {
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("persist turn: %w", err)
	}

	metrics.TurnsTotal.WithLabelValues("ok").Inc()
	metrics.TurnDuration.Observe(time.Since(start).Seconds())

	l.logger.Info("turn completed",
		"conversation", conv.ID,
		"tool_calls", len(records),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return &Result{
		ConversationID: conv.ID,
		Reply:          reply,
		ToolCalls:      records,
	}, nil
}

// executeTool dispatches a single tool call and folds any failure into
// an error payload the model can read. Tool failures never abort the
// turn.
func (l *Loop) executeTool(userID int64, call llm.ToolCall) json.RawMessage {
	result, err := l.registry.Execute(userID, call.Name, call.Arguments)
	if err != nil {
		outcome := "error"
		switch {
		case tools.IsValidation(err):
			outcome = "validation_error"
		case tools.IsNotFound(err):
			outcome = "not_found"
		}
		metrics.ToolExecutions.WithLabelValues(call.Name, outcome).Inc()
		l.logger.Warn("tool execution failed",
			"tool", call.Name,
			"outcome", outcome,
			"error", err,
		)
		payload, _ := json.Marshal(map[string]string{
			"error": err.Error(),
			"kind":  outcome,
		})
		return payload
	}

	metrics.ToolExecutions.WithLabelValues(call.Name, "ok").Inc()
	payload, err := json.Marshal(result)
	if err != nil {
		payload, _ = json.Marshal(map[string]string{
			"error": "tool produced an unserializable result",
			"kind":  "error",
		})
	}
	return payload
}

// completeWithRetry calls the completion provider, retrying failures
// with exponential backoff.
func (l *Loop) completeWithRetry(ctx context.Context, messages []llm.Message) (*llm.Decision, error) {
	schema := l.registry.Schema()

	var lastErr error
	delay := l.retryBase
	for attempt := 0; attempt < l.cfg.CompletionRetries; attempt++ {
		if attempt > 0 {
			metrics.CompletionRetries.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		decision, err := l.client.Chat(ctx, messages, schema)
		if err == nil {
			return decision, nil
		}
		lastErr = err
		l.logger.Warn("completion attempt failed", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// lockConversation serializes turns on a single conversation. The lock
// entry is removed again when the last holder releases it, so the map
// does not grow with every conversation the process has ever seen.
func (l *Loop) lockConversation(id int64) func() {
	l.mu.Lock()
	lock, ok := l.convLocks[id]
	if !ok {
		lock = &convLock{}
		l.convLocks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.convLocks, id)
		}
		l.mu.Unlock()
	}
}
