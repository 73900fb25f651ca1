// Package api implements the HTTP API: the chat endpoint plus
// conversation inspection, export, and health surfaces.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/agent"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/buildinfo"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/config"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/metrics"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/session"
)

// unavailableReply is the user-facing text when the completion provider
// is down. The turn still returns 200: the user's message was recorded.
const unavailableReply = "I'm having trouble reaching my language model right now. Your message has been saved; please try again in a moment."

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	loop     *agent.Loop
	sessions *session.Store
	verifier TokenVerifier
	limiters *limiterPool
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates an API server.
func NewServer(listen config.ListenConfig, loop *agent.Loop, sessions *session.Store, verifier TokenVerifier, rl config.RateLimitConfig, logger *slog.Logger) *Server {
	return &Server{
		address:  listen.Address,
		port:     listen.Port,
		loop:     loop,
		sessions: sessions,
		verifier: verifier,
		limiters: &limiterPool{cfg: rl},
		logger:   logger,
	}
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.withAuth(s.handleChat))

	mux.HandleFunc("GET /v1/conversations", s.withAuth(s.handleConversationList))
	mux.HandleFunc("GET /v1/conversations/{id}/history", s.withAuth(s.handleHistory))
	mux.HandleFunc("GET /v1/conversations/{id}/export", s.withAuth(s.handleExport))

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // turns can take several model round-trips
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// withLogging assigns each request an id (honoring a caller-supplied
// X-Request-ID) and logs method, path, and duration.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// ChatRequest is the chat endpoint's request body. A zero or absent
// conversation_id starts a new conversation.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

// ChatResponse is the chat endpoint's response body.
type ChatResponse struct {
	ConversationID int64                  `json:"conversation_id"`
	Response       string                 `json:"response"`
	ToolCalls      []agent.ToolCallRecord `json:"tool_calls,omitempty"`
}

// handleChat runs one agent turn.
// POST /v1/chat {"message": "add buy milk to my list"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user := userID(r)

	if !s.limiters.Allow(user) {
		metrics.RateLimited.Inc()
		s.errorResponse(w, http.StatusTooManyRequests, "rate limit exceeded, slow down")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.loop.HandleTurn(r.Context(), user, req.ConversationID, req.Message)
	if err != nil {
		var ie agent.InputError
		switch {
		case errors.As(err, &ie):
			s.errorResponse(w, http.StatusBadRequest, ie.Reason)
		case errors.Is(err, session.ErrNotFound):
			s.errorResponse(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, agent.ErrServiceUnavailable):
			// The user's message was persisted; from the API's point of
			// view the conversation continues, so this is not an error.
			w.Header().Set("Content-Type", "application/json")
			writeJSON(w, ChatResponse{
				ConversationID: res.ConversationID,
				Response:       unavailableReply,
			}, s.logger)
		default:
			s.logger.Error("chat turn failed", "user", user, "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		ConversationID: res.ConversationID,
		Response:       res.Reply,
		ToolCalls:      res.ToolCalls,
	}, s.logger)
}

// ConversationView is one entry in the conversation list.
type ConversationView struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// handleConversationList returns the caller's conversations, most
// recently active first.
func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	convs, err := s.sessions.ListConversations(userID(r))
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		views = append(views, ConversationView{ID: c.ID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt})
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"conversations": views}, s.logger)
}

// TurnView is one transcript entry: user and assistant turns only.
type TurnView struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// handleHistory returns a conversation transcript in chronological
// order. Tool turns are internal and omitted.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	turns, ok := s.loadTranscript(w, id, userID(r))
	if !ok {
		return
	}

	views := make([]TurnView, 0, len(turns))
	for _, t := range turns {
		views = append(views, TurnView{Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt})
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"conversation_id": id, "turns": views}, s.logger)
}

// loadTranscript loads the user/assistant turns of a conversation,
// writing the error response itself on failure. Missing and foreign
// conversations are indistinguishable to the caller.
func (s *Server) loadTranscript(w http.ResponseWriter, conversationID, user int64) ([]session.Turn, bool) {
	turns, err := s.sessions.LoadTurns(conversationID, user, 0)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "conversation not found")
		} else {
			s.logger.Error("load turns failed", "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "internal error")
		}
		return nil, false
	}

	transcript := turns[:0]
	for _, t := range turns {
		if t.Role == session.RoleUser || t.Role == session.RoleAssistant {
			transcript = append(transcript, t)
		}
	}
	return transcript, true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "todochat",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}
