// Package api implements the HTTP API: auth, synchronous and streaming
// chat, and CRUD surfaces for tasks, memories, and documents.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/buildinfo"
	"github.com/castellanhq/castellan/internal/docstore"
	"github.com/castellanhq/castellan/internal/orchestrator"
	"github.com/castellanhq/castellan/internal/store"
)

// Orchestrator is the message-handling surface the server dispatches to.
type Orchestrator interface {
	Handle(ctx context.Context, userID uuid.UUID, message string) (*orchestrator.Result, error)
	HandleStream(ctx context.Context, userID uuid.UUID, message string) <-chan orchestrator.Event
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	orch    Orchestrator
	store   *store.Store
	docs    *docstore.Store
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server. docs may be nil when embeddings
// are disabled; the documents endpoint then reports unavailable.
func NewServer(address string, port int, orch Orchestrator, st *store.Store, docs *docstore.Store, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		orch:    orch,
		store:   st,
		docs:    docs,
		logger:  logger,
	}
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Auth
	mux.HandleFunc("POST /v1/auth/register", s.handleRegister)
	mux.HandleFunc("POST /v1/auth/login", s.handleLogin)

	// Chat
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /v1/chat/ws", s.handleChatWS)

	// Conversation history
	mux.HandleFunc("GET /v1/conversations", s.handleConversations)

	// Tasks
	mux.HandleFunc("POST /v1/tasks", s.handleTaskCreate)
	mux.HandleFunc("GET /v1/tasks", s.handleTaskList)
	mux.HandleFunc("PATCH /v1/tasks/{id}/status", s.handleTaskStatus)
	mux.HandleFunc("DELETE /v1/tasks/{id}", s.handleTaskDelete)

	// Memories
	mux.HandleFunc("GET /v1/memories", s.handleMemoryList)
	// Memory keys may contain slashes, so match the rest of the path.
	mux.HandleFunc("DELETE /v1/memories/{key...}", s.handleMemoryDelete)

	// Documents
	mux.HandleFunc("POST /v1/documents", s.handleDocumentIngest)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long for streaming responses
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

// userIDFromRequest reads the user id from the user_id query parameter.
func (s *Server) userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		return uuid.Nil, errors.New("user_id is required")
	}
	return uuid.Parse(raw)
}

// --- Auth ---

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		s.errorResponse(w, http.StatusBadRequest, "username and password are required")
		return
	}

	hash, err := store.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "registration failed")
		return
	}

	user, err := s.store.CreateUser(req.Username, hash)
	if err != nil {
		s.logger.Warn("create user failed", "username", req.Username, "error", err)
		s.errorResponse(w, http.StatusConflict, "username already taken")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, user, s.logger)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ok, err := s.store.VerifyPassword(req.Username, req.Password)
	if err != nil {
		s.logger.Error("verify password failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "login failed")
		return
	}
	if !ok {
		s.errorResponse(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	user, err := s.store.GetUserByUsername(req.Username)
	if err != nil {
		s.logger.Error("load user failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "login failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, user, s.logger)
}

// --- Chat ---

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return uuid.Nil, "", false
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return uuid.Nil, "", false
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid user_id")
		return uuid.Nil, "", false
	}
	return userID, req.Message, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, message, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	result, err := s.orch.Handle(r.Context(), userID, message)
	if err != nil {
		s.logger.Error("chat handling failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "chat failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result, s.logger)
}

// handleChatStream serves one chat turn as Server-Sent Events: a routing
// event, token events, then a done event with the full response.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	userID, message, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	rc := http.NewResponseController(w)

	for event := range s.orch.HandleStream(r.Context(), userID, message) {
		if event.Type == orchestrator.EventError {
			// Error details stay in the server log.
			s.logger.Error("streaming chat failed", "error", event.Err)
			s.writeSSE(w, map[string]string{"type": "error", "message": "chat failed"})
			flusher.Flush()
			return
		}
		s.writeSSE(w, event)
		flusher.Flush()

		if err := rc.SetWriteDeadline(time.Now().Add(120 * time.Second)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Debug("failed to marshal SSE payload", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE payload", "error", err)
	}
}

// --- Conversations ---

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userIDFromRequest(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, perr := strconv.Atoi(l); perr == nil && parsed > 0 {
			limit = parsed
		}
	}

	turns, err := s.store.GetConversationHistory(userID, limit, r.URL.Query().Get("agent"))
	if err != nil {
		s.logger.Error("conversation list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":         len(turns),
		"conversations": turns,
	}, s.logger)
}

// --- Health ---

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Castellan",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}
