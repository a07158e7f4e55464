package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/agent"
	"github.com/castellanhq/castellan/internal/store"
)

// --- Tasks ---

type taskCreateRequest struct {
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req taskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		s.errorResponse(w, http.StatusBadRequest, "title is required")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	task, err := s.store.CreateTask(userID, req.Title, req.Description, req.Priority, req.DueDate)
	if err != nil {
		s.logger.Error("task create failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, task, s.logger)
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userIDFromRequest(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	tasks, err := s.store.GetTasks(userID, r.URL.Query().Get("status"), r.URL.Query().Get("priority"))
	if err != nil {
		s.logger.Error("task list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count": len(tasks),
		"tasks": tasks,
	}, s.logger)
}

type taskStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid task id")
		return
	}

	var req taskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !store.ValidStatus(req.Status) {
		s.errorResponse(w, http.StatusBadRequest, "invalid status")
		return
	}

	if err := s.store.UpdateTaskStatus(id, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("task status update failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to update task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid task id")
		return
	}

	if err := s.store.DeleteTask(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("task delete failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Memories ---

// handleMemoryList returns the user's memories minus internal agent
// state, which lives under a reserved key prefix.
func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userIDFromRequest(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	all, err := s.store.GetAllMemories(userID)
	if err != nil {
		s.logger.Error("memory list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list memories")
		return
	}

	memories := make([]*store.Memory, 0, len(all))
	for _, m := range all {
		if strings.HasPrefix(m.Key, agent.ReservedPrefix) {
			continue
		}
		memories = append(memories, m)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":    len(memories),
		"memories": memories,
	}, s.logger)
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userIDFromRequest(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	key := r.PathValue("key")
	if strings.HasPrefix(key, agent.ReservedPrefix) {
		s.errorResponse(w, http.StatusForbidden, "reserved key")
		return
	}

	if err := s.store.DeleteMemory(userID, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "memory not found")
			return
		}
		s.logger.Error("memory delete failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete memory")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Documents ---

type documentIngestRequest struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (s *Server) handleDocumentIngest(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "document store not configured")
		return
	}

	var req documentIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Content == "" {
		s.errorResponse(w, http.StatusBadRequest, "name and content are required")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	chunks, err := s.docs.Ingest(r.Context(), userID, req.Name, req.Content)
	if err != nil {
		s.logger.Error("document ingest failed", "document", req.Name, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to ingest document")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{
		"document": req.Name,
		"chunks":   chunks,
	}, s.logger)
}
