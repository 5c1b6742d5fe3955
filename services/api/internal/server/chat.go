package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"formpilot/internal/util"
	"formpilot/pkg/ai"
	"formpilot/pkg/domain"
	"formpilot/services/api/internal/app"
)

type chatRequest struct {
	Message     string                 `json:"message"`
	History     []ai.Message           `json:"history"`
	CurrentForm *domain.FormDefinition `json:"currentForm"`
}

type chatResponse struct {
	ConversationID string                 `json:"conversationId,omitempty"`
	Intent         app.Intent             `json:"intent"`
	Message        string                 `json:"message"`
	FormDefinition *domain.FormDefinition `json:"formDefinition,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reply, err := s.app.Chat(r.Context(), app.ChatInput{
		Message:     req.Message,
		History:     req.History,
		CurrentForm: req.CurrentForm,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Intent:         reply.Intent,
		Message:        reply.Message,
		FormDefinition: reply.FormDefinition,
	})
}

type converseRequest struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

func (s *Server) handleConverse(w http.ResponseWriter, r *http.Request) {
	var req converseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := s.resolveUser(r, req.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	reply, err := s.app.Converse(r.Context(), app.ConverseInput{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: reply.ConversationID,
		Intent:         reply.Intent,
		Message:        reply.Message,
		FormDefinition: reply.FormDefinition,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.queryUser(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.app.ListConversations(r.Context(), userID, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.queryUser(w, r)
	if !ok {
		return
	}
	conv, err := s.app.GetConversation(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.queryUser(w, r)
	if !ok {
		return
	}
	if err := s.app.DeleteConversation(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleGenerateStream streams model output as server-sent events: "chunk"
// events while generating, then one "form" or "error" event.
func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	emit := func(chunk string) error {
		if err := writeEvent(w, "chunk", map[string]string{"text": chunk}); err != nil {
			return err
		}
		flusher.Flush()
		return ctx.Err()
	}
	def, err := s.app.StreamForm(ctx, app.ChatInput{
		Message:     req.Message,
		History:     req.History,
		CurrentForm: req.CurrentForm,
	}, emit)
	if err != nil {
		if ctx.Err() == nil {
			util.LoggerFromContext(ctx).Warn("form stream failed", "err", err)
			_ = writeEvent(w, "error", map[string]string{"error": err.Error()})
			flusher.Flush()
		}
		return
	}
	_ = writeEvent(w, "form", def)
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
