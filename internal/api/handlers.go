package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gloser-ai/console/internal/auth"
	"github.com/gloser-ai/console/internal/core"
	"github.com/gloser-ai/console/internal/format"
	"github.com/gloser-ai/console/internal/store"
	"github.com/gloser-ai/console/internal/view"
)

type APIHandler struct {
	controller *core.Controller
	formatter  *format.Formatter
	policy     view.Policy
	tokens     *auth.Tokens // nil when auth is disabled
	password   string
	log        *zap.Logger
}

func NewAPIHandler(c *core.Controller, f *format.Formatter, p view.Policy, tokens *auth.Tokens, password string, log *zap.Logger) *APIHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIHandler{
		controller: c,
		formatter:  f,
		policy:     p,
		tokens:     tokens,
		password:   password,
		log:        log,
	}
}

// AuthMiddleware validates the operator bearer token. When no token issuer
// is configured the console runs open.
func (h *APIHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.tokens == nil {
			next.ServeHTTP(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if err := h.tokens.Validate(tokenString); err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type LoginRequest struct {
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		http.Error(w, "Authentication is not configured", http.StatusNotFound)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Password == "" || req.Password != h.password {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := h.tokens.Generate()
	if err != nil {
		h.log.Error("failed to generate token", zap.Error(err))
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type QueryRequest struct {
	Input          string `json:"input"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type QueryResponse struct {
	Conversation ConversationSummary `json:"conversation"`
	Replies      []RenderedMessage   `json:"replies"`
	Plan         json.RawMessage     `json:"plan,omitempty"`
	Stats        any                 `json:"stats,omitempty"`
}

func (h *APIHandler) QueryHandler(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.controller.Send(r.Context(), req.ConversationID, req.Input)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrEmptyInput):
			http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		case errors.Is(err, core.ErrNotFound):
			http.Error(w, "Conversation not found", http.StatusNotFound)
		case errors.Is(err, core.ErrBusy):
			http.Error(w, "A reply is already being generated for this conversation", http.StatusConflict)
		default:
			h.log.Error("query failed", zap.String("conversation", req.ConversationID), zap.Error(err))
			http.Error(w, "Failed to process query", http.StatusInternalServerError)
		}
		return
	}

	revealAll := revealAll(r)
	resp := QueryResponse{
		Conversation: summarize(result.Conversation, h.controller.Busy(result.Conversation.ID)),
		Replies:      h.renderMessages(result.Replies, revealAll),
		Plan:         result.Plan,
	}
	if result.Stats != nil {
		resp.Stats = result.Stats
	}
	writeJSON(w, http.StatusOK, resp)
}

type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Messages  int       `json:"messages"`
	Busy      bool      `json:"busy"`
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	conversations := h.controller.List()
	summaries := make([]ConversationSummary, 0, len(conversations))
	for _, c := range conversations {
		summaries = append(summaries, summarize(c, h.controller.Busy(c.ID)))
	}
	writeJSON(w, http.StatusOK, summaries)
}

type ConversationDetail struct {
	ConversationSummary
	History []RenderedMessage `json:"history"`
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	conv, err := h.controller.Get(id)
	if err != nil {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	detail := ConversationDetail{
		ConversationSummary: summarize(*conv, h.controller.Busy(conv.ID)),
		History:             h.renderMessages(conv.Messages, revealAll(r)),
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if err := h.controller.Delete(id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		h.log.Error("failed to delete conversation", zap.String("conversation", id), zap.Error(err))
		http.Error(w, "Failed to delete conversation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ExportConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	filename, data, err := h.controller.Export(id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		h.log.Error("failed to export conversation", zap.String("conversation", id), zap.Error(err))
		http.Error(w, "Failed to export conversation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

func (h *APIHandler) GetActiveHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.controller.Active()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"conversation_id": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id})
}

type SetActiveRequest struct {
	ConversationID string `json:"conversation_id"`
}

func (h *APIHandler) SetActiveHandler(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.ConversationID == "" {
		if err := h.controller.ClearActive(); err != nil {
			h.log.Error("failed to clear active conversation", zap.Error(err))
			http.Error(w, "Failed to clear active conversation", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.controller.SetActive(req.ConversationID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		h.log.Error("failed to set active conversation", zap.Error(err))
		http.Error(w, "Failed to set active conversation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenderedMessage is a message shaped for display: assistant text arrives
// segmented, visuals arrive row-limited, with hidden counts so the client
// can offer a reveal action. The stored message always keeps everything.
type RenderedMessage struct {
	ID             string           `json:"id"`
	Role           store.Role       `json:"role"`
	Content        string           `json:"content"`
	Sections       []format.Section `json:"sections,omitempty"`
	HiddenSections int              `json:"hidden_sections,omitempty"`
	Visuals        []RenderedVisual `json:"visuals,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

type RenderedVisual struct {
	Type        store.VisualType `json:"type"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Labels      []string         `json:"labels,omitempty"`
	Datasets    []store.Dataset  `json:"datasets,omitempty"`
	Columns     []string         `json:"columns,omitempty"`
	Rows        []store.Row      `json:"rows,omitempty"`
	HiddenRows  int              `json:"hidden_rows,omitempty"`
}

func (h *APIHandler) renderMessages(messages []store.Message, revealAll bool) []RenderedMessage {
	rendered := make([]RenderedMessage, 0, len(messages))
	for _, m := range messages {
		rm := RenderedMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}
		if m.Role == store.RoleAssistant {
			sections := h.formatter.Format(m.Content)
			rm.Sections, rm.HiddenSections = h.policy.Sections(sections, revealAll)
		}
		for _, v := range m.Visuals {
			rows, hidden := h.policy.Rows(v.Rows, revealAll)
			rm.Visuals = append(rm.Visuals, RenderedVisual{
				Type:        v.Type,
				Title:       v.Title,
				Description: v.Description,
				Labels:      v.Labels,
				Datasets:    v.Datasets,
				Columns:     v.Columns,
				Rows:        rows,
				HiddenRows:  hidden,
			})
		}
		rendered = append(rendered, rm)
	}
	return rendered
}

func summarize(c store.Conversation, busy bool) ConversationSummary {
	return ConversationSummary{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		Messages:  len(c.Messages),
		Busy:      busy,
	}
}

// revealAll reads the user-triggered disclosure action from the query
// string; the default view shows only the leading sections and rows.
func revealAll(r *http.Request) bool {
	switch r.URL.Query().Get("full") {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
