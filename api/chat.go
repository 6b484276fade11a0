package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/modelclient"
	"github.com/parleyhq/parley/internal/prompt"
)

// SessionKeyHeader carries the session key back to the client so follow-up
// turns can resume the same session.
const SessionKeyHeader = "X-Chat-ID"

// defaultCategory prefixes session keys created without an explicit category.
const defaultCategory = "chat"

// ChatHandler handles the streaming chat endpoints.
type ChatHandler struct {
	manager  *chat.Manager
	catalog  *prompt.Catalog
	modelCfg modelclient.ModelConfig
	logger   log.Logger
}

// NewChatHandler creates a new chat handler.
// catalog may be nil; prompt-by-identifier requests then fail with 400.
func NewChatHandler(manager *chat.Manager, catalog *prompt.Catalog, modelCfg modelclient.ModelConfig, logger log.Logger) *ChatHandler {
	return &ChatHandler{
		manager:  manager,
		catalog:  catalog,
		modelCfg: modelCfg,
		logger:   logger,
	}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/prompt", h.handlePrompt)
	mux.HandleFunc("POST /api/chat", h.handleChat)
}

// ChatRequest is the request body shared by both chat endpoints.
type ChatRequest struct {
	// UserInput is the user's message. With PromptID set it binds to the
	// template's {user_input} and is what the transcript displays.
	UserInput string `json:"userinput"`

	// PromptID selects a catalog prompt to render as the model-facing
	// message. Empty means UserInput is sent as-is.
	PromptID string `json:"promptid,omitempty"`

	// Variables supplies additional template bindings for PromptID.
	Variables map[string]string `json:"variables,omitempty"`

	// ChatSessionID resumes an existing session; empty creates one.
	ChatSessionID string `json:"chatSessionId,omitempty"`

	// ChatCategory prefixes a newly created session's key.
	ChatCategory string `json:"chatCategory,omitempty"`

	// UserID is the opaque identifier owning the session.
	UserID string `json:"userId,omitempty"`

	// Document keys the knowledge document to ground this turn on.
	// Only honored by the raw streaming endpoint.
	Document string `json:"document,omitempty"`
}

// handlePrompt streams raw text fragments. For document-grounded turns the
// citations block follows the final fragment.
func (h *ChatHandler) handlePrompt(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	message, override, systemMessage, ok := h.resolvePrompt(w, req)
	if !ok {
		return
	}

	key, sc, err := h.manager.StreamingChat(h.modelCfg, req.ChatSessionID, chat.Options{
		Category:      category(req),
		UserID:        req.UserID,
		SystemMessage: systemMessage,
	})
	if err != nil {
		h.logger.Error("failed to resolve session", "error", err)
		writeError(w, http.StatusBadRequest, "SESSION_ERROR", err.Error())
		return
	}

	flusher, ok := h.startStream(w, key)
	if !ok {
		return
	}

	ctx := r.Context()
	if req.Document != "" {
		var citations string
		for fragment, sources := range sc.RunWithDocument(ctx, req.Document, message) {
			citations = sources
			_, _ = fmt.Fprint(w, fragment)
			flusher.Flush()
			if ctx.Err() != nil {
				return
			}
		}
		if citations != "" {
			_, _ = fmt.Fprint(w, "\n\n"+citations)
			flusher.Flush()
		}
		return
	}

	for fragment := range sc.Run(ctx, message, override) {
		_, _ = fmt.Fprint(w, fragment)
		flusher.Flush()
		if ctx.Err() != nil {
			return
		}
	}
}

// handleChat streams framed events, copied to the response verbatim.
func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	if req.UserInput == "" {
		writeError(w, http.StatusBadRequest, "MISSING_USER_INPUT", "userinput is required")
		return
	}

	key, jc, err := h.manager.JSONChat(h.modelCfg, req.ChatSessionID, chat.Options{
		Category: category(req),
		UserID:   req.UserID,
	})
	if err != nil {
		h.logger.Error("failed to resolve session", "error", err)
		writeError(w, http.StatusBadRequest, "SESSION_ERROR", err.Error())
		return
	}

	flusher, ok := h.startStream(w, key)
	if !ok {
		return
	}

	ctx := r.Context()
	for frame := range jc.Run(ctx, req.UserInput) {
		_, _ = fmt.Fprint(w, frame)
		flusher.Flush()
		if ctx.Err() != nil {
			return
		}
	}
}

// decodeRequest parses the shared request body.
func (h *ChatHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	if h.manager == nil {
		h.logger.Error("chat manager is nil")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return ChatRequest{}, false
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return ChatRequest{}, false
	}
	return req, true
}

// resolvePrompt determines the model-facing message. With a prompt
// identifier, the rendered template goes to the model while the raw user
// input is what the transcript keeps as the displayed message.
func (h *ChatHandler) resolvePrompt(w http.ResponseWriter, req ChatRequest) (message, override, systemMessage string, ok bool) {
	if req.PromptID == "" {
		if req.UserInput == "" && req.Document == "" {
			writeError(w, http.StatusBadRequest, "MISSING_USER_INPUT", "userinput is required")
			return "", "", "", false
		}
		return req.UserInput, "", "", true
	}

	if h.catalog == nil {
		writeError(w, http.StatusBadRequest, "PROMPT_NOT_FOUND", "no prompt catalog configured")
		return "", "", "", false
	}

	rendered, entry, err := h.catalog.Render(req.PromptID, req.UserInput, req.Variables)
	if err != nil {
		if errors.Is(err, prompt.ErrPromptNotFound) {
			writeError(w, http.StatusBadRequest, "PROMPT_NOT_FOUND", err.Error())
			return "", "", "", false
		}
		h.logger.Error("failed to render prompt", "promptid", req.PromptID, "error", err)
		writeError(w, http.StatusInternalServerError, "PROMPT_ERROR", "failed to render prompt")
		return "", "", "", false
	}
	return rendered, req.UserInput, entry.Metadata.System, true
}

// startStream sets the streaming headers and resolves the flusher.
func (h *ChatHandler) startStream(w http.ResponseWriter, sessionKey string) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.Header().Set(SessionKeyHeader, sessionKey)
	w.WriteHeader(http.StatusOK)
	return flusher, true
}

func category(req ChatRequest) string {
	if req.ChatCategory != "" {
		return req.ChatCategory
	}
	return defaultCategory
}
