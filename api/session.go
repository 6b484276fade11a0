package api

import (
	"net/http"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/session"
)

// SessionHandler handles session dump and teardown endpoints.
type SessionHandler struct {
	store  *session.Store
	logger log.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store *session.Store, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions/{key}/dump", h.dump)
	mux.HandleFunc("DELETE /api/sessions/{key}", h.delete)
}

// dump renders the transcript of the caller's session as plain text.
// The owner check is by opaque user identifier; a wrong owner gets the same
// "not found" text as an unknown key, never a distinguishable error.
func (h *SessionHandler) dump(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.logger.Error("session store is nil")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	key := r.PathValue("key")
	owner := r.URL.Query().Get("userId")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.store.DumpAsText(key, owner)))
}

// delete tears a session down. Deleting an absent key succeeds, so the
// endpoint is idempotent.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.logger.Error("session store is nil")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.store.Delete(r.PathValue("key"))
	w.WriteHeader(http.StatusNoContent)
}
