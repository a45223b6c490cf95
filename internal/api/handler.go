// Package api exposes the hub over HTTP for the CLI and local clients, and
// over MCP for agent integrations. The HTTP surface is plain JSON; errors
// follow the {"error": {"message", "type"}} envelope.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/neuralhub/neuralhub/internal/catalog"
	"github.com/neuralhub/neuralhub/internal/chat"
	"github.com/neuralhub/neuralhub/internal/credential"
	"github.com/neuralhub/neuralhub/internal/quota"
	"github.com/neuralhub/neuralhub/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds the stores the HTTP layer serves.
type Deps struct {
	Chat        *chat.Store
	Credentials *credential.Store
	Gate        *quota.Gate
}

// NewHandler builds the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/v1/models", handleModels)

	r.Route("/v1/keys", func(r chi.Router) {
		r.Get("/", handleListKeys(deps))
		r.Post("/", handleAddKey(deps))
		r.Patch("/{id}", handleUpdateKey(deps))
		r.Delete("/{id}", handleRemoveKey(deps))
		r.Post("/{id}/toggle", handleToggleKey(deps))
	})

	r.Route("/v1/conversations", func(r chi.Router) {
		r.Get("/", handleListConversations(deps))
		r.Post("/", handleCreateConversation(deps))
		r.Delete("/", handleClearConversations(deps))
		r.Get("/{id}", handleGetConversation(deps))
		r.Patch("/{id}", handleRenameConversation(deps))
		r.Delete("/{id}", handleDeleteConversation(deps))
	})

	r.Post("/v1/chat", handleChat(deps))

	r.Route("/v1/session", func(r chi.Router) {
		r.Get("/", handleGetSession(deps))
		r.Put("/model", handleSetModel(deps))
		r.Put("/conversation", handleSetConversation(deps))
	})

	r.Get("/v1/usage", handleGetUsage(deps))
	r.Post("/v1/usage/reset", handleResetUsage(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"default": catalog.DefaultModel,
		"models":  catalog.Models(),
	})
}

// KeyView is a credential with the secret redacted down to its last four
// characters. Full secrets never leave the daemon.
type KeyView struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Secret    string `json:"secret"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func keyView(c storage.Credential) KeyView {
	return KeyView{
		ID:        c.ID,
		Provider:  c.Provider,
		Secret:    redactSecret(c.Secret),
		Active:    c.Active,
		CreatedAt: c.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt: c.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func redactSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func handleListKeys(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, err := deps.Credentials.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list keys: %v", err)
			return
		}

		views := make([]KeyView, len(creds))
		for i, c := range creds {
			views[i] = keyView(c)
		}
		writeJSON(w, views)
	}
}

func handleAddKey(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Provider string `json:"provider"`
			Secret   string `json:"secret"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
		if req.Provider == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "provider is required")
			return
		}
		if req.Secret == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "secret is required")
			return
		}

		cred, err := deps.Credentials.Add(req.Provider, req.Secret)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to add key: %v", err)
			return
		}
		writeJSON(w, keyView(cred))
	}
}

func handleUpdateKey(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req struct {
			Secret string `json:"secret"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
		if req.Secret == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "secret is required")
			return
		}

		if err := deps.Credentials.Update(id, req.Secret); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update key: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func handleRemoveKey(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := deps.Credentials.Remove(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove key: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleToggleKey(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := deps.Credentials.Toggle(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to toggle key: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "toggled"})
	}
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := deps.Chat.Conversations()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list conversations: %v", err)
			return
		}
		if convs == nil {
			convs = []storage.Conversation{}
		}
		writeJSON(w, convs)
	}
}

func handleCreateConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			return
		}

		conv, err := deps.Chat.CreateConversation(req.Title)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create conversation: %v", err)
			return
		}
		writeJSON(w, conv)
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		conv, err := deps.Chat.Conversation(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}
		writeJSON(w, conv)
	}
}

func handleRenameConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req struct {
			Title string `json:"title"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
		if req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}

		if err := deps.Chat.RenameConversation(id, req.Title); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to rename conversation: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "renamed"})
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := deps.Chat.DeleteConversation(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete conversation: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleClearConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Chat.ClearAll(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear conversations: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})
	}
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		msg, err := deps.Chat.SendMessage(r.Context(), req.Content)
		switch {
		case errors.Is(err, chat.ErrSendInFlight):
			httpError(w, http.StatusConflict, "conflict", "a send is already in progress")
			return
		case errors.Is(err, chat.ErrNoKeyOrQuota):
			httpError(w, http.StatusPaymentRequired, "insufficient_quota", "no API key and no free-tier requests remaining")
			return
		case err != nil:
			httpError(w, http.StatusBadGateway, "api_error", "send failed: %v", err)
			return
		}
		writeJSON(w, msg)
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"model":   deps.Chat.ActiveModel(),
			"loading": deps.Chat.Loading(),
		}
		conv, ok, err := deps.Chat.ActiveConversation()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to resolve session: %v", err)
			return
		}
		if ok {
			resp["conversation_id"] = conv.ID
			resp["conversation_title"] = conv.Title
		}
		writeJSON(w, resp)
	}
}

func handleSetModel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
		if _, ok := catalog.Lookup(req.Model); !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown model %q", req.Model)
			return
		}

		if err := deps.Chat.SetActiveModel(req.Model); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to set model: %v", err)
			return
		}
		writeJSON(w, map[string]string{"model": req.Model})
	}
}

func handleSetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID string `json:"id"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			return
		}

		if err := deps.Chat.SetActiveConversation(req.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to set conversation: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func handleGetUsage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]int{
			"used":      deps.Gate.CurrentUsage(),
			"max":       deps.Gate.Max(),
			"remaining": deps.Gate.Remaining(),
		})
	}
}

func handleResetUsage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Gate.Reset(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset usage: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "reset"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
