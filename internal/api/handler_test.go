package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/neuralhub/neuralhub/internal/chat"
	"github.com/neuralhub/neuralhub/internal/credential"
	"github.com/neuralhub/neuralhub/internal/quota"
	"github.com/neuralhub/neuralhub/internal/storage"
)

// instantResponder replies immediately so handler tests stay fast.
type instantResponder struct {
	block chan struct{}
}

func (r *instantResponder) Respond(ctx context.Context, userText, modelID string) (string, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "ack: " + userText, nil
}

func newTestHandler(t *testing.T) (http.Handler, Deps, *instantResponder) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	creds := credential.NewStore(db, nil)
	gate := quota.NewGate(db, 10)
	resp := &instantResponder{}
	deps := Deps{
		Chat:        chat.NewStore(db, creds, gate, resp, nil, ""),
		Credentials: creds,
		Gate:        gate,
	}
	return NewHandler(deps), deps, resp
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := doRequest(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestListModels(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := doRequest(t, h, http.MethodGet, "/v1/models", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Default string `json:"default"`
		Models  []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Provider string `json:"provider"`
		} `json:"models"`
	}
	decodeResponse(t, w, &resp)
	if resp.Default != "openai:gpt-4o" {
		t.Errorf("default = %q", resp.Default)
	}
	if len(resp.Models) != 10 {
		t.Errorf("model count = %d, want 10", len(resp.Models))
	}
}

func TestKeyLifecycle(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := doRequest(t, h, http.MethodPost, "/v1/keys", map[string]string{
		"provider": "openai",
		"secret":   "sk-test-1234567890abcd",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("add key status = %d (%s)", w.Code, w.Body.String())
	}
	var added KeyView
	decodeResponse(t, w, &added)
	if added.Provider != "openai" || !added.Active {
		t.Errorf("added = %+v", added)
	}
	if added.Secret != "****abcd" {
		t.Errorf("secret = %q, want redacted last four", added.Secret)
	}

	w = doRequest(t, h, http.MethodGet, "/v1/keys", nil)
	var list []KeyView
	decodeResponse(t, w, &list)
	if len(list) != 1 {
		t.Fatalf("key count = %d", len(list))
	}
	if strings.Contains(w.Body.String(), "sk-test") {
		t.Error("full secret leaked in list response")
	}

	w = doRequest(t, h, http.MethodPost, "/v1/keys/"+added.ID+"/toggle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", w.Code)
	}
	w = doRequest(t, h, http.MethodGet, "/v1/keys", nil)
	decodeResponse(t, w, &list)
	if list[0].Active {
		t.Error("key still active after toggle")
	}

	w = doRequest(t, h, http.MethodPatch, "/v1/keys/"+added.ID, map[string]string{
		"secret": "sk-new-secret-wxyz",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d", w.Code)
	}

	w = doRequest(t, h, http.MethodDelete, "/v1/keys/"+added.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doRequest(t, h, http.MethodGet, "/v1/keys", nil)
	decodeResponse(t, w, &list)
	if len(list) != 0 {
		t.Errorf("key count after delete = %d", len(list))
	}
}

func TestAddKeyValidation(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := doRequest(t, h, http.MethodPost, "/v1/keys", map[string]string{"secret": "sk-x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing provider status = %d", w.Code)
	}
	w = doRequest(t, h, http.MethodPost, "/v1/keys", map[string]string{"provider": "openai"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing secret status = %d", w.Code)
	}
}

func TestToggleMissingKeyIsNoOp(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := doRequest(t, h, http.MethodPost, "/v1/keys/nope/toggle", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (missing ids are no-ops)", w.Code)
	}
}

func TestConversationEndpoints(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := doRequest(t, h, http.MethodPost, "/v1/conversations", map[string]string{})
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d", w.Code)
	}
	var conv storage.Conversation
	decodeResponse(t, w, &conv)
	if conv.Title != "New Conversation 1" {
		t.Errorf("title = %q", conv.Title)
	}

	w = doRequest(t, h, http.MethodPatch, "/v1/conversations/"+conv.ID, map[string]string{"title": "Renamed"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename status = %d", w.Code)
	}

	w = doRequest(t, h, http.MethodGet, "/v1/conversations/"+conv.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	decodeResponse(t, w, &conv)
	if conv.Title != "Renamed" {
		t.Errorf("title after rename = %q", conv.Title)
	}

	w = doRequest(t, h, http.MethodGet, "/v1/conversations", nil)
	var list []storage.Conversation
	decodeResponse(t, w, &list)
	if len(list) != 1 {
		t.Fatalf("conversation count = %d", len(list))
	}

	w = doRequest(t, h, http.MethodDelete, "/v1/conversations/"+conv.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doRequest(t, h, http.MethodGet, "/v1/conversations", nil)
	decodeResponse(t, w, &list)
	if len(list) != 0 {
		t.Errorf("conversation count after delete = %d", len(list))
	}
}

func TestGetConversationNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := doRequest(t, h, http.MethodGet, "/v1/conversations/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestClearConversations(t *testing.T) {
	h, _, _ := newTestHandler(t)

	for i := 0; i < 3; i++ {
		doRequest(t, h, http.MethodPost, "/v1/conversations", map[string]string{})
	}
	w := doRequest(t, h, http.MethodDelete, "/v1/conversations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status = %d", w.Code)
	}
	var list []storage.Conversation
	w = doRequest(t, h, http.MethodGet, "/v1/conversations", nil)
	decodeResponse(t, w, &list)
	if len(list) != 0 {
		t.Errorf("conversation count after clear = %d", len(list))
	}
}

func TestChatEndpoint(t *testing.T) {
	h, deps, _ := newTestHandler(t)

	w := doRequest(t, h, http.MethodPost, "/v1/chat", map[string]string{"content": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("chat status = %d (%s)", w.Code, w.Body.String())
	}
	var msg storage.Message
	decodeResponse(t, w, &msg)
	if msg.Role != storage.RoleAssistant {
		t.Errorf("role = %q", msg.Role)
	}
	if msg.Content != "ack: hello" {
		t.Errorf("content = %q", msg.Content)
	}
	if got := deps.Gate.CurrentUsage(); got != 1 {
		t.Errorf("usage = %d, want 1", got)
	}
}

func TestChatEmptyContent(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := doRequest(t, h, http.MethodPost, "/v1/chat", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestChatQuotaExhausted(t *testing.T) {
	h, deps, _ := newTestHandler(t)

	for i := 0; i < 10; i++ {
		if _, err := deps.Gate.Increment(); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}
	w := doRequest(t, h, http.MethodPost, "/v1/chat", map[string]string{"content": "hi"})
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", w.Code)
	}
	if !strings.Contains(w.Body.String(), "insufficient_quota") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestChatConflictWhileSending(t *testing.T) {
	h, _, resp := newTestHandler(t)
	resp.block = make(chan struct{})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- doRequest(t, h, http.MethodPost, "/v1/chat", map[string]string{"content": "slow"})
	}()

	// Wait for the first send to reach the responder.
	deadline := 0
	for {
		w := doRequest(t, h, http.MethodGet, "/v1/session", nil)
		var sess struct {
			Loading bool `json:"loading"`
		}
		decodeResponse(t, w, &sess)
		if sess.Loading {
			break
		}
		deadline++
		if deadline > 1000 {
			t.Fatal("first send never started")
		}
	}

	w := doRequest(t, h, http.MethodPost, "/v1/chat", map[string]string{"content": "second"})
	if w.Code != http.StatusConflict {
		t.Errorf("concurrent chat status = %d, want 409", w.Code)
	}

	close(resp.block)
	if first := <-done; first.Code != http.StatusOK {
		t.Errorf("first chat status = %d", first.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := doRequest(t, h, http.MethodGet, "/v1/session", nil)
	var sess map[string]any
	decodeResponse(t, w, &sess)
	if sess["model"] != "openai:gpt-4o" {
		t.Errorf("model = %v", sess["model"])
	}
	if _, ok := sess["conversation_id"]; ok {
		t.Error("conversation_id present with no active conversation")
	}

	w = doRequest(t, h, http.MethodPut, "/v1/session/model", map[string]string{"model": "anthropic:claude-3-opus"})
	if w.Code != http.StatusOK {
		t.Fatalf("set model status = %d (%s)", w.Code, w.Body.String())
	}
	w = doRequest(t, h, http.MethodPut, "/v1/session/model", map[string]string{"model": "bogus:model"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown model status = %d, want 400", w.Code)
	}

	w = doRequest(t, h, http.MethodGet, "/v1/session", nil)
	decodeResponse(t, w, &sess)
	if sess["model"] != "anthropic:claude-3-opus" {
		t.Errorf("model after set = %v", sess["model"])
	}

	var conv storage.Conversation
	w = doRequest(t, h, http.MethodPost, "/v1/conversations", map[string]string{"title": "t"})
	decodeResponse(t, w, &conv)

	w = doRequest(t, h, http.MethodPut, "/v1/session/conversation", map[string]string{"id": ""})
	if w.Code != http.StatusOK {
		t.Fatalf("clear conversation status = %d", w.Code)
	}
	w = doRequest(t, h, http.MethodGet, "/v1/session", nil)
	sess = nil
	decodeResponse(t, w, &sess)
	if _, ok := sess["conversation_id"]; ok {
		t.Error("conversation_id present after clearing pointer")
	}

	w = doRequest(t, h, http.MethodPut, "/v1/session/conversation", map[string]string{"id": conv.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("set conversation status = %d", w.Code)
	}
	w = doRequest(t, h, http.MethodGet, "/v1/session", nil)
	sess = nil
	decodeResponse(t, w, &sess)
	if sess["conversation_id"] != conv.ID {
		t.Errorf("conversation_id = %v, want %q", sess["conversation_id"], conv.ID)
	}
}

func TestUsageEndpoints(t *testing.T) {
	h, deps, _ := newTestHandler(t)

	if _, err := deps.Gate.Increment(); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	w := doRequest(t, h, http.MethodGet, "/v1/usage", nil)
	var usage map[string]int
	decodeResponse(t, w, &usage)
	if usage["used"] != 1 || usage["max"] != 10 || usage["remaining"] != 9 {
		t.Errorf("usage = %v", usage)
	}

	w = doRequest(t, h, http.MethodPost, "/v1/usage/reset", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d", w.Code)
	}
	w = doRequest(t, h, http.MethodGet, "/v1/usage", nil)
	usage = nil
	decodeResponse(t, w, &usage)
	if usage["used"] != 0 {
		t.Errorf("used after reset = %d", usage["used"])
	}
}
