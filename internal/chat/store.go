// Package chat owns the conversation set, the active conversation and model
// pointers, and the send orchestration. Provider resolution and free-tier
// fallback happen here; the actual reply comes from an injected Responder.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neuralhub/neuralhub/internal/catalog"
	"github.com/neuralhub/neuralhub/internal/credential"
	"github.com/neuralhub/neuralhub/internal/quota"
	"github.com/neuralhub/neuralhub/internal/storage"
)

var (
	// ErrSendInFlight is returned when SendMessage is called while another
	// send is still waiting on the responder. Rejecting the re-entrant call
	// avoids double-consuming free-tier quota.
	ErrSendInFlight = errors.New("a send is already in progress")

	// ErrNoKeyOrQuota is returned when the active model's provider has no
	// active credential and the free tier is exhausted.
	ErrNoKeyOrQuota = errors.New("no API key and no free-tier requests remaining")
)

// Responder produces an assistant reply for a user message. The reference
// implementation is a fixed-delay simulator; a production implementation
// calls the real provider API. It may take observable time and may fail.
type Responder interface {
	Respond(ctx context.Context, userText, modelID string) (string, error)
}

// Credentials is the slice of the credential store the chat layer needs.
type Credentials interface {
	Lookup(provider string) (string, error)
}

// Quota is the slice of the usage gate the chat layer needs.
type Quota interface {
	HasRemaining() bool
	Increment() (int, error)
}

// Notifier surfaces user-visible notices.
type Notifier interface {
	Success(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

type nopNotifier struct{}

func (nopNotifier) Success(string, ...any) {}
func (nopNotifier) Info(string, ...any)    {}
func (nopNotifier) Error(string, ...any)   {}

// Storage defines the persistence operations the conversation store needs.
// Implemented by storage.Store.
type Storage interface {
	InsertConversation(storage.Conversation) error
	GetConversation(id string) (storage.Conversation, error)
	ListConversations() ([]storage.Conversation, error)
	CountConversations() (int, error)
	RenameConversation(id, title string, updatedAt time.Time) error
	DeleteConversation(id string) error
	DeleteAllConversations() error
	AppendMessage(conversationID string, m storage.Message) error
	CountMessages(conversationID string) (int, error)
	SetSessionValue(key, value string) error
	GetSessionValue(key string) (string, error)
	DeleteSessionValue(key string) error
}

const titleMaxLen = 30

// Store manages conversations and the chat session state.
type Store struct {
	db           Storage
	creds        Credentials
	gate         Quota
	responder    Responder
	notify       Notifier
	defaultModel string

	now func() time.Time

	mu      sync.Mutex
	loading bool
}

// NewStore wires a conversation store. A nil notifier disables notices; an
// empty defaultModel falls back to the catalog default.
func NewStore(db Storage, creds Credentials, gate Quota, responder Responder, notify Notifier, defaultModel string) *Store {
	if notify == nil {
		notify = nopNotifier{}
	}
	if defaultModel == "" {
		defaultModel = catalog.DefaultModel
	}
	return &Store{
		db:           db,
		creds:        creds,
		gate:         gate,
		responder:    responder,
		notify:       notify,
		defaultModel: defaultModel,
		now:          time.Now,
	}
}

// Loading reports whether a send is currently waiting on the responder.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// ActiveModel returns the selected model id, falling back to the default on
// first run.
func (s *Store) ActiveModel() string {
	model, err := s.db.GetSessionValue(storage.KeyActiveModel)
	if err != nil || model == "" {
		return s.defaultModel
	}
	return model
}

// SetActiveModel updates the session's model selection. The selection is
// persisted independently of any conversation.
func (s *Store) SetActiveModel(modelID string) error {
	if err := s.db.SetSessionValue(storage.KeyActiveModel, modelID); err != nil {
		return fmt.Errorf("persisting model selection: %w", err)
	}
	return nil
}

// ActiveConversation resolves the active pointer. A dangling or unset
// pointer resolves to none rather than an error.
func (s *Store) ActiveConversation() (storage.Conversation, bool, error) {
	id, err := s.db.GetSessionValue(storage.KeyActiveConversation)
	if errors.Is(err, storage.ErrNotFound) || id == "" {
		return storage.Conversation{}, false, nil
	}
	if err != nil {
		return storage.Conversation{}, false, fmt.Errorf("reading active conversation pointer: %w", err)
	}

	conv, err := s.db.GetConversation(id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Conversation{}, false, nil
	}
	if err != nil {
		return storage.Conversation{}, false, fmt.Errorf("loading active conversation: %w", err)
	}
	return conv, true, nil
}

// SetActiveConversation sets the active pointer. The id is not validated;
// a dangling pointer simply resolves to no active conversation. An empty id
// clears the pointer.
func (s *Store) SetActiveConversation(id string) error {
	if id == "" {
		if err := s.db.DeleteSessionValue(storage.KeyActiveConversation); err != nil {
			return fmt.Errorf("clearing active conversation pointer: %w", err)
		}
		return nil
	}
	if err := s.db.SetSessionValue(storage.KeyActiveConversation, id); err != nil {
		return fmt.Errorf("persisting active conversation pointer: %w", err)
	}
	return nil
}

// Conversations returns the full conversation set, most recent first.
func (s *Store) Conversations() ([]storage.Conversation, error) {
	return s.db.ListConversations()
}

// Conversation retrieves one conversation with its messages.
func (s *Store) Conversation(id string) (storage.Conversation, error) {
	return s.db.GetConversation(id)
}

// CreateConversation creates an empty conversation bound to the current
// model, inserts it at the head of the list, and makes it active. An empty
// title gets the auto-numbered default.
func (s *Store) CreateConversation(title string) (storage.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(title)
}

func (s *Store) createLocked(title string) (storage.Conversation, error) {
	if title == "" {
		n, err := s.db.CountConversations()
		if err != nil {
			return storage.Conversation{}, fmt.Errorf("counting conversations: %w", err)
		}
		title = fmt.Sprintf("New Conversation %d", n+1)
	}

	now := s.now()
	conv := storage.Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		Model:     s.ActiveModel(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.InsertConversation(conv); err != nil {
		return storage.Conversation{}, fmt.Errorf("inserting conversation: %w", err)
	}
	if err := s.db.SetSessionValue(storage.KeyActiveConversation, conv.ID); err != nil {
		return storage.Conversation{}, fmt.Errorf("activating conversation: %w", err)
	}
	return conv, nil
}

// ensureActiveLocked resolves the active conversation id, creating and
// activating a fresh conversation when the pointer is unset or dangling.
func (s *Store) ensureActiveLocked() (string, error) {
	id, err := s.db.GetSessionValue(storage.KeyActiveConversation)
	if err == nil && id != "" {
		if _, err := s.db.GetConversation(id); err == nil {
			return id, nil
		}
	}

	conv, err := s.createLocked("")
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}

// AppendMessage appends a message to the active conversation, creating one
// first if none is active. The first user message of a conversation derives
// its title.
func (s *Store) AppendMessage(content, role, model string) (storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(content, role, model)
}

func (s *Store) appendLocked(content, role, model string) (storage.Message, error) {
	convID, err := s.ensureActiveLocked()
	if err != nil {
		return storage.Message{}, err
	}

	if model == "" {
		model = s.ActiveModel()
	}

	existing, err := s.db.CountMessages(convID)
	if err != nil {
		return storage.Message{}, fmt.Errorf("counting messages: %w", err)
	}

	now := s.now()
	msg := storage.Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Model:     model,
		Timestamp: now,
	}
	if err := s.db.AppendMessage(convID, msg); err != nil {
		return storage.Message{}, fmt.Errorf("appending message: %w", err)
	}

	// Only the very first user message names the conversation.
	if existing == 0 && role == storage.RoleUser {
		if err := s.db.RenameConversation(convID, deriveTitle(content), now); err != nil {
			return storage.Message{}, fmt.Errorf("deriving title: %w", err)
		}
	}

	return msg, nil
}

// SendMessage runs the full send flow: append the user message, resolve a
// secret for the active model's provider (own key first, then free tier),
// invoke the responder, and append its reply. The user message stays in
// history even when the responder fails. A second call while one is in
// flight returns ErrSendInFlight.
func (s *Store) SendMessage(ctx context.Context, content string) (storage.Message, error) {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return storage.Message{}, ErrSendInFlight
	}

	model := s.ActiveModel()
	provider := catalog.ProviderOf(model)

	if _, err := s.appendLocked(content, storage.RoleUser, model); err != nil {
		s.mu.Unlock()
		return storage.Message{}, err
	}

	if err := s.resolveSecretLocked(provider); err != nil {
		s.mu.Unlock()
		return storage.Message{}, err
	}

	s.loading = true
	s.mu.Unlock()

	reply, respondErr := s.responder.Respond(ctx, content, model)

	s.mu.Lock()
	defer func() {
		s.loading = false
		s.mu.Unlock()
	}()

	if respondErr != nil {
		s.notify.Error("Failed to get a response. Please try again.")
		return storage.Message{}, fmt.Errorf("responder for %s: %w", model, respondErr)
	}

	msg, err := s.appendLocked(reply, storage.RoleAssistant, model)
	if err != nil {
		return storage.Message{}, err
	}
	return msg, nil
}

// resolveSecretLocked finds a usable secret for the provider: the user's
// own active credential, else one unit of free-tier quota with the stand-in
// secret. Returns ErrNoKeyOrQuota when neither exists.
func (s *Store) resolveSecretLocked(provider string) error {
	if _, err := s.creds.Lookup(provider); err == nil {
		return nil
	} else if !errors.Is(err, credential.ErrNoActiveKey) {
		return fmt.Errorf("resolving credential for %s: %w", provider, err)
	}

	standIn, ok := quota.FreeTierSecret(provider)
	if !ok || !s.gate.HasRemaining() {
		s.notify.Error("No API key found for %s and no free-tier requests remaining. Please add your API key in Settings.", provider)
		return fmt.Errorf("%w (provider %s)", ErrNoKeyOrQuota, provider)
	}

	n, err := s.gate.Increment()
	if err != nil {
		return fmt.Errorf("consuming free-tier quota: %w", err)
	}
	slog.Debug("using free-tier key", "provider", provider, "secret", redact(standIn), "used", n)
	return nil
}

// RenameConversation sets a conversation's title. Empty titles and unknown
// ids are silent no-ops.
func (s *Store) RenameConversation(id, title string) error {
	if title == "" {
		return nil
	}
	err := s.db.RenameConversation(id, title, s.now())
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("renaming conversation %s: %w", id, err)
	}
	return nil
}

// DeleteConversation removes a conversation. When it was the active one the
// active pointer is cleared. An unknown id is a silent no-op.
func (s *Store) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.DeleteConversation(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}

	if active, aerr := s.db.GetSessionValue(storage.KeyActiveConversation); aerr == nil && active == id {
		if err := s.db.DeleteSessionValue(storage.KeyActiveConversation); err != nil {
			return fmt.Errorf("clearing active conversation pointer: %w", err)
		}
	}

	s.notify.Info("Conversation deleted")
	return nil
}

// ClearAll empties the conversation set and clears the active pointer.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteAllConversations(); err != nil {
		return fmt.Errorf("clearing conversations: %w", err)
	}
	if err := s.db.DeleteSessionValue(storage.KeyActiveConversation); err != nil {
		return fmt.Errorf("clearing active conversation pointer: %w", err)
	}

	s.notify.Info("All conversations cleared")
	return nil
}

// deriveTitle builds a conversation title from its first user message:
// the first 30 characters, with an ellipsis when truncated. Rune-based so
// multi-byte content is never split.
func deriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleMaxLen {
		return content
	}
	return string(runes[:titleMaxLen]) + "..."
}

func redact(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
