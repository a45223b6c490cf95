// Package credential owns the set of per-provider API keys. Provider
// uniqueness is a hard invariant: Add upserts by provider and the schema
// rejects duplicates, so lookup never has to pick between rows.
package credential

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neuralhub/neuralhub/internal/storage"
)

// ErrNoActiveKey is returned by Lookup when no active credential exists for
// a provider. Inactive credentials never satisfy a lookup.
var ErrNoActiveKey = errors.New("no active API key")

// Storage defines the persistence operations the credential store needs.
// Implemented by storage.Store.
type Storage interface {
	InsertCredential(storage.Credential) error
	UpdateCredential(storage.Credential) error
	GetCredential(id string) (storage.Credential, error)
	GetCredentialByProvider(provider string) (storage.Credential, error)
	ListCredentials() ([]storage.Credential, error)
	DeleteCredential(id string) error
}

// Notifier surfaces user-visible notices. The HTTP and CLI layers plug in
// their own renderers.
type Notifier interface {
	Success(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// NopNotifier discards all notices.
type NopNotifier struct{}

func (NopNotifier) Success(string, ...any) {}
func (NopNotifier) Info(string, ...any)    {}
func (NopNotifier) Error(string, ...any)   {}

// Store manages provider credentials on top of durable storage.
type Store struct {
	db     Storage
	notify Notifier

	mu sync.Mutex
}

// NewStore creates a credential store. A nil notifier disables notices.
func NewStore(db Storage, notify Notifier) *Store {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Store{db: db, notify: notify}
}

// Add stores an API key for a provider. If the provider already has a
// credential its secret is overwritten and it is forced active; otherwise a
// new credential is created. Never produces two rows for one provider.
func (s *Store) Add(provider, secret string) (storage.Credential, error) {
	provider = strings.TrimSpace(strings.ToLower(provider))
	if provider == "" {
		return storage.Credential{}, fmt.Errorf("provider is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	existing, err := s.db.GetCredentialByProvider(provider)
	switch {
	case err == nil:
		existing.Secret = secret
		existing.Active = true
		existing.UpdatedAt = now
		if err := s.db.UpdateCredential(existing); err != nil {
			return storage.Credential{}, fmt.Errorf("updating credential for %s: %w", provider, err)
		}
		s.notify.Success("Updated API key for %s", provider)
		return existing, nil

	case errors.Is(err, storage.ErrNotFound):
		c := storage.Credential{
			ID:        uuid.New().String(),
			Provider:  provider,
			Secret:    secret,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.db.InsertCredential(c); err != nil {
			return storage.Credential{}, fmt.Errorf("inserting credential for %s: %w", provider, err)
		}
		s.notify.Success("Added API key for %s", provider)
		return c, nil

	default:
		return storage.Credential{}, fmt.Errorf("looking up credential for %s: %w", provider, err)
	}
}

// Update replaces the secret of the credential with the given id. An
// unknown id is a silent no-op.
func (s *Store) Update(id, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.db.GetCredential(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting credential %s: %w", id, err)
	}

	c.Secret = secret
	c.UpdatedAt = time.Now()
	if err := s.db.UpdateCredential(c); err != nil {
		return fmt.Errorf("updating credential %s: %w", id, err)
	}
	s.notify.Success("API key updated")
	return nil
}

// Remove deletes the credential with the given id. An unknown id is a
// silent no-op.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.DeleteCredential(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting credential %s: %w", id, err)
	}
	s.notify.Info("API key removed")
	return nil
}

// Toggle flips the active flag of the credential with the given id and
// reports the resulting state. An unknown id is a silent no-op.
func (s *Store) Toggle(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.db.GetCredential(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting credential %s: %w", id, err)
	}

	c.Active = !c.Active
	c.UpdatedAt = time.Now()
	if err := s.db.UpdateCredential(c); err != nil {
		return fmt.Errorf("toggling credential %s: %w", id, err)
	}

	state := "deactivated"
	if c.Active {
		state = "activated"
	}
	s.notify.Info("%s API key %s", c.Provider, state)
	return nil
}

// Lookup returns the secret of the active credential for a provider, or
// ErrNoActiveKey when the provider has no credential or its credential is
// inactive.
func (s *Store) Lookup(provider string) (string, error) {
	c, err := s.db.GetCredentialByProvider(provider)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w for %s", ErrNoActiveKey, provider)
	}
	if err != nil {
		return "", fmt.Errorf("looking up credential for %s: %w", provider, err)
	}
	if !c.Active {
		return "", fmt.Errorf("%w for %s", ErrNoActiveKey, provider)
	}
	return c.Secret, nil
}

// List returns all stored credentials, secrets included. Callers exposing
// this to a UI are responsible for redaction.
func (s *Store) List() ([]storage.Credential, error) {
	return s.db.ListCredentials()
}
