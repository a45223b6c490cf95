// Package quota gates free-tier requests behind a global counter. The gate
// is provider-agnostic: it counts requests, not per-provider usage.
package quota

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/neuralhub/neuralhub/internal/storage"
)

// DefaultMaxFreeRequests is the free-tier ceiling when none is configured.
const DefaultMaxFreeRequests = 10

// Stand-in secrets used for free-tier requests when the user has no key of
// their own for a provider.
var freeTierSecrets = map[string]string{
	"openai":     "free-tier-openai-key",
	"anthropic":  "free-tier-anthropic-key",
	"mistral":    "free-tier-mistral-key",
	"perplexity": "free-tier-perplexity-key",
}

// FreeTierSecret returns the stand-in secret for a provider, or false when
// the provider has no free tier.
func FreeTierSecret(provider string) (string, bool) {
	secret, ok := freeTierSecrets[provider]
	return secret, ok
}

// Storage defines the persistence operations the gate needs. Implemented by
// storage.Store.
type Storage interface {
	SetSessionValue(key, value string) error
	GetSessionValue(key string) (string, error)
}

// Gate tracks free-tier usage against a fixed ceiling. The counter is
// persisted as an integer-in-string session value; concurrent writers are
// last-write-wins.
type Gate struct {
	db  Storage
	max int

	mu sync.Mutex
}

// NewGate creates a gate with the given ceiling. A non-positive ceiling
// falls back to DefaultMaxFreeRequests.
func NewGate(db Storage, maxRequests int) *Gate {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxFreeRequests
	}
	return &Gate{db: db, max: maxRequests}
}

// Max returns the configured ceiling.
func (g *Gate) Max() int {
	return g.max
}

// CurrentUsage returns the persisted counter. A missing or unparsable
// value reads as 0 rather than failing.
func (g *Gate) CurrentUsage() int {
	raw, err := g.db.GetSessionValue(storage.KeyFreeTierUsage)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Increment consumes one unit of quota and returns the new count.
func (g *Gate) Increment() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.CurrentUsage() + 1
	if err := g.db.SetSessionValue(storage.KeyFreeTierUsage, strconv.Itoa(n)); err != nil {
		return 0, fmt.Errorf("persisting usage counter: %w", err)
	}
	return n, nil
}

// HasRemaining reports whether free-tier quota is left.
func (g *Gate) HasRemaining() bool {
	return g.CurrentUsage() < g.max
}

// Remaining returns the number of free-tier requests left.
func (g *Gate) Remaining() int {
	r := g.max - g.CurrentUsage()
	if r < 0 {
		return 0
	}
	return r
}

// Reset sets the counter back to 0. Debug and testing escape hatch; not
// part of the normal flow.
func (g *Gate) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.db.SetSessionValue(storage.KeyFreeTierUsage, "0"); err != nil {
		return fmt.Errorf("resetting usage counter: %w", err)
	}
	return nil
}
