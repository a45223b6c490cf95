// Package catalog holds the static model catalog. The catalog is
// configuration data, not mutable state: the set of selectable models and
// their providers.
package catalog

import "strings"

// Model is one selectable entry in the catalog.
type Model struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Provider    string `json:"provider"`
}

// DefaultModel is the active model on first run.
const DefaultModel = "openai:gpt-4o"

var models = []Model{
	{ID: "openai:gpt-4o", DisplayName: "GPT-4o", Provider: "openai"},
	{ID: "openai:gpt-4o-mini", DisplayName: "GPT-4o Mini", Provider: "openai"},
	{ID: "anthropic:claude-3-opus", DisplayName: "Claude 3 Opus", Provider: "anthropic"},
	{ID: "anthropic:claude-3-sonnet", DisplayName: "Claude 3 Sonnet", Provider: "anthropic"},
	{ID: "anthropic:claude-3-haiku", DisplayName: "Claude 3 Haiku", Provider: "anthropic"},
	{ID: "mistral:mistral-large", DisplayName: "Mistral Large", Provider: "mistral"},
	{ID: "mistral:mistral-medium", DisplayName: "Mistral Medium", Provider: "mistral"},
	{ID: "mistral:mistral-small", DisplayName: "Mistral Small", Provider: "mistral"},
	{ID: "perplexity:llama-3.1-sonar-large", DisplayName: "Llama 3.1 Large", Provider: "perplexity"},
	{ID: "perplexity:llama-3.1-sonar-small", DisplayName: "Llama 3.1 Small", Provider: "perplexity"},
}

// Models returns the ordered catalog. The returned slice is a copy; callers
// may not mutate catalog entries.
func Models() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// Lookup finds a catalog entry by model ID.
func Lookup(id string) (Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// ProviderOf derives the provider from a model ID: the prefix before the
// first ":". A model ID with no separator is its own provider.
func ProviderOf(modelID string) string {
	provider, _, _ := strings.Cut(modelID, ":")
	return provider
}
