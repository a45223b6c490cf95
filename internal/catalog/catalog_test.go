package catalog

import "testing"

func TestProviderOf(t *testing.T) {
	cases := []struct {
		modelID string
		want    string
	}{
		{"openai:gpt-4o", "openai"},
		{"anthropic:claude-3-opus", "anthropic"},
		{"perplexity:llama-3.1-sonar-large", "perplexity"},
		{"bare-model", "bare-model"},
		{"", ""},
	}
	for _, c := range cases {
		if got := ProviderOf(c.modelID); got != c.want {
			t.Errorf("ProviderOf(%q) = %q, want %q", c.modelID, got, c.want)
		}
	}
}

func TestLookup(t *testing.T) {
	m, ok := Lookup(DefaultModel)
	if !ok {
		t.Fatalf("Lookup(%q) not found", DefaultModel)
	}
	if m.Provider != "openai" {
		t.Errorf("default model provider = %q, want openai", m.Provider)
	}

	if _, ok := Lookup("nope:missing"); ok {
		t.Error("Lookup of unknown model reported found")
	}
}

// TestCatalogProvidersConsistent checks every entry's Provider matches the
// prefix of its ID.
func TestCatalogProvidersConsistent(t *testing.T) {
	for _, m := range Models() {
		if ProviderOf(m.ID) != m.Provider {
			t.Errorf("model %q: provider field %q does not match id prefix %q", m.ID, m.Provider, ProviderOf(m.ID))
		}
	}
}
