// Package catalog holds the static set of selectable models and reports
// which of them can reach a live provider.
package catalog

import (
	"errors"
	"fmt"
)

// Provider identifies an AI vendor boundary.
type Provider string

const (
	OpenAI    Provider = "openai"
	Anthropic Provider = "anthropic"
	Google    Provider = "google"
)

// Providers lists every supported vendor in display order.
var Providers = []Provider{OpenAI, Anthropic, Google}

// CredentialEnv returns the environment variable that enables live calls.
func (p Provider) CredentialEnv() string {
	switch p {
	case OpenAI:
		return "OPENAI_API_KEY"
	case Anthropic:
		return "ANTHROPIC_API_KEY"
	case Google:
		return "GOOGLE_API_KEY"
	}
	return ""
}

// ModelSpec binds a stable key to a provider and the provider's model name.
type ModelSpec struct {
	Key         string   `json:"key"`
	Provider    Provider `json:"provider"`
	RemoteModel string   `json:"remote_model"`
	Label       string   `json:"label"`
}

// ErrUnknownModel is returned for keys outside the catalog.
var ErrUnknownModel = errors.New("unknown model")

// Catalog is an immutable key -> ModelSpec registry.
type Catalog struct {
	specs map[string]ModelSpec
	order []string
}

// Default returns the built-in model set.
func Default() *Catalog {
	c, err := New([]ModelSpec{
		{Key: "gpt-4o-mini", Provider: OpenAI, RemoteModel: "gpt-4o-mini", Label: "GPT-4o mini"},
		{Key: "gpt-4o", Provider: OpenAI, RemoteModel: "gpt-4o", Label: "GPT-4o"},
		{Key: "claude-3-5-haiku", Provider: Anthropic, RemoteModel: "claude-3-5-haiku-20241022", Label: "Claude 3.5 Haiku"},
		{Key: "claude-3-5-sonnet", Provider: Anthropic, RemoteModel: "claude-3-5-sonnet-20241022", Label: "Claude 3.5 Sonnet"},
		{Key: "gemini-1.5-flash", Provider: Google, RemoteModel: "gemini-1.5-flash", Label: "Gemini 1.5 Flash"},
		{Key: "gemini-1.5-pro", Provider: Google, RemoteModel: "gemini-1.5-pro", Label: "Gemini 1.5 Pro"},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// New builds a catalog. Keys must be unique and providers known.
func New(specs []ModelSpec) (*Catalog, error) {
	c := &Catalog{specs: make(map[string]ModelSpec, len(specs))}
	for _, s := range specs {
		if s.Key == "" {
			return nil, fmt.Errorf("model key cannot be empty")
		}
		if s.Provider.CredentialEnv() == "" {
			return nil, fmt.Errorf("model %q: unsupported provider %q", s.Key, s.Provider)
		}
		if _, dup := c.specs[s.Key]; dup {
			return nil, fmt.Errorf("duplicate model key %q", s.Key)
		}
		c.specs[s.Key] = s
		c.order = append(c.order, s.Key)
	}
	return c, nil
}

// Lookup resolves a key.
func (c *Catalog) Lookup(key string) (ModelSpec, error) {
	s, ok := c.specs[key]
	if !ok {
		return ModelSpec{}, fmt.Errorf("%w: %q", ErrUnknownModel, key)
	}
	return s, nil
}

// Specs returns every ModelSpec in catalog order.
func (c *Catalog) Specs() []ModelSpec {
	out := make([]ModelSpec, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.specs[k])
	}
	return out
}

// Resolve looks up every key, preserving caller order. The first unknown key fails.
func (c *Catalog) Resolve(keys []string) ([]ModelSpec, error) {
	out := make([]ModelSpec, 0, len(keys))
	for _, k := range keys {
		s, err := c.Lookup(k)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Credentials records, per provider, whether a credential is configured.
type Credentials map[Provider]bool

// Has reports whether p has a credential.
func (c Credentials) Has(p Provider) bool {
	return c[p]
}

// Mode is "live" when calls reach the provider, "demo" otherwise.
type Mode string

const (
	ModeLive Mode = "live"
	ModeDemo Mode = "demo"
)

// Availability is one row of the model status listing.
type Availability struct {
	ModelSpec
	Available     bool   `json:"available"`
	Mode          Mode   `json:"mode"`
	CredentialEnv string `json:"credential_env"`
}

// Listing reports every model with its availability. Models without a
// credential are still listed and selectable; they run in demo mode.
func (c *Catalog) Listing(creds Credentials) []Availability {
	out := make([]Availability, 0, len(c.order))
	for _, s := range c.Specs() {
		a := Availability{
			ModelSpec:     s,
			Available:     creds.Has(s.Provider),
			Mode:          ModeDemo,
			CredentialEnv: s.Provider.CredentialEnv(),
		}
		if a.Available {
			a.Mode = ModeLive
		}
		out = append(out, a)
	}
	return out
}
