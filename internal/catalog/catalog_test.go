package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_KeysUnique(t *testing.T) {
	c := Default()
	specs := c.Specs()
	require.NotEmpty(t, specs)

	seen := map[string]bool{}
	providers := map[Provider]int{}
	for _, s := range specs {
		assert.False(t, seen[s.Key], "duplicate key %s", s.Key)
		seen[s.Key] = true
		assert.NotEmpty(t, s.RemoteModel)
		providers[s.Provider]++
	}
	for _, p := range Providers {
		assert.Positive(t, providers[p], "no default model for %s", p)
	}
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		specs []ModelSpec
	}{
		{"empty key", []ModelSpec{{Provider: OpenAI, RemoteModel: "m"}}},
		{"unknown provider", []ModelSpec{{Key: "x", Provider: "acme", RemoteModel: "m"}}},
		{"duplicate", []ModelSpec{
			{Key: "x", Provider: OpenAI, RemoteModel: "a"},
			{Key: "x", Provider: Google, RemoteModel: "b"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.specs)
			assert.Error(t, err)
		})
	}
}

func TestResolve_PreservesCallerOrder(t *testing.T) {
	c := Default()

	specs, err := c.Resolve([]string{"gemini-1.5-flash", "gpt-4o-mini", "claude-3-5-haiku"})
	require.NoError(t, err)
	require.Len(t, specs, 3)
	assert.Equal(t, "gemini-1.5-flash", specs[0].Key)
	assert.Equal(t, Google, specs[0].Provider)
	assert.Equal(t, "gpt-4o-mini", specs[1].Key)
	assert.Equal(t, Anthropic, specs[2].Provider)

	_, err = c.Resolve([]string{"gpt-4o-mini", "gpt-9"})
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.Contains(t, err.Error(), "gpt-9")
}

func TestListing_DemoWhenCredentialAbsent(t *testing.T) {
	c := Default()
	listing := c.Listing(Credentials{OpenAI: true})

	require.Len(t, listing, len(c.Specs()))
	for _, a := range listing {
		if a.Provider == OpenAI {
			assert.True(t, a.Available, a.Key)
			assert.Equal(t, ModeLive, a.Mode)
		} else {
			assert.False(t, a.Available, a.Key)
			assert.Equal(t, ModeDemo, a.Mode)
		}
		assert.Equal(t, a.Provider.CredentialEnv(), a.CredentialEnv)
	}
}

func TestCredentialEnv(t *testing.T) {
	assert.Equal(t, "OPENAI_API_KEY", OpenAI.CredentialEnv())
	assert.Equal(t, "ANTHROPIC_API_KEY", Anthropic.CredentialEnv())
	assert.Equal(t, "GOOGLE_API_KEY", Google.CredentialEnv())
	assert.Equal(t, "", Provider("acme").CredentialEnv())
}
