package provider

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/recd/internal/catalog"
)

// DemoTag prefixes every simulated completion.
const DemoTag = "[DEMO]"

const demoExcerptRunes = 80

// IsDemo reports whether text is simulated output.
func IsDemo(text string) bool {
	return strings.HasPrefix(text, DemoTag)
}

func demoText(spec catalog.ModelSpec, prompt string) string {
	return fmt.Sprintf("%s Simulated recommendation from %s (%s). Set %s for live output. Prompt: %q",
		DemoTag, spec.Label, spec.Key, spec.Provider.CredentialEnv(), excerpt(prompt, demoExcerptRunes))
}

// excerpt collapses whitespace and truncates to n runes.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
