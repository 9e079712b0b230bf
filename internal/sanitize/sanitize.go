// Package sanitize cleans user-supplied free text before it is stored.
// Names, business names and operator notes end up in emails, session tokens
// and operator consoles, so markup is stripped on the way in rather than
// escaped at every place they are shown.
package sanitize

import (
	"html"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// policy is the shared strict policy: it allows no elements at all.
var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Text drops control characters, removes every HTML tag, decodes entities
// and collapses runs of whitespace to one space.
// "<b>Hopper</b> &amp; Sons" becomes "Hopper & Sons".
func Text(input string) string {
	if input == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, input)
	stripped := html.UnescapeString(getPolicy().Sanitize(cleaned))
	return strings.Join(strings.Fields(stripped), " ")
}
