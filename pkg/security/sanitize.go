// Package security holds the input-sanitization and password-hashing
// utilities. Nothing here touches connection or ledger state.
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// Sanitize strips all markup from user-supplied text, limits it to maxLength
// runes and trims surrounding whitespace. Applying it to already-sanitized
// text returns the same string.
func Sanitize(text string, maxLength int) string {
	if text == "" {
		return ""
	}

	if maxLength > 0 {
		runes := []rune(text)
		if len(runes) > maxLength {
			text = string(runes[:maxLength])
		}
	}

	return strings.TrimSpace(strictPolicy.Sanitize(text))
}
