package schema

import (
	"errors"
	"strings"
)

// ErrEmptyIdentifier is returned when a name has no identifier characters left.
var ErrEmptyIdentifier = errors.New("name sanitizes to an empty identifier")

// Sanitize turns an arbitrary descriptor name into a safe SQL identifier.
//
// The name is lower-cased, every run of characters outside [a-z0-9_] becomes
// a single underscore, repeated underscores collapse and edge underscores are
// trimmed. A result starting with a digit gets a leading underscore.
//
//	Sanitize("52 week low")    // "_52_week_low"
//	Sanitize("Price/Earnings") // "price_earnings"
//
// Sanitize is idempotent.
func Sanitize(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw) + 1)

	lastUnderscore := false
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	id := strings.Trim(b.String(), "_")
	if id == "" {
		return "", ErrEmptyIdentifier
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "_" + id
	}
	return id, nil
}
