// Package identifier canonicalizes action and component identifiers so
// that references agree regardless of how the upstream proposal spelled
// them: "Fetch-Data", "fetch data" and "fetch_data" all normalize to
// "fetch_data".
package identifier

import "strings"

// Normalize returns the canonical form of a raw identifier: lowercase,
// runs of non-alphanumeric characters collapsed to a single underscore,
// leading and trailing underscores trimmed. Pure and idempotent:
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	pendingSep := false
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r + ('a' - 'A'))
		default:
			pendingSep = true
		}
	}

	return b.String()
}
