package room

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeKey canonicalizes a room name or login for lookup and ownership
// comparison. Room identity is case-insensitive.
func NormalizeKey(name string) string {
	// cases.Caser carries internal state, so build one per call.
	return cases.Fold().String(strings.TrimSpace(name))
}

// KeysEqual reports whether two names identify the same room.
func KeysEqual(a, b string) bool {
	return NormalizeKey(a) == NormalizeKey(b)
}
