// Package slug turns names into Home Assistant style identifiers.
package slug

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Make lowercases s, strips accents and replaces every run of characters
// that are not ASCII letters or digits with a single underscore.
func Make(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}

	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}

// Unique returns base, or base_2, base_3... whichever inUse rejects first.
func Unique(base string, inUse func(string) bool) string {
	if !inUse(base) {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !inUse(candidate) {
			return candidate
		}
	}
}

// EntityID generates "<domain>.<slug(name)>", deduplicated against inUse.
func EntityID(domain, name string, inUse func(string) bool) string {
	return Unique(domain+"."+Make(name), inUse)
}
