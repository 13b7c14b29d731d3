// Package sanitize maps decoded attachment names to names that are safe to
// create on Windows and Unix filesystems.
package sanitize

import "strings"

// Replacement is substituted for every disallowed character.
const Replacement = '_'

// DefaultDisallowed holds the characters Windows rejects in file names plus
// arrow glyphs seen in sender-supplied names.
var DefaultDisallowed = []rune{'<', '>', ':', '"', '/', '\\', '|', '?', '*', '⇒', '→'}

// Sanitizer replaces a fixed set of runes with Replacement.
type Sanitizer struct {
	disallowed map[rune]struct{}
}

var defaultSanitizer = New()

// New returns a Sanitizer for DefaultDisallowed plus extra.
func New(extra ...rune) *Sanitizer {
	s := &Sanitizer{disallowed: make(map[rune]struct{}, len(DefaultDisallowed)+len(extra))}
	for _, r := range DefaultDisallowed {
		s.disallowed[r] = struct{}{}
	}
	for _, r := range extra {
		if r == Replacement {
			continue
		}
		s.disallowed[r] = struct{}{}
	}
	return s
}

// Filename sanitizes name with the default rune set.
func Filename(name string) string {
	return defaultSanitizer.Filename(name)
}

// Filename replaces every disallowed rune in name. All other runes, including
// non-ASCII scripts, are kept as-is.
func (s *Sanitizer) Filename(name string) string {
	return strings.Map(func(r rune) rune {
		if s.Disallowed(r) {
			return Replacement
		}
		return r
	}, name)
}

func (s *Sanitizer) Disallowed(r rune) bool {
	_, ok := s.disallowed[r]
	return ok
}
