package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldMarks strips combining marks, so "Jiří" and "Jiri" compare equal.
func foldMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// CleanDisplayName prepares an operator-supplied name for storage: control
// characters are dropped, runs of whitespace become one space and the ends
// are trimmed. Case and diacritics are kept.
func CleanDisplayName(name string) string {
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, name)
	return strings.Join(strings.Fields(name), " ")
}

// NormalizePersonName reduces a name to its lookup key. Letters are folded
// to lowercase ASCII where possible, separators ("-", "_", ".") count as
// spaces and other punctuation is dropped, so "O'Brien" matches "obrien".
func NormalizePersonName(name string) string {
	name = strings.ToLower(foldMarks(name))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == '_' || r == '.':
			return ' '
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			return r
		}
		return -1
	}, name)
	return strings.Join(strings.Fields(name), " ")
}

// SameName reports whether two display names refer to the same person
// under NormalizePersonName. Empty names never match.
func SameName(a, b string) bool {
	ka := NormalizePersonName(a)
	return ka != "" && ka == NormalizePersonName(b)
}
