package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName folds case, accents, punctuation and spacing so that
// "Luka Dončić" and "luka doncic" compare equal.
func NormalizeName(name string) string {
	name = strings.ToLower(name)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	name, _, _ = transform.String(t, name)

	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == '.' || r == '\'':
			return -1
		default:
			return ' '
		}
	}, name)

	// Generational suffixes differ between providers
	fields := strings.Fields(name)
	if n := len(fields); n > 1 {
		switch fields[n-1] {
		case "jr", "sr", "ii", "iii", "iv", "fc":
			fields = fields[:n-1]
		}
	}
	return strings.Join(fields, " ")
}

// TeamMatches reports whether two team references name the same team.
// "Kansas City Chiefs", "Chiefs" and "kansas city" all match each other.
func TeamMatches(a, b string) bool {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	return containsWords(na, nb) || containsWords(nb, na)
}

// containsWords reports whether every word of short appears, in order and
// contiguously, inside long.
func containsWords(long, short string) bool {
	return strings.HasPrefix(long, short+" ") ||
		strings.HasSuffix(long, " "+short) ||
		strings.Contains(long, " "+short+" ")
}

// QueryKey normalizes a free-text query for use as a cache key.
func QueryKey(q string) string {
	return NormalizeName(q)
}
