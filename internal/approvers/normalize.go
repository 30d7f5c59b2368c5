package approvers

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// normalizeName folds case, strips combining marks and collapses punctuation
// and whitespace runs to single spaces.
func normalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := folder.String(stripped)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// matchesDepartment reports whether a free-text department refers to the
// department with the given name or code. The code must appear as a whole
// word; the name must appear in full.
func matchesDepartment(text, name, code string) bool {
	t := normalizeName(text)
	if t == "" {
		return false
	}
	if c := normalizeName(code); c != "" {
		for _, word := range strings.Fields(t) {
			if word == c {
				return true
			}
		}
	}
	if n := normalizeName(name); n != "" {
		return t == n || strings.Contains(" "+t+" ", " "+n+" ")
	}
	return false
}
