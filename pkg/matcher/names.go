package matcher

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/cases"

	"github.com/tilmanb/osm-wikidata/pkg/model"
)

// EntityNames returns every name of the entity. When locations are given,
// names with a containing location as a leading or trailing part also get
// the remainder as a synonym.
func EntityNames(e *model.Entity, locations []string) map[string][]model.NameSource {
	names := e.Names()
	TrimLocation(names, locations)
	return names
}

// TrimLocation adds "<rest>" for every name of the form "<loc> <rest>" or
// "<rest>, <loc>". Location names already present as entity names are
// ignored. Added names are not trimmed again. It returns the number added.
func TrimLocation(names map[string][]model.NameSource, locations []string) int {
	var locs []string
	for _, loc := range locations {
		if _, ok := names[loc]; !ok && loc != "" {
			locs = append(locs, loc)
		}
	}
	if len(locs) == 0 {
		return 0
	}

	original := make([]string, 0, len(names))
	for n, src := range names {
		if !onlyTrimmed(src) {
			original = append(original, n)
		}
	}

	added := 0
	for _, name := range original {
		for _, loc := range locs {
			var rest string
			switch {
			case strings.HasPrefix(name, loc+" "):
				rest = name[len(loc)+1:]
			case strings.HasSuffix(name, ", "+loc):
				rest = name[:len(name)-len(loc)-2]
			default:
				continue
			}
			rest = strings.TrimSpace(rest)
			if rest == "" {
				continue
			}
			if _, exists := names[rest]; exists {
				continue
			}
			names[rest] = []model.NameSource{{Kind: "trimmed", Lang: loc}}
			added++
		}
	}
	return added
}

func onlyTrimmed(src []model.NameSource) bool {
	for _, s := range src {
		if s.Kind != "trimmed" {
			return false
		}
	}
	return len(src) > 0
}

// TidyName canonicalises a name for comparison: transliterated to ASCII,
// case folded, "&" spelled out, a trailing parenthetical and a leading "the"
// dropped, punctuation collapsed to single spaces.
func TidyName(n string) string {
	if i := strings.LastIndex(n, " ("); i > 0 && strings.HasSuffix(n, ")") {
		n = n[:i]
	}
	n = unidecode.Unidecode(n)
	n = cases.Fold().String(n)
	n = strings.ReplaceAll(n, "&", " and ")

	fields := strings.FieldsFunc(n, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) > 1 && fields[0] == "the" {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}
