package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNameTag(t *testing.T) {
	tests := map[string]bool{
		"name":                    true,
		"name:fr":                 true,
		"alt_name":                true,
		"official_name:de":        true,
		"old_name":                true,
		"addr:street":             false,
		"wikipedia":               false,
		"name:etymology":          false,
		"subject:wikipedia":       false,
		"building":                false,
		"name:etymology:wikidata": false,
	}
	for k, want := range tests {
		t.Run(k, func(t *testing.T) {
			assert.Equal(t, want, IsNameTag(k))
		})
	}
}

func TestCheckForMatch(t *testing.T) {
	tests := []struct {
		name      string
		tags      map[string]string
		subject   Subject
		wantOK    bool
		wantRule  Rule
		wantKey   string
		wantValue string
	}{
		{
			name:      "located-in name trimmed from element",
			tags:      map[string]string{"name": "Springfield City Hall"},
			subject:   Subject{Names: nameSet("City Hall"), Locations: []string{"Springfield"}},
			wantOK:    true,
			wantRule:  RuleLocation,
			wantKey:   "name",
			wantValue: "Springfield City Hall",
		},
		{
			name:      "exact after tidying",
			tags:      map[string]string{"name": "OLD STATE CAPITOL"},
			subject:   Subject{Names: nameSet("The Old State Capitol")},
			wantOK:    true,
			wantRule:  RuleExact,
			wantKey:   "name",
			wantValue: "OLD STATE CAPITOL",
		},
		{
			name:      "transliterated",
			tags:      map[string]string{"name": "Café Central"},
			subject:   Subject{Names: nameSet("Cafe Central")},
			wantOK:    true,
			wantRule:  RuleExact,
			wantKey:   "name",
			wantValue: "Café Central",
		},
		{
			name:      "generic ending dropped",
			tags:      map[string]string{"name": "Lincoln"},
			subject:   Subject{Names: nameSet("Lincoln School"), Endings: []string{"school"}},
			wantOK:    true,
			wantRule:  RuleEnding,
			wantKey:   "name",
			wantValue: "Lincoln",
		},
		{
			name:    "different endings",
			tags:    map[string]string{"name": "Lincoln Academy"},
			subject: Subject{Names: nameSet("Lincoln School"), Endings: []string{"school", "academy"}},
			wantOK:  false,
		},
		{
			name:      "semicolon separated alternatives",
			tags:      map[string]string{"alt_name": "Town Hall;Municipal Building"},
			subject:   Subject{Names: nameSet("Municipal Building")},
			wantOK:    true,
			wantRule:  RuleExact,
			wantKey:   "alt_name",
			wantValue: "Municipal Building",
		},
		{
			name:    "non-name tags ignored",
			tags:    map[string]string{"addr:street": "City Hall", "name": "Post Office"},
			subject: Subject{Names: nameSet("City Hall")},
			wantOK:  false,
		},
		{
			name:    "no overlap",
			tags:    map[string]string{"name": "Riverside Park"},
			subject: Subject{Names: nameSet("City Hall"), Endings: []string{"park"}, Locations: []string{"Springfield"}},
			wantOK:  false,
		},
		{
			name:    "no names",
			tags:    map[string]string{"name": "City Hall"},
			subject: Subject{},
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := CheckForMatch(tt.tags, tt.subject)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantRule, m.Rule)
			assert.Equal(t, tt.wantKey, m.Key)
			assert.Equal(t, tt.wantValue, m.Value)
		})
	}
}

func TestCheckForMatch_ExactBeatsOtherRules(t *testing.T) {
	tags := map[string]string{
		"name":     "Springfield City Hall",
		"alt_name": "City Hall",
	}
	m, ok := CheckForMatch(tags, Subject{Names: nameSet("City Hall"), Locations: []string{"Springfield"}})
	assert.True(t, ok)
	assert.Equal(t, RuleExact, m.Rule)
	assert.Equal(t, "alt_name", m.Key)
}
