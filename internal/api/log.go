package api

import (
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tilmanb/osm-wikidata/pkg/logging"
)

// attrPattern matches key=value and key="quoted value" pairs of the text handler.
var attrPattern = regexp.MustCompile(`([\w.\-]+)=(?:"([^"]*)"|(\S+))`)

// quietAttrs never reach the log view.
var quietAttrs = map[string]bool{
	"level":     true,
	"source":    true,
	"component": true,
	"run_id":    true,
}

const maxAttrLen = 32

// handleLog returns the recent server log lines, newest last. With
// ?latest=1 only the last line is returned.
func handleLog(w http.ResponseWriter, r *http.Request) {
	lines := logging.Recent.Lines()
	if r.URL.Query().Get("latest") != "" && len(lines) > 0 {
		lines = lines[len(lines)-1:]
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, formatLogLine(l))
	}
	writeJSON(w, http.StatusOK, map[string][]string{"log": out})
}

// formatLogLine shortens a text handler line to "HH:MM:SS msg (k=v, ...)".
// Attributes are sorted; long values and quiet keys are left out. Lines that
// carry no msg are returned unchanged.
func formatLogLine(raw string) string {
	var clock, msg string
	var attrs []string
	for _, m := range attrPattern.FindAllStringSubmatch(raw, -1) {
		key, val := m[1], m[2]
		if val == "" {
			val = m[3]
		}
		val = strings.TrimSpace(val)

		switch {
		case key == "time":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				clock = t.Format(time.TimeOnly)
			}
		case key == "msg":
			msg = val
		case quietAttrs[key] || len(val) > maxAttrLen:
		default:
			attrs = append(attrs, key+"="+val)
		}
	}
	if msg == "" {
		return raw
	}

	var b strings.Builder
	if clock != "" {
		b.WriteString(clock + " ")
	}
	b.WriteString(msg)
	if len(attrs) > 0 {
		slices.Sort(attrs)
		b.WriteString(" (" + strings.Join(attrs, ", ") + ")")
	}
	return b.String()
}
