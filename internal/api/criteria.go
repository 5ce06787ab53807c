package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/tilmanb/osm-wikidata/pkg/config"
	"github.com/tilmanb/osm-wikidata/pkg/taginfo"
)

// TagUsage is the usage interface of *taginfo.Client.
type TagUsage interface {
	Usage(ctx context.Context, tags []string) (map[string]taginfo.Usage, error)
}

// CriteriaHandler lists the entity types with their tag usage.
type CriteriaHandler struct {
	types config.EntityTypes
	usage TagUsage
}

// NewCriteriaHandler creates a criteria handler. usage may be nil.
func NewCriteriaHandler(types config.EntityTypes, usage TagUsage) *CriteriaHandler {
	return &CriteriaHandler{types: types, usage: usage}
}

// TypeView is one entity type on the criteria page.
type TypeView struct {
	Name    string                   `json:"name"`
	Cats    []string                 `json:"cats"`
	Tags    []string                 `json:"tags"`
	Endings []string                 `json:"endings,omitempty"`
	Image   string                   `json:"image,omitempty"`
	Usage   map[string]taginfo.Usage `json:"usage,omitempty"`
}

func (h *CriteriaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var all []string
	for _, t := range h.types {
		all = append(all, t.Tags...)
	}

	var usage map[string]taginfo.Usage
	if h.usage != nil {
		var err error
		usage, err = h.usage.Usage(r.Context(), all)
		if err != nil {
			// Usage figures are decoration; list the types without them.
			slog.Warn("Taginfo lookup failed", "error", err)
		}
	}

	views := make([]TypeView, 0, len(h.types))
	for _, t := range h.types {
		v := TypeView{Name: t.DisplayName(), Cats: t.Cats, Tags: t.Tags, Endings: t.Endings}
		for _, tag := range t.Tags {
			kv := strings.TrimPrefix(tag, "Tag:")
			u, ok := usage[kv]
			if !ok {
				continue
			}
			if v.Usage == nil {
				v.Usage = make(map[string]taginfo.Usage)
			}
			v.Usage[kv] = u
			if v.Image == "" && u.Image != "" {
				v.Image = u.Image
			}
		}
		views = append(views, v)
	}
	sort.SliceStable(views, func(i, j int) bool {
		return strings.ToLower(views[i].Name) < strings.ToLower(views[j].Name)
	})
	writeJSON(w, http.StatusOK, views)
}
