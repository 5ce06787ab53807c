package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EntityType maps Wikipedia categories to the OSM tags used for that kind of
// feature. Endings are generic words that may be dropped from a name when
// comparing, e.g. "school" or "church".
type EntityType struct {
	Name    string   `yaml:"name,omitempty"`
	Cats    []string `yaml:"cats" validate:"required,min=1"`
	Tags    []string `yaml:"tags" validate:"required,min=1"`
	Endings []string `yaml:"endings,omitempty"`
}

// DisplayName returns the configured name or one derived from the first category.
func (t EntityType) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return strings.TrimSuffix(t.Cats[0], " by country")
}

// EntityTypes is the full category to tag table.
type EntityTypes []EntityType

// LoadEntityTypes reads the entity type table from a YAML file.
func LoadEntityTypes(path string) (EntityTypes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity types file: %w", err)
	}

	var doc struct {
		Types EntityTypes `yaml:"entity_types" validate:"dive"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse entity types file: %w", err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid entity types file: %w", err)
	}

	for i := range doc.Types {
		for j, cat := range doc.Types[i].Cats {
			doc.Types[i].Cats[j] = strings.ToLower(cat)
		}
	}
	return doc.Types, nil
}
