package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEntityTypes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{
			name: "Valid",
			content: `entity_types:
  - cats: ["Schools", "Schools by country"]
    tags: ["Tag:amenity=school"]
  - name: Church
    cats: ["Churches"]
    tags: ["Tag:amenity=place_of_worship", "Tag:building=church"]
    endings: ["church", "chapel"]
`,
			want: 2,
		},
		{
			name:    "Missing_Tags",
			content: "entity_types:\n  - cats: [\"Bridges\"]\n",
			wantErr: true,
		},
		{
			name:    "Malformed",
			content: "entity_types: {",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "entity_types.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			types, err := LoadEntityTypes(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadEntityTypes() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(types) != tt.want {
				t.Fatalf("expected %d types, got %d", tt.want, len(types))
			}
			if types[0].Cats[0] != "schools" {
				t.Errorf("categories should be lower-cased, got %q", types[0].Cats[0])
			}
			if types[0].DisplayName() != "schools" {
				t.Errorf("unexpected display name %q", types[0].DisplayName())
			}
		})
	}

	if _, err := LoadEntityTypes(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
