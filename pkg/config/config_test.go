package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		content   string // empty means no file
		env       map[string]string
		validate  func(*testing.T, *Config)
		checkFile func(*testing.T, string)
		wantErr   bool
	}{
		{
			name: "NewFile_Defaults",
			validate: func(t *testing.T, cfg *Config) {
				if cfg.DB.Driver != "sqlite" {
					t.Errorf("expected sqlite driver, got %q", cfg.DB.Driver)
				}
				if cfg.Overpass.Radius != 1000 {
					t.Errorf("expected radius 1000, got %v", cfg.Overpass.Radius)
				}
				if cfg.Matcher.MaxAreaKm2 != 90000 {
					t.Errorf("expected max area 90000, got %v", cfg.Matcher.MaxAreaKm2)
				}
			},
			checkFile: func(t *testing.T, path string) {
				content, err := os.ReadFile(path)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if !strings.Contains(string(content), "# Options: sqlite, postgres") {
					t.Error("config file missing driver comment")
				}
				if !strings.Contains(string(content), "radius: 1000m") {
					t.Error("config file missing radius default")
				}
			},
		},
		{
			name:    "ExistingFile_Override",
			content: "overpass:\n  radius: 2km\nrequest:\n  timeout: 1d\n",
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Overpass.Radius != 2000 {
					t.Errorf("expected radius 2000, got %v", cfg.Overpass.Radius)
				}
				if cfg.Request.Timeout.Std() != 24*time.Hour {
					t.Errorf("expected timeout 24h, got %v", cfg.Request.Timeout.Std())
				}
				if cfg.Overpass.Endpoint == "" {
					t.Error("defaults should survive a partial file")
				}
			},
		},
		{
			name:    "Env_Fallback",
			content: "osm:\n  client_id: from-file\n",
			env:     map[string]string{"OSM_CLIENT_ID": "from-env", "OSM_ACCESS_TOKEN": "tok"},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.OSM.ClientID != "from-file" {
					t.Errorf("file value should win, got %q", cfg.OSM.ClientID)
				}
				if cfg.OSM.AccessToken != "tok" {
					t.Errorf("expected token from env, got %q", cfg.OSM.AccessToken)
				}
			},
		},
		{
			name:    "Postgres_Without_DSN",
			content: "db:\n  driver: postgres\n",
			wantErr: true,
		},
		{
			name:    "Unknown_Driver",
			content: "db:\n  driver: mysql\n",
			wantErr: true,
		},
		{
			name:    "Malformed",
			content: "overpass: [\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "matcher.yaml")
			if tt.content != "" {
				if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			}
			t.Setenv("OSM_CLIENT_ID", "")
			t.Setenv("OSM_ACCESS_TOKEN", "")
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
			if tt.checkFile != nil {
				tt.checkFile(t, path)
			}
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OSM_CLIENT_SECRET", "")
	os.Unsetenv("OSM_CLIENT_SECRET") // godotenv never overrides a set variable
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("OSM_CLIENT_SECRET=s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(filepath.Join(dir, "matcher.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OSM.ClientSecret != "s3cret" {
		t.Errorf("expected secret from .env, got %q", cfg.OSM.ClientSecret)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "matcher.yaml"))
	if strings.Contains(string(data), "s3cret") {
		t.Error("secrets must not be written back to the config file")
	}
}

func TestGenerateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "matcher.yaml")
	if err := GenerateDefault(path); err != nil {
		t.Fatalf("GenerateDefault() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("custom"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := GenerateDefault(path); err != nil {
		t.Fatalf("second GenerateDefault() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "custom" {
		t.Error("existing file must not be overwritten")
	}
}
