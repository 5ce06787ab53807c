package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	Server   ServerConfig   `yaml:"server"`
	Request  RequestConfig  `yaml:"request"`
	Wikidata WikidataConfig `yaml:"wikidata"`
	Overpass OverpassConfig `yaml:"overpass"`
	OSM      OSMConfig      `yaml:"osm"`
	Matcher  MatcherConfig  `yaml:"matcher"`
	Cache    CacheConfig    `yaml:"cache"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path" validate:"required"`
	Level string `yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	Path   string `yaml:"path" validate:"required_if=Driver sqlite"` // sqlite file
	DSN    string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address" validate:"required"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries" validate:"gte=0,lte=10"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// WikidataConfig holds knowledge-base endpoints.
type WikidataConfig struct {
	APIEndpoint    string `yaml:"api_endpoint" validate:"required,url"`
	SPARQLEndpoint string `yaml:"sparql_endpoint" validate:"required,url"`
	WikipediaAPI   string `yaml:"wikipedia_api" validate:"required,url"`
	TaginfoAPI     string `yaml:"taginfo_api" validate:"omitempty,url"`
}

// OverpassConfig holds spatial query settings.
type OverpassConfig struct {
	Endpoint      string   `yaml:"endpoint" validate:"required,url"`
	ServerTimeout int      `yaml:"server_timeout" validate:"gt=0"` // seconds, sent as [timeout:N]
	Radius        Distance `yaml:"radius" validate:"gt=0"`
	CacheDir      string   `yaml:"cache_dir" validate:"required"`
}

// OSMConfig holds edit API settings and the editing credential.
type OSMConfig struct {
	APIBase      string `yaml:"api_base" validate:"required,url"`
	AuthURL      string `yaml:"auth_url" validate:"omitempty,url"`
	TokenURL     string `yaml:"token_url" validate:"omitempty,url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AccessToken  string `yaml:"access_token"`
	CreatedBy    string `yaml:"created_by" validate:"required"`
}

// MatcherConfig holds matching and pipeline limits.
type MatcherConfig struct {
	MaxAreaKm2      float64 `yaml:"max_area_km2" validate:"gt=0"`
	EntityTypesFile string  `yaml:"entity_types_file"`
}

// CacheConfig controls pruning of stored service replies.
type CacheConfig struct {
	MaxAge   Duration `yaml:"max_age"`  // replies older than this are removed
	Interval Duration `yaml:"interval"` // minimum time between pruning runs
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Driver: "sqlite",
			Path:   "./data/matcher.db",
		},
		Server: ServerConfig{
			Address: "localhost:5000",
		},
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(60 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(1 * time.Second),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		Wikidata: WikidataConfig{
			APIEndpoint:    "https://www.wikidata.org/w/api.php",
			SPARQLEndpoint: "https://query.wikidata.org/sparql",
			WikipediaAPI:   "https://en.wikipedia.org/w/api.php",
			TaginfoAPI:     "https://taginfo.openstreetmap.org/api/4",
		},
		Overpass: OverpassConfig{
			Endpoint:      "https://overpass-api.de/api/interpreter",
			ServerTimeout: 300,
			Radius:        Distance(1000),
			CacheDir:      "./data/overpass",
		},
		OSM: OSMConfig{
			APIBase:   "https://api.openstreetmap.org/api/0.6",
			AuthURL:   "https://www.openstreetmap.org/oauth2/authorize",
			TokenURL:  "https://www.openstreetmap.org/oauth2/token",
			CreatedBy: "https://osm.wikidata.link/",
		},
		Matcher: MatcherConfig{
			MaxAreaKm2:      90000,
			EntityTypesFile: "./data/entity_types.yaml",
		},
		Cache: CacheConfig{
			MaxAge:   Duration(30 * 24 * time.Hour),
			Interval: Duration(24 * time.Hour),
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// Secrets left empty in the file are taken from the environment, which may be
// populated from a .env file next to the config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills empty secrets from the environment. It never writes them back to disk.
func applyEnv(cfg *Config) {
	fallback := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fallback(&cfg.OSM.ClientID, "OSM_CLIENT_ID")
	fallback(&cfg.OSM.ClientSecret, "OSM_CLIENT_SECRET")
	fallback(&cfg.OSM.AccessToken, "OSM_ACCESS_TOKEN")
	fallback(&cfg.DB.DSN, "DATABASE_URL")
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# OSM Wikidata Matcher Configuration
# ----------------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles), ft (feet)
# Secrets (osm.client_id, osm.client_secret, osm.access_token, db.dsn) may be
# left empty and supplied via OSM_CLIENT_ID, OSM_CLIENT_SECRET, OSM_ACCESS_TOKEN
# and DATABASE_URL, optionally from a .env file next to this one.

`)
	data = append(header, data...)

	reDriver := regexp.MustCompile(`(?m)^(\s+)driver:`)
	data = reDriver.ReplaceAll(data, []byte("${1}# Options: sqlite, postgres\n${1}driver:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
