package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tilmanb/osm-wikidata/pkg/cache"
	"github.com/tilmanb/osm-wikidata/pkg/config"
	"github.com/tilmanb/osm-wikidata/pkg/db"
	"github.com/tilmanb/osm-wikidata/pkg/db/maintenance"
	"github.com/tilmanb/osm-wikidata/pkg/finder"
	"github.com/tilmanb/osm-wikidata/pkg/logging"
	"github.com/tilmanb/osm-wikidata/pkg/mapdata"
	"github.com/tilmanb/osm-wikidata/pkg/matcher"
	"github.com/tilmanb/osm-wikidata/pkg/osmapi"
	"github.com/tilmanb/osm-wikidata/pkg/overpass"
	"github.com/tilmanb/osm-wikidata/pkg/pipeline"
	"github.com/tilmanb/osm-wikidata/pkg/request"
	"github.com/tilmanb/osm-wikidata/pkg/startup"
	"github.com/tilmanb/osm-wikidata/pkg/store"
	"github.com/tilmanb/osm-wikidata/pkg/taginfo"
	"github.com/tilmanb/osm-wikidata/pkg/tracker"
	"github.com/tilmanb/osm-wikidata/pkg/upload"
	"github.com/tilmanb/osm-wikidata/pkg/version"
	"github.com/tilmanb/osm-wikidata/pkg/wikidata"
	"github.com/tilmanb/osm-wikidata/pkg/wikipedia"
)

// app holds the wired services shared by all commands.
type app struct {
	cfg      *config.Config
	db       *db.DB
	store    *store.SQLStore
	types    config.EntityTypes
	tracker  *tracker.Tracker
	registry *prometheus.Registry
	metrics  *tracker.Metrics
	hub      *pipeline.Hub
	wikidata *wikidata.Client
	overpass *overpass.Client
	osm      *osmapi.Client
	taginfo  *taginfo.Client
	runner   *pipeline.Runner
	uploads  *upload.Workflow
	finder   *finder.Finder
	settings *config.UnifiedProvider

	cleanup []func()
}

// newApp loads the configuration and wires every service. sink receives
// pipeline progress; nil publishes to the app's hub.
func newApp(ctx context.Context, configPath string, sink pipeline.ProgressSink) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{cfg: cfg}
	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	a.cleanup = append(a.cleanup, cleanupLogs)

	slog.Info("Matcher started", "version", version.Version, "db", cfg.DB.Driver)

	if a.types, err = config.LoadEntityTypes(cfg.Matcher.EntityTypesFile); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load entity types: %w", err)
	}

	if a.db, err = db.Open(cfg.DB); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.cleanup = append(a.cleanup, func() { a.db.Close() })
	a.store = store.NewSQLStore(a.db)
	a.settings = config.NewProvider(cfg, a.store)

	a.tracker = tracker.New()
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector())
	a.metrics = tracker.NewMetrics(a.registry, a.tracker)
	a.hub = pipeline.NewHub(64)
	if sink == nil {
		sink = a.hub
	}

	reqClient := request.New(a.store, a.tracker, request.Options{
		Retries:   cfg.Request.Retries,
		Timeout:   time.Duration(cfg.Request.Timeout),
		BaseDelay: time.Duration(cfg.Request.Backoff.BaseDelay),
		MaxDelay:  time.Duration(cfg.Request.Backoff.MaxDelay),
	})

	a.wikidata = wikidata.NewClient(reqClient, slog.Default())
	a.wikidata.APIEndpoint = cfg.Wikidata.APIEndpoint
	a.wikidata.SPARQLEndpoint = cfg.Wikidata.SPARQLEndpoint

	wp := wikipedia.NewClient(reqClient)
	wp.APIEndpoint = cfg.Wikidata.WikipediaAPI

	a.taginfo = taginfo.NewClient(reqClient)
	if cfg.Wikidata.TaginfoAPI != "" {
		a.taginfo.APIEndpoint = strings.TrimSuffix(cfg.Wikidata.TaginfoAPI, "/") + "/tags/list"
	}

	a.overpass = overpass.NewClient(reqClient, cfg.Overpass.CacheDir, slog.Default())
	a.overpass.Endpoint = cfg.Overpass.Endpoint
	a.overpass.Timeout = cfg.Overpass.ServerTimeout

	a.runner = pipeline.NewRunner(pipeline.Deps{
		Store:    a.store,
		KB:       a.wikidata,
		Wiki:     wp,
		Overpass: a.overpass,
		MapData:  mapdata.New(a.db, slog.Default()),
		Types:    a.types,
		Metrics:  a.metrics,
		Sink:     sink,
		Settings: a.settings,
		Logger:   slog.Default(),
	}, pipeline.ConfigFrom(cfg))

	a.osm = osmapi.New(ctx, cfg.OSM, a.store, a.tracker, slog.Default())
	a.uploads = upload.New(a.osm, a.store, a.metrics, slog.Default())
	a.uploads.Settings = a.settings

	a.finder = &finder.Finder{
		KB:            a.wikidata,
		Overpass:      a.overpass,
		Items:         a.store,
		Endings:       matcher.NewEndingLookup(a.types),
		DefaultRadius: int(cfg.Overpass.Radius.Meters()),
		Timeout:       cfg.Overpass.ServerTimeout,
		Settings:      a.settings,
		Logger:        slog.Default(),
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// checkStartup runs the startup checks and cache maintenance.
func (a *app) checkStartup(ctx context.Context) error {
	hc := &http.Client{Timeout: startup.Timeout}
	checks := []startup.Check{
		startup.Database(a.db),
		startup.WritableDir("Overpass cache", a.cfg.Overpass.CacheDir),
		startup.Endpoint(hc, "Wikidata API", a.cfg.Wikidata.APIEndpoint),
		startup.Endpoint(hc, "Overpass", a.cfg.Overpass.Endpoint),
		startup.Endpoint(hc, "OSM API", a.cfg.OSM.APIBase+"/capabilities"),
	}
	if err := startup.AnalyzeResults(slog.Default(), startup.Run(ctx, checks)); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	report, err := maintenance.Run(ctx, a.store, a.db, []*cache.FileCache{a.overpass.ItemCache()}, maintenance.Options{
		MaxAge:   time.Duration(a.cfg.Cache.MaxAge),
		Interval: time.Duration(a.cfg.Cache.Interval),
	}, slog.Default())
	if err != nil {
		// Stale cache entries are harmless; keep serving.
		slog.Error("Maintenance tasks failed", "error", err)
		return nil
	}
	if !report.Skipped {
		slog.Info("Cache pruned", "db_rows", report.DBRows, "files", report.Files, "duration", report.Duration)
	}
	return nil
}
