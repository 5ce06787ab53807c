package config

import (
	"context"
	"strconv"
)

// StateStore is the key/value store the provider reads overrides from.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// Provider exposes settings that may be changed at runtime.
type Provider interface {
	Radius(ctx context.Context) float64
	MaxAreaKm2(ctx context.Context) float64
	OverpassServerTimeout(ctx context.Context) int
	EditsPaused(ctx context.Context) bool

	AppConfig() *Config
}

// UnifiedProvider implements Provider by bridging the static Config and a StateStore.
type UnifiedProvider struct {
	base  *Config
	store StateStore
}

// NewProvider creates a new UnifiedProvider. st may be nil.
func NewProvider(base *Config, st StateStore) *UnifiedProvider {
	return &UnifiedProvider{
		base:  base,
		store: st,
	}
}

func (p *UnifiedProvider) AppConfig() *Config { return p.base }

// Radius is the item search radius in meters.
func (p *UnifiedProvider) Radius(ctx context.Context) float64 {
	return p.getFloat64(ctx, KeyRadius, p.base.Overpass.Radius.Meters())
}

// MaxAreaKm2 is the largest place the pipeline accepts.
func (p *UnifiedProvider) MaxAreaKm2(ctx context.Context) float64 {
	return p.getFloat64(ctx, KeyMaxAreaKm2, p.base.Matcher.MaxAreaKm2)
}

func (p *UnifiedProvider) OverpassServerTimeout(ctx context.Context) int {
	return p.getInt(ctx, KeyOverpassTimeout, p.base.Overpass.ServerTimeout)
}

// EditsPaused blocks uploads while set, e.g. during an edit API outage.
func (p *UnifiedProvider) EditsPaused(ctx context.Context) bool {
	return p.getBool(ctx, KeyEditsPaused, false)
}

func (p *UnifiedProvider) lookup(ctx context.Context, key string) (string, bool) {
	if p.store == nil {
		return "", false
	}
	val, ok := p.store.GetState(ctx, key)
	return val, ok && val != ""
}

func (p *UnifiedProvider) getInt(ctx context.Context, key string, fallback int) int {
	if val, ok := p.lookup(ctx, key); ok {
		if i, err := strconv.Atoi(val); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func (p *UnifiedProvider) getFloat64(ctx context.Context, key string, fallback float64) float64 {
	if val, ok := p.lookup(ctx, key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

func (p *UnifiedProvider) getBool(ctx context.Context, key string, fallback bool) bool {
	if val, ok := p.lookup(ctx, key); ok {
		return val == "true"
	}
	return fallback
}
