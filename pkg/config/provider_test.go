package config

import (
	"context"
	"testing"
)

type mockStateStore struct {
	data map[string]string
}

func newMockStateStore() *mockStateStore {
	return &mockStateStore{data: make(map[string]string)}
}

func (m *mockStateStore) GetState(ctx context.Context, key string) (string, bool) {
	val, ok := m.data[key]
	return val, ok
}

func (m *mockStateStore) SetState(ctx context.Context, key, val string) error {
	m.data[key] = val
	return nil
}

func (m *mockStateStore) DeleteState(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestUnifiedProvider(t *testing.T) {
	ctx := context.Background()
	base := DefaultConfig()
	st := newMockStateStore()
	p := NewProvider(base, st)

	t.Run("Defaults", func(t *testing.T) {
		if p.Radius(ctx) != 1000 {
			t.Errorf("expected radius 1000, got %v", p.Radius(ctx))
		}
		if p.MaxAreaKm2(ctx) != 90000 {
			t.Errorf("expected max area 90000, got %v", p.MaxAreaKm2(ctx))
		}
		if p.OverpassServerTimeout(ctx) != 300 {
			t.Errorf("expected timeout 300, got %d", p.OverpassServerTimeout(ctx))
		}
		if p.EditsPaused(ctx) {
			t.Error("edits should not be paused by default")
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		_ = st.SetState(ctx, KeyRadius, "250")
		_ = st.SetState(ctx, KeyMaxAreaKm2, "10")
		_ = st.SetState(ctx, KeyEditsPaused, "true")
		if p.Radius(ctx) != 250 {
			t.Errorf("expected radius 250, got %v", p.Radius(ctx))
		}
		if p.MaxAreaKm2(ctx) != 10 {
			t.Errorf("expected max area 10, got %v", p.MaxAreaKm2(ctx))
		}
		if !p.EditsPaused(ctx) {
			t.Error("expected edits paused")
		}
	})

	t.Run("Invalid_Override_Falls_Back", func(t *testing.T) {
		_ = st.SetState(ctx, KeyRadius, "-5")
		_ = st.SetState(ctx, KeyOverpassTimeout, "abc")
		if p.Radius(ctx) != 1000 {
			t.Errorf("expected fallback radius, got %v", p.Radius(ctx))
		}
		if p.OverpassServerTimeout(ctx) != 300 {
			t.Errorf("expected fallback timeout, got %d", p.OverpassServerTimeout(ctx))
		}
	})

	t.Run("Nil_Store", func(t *testing.T) {
		np := NewProvider(base, nil)
		if np.Radius(ctx) != 1000 {
			t.Errorf("expected radius 1000, got %v", np.Radius(ctx))
		}
		if np.AppConfig() != base {
			t.Error("AppConfig should return the base config")
		}
	})
}
