package startup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	checks := []Check{
		{Name: "ok", Fn: func(context.Context) error { return nil }, Critical: true},
		{Name: "minor", Fn: func(context.Context) error { return errors.New("minor issue") }},
	}

	results := Run(context.Background(), checks)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Error)
	assert.Error(t, results[1].Error)
}

func TestAnalyzeResults(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		wantErr bool
	}{
		{"all pass", []Result{{Check: Check{Name: "P1", Critical: true}}}, false},
		{"critical failure", []Result{{Check: Check{Name: "P1", Critical: true}, Error: errors.New("fail")}}, true},
		{"non-critical failure", []Result{{Check: Check{Name: "P1"}, Error: errors.New("fail")}}, false},
		{"mixed", []Result{
			{Check: Check{Name: "P1"}, Error: errors.New("fail")},
			{Check: Check{Name: "P2", Critical: true}, Error: errors.New("fail")},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AnalyzeResults(nil, tt.results)
			assert.Equal(t, tt.wantErr, err != nil, "AnalyzeResults() error = %v", err)
		})
	}
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestDatabase(t *testing.T) {
	assert.NoError(t, Database(pinger{}).Fn(context.Background()))
	assert.Error(t, Database(pinger{err: errors.New("down")}).Fn(context.Background()))
	assert.True(t, Database(pinger{}).Critical)
}

func TestWritableDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "overpass")
	require.NoError(t, WritableDir("Overpass cache", dir).Fn(context.Background()))
	assert.DirExists(t, dir)
	matches, err := filepath.Glob(filepath.Join(dir, ".writable-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp file removed")
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"method not allowed", http.StatusMethodNotAllowed, false},
		{"server error", http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodHead, r.Method)
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			p := Endpoint(ts.Client(), "Overpass", ts.URL)
			assert.False(t, p.Critical)
			err := p.Fn(context.Background())
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}
