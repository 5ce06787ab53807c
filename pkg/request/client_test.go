package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilmanb/osm-wikidata/pkg/cache"
	"github.com/tilmanb/osm-wikidata/pkg/tracker"
)

func fastOptions() Options {
	return Options{Retries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
}

func TestGet_Sequential(t *testing.T) {
	var conc, maxConc int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&conc, 1)
		defer atomic.AddInt32(&conc, -1)
		for {
			old := atomic.LoadInt32(&maxConc)
			if current <= old || atomic.CompareAndSwapInt32(&maxConc, old, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	defer svr.Close()

	client := New(nil, tracker.New(), fastOptions())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Get(context.Background(), svr.URL, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxConc), "requests to one provider run one at a time")
}

func TestGet_Retry(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer svr.Close()

	tr := tracker.New()
	client := New(nil, tr, fastOptions())

	body, err := client.Get(context.Background(), svr.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "success", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))

	u, _ := url.Parse(svr.URL)
	stats := tr.Snapshot()[u.Host]
	assert.Equal(t, int64(2), stats.Retries)
	assert.Equal(t, int64(1), stats.APISuccess)
}

func TestDo_StatusErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		noRetry      bool
		wantAttempts int32
	}{
		{"client error is not retried", http.StatusNotFound, false, 1},
		{"gone is not retried", http.StatusGone, false, 1},
		{"server error exhausts retries", http.StatusBadGateway, false, 3},
		{"rate limit without retry", http.StatusTooManyRequests, true, 1},
		{"gateway timeout without retry", http.StatusGatewayTimeout, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("error body"))
			}))
			defer svr.Close()

			client := New(nil, nil, fastOptions())
			_, err := client.Do(context.Background(), Request{URL: svr.URL, NoRetry: tt.noRetry})
			require.Error(t, err)
			assert.True(t, IsStatus(err, tt.status), "error %v should carry status %d", err, tt.status)
			assert.Equal(t, tt.wantAttempts, atomic.LoadInt32(&attempts))
		})
	}
}

func TestGet_Cache(t *testing.T) {
	var hits int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"entities":{}}`))
	}))
	defer svr.Close()

	tr := tracker.New()
	client := New(cache.NewFileCache(t.TempDir()), tr, fastOptions())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		body, err := client.Get(ctx, svr.URL, "wd_batch_1")
		require.NoError(t, err)
		assert.Equal(t, `{"entities":{}}`, string(body))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	u, _ := url.Parse(svr.URL)
	stats := tr.Snapshot()[u.Host]
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
}

func TestDo_ValidateBeforeCache(t *testing.T) {
	var hits int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		fmt.Fprintf(w, `{"reply":%d}`, n)
	}))
	defer svr.Close()

	client := New(cache.NewFileCache(t.TempDir()), nil, fastOptions())
	ctx := context.Background()
	errRejected := errors.New("rejected")
	validate := func(body []byte) error {
		if string(body) == `{"reply":1}` {
			return errRejected
		}
		return nil
	}

	_, err := client.Do(ctx, Request{URL: svr.URL, CacheKey: "k", Validate: validate})
	assert.ErrorIs(t, err, errRejected)

	for i := 0; i < 2; i++ {
		body, err := client.Do(ctx, Request{URL: svr.URL, CacheKey: "k", Validate: validate})
		require.NoError(t, err)
		assert.Equal(t, `{"reply":2}`, string(body))
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestPostForm(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "osm-wikidata-matcher/"))
		body, _ := io.ReadAll(r.Body)
		vals, err := url.ParseQuery(string(body))
		assert.NoError(t, err)
		_, _ = w.Write([]byte(vals.Get("data")))
	}))
	defer svr.Close()

	client := New(nil, nil, fastOptions())
	body, err := client.PostForm(context.Background(), svr.URL, url.Values{"data": {"[out:json];"}}, "")
	require.NoError(t, err)
	assert.Equal(t, "[out:json];", string(body))
}

func TestDo_ContextCancelled(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer svr.Close()

	client := New(nil, nil, fastOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Get(ctx, svr.URL, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_NoRetryTimeout(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	}))
	defer svr.Close()

	client := New(nil, tracker.New(), fastOptions())
	_, err := client.Do(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     svr.URL,
		Body:    []byte("data=out;"),
		NoRetry: true,
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)

	var ne net.Error
	require.True(t, errors.As(err, &ne), "want a net.Error, got %v", err)
	assert.True(t, ne.Timeout())
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "a NoRetry request is sent once")
}
