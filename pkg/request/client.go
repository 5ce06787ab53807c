package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tilmanb/osm-wikidata/pkg/cache"
	"github.com/tilmanb/osm-wikidata/pkg/logging"
	"github.com/tilmanb/osm-wikidata/pkg/tracker"
	"github.com/tilmanb/osm-wikidata/pkg/version"
)

// UserAgent identifies the matcher to external services.
var UserAgent = fmt.Sprintf("osm-wikidata-matcher/%s (+https://osm.wikidata.link/)", version.Version)

// StatusError is returned for HTTP error responses that were not retried
// or kept failing after all retries.
type StatusError struct {
	StatusCode int
	Body       []byte
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d", e.StatusCode)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Options configures a Client. Zero values take the defaults.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Retries    int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Gap        time.Duration // pause between requests to one provider
}

// Client handles HTTP requests with per-provider queuing, caching and tracking.
type Client struct {
	httpClient *http.Client
	cache      cache.Cacher
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	retries    int
	baseDelay  time.Duration
	gap        time.Duration

	queues map[string]chan job
	mu     sync.Mutex
}

// Request describes one call. An empty CacheKey disables caching.
// NoRetry returns network errors, 429 and 5xx answers to the caller straight
// away. Timeout replaces the client timeout for this call. Validate, when
// set, checks a 2xx body before it is cached; a body it rejects is not
// cached and its error is returned.
type Request struct {
	Method   string
	URL      string
	Body     []byte
	Headers  map[string]string
	CacheKey string
	NoRetry  bool
	Timeout  time.Duration
	Validate func(body []byte) error
}

type job struct {
	req      *http.Request
	spec     Request
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client. c may be nil to disable caching.
func New(c cache.Cacher, t *tracker.Tracker, opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if t == nil {
		t = tracker.New()
	}
	return &Client{
		httpClient: opts.HTTPClient,
		cache:      c,
		tracker:    t,
		backoff:    NewProviderBackoff(opts.BaseDelay, opts.MaxDelay),
		retries:    opts.Retries,
		baseDelay:  opts.BaseDelay,
		gap:        opts.Gap,
		queues:     make(map[string]chan job),
	}
}

// Get performs a GET request with queuing and caching if key is provided.
func (c *Client) Get(ctx context.Context, u, cacheKey string) ([]byte, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: u, CacheKey: cacheKey})
}

// GetWithHeaders performs a GET request with custom headers and optional caching.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string, cacheKey string) ([]byte, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: u, Headers: headers, CacheKey: cacheKey})
}

// PostForm posts url-encoded form values.
func (c *Client) PostForm(ctx context.Context, u string, form url.Values, cacheKey string) ([]byte, error) {
	return c.Do(ctx, Request{
		Method:   http.MethodPost,
		URL:      u,
		Body:     []byte(form.Encode()),
		Headers:  map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		CacheKey: cacheKey,
	})
}

// Do runs a request through the provider queue.
func (c *Client) Do(ctx context.Context, r Request) ([]byte, error) {
	parsedURL, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(parsedURL.Host)

	if r.CacheKey != "" && c.cache != nil {
		if val, hit := c.cache.GetCache(ctx, r.CacheKey); hit {
			c.tracker.TrackCacheHit(provider)
			slog.Debug("Cache Hit", "provider", provider, "key", r.CacheKey)
			return val, nil
		}
		c.tracker.TrackCacheMiss(provider)
		slog.Debug("Cache Miss", "provider", provider, "key", r.CacheKey)
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	c.dispatch(provider, job{req: req, spec: r, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

func normalizeProvider(host string) string {
	switch {
	case strings.HasSuffix(host, ".wikidata.org") || host == "wikidata.org":
		return "wikidata"
	case strings.HasSuffix(host, ".wikipedia.org") || host == "wikipedia.org":
		return "wikipedia"
	case strings.Contains(host, "overpass"):
		return "overpass"
	case strings.HasPrefix(host, "taginfo."):
		return "taginfo"
	case strings.HasSuffix(host, "openstreetmap.org"):
		return "osm"
	}
	return host
}

// dispatch sends the job to the provider's queue, creating the queue/worker if needed.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		q = make(chan job, 100)
		c.queues[provider] = q
		go c.worker(provider, q)
	}
	c.mu.Unlock()

	// Blocks while the queue is full, throttling the caller.
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	for j := range q {
		if j.req.Context().Err() != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", j.req.Context().Err())
			j.respChan <- jobResult{err: j.req.Context().Err()}
			continue
		}

		hasUA := false
		for k, v := range j.spec.Headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				hasUA = true
			}
		}
		if !hasUA {
			j.req.Header.Set("User-Agent", UserAgent)
		}

		if err := c.backoff.Wait(j.req.Context(), provider); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		}
		start := time.Now()
		body, err := c.executeWithBackoff(provider, j.req, j.spec)
		logging.RequestLogger.Info("Request",
			"provider", provider,
			"method", j.req.Method,
			"url", j.req.URL.String(),
			"duration", time.Since(start),
			"error", err,
		)

		if err == nil {
			c.tracker.TrackAPISuccess(provider)
			c.backoff.RecordSuccess(provider)
			if j.spec.Validate != nil {
				err = j.spec.Validate(body)
			}
			if err == nil && j.spec.CacheKey != "" && c.cache != nil {
				if err := c.cache.SetCache(context.Background(), j.spec.CacheKey, body); err != nil {
					slog.Error("Failed to cache response", "url", j.req.URL, "error", err)
				}
			}
		} else {
			c.tracker.TrackAPIFailure(provider)
			var se *StatusError
			if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
				c.backoff.RecordFailure(provider, se.RetryAfter)
			}
		}

		j.respChan <- jobResult{body: body, err: err}

		if c.gap > 0 {
			time.Sleep(c.gap)
		}
	}
}

// executeWithBackoff attempts the request with exponential backoff on
// network errors, 429 and 5xx.
func (c *Client) executeWithBackoff(provider string, req *http.Request, spec Request) ([]byte, error) {
	hc := c.httpClient
	if spec.Timeout > 0 {
		cp := *c.httpClient
		cp.Timeout = spec.Timeout
		hc = &cp
	}

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		if attempt > 0 {
			c.tracker.TrackRetry(provider)
			if spec.Body != nil {
				req.Body = io.NopCloser(bytes.NewReader(spec.Body))
			}
			sleepDur := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseDelay
			select {
			case <-time.After(sleepDur):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
		}

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := hc.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			if spec.NoRetry {
				return nil, err
			}
			slog.Warn("Request failed, retrying", "url", req.URL, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: body, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
			if spec.NoRetry {
				return nil, lastErr
			}
			slog.Warn("API Backoff", "status", resp.StatusCode, "url", req.URL, "attempt", attempt+1)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
		}
		if readErr != nil {
			return nil, fmt.Errorf("read error: %w", readErr)
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
