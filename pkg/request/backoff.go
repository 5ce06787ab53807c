package request

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ProviderBackoff spaces out requests to a provider after it answered 429.
// Overpass and the OSM API both rate limit per client, so a single provider
// is throttled without holding up the others.
type ProviderBackoff struct {
	mu        sync.RWMutex
	providers map[string]*backoffState
	baseDelay time.Duration
	maxDelay  time.Duration
}

type backoffState struct {
	failures    int
	nextAllowed time.Time
}

// NewProviderBackoff creates a new backoff manager.
func NewProviderBackoff(baseDelay, maxDelay time.Duration) *ProviderBackoff {
	return &ProviderBackoff{
		providers: make(map[string]*backoffState),
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// Wait blocks until the provider is allowed to make a request or ctx is done.
func (b *ProviderBackoff) Wait(ctx context.Context, provider string) error {
	_, next := b.State(provider)
	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordFailure pushes the next request to the provider back. retryAfter is
// the server's Retry-After hint; the delay is never shorter than it.
func (b *ProviderBackoff) RecordFailure(provider string, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.providers[provider]
	if st == nil {
		st = &backoffState{}
		b.providers[provider] = st
	}
	st.failures++
	delay := max(b.delay(st.failures), min(retryAfter, b.maxDelay))
	st.nextAllowed = time.Now().Add(delay)
}

// RecordSuccess steps the failure count down by one; the delay is lifted once
// it reaches zero.
func (b *ProviderBackoff) RecordSuccess(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.providers[provider]
	if st == nil {
		return
	}
	if st.failures > 0 {
		st.failures--
	}
	if st.failures == 0 {
		delete(b.providers, provider)
	}
}

// delay is baseDelay doubled per failure, capped at maxDelay, plus up to 10% jitter.
func (b *ProviderBackoff) delay(failures int) time.Duration {
	d := b.baseDelay
	for i := 1; i < failures && d < b.maxDelay; i++ {
		d *= 2
	}
	d = min(d, b.maxDelay)
	return d + time.Duration(rand.Float64()*0.1*float64(d))
}

// State returns the failure count and the earliest time of the next request.
func (b *ProviderBackoff) State(provider string) (failures int, nextAllowed time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if st := b.providers[provider]; st != nil {
		return st.failures, st.nextAllowed
	}
	return 0, time.Time{}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}
