// Package startup runs checks against the database, the cache
// directory and the upstream services before the server accepts work.
package startup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// CheckFunc performs one check and returns nil when it passes.
type CheckFunc func(ctx context.Context) error

// Check is a single startup check.
type Check struct {
	Name     string
	Fn       CheckFunc
	Critical bool // a failure prevents startup
}

// Result holds the outcome of a single check.
type Result struct {
	Check    Check
	Error    error
	Duration time.Duration
}

// Timeout bounds each check.
var Timeout = 5 * time.Second

// Run executes the checks in order.
func Run(ctx context.Context, checks []Check) []Result {
	results := make([]Result, len(checks))

	for i, c := range checks {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, Timeout)
		err := c.Fn(checkCtx)
		cancel()

		results[i] = Result{
			Check:    c,
			Error:    err,
			Duration: time.Since(start),
		}
	}
	return results
}

// AnalyzeResults logs every result and joins the errors of failed critical checks.
func AnalyzeResults(logger *slog.Logger, results []Result) error {
	if logger == nil {
		logger = slog.Default()
	}
	var criticalErrors []error

	logger.Info("Startup checks summary")
	for _, r := range results {
		status := "PASS"
		if r.Error != nil {
			status = "FAIL"
		}
		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Check.Name, r.Duration.Round(time.Millisecond))

		if r.Error == nil {
			logger.Info(msg)
			continue
		}
		logger.Error(msg, "error", r.Error, "critical", r.Check.Critical)
		if r.Check.Critical {
			criticalErrors = append(criticalErrors, fmt.Errorf("%s: %w", r.Check.Name, r.Error))
		}
	}
	return errors.Join(criticalErrors...)
}

// Pinger is implemented by *sqlx.DB and *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Database checks the store connection.
func Database(p Pinger) Check {
	return Check{Name: "Database", Critical: true, Fn: p.PingContext}
}

// WritableDir checks that dir exists, creating it if needed, and accepts files.
func WritableDir(name, dir string) Check {
	return Check{
		Name:     name,
		Critical: true,
		Fn: func(_ context.Context) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			f, err := os.CreateTemp(dir, ".writable-*")
			if err != nil {
				return err
			}
			f.Close()
			return os.Remove(filepath.Clean(f.Name()))
		},
	}
}

// Endpoint checks that an upstream service answers a HEAD request with a
// status below 500. Upstream outages are not critical: place runs fail per
// stage and can be retried.
func Endpoint(hc *http.Client, name, url string) Check {
	if hc == nil {
		hc = http.DefaultClient
	}
	return Check{
		Name: name,
		Fn: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
			if err != nil {
				return err
			}
			resp, err := hc.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode >= 500 {
				return fmt.Errorf("status %d", resp.StatusCode)
			}
			return nil
		},
	}
}
