package logging

import (
	"strings"
	"sync"
)

// RecentLines is a thread-safe writer that keeps the last few log lines.
type RecentLines struct {
	mu    sync.RWMutex
	lines []string
	size  int
}

// Recent holds the most recent INFO+ lines of the server log.
var Recent = NewRecentLines(50)

// NewRecentLines creates a buffer holding up to size lines.
func NewRecentLines(size int) *RecentLines {
	return &RecentLines{size: size}
}

// Write implements io.Writer. Each call is one formatted record.
func (w *RecentLines) Write(p []byte) (n int, err error) {
	line := strings.TrimRight(string(p), "\n")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, line)
	if len(w.lines) > w.size {
		w.lines = w.lines[len(w.lines)-w.size:]
	}
	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first.
func (w *RecentLines) Lines() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.lines))
	copy(out, w.lines)
	return out
}

// Last returns the most recent line, or "" if none.
func (w *RecentLines) Last() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.lines) == 0 {
		return ""
	}
	return w.lines[len(w.lines)-1]
}
