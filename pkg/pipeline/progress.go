package pipeline

import (
	"sync"
	"time"
)

// Progress is one status update of a pipeline run.
type Progress struct {
	PlaceID int64     `json:"place_id"`
	RunID   string    `json:"run_id"`
	Stage   string    `json:"stage"`
	Message string    `json:"msg"`
	Done    int       `json:"done,omitempty"`
	Total   int       `json:"total,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// ProgressSink receives progress updates. Implementations must not block.
type ProgressSink interface {
	Publish(p Progress)
}

// Hub fans progress out to subscribers of a place. Slow subscribers lose
// updates rather than stalling the pipeline.
type Hub struct {
	mu     sync.Mutex
	subs   map[int64]map[chan Progress]struct{}
	buffer int
}

// NewHub creates a hub whose subscriber channels hold buffer updates.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{subs: make(map[int64]map[chan Progress]struct{}), buffer: buffer}
}

// Subscribe returns a channel of updates for the place and a cancel func
// that closes it.
func (h *Hub) Subscribe(placeID int64) (<-chan Progress, func()) {
	ch := make(chan Progress, h.buffer)

	h.mu.Lock()
	if h.subs[placeID] == nil {
		h.subs[placeID] = make(map[chan Progress]struct{})
	}
	h.subs[placeID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[placeID], ch)
			if len(h.subs[placeID]) == 0 {
				delete(h.subs, placeID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish implements ProgressSink.
func (h *Hub) Publish(p Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[p.PlaceID] {
		select {
		case ch <- p:
		default:
		}
	}
}

// Subscribers returns the number of subscribers of a place.
func (h *Hub) Subscribers(placeID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[placeID])
}

type nopSink struct{}

func (nopSink) Publish(Progress) {}
