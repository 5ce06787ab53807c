package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tilmanb/osm-wikidata/pkg/pipeline"
)

const writeWait = 10 * time.Second

// ProgressHandler streams pipeline progress of a place over a websocket.
type ProgressHandler struct {
	hub      *pipeline.Hub
	upgrader websocket.Upgrader
}

// NewProgressHandler creates a progress handler.
func NewProgressHandler(hub *pipeline.Hub) *ProgressHandler {
	return &ProgressHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP handles /api/places/{id}/progress.
func (h *ProgressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "invalid place id", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		slog.Debug("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.hub.Subscribe(id)
	defer cancel()

	// The client never sends anything we need; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case p, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(p); err != nil {
				slog.Debug("Websocket write failed", "place_id", id, "error", err)
				return
			}
		}
	}
}
