// Package stream fans freshly computed risk snapshots out to websocket
// subscribers.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/oiltrading/riskengine/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 30 * time.Second

	// Per-subscriber buffer. A subscriber that cannot drain this many
	// snapshots is dropped behind, not blocked on.
	subscriberBuffer = 16
)

// Hub broadcasts snapshot payloads to connected websocket clients.
type Hub struct {
	log zerolog.Logger

	mu   sync.RWMutex
	subs map[chan []byte]struct{}
}

// NewHub creates an empty hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:  log.With().Str("component", "stream").Logger(),
		subs: make(map[chan []byte]struct{}),
	}
}

// PublishSnapshot encodes the result once and hands it to every subscriber.
// Sends never block: a subscriber with a full buffer misses this snapshot.
func (h *Hub) PublishSnapshot(result *domain.RiskResult) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":      "snapshot",
		"data":      result,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode snapshot for stream")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- payload:
		default:
			h.log.Warn().Msg("Subscriber buffer full, dropping snapshot")
		}
	}
}

// Subscribe registers a new subscriber channel
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel
func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// SubscriberCount returns the number of connected subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP handles GET /risk/stream: upgrades to a websocket and relays
// each published snapshot until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	// The stream is write-only; CloseRead discards client frames, keeps
	// control frames flowing and cancels the context on disconnect.
	ctx := conn.CloseRead(r.Context())

	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	h.log.Info().Int("subscribers", h.SubscriberCount()).Msg("Client connected to snapshot stream")
	defer h.log.Info().Msg("Client disconnected from snapshot stream")

	greeting, _ := json.Marshal(map[string]interface{}{
		"type":      "connected",
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err := h.write(ctx, conn, greeting); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case payload := <-ch:
			if err := h.write(ctx, conn, payload); err != nil {
				return
			}

		case <-heartbeat.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}
