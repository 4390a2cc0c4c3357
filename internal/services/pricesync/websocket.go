package pricesync

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SyncWSHub fans sync events out to WebSocket subscribers. A subscriber that
// connects mid-cycle first receives the most recent event.
type SyncWSHub struct {
	logger *common.Logger

	events     chan models.SyncEvent
	register   chan *wsSubscriber
	unregister chan *wsSubscriber
	done       chan struct{} // closed when Run returns

	mu          sync.RWMutex
	subscribers map[*wsSubscriber]struct{}
	last        []byte
}

type wsSubscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// NewSyncWSHub creates a hub. Call Run to start delivering events.
func NewSyncWSHub(logger *common.Logger) *SyncWSHub {
	return &SyncWSHub{
		logger:      logger,
		events:      make(chan models.SyncEvent, 256),
		register:    make(chan *wsSubscriber),
		unregister:  make(chan *wsSubscriber),
		done:        make(chan struct{}),
		subscribers: make(map[*wsSubscriber]struct{}),
	}
}

// Run delivers events until ctx is done, then disconnects all subscribers.
// It must be called at most once.
func (h *SyncWSHub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = struct{}{}
			last := h.last
			h.mu.Unlock()
			if last != nil {
				select {
				case sub.send <- last:
				default:
				}
			}
			h.logger.Debug().Int("subscribers", h.SubscriberCount()).Msg("Sync event subscriber connected")

		case sub := <-h.unregister:
			h.drop(sub)
			h.logger.Debug().Int("subscribers", h.SubscriberCount()).Msg("Sync event subscriber disconnected")

		case event := <-h.events:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn().Err(err).Str("type", event.Type).Msg("Failed to marshal sync event")
				continue
			}
			h.fanOut(data)
		}
	}
}

func (h *SyncWSHub) fanOut(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = data
	for sub := range h.subscribers {
		select {
		case sub.send <- data:
		default:
			// subscriber cannot keep up
			delete(h.subscribers, sub)
			close(sub.send)
		}
	}
}

func (h *SyncWSHub) drop(sub *wsSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

func (h *SyncWSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

// Broadcast queues an event for delivery. It never blocks the sync cycle;
// events are dropped when the queue is full.
func (h *SyncWSHub) Broadcast(event models.SyncEvent) {
	select {
	case h.events <- event:
	default:
		h.logger.Warn().Str("type", event.Type).Msg("Sync event queue full, dropping event")
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *SyncWSHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// ServeWS upgrades the request to a WebSocket and subscribes it to sync events.
func (h *SyncWSHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := &wsSubscriber{conn: conn, send: make(chan []byte, wsSendBuffer)}

	select {
	case h.register <- sub:
	case <-r.Context().Done():
		conn.Close()
		return
	case <-h.done:
		conn.Close()
		return
	}

	go sub.writeLoop()
	go sub.readLoop(h)
}

func (s *wsSubscriber) writeLoop() {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames and detects disconnects.
func (s *wsSubscriber) readLoop(h *SyncWSHub) {
	defer func() {
		select {
		case h.unregister <- s:
		case <-h.done:
		case <-time.After(wsWriteWait):
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
