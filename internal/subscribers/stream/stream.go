package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hrstack.local/projects/tracker-gateway/internal/tracker"
)

const writeDeadline = 5 * time.Second

// Hub is the subscriber behind the live event feed: it broadcasts every
// tracker event to all attached websocket connections. A connection that
// fails a write is detached and closed.
type Hub struct {
	logger *log.Logger

	mu    sync.Mutex
	peers map[*websocket.Conn]*peer
}

// peer guards its connection with a write lock: broadcasts arrive from one
// dispatcher worker per session, and the websocket allows only one writer at
// a time.
type peer struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		logger: logger,
		peers:  make(map[*websocket.Conn]*peer),
	}
}

func (h *Hub) Name() string {
	return "stream"
}

// Attach registers a connection and holds it open until the peer closes or
// a broadcast write fails.
func (h *Hub) Attach(conn *websocket.Conn) {
	h.mu.Lock()
	h.peers[conn] = &peer{conn: conn}
	h.mu.Unlock()

	// The read loop is only there to observe the close; the feed is
	// one-directional.
	go func() {
		defer h.Detach(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) Detach(conn *websocket.Conn) {
	h.mu.Lock()
	_, attached := h.peers[conn]
	delete(h.peers, conn)
	h.mu.Unlock()

	if attached {
		_ = conn.Close()
	}
}

func (h *Hub) Handle(_ context.Context, event tracker.Event) error {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		if err := p.write(event); err != nil {
			h.logger.Printf("stream write failed, detaching peer=%s err=%v", p.conn.RemoteAddr(), err)
			h.Detach(p.conn)
		}
	}
	return nil
}

func (p *peer) write(event tracker.Event) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return p.conn.WriteJSON(event)
}

// Len reports the number of attached connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}
