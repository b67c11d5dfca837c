package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"reflow-oven-go/pkg/log"
)

// statusPushInterval is the websocket broadcast period.
const statusPushInterval = time.Second

// wsHub tracks connected websocket clients and pushes the status document
// to all of them on a fixed interval.
type wsHub struct {
	server *Server
	logger *log.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

func newWSHub(server *Server, logger *log.Logger) *wsHub {
	return &wsHub{
		server:  server,
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			// The controller lives on a trusted LAN; the browser UI is
			// served from anywhere.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *wsHub) start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	done := make(chan struct{})
	h.done = done
	go h.broadcastLoop(ctx, done)
}

func (h *wsHub) stop() {
	h.mu.Lock()
	cancel := h.cancel
	done := h.done
	h.cancel = nil
	h.done = nil
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, conn := range clients {
		conn.Close()
	}
	if cancel != nil {
		cancel()
		<-done
	}
}

func (h *wsHub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("websocket client connected (%d total)", count)

	// Reader goroutine: drains control frames and detects disconnect.
	go func() {
		defer h.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Push an immediate snapshot so the client does not wait a full
	// interval for its first state.
	h.push(conn, h.server.statusDocument())
}

func (h *wsHub) dropClient(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	conn.Close()
}

func (h *wsHub) push(conn *websocket.Conn, doc interface{}) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(doc); err != nil {
		h.dropClient(conn)
	}
}

func (h *wsHub) broadcastLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.mu.Unlock()

			if len(clients) == 0 {
				continue
			}
			doc := h.server.statusDocument()
			for _, conn := range clients {
				h.push(conn, doc)
			}
		}
	}
}
