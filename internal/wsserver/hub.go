// Package wsserver implements C7, the per-connection WebSocket handler,
// and C9, the cross-instance redirect gatekeeper. It is a generalization
// of the teacher pack's block52-pokerchain wsserver.Hub/Client pattern:
// the per-game client index (Hub.games) is dropped because session
// fan-out already lives in the registry package (C6), so a connection
// subscribes directly to a registry channel instead of the hub
// re-broadcasting through its own map.
package wsserver

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/udisondev/wagerboard/internal/engine"
	"github.com/udisondev/wagerboard/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns the set of live connections on this instance and the
// dependencies every Client needs to dispatch inbound frames.
type Hub struct {
	instanceID string
	engine     *engine.Engine
	registry   *registry.Registry
	log        *slog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
}

// NewHub builds a Hub bound to instanceID, the same identity the
// coordinator advertises in the directory (spec §4.6/§6).
func NewHub(instanceID string, eng *engine.Engine, reg *registry.Registry, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		instanceID: instanceID,
		engine:     eng,
		registry:   reg,
		log:        log,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run drives the registration bookkeeping; call it in its own goroutine
// before serving connections.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.log.Debug("client connected", "total", h.clientCount())
		case c := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			h.log.Debug("client disconnected", "total", h.clientCount())
		}
	}
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// redirectHint reads the machine_id query parameter or the
// fly-machine-id cookie the client attaches when it already knows which
// instance owns its session, per spec §4.6.
func redirectHint(r *http.Request) string {
	if v := r.URL.Query().Get("machine_id"); v != "" {
		return v
	}
	if c, err := r.Cookie("fly-machine-id"); err == nil {
		return c.Value
	}
	return ""
}

// ServeHTTP is the C9 gatekeeper: a hint naming a different instance is
// replayed there without ever upgrading the connection locally.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if hint := redirectHint(r); hint != "" && hint != h.instanceID {
		w.Header().Set("fly-replay", "instance="+hint)
		w.WriteHeader(http.StatusTemporaryRedirect)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "error", err)
		return
	}

	c := newClient(h, conn)
	h.register <- c

	go c.writePump()
	go c.readPump()
}
