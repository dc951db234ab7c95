package room

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"fila-live/internal/identity"
	"fila-live/internal/observability/logging"
	"fila-live/internal/observability/metrics"
	"fila-live/internal/protocol"
	"fila-live/internal/storage"
)

const (
	defaultHeartbeat = 30 * time.Second
	maxFrameSize     = 256 * 1024
)

// ErrHubClosed is returned for connections arriving after shutdown began.
var ErrHubClosed = errors.New("room: hub closed")

// HubConfig wires a hub's collaborators. Store and Verifier are required;
// everything else has a usable default.
type HubConfig struct {
	Store     storage.RoomStore
	Verifier  identity.Verifier
	Logger    *slog.Logger
	Recorder  *metrics.Recorder
	Heartbeat time.Duration
	// CheckOrigin overrides the upgrader's origin policy. The default
	// accepts every origin; room access control rides on the token, not
	// the Origin header.
	CheckOrigin func(*http.Request) bool
}

// Hub routes websocket connections to per-room authorities, activating each
// room at most once per process regardless of how many connections race in.
type Hub struct {
	store     storage.RoomStore
	verifier  identity.Verifier
	logger    *slog.Logger
	recorder  *metrics.Recorder
	heartbeat time.Duration
	upgrader  websocket.Upgrader

	activation singleflight.Group

	mu     sync.Mutex
	rooms  map[string]*Authority
	closed bool
}

func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = metrics.Default()
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		store:     cfg.Store,
		verifier:  cfg.Verifier,
		logger:    logging.WithComponent(logger, "hub"),
		recorder:  recorder,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		rooms: make(map[string]*Authority),
	}
}

// Authority returns the running authority for a room, activating it if
// needed. Activation loads persisted state exactly once even when many
// connections race for the same cold room.
func (h *Hub) Authority(ctx context.Context, roomName string) (*Authority, error) {
	key := NormalizeKey(roomName)
	if key == "" {
		return nil, errors.New("room: empty room key")
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if a, ok := h.rooms[key]; ok {
		h.mu.Unlock()
		return a, nil
	}
	h.mu.Unlock()

	v, err, _ := h.activation.Do(key, func() (any, error) {
		a := newAuthority(key, h.store, logging.WithRoom(logging.WithComponent(h.logger, "authority"), key), h.recorder)
		if err := a.load(ctx); err != nil {
			return nil, err
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			return nil, ErrHubClosed
		}
		if existing, ok := h.rooms[key]; ok {
			return existing, nil
		}
		a.start()
		h.rooms[key] = a
		h.recorder.RoomActivated()
		h.logger.Info("room activated", "room", key)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Authority), nil
}

// HandleConnection upgrades an HTTP request and attaches it to the named
// room. The optional "token" query parameter carries the caller's identity
// credential; requests without a valid token attach as anonymous viewers.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request, roomName string) {
	authority, err := h.Authority(r.Context(), roomName)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrHubClosed) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "room unavailable", status)
		return
	}

	var claims *identity.Claims
	if token := r.URL.Query().Get("token"); token != "" && h.verifier != nil {
		if verified, ok := h.verifier.Verify(token); ok {
			claims = &verified
		} else {
			h.logger.Debug("rejecting invalid credential", "room", NormalizeKey(roomName))
		}
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	c := newConn(ws, claims, authority.logger)
	go c.writeLoop(h.heartbeat)
	authority.Join(c)
	h.readLoop(authority, c)
}

func (h *Hub) readLoop(a *Authority, c *Conn) {
	defer a.Leave(c)

	pongWait := h.heartbeat * 2
	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Debug("connection read error", "connection_id", c.id, "error", err)
			}
			return
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			// Malformed and unknown frames are dropped without a reply.
			a.logger.Debug("dropping undecodable frame", "connection_id", c.id, "error", err)
			continue
		}
		a.Deliver(c, raw, msg)
	}
}

// Rooms reports the currently active room keys.
func (h *Hub) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.rooms))
	for key := range h.rooms {
		keys = append(keys, key)
	}
	return keys
}

// Shutdown stops every authority, waiting for their persistence queues to
// drain. New connections and activations fail once shutdown begins.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	authorities := make([]*Authority, 0, len(h.rooms))
	for _, a := range h.rooms {
		authorities = append(authorities, a)
	}
	h.rooms = make(map[string]*Authority)
	h.mu.Unlock()

	var firstErr error
	for _, a := range authorities {
		if err := a.stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		h.recorder.RoomStopped()
	}
	return firstErr
}
