// Package session implements the client side of a room: a reconnecting
// websocket attachment that mirrors the room's state, claims the write lease
// for the room owner, and applies its own mutations optimistically since the
// authority never echoes a writer's frames back.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fila-live/internal/ledger"
	"fila-live/internal/models"
	"fila-live/internal/observability/logging"
	"fila-live/internal/protocol"
)

var (
	// ErrNotOwner is returned for mutation attempts while the session does
	// not hold the room's write lease.
	ErrNotOwner = errors.New("session: not the room owner")
	// ErrNotConnected is returned when no websocket is currently up.
	ErrNotConnected = errors.New("session: not connected")
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

// Config wires a session. URL is the server's websocket base, e.g.
// "ws://host:4350/ws"; the room name is appended as a path segment.
type Config struct {
	URL   string
	Room  string
	Token string
	// AutoClaim sends a single ownership claim after each sync-full. A
	// denial stops further claims until the next reconnect.
	AutoClaim bool
	Logger    *slog.Logger
	Dialer    *websocket.Dialer
	// OnMessage observes every inbound frame after it has been applied to
	// the mirror. Called from the read goroutine.
	OnMessage func(protocol.Message)

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Session maintains one client's view of a room across reconnects.
type Session struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer

	writeMu sync.Mutex

	mu        sync.Mutex
	ws        *websocket.Conn
	requests  []models.Request
	sources   models.Sources
	channel   models.ChannelState
	owned     bool
	denied    bool
	claimed   bool
	synced    bool
	lastError error
}

func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	return &Session{
		cfg:     cfg,
		logger:  logging.WithRoom(logging.WithComponent(logger, "session"), cfg.Room),
		dialer:  dialer,
		sources: models.DefaultSources(),
		channel: models.OfflineChannel(),
	}
}

// Run connects and serves the session until ctx is canceled, reconnecting
// with exponential backoff after each failure.
func (s *Session) Run(ctx context.Context) error {
	backoff := s.cfg.MinBackoff
	for {
		sawSync, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sawSync {
			backoff = s.cfg.MinBackoff
		}
		s.logger.Warn("connection lost, reconnecting", "error", err, "backoff", backoff.String())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

func (s *Session) endpoint() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", err
	}
	u.Path = u.Path + "/" + s.cfg.Room
	if s.cfg.Token != "" {
		q := u.Query()
		q.Set("token", s.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *Session) runOnce(ctx context.Context) (bool, error) {
	endpoint, err := s.endpoint()
	if err != nil {
		return false, err
	}
	ws, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		s.setError(err)
		return false, err
	}

	s.mu.Lock()
	s.ws = ws
	s.owned = false
	s.denied = false
	s.claimed = false
	s.synced = false
	s.lastError = nil
	s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()

	var sawSync bool
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.ws = nil
			s.owned = false
			s.lastError = err
			s.mu.Unlock()
			ws.Close()
			return sawSync, err
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			s.logger.Debug("dropping undecodable frame", "error", err)
			continue
		}
		if msg.MessageType() == protocol.TypeSyncFull {
			sawSync = true
		}
		s.apply(msg)
	}
}

// apply reconciles one inbound frame into the mirror. A sync-full supersedes
// everything accumulated before it; relayed mutations run through the same
// ledger operations the authority applied.
func (s *Session) apply(msg protocol.Message) {
	var claim bool

	s.mu.Lock()
	switch m := msg.(type) {
	case protocol.SyncFull:
		s.requests = models.CloneRequests(m.Requests)
		s.sources = m.Sources
		s.channel = m.Channel
		s.synced = true
		if s.cfg.AutoClaim && !s.claimed && !s.denied {
			s.claimed = true
			claim = true
		}
	case protocol.OwnershipGranted:
		s.owned = true
	case protocol.OwnershipDenied:
		s.owned = false
		s.denied = true
		s.logger.Info("ownership denied", "reason", m.Reason)
	case protocol.UpdateChannel:
		s.channel = m.Channel
	case protocol.UpdateSources:
		s.sources = m.Sources
	default:
		s.requests, _ = ledger.Apply(s.requests, msg)
	}
	s.mu.Unlock()

	if claim {
		if err := s.send(protocol.ClaimOwnership{}); err != nil {
			s.logger.Warn("sending ownership claim", "error", err)
		}
	}
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(msg)
	}
}

func (s *Session) send(msg protocol.Message) error {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, raw)
}

// mutate guards a ledger mutation behind the lease, applies it to the local
// mirror and ships it. The authority relays to everyone but us, so the
// optimistic local apply is what keeps the mirror current.
func (s *Session) mutate(msg protocol.Message) error {
	s.mu.Lock()
	if !s.owned {
		s.mu.Unlock()
		return ErrNotOwner
	}
	if s.ws == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if m, ok := msg.(protocol.UpdateSources); ok {
		s.sources = m.Sources
	} else {
		s.requests, _ = ledger.Apply(s.requests, msg)
	}
	s.mu.Unlock()
	return s.send(msg)
}

// Add inserts a request into the room's queue.
func (s *Session) Add(req models.Request) error {
	return s.mutate(protocol.AddRequest{Request: req})
}

// Update merges partial fields into the request with the given id.
func (s *Session) Update(id int64, updates any) error {
	raw, err := json.Marshal(updates)
	if err != nil {
		return err
	}
	return s.mutate(protocol.UpdateRequest{ID: id, Updates: raw})
}

// ToggleDone flips the done flag on the request with the given id.
func (s *Session) ToggleDone(id int64) error {
	return s.mutate(protocol.ToggleDone{ID: id})
}

// Delete removes the request with the given id.
func (s *Session) Delete(id int64) error {
	return s.mutate(protocol.DeleteRequest{ID: id})
}

// Reorder moves the request fromID to the position occupied by toID.
func (s *Session) Reorder(fromID, toID int64) error {
	return s.mutate(protocol.Reorder{FromID: fromID, ToID: toID})
}

// SetAll replaces the queue wholesale.
func (s *Session) SetAll(requests []models.Request) error {
	return s.mutate(protocol.SetAll{Requests: requests})
}

// SetSources replaces the room's intake configuration.
func (s *Session) SetSources(sources models.Sources) error {
	return s.mutate(protocol.UpdateSources{Sources: sources})
}

// Claim requests the room's write lease.
func (s *Session) Claim() error {
	return s.send(protocol.ClaimOwnership{})
}

// Release gives the write lease back.
func (s *Session) Release() error {
	return s.send(protocol.ReleaseOwnership{})
}

// ReportBridge tells the room whether the owner's chat bridge is connected.
// Only meaningful while holding the lease.
func (s *Session) ReportBridge(connected bool) error {
	s.mu.Lock()
	owned := s.owned
	s.mu.Unlock()
	if !owned {
		return ErrNotOwner
	}
	return s.send(protocol.IRCStatus{Connected: connected})
}

// Requests returns a copy of the mirrored queue.
func (s *Session) Requests() []models.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneRequests(s.requests)
}

// Sources returns the mirrored intake configuration.
func (s *Session) Sources() models.Sources {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sources
}

// Channel returns the mirrored lease and broadcast state.
func (s *Session) Channel() models.ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Owned reports whether this session currently holds the write lease.
func (s *Session) Owned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned
}

// Synced reports whether a full snapshot has been applied on the current
// connection.
func (s *Session) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
}

// LastError reports the most recent connection failure, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}
