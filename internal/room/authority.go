package room

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fila-live/internal/ledger"
	"fila-live/internal/models"
	"fila-live/internal/observability/metrics"
	"fila-live/internal/protocol"
	"fila-live/internal/storage"
)

// DeniedNotRoomOwner is the refusal reason sent to claimants whose login does
// not match the room key.
const DeniedNotRoomOwner = "not-room-owner"

const persistQueueSize = 128

type eventKind int

const (
	eventJoin eventKind = iota
	eventLeave
	eventFrame
	eventState
)

type authorityEvent struct {
	kind  eventKind
	conn  *Conn
	raw   []byte
	msg   protocol.Message
	reply chan Snapshot
}

type persistJob struct {
	kind    storage.Kind
	payload []byte
}

// Snapshot is a point-in-time copy of a room's state, taken on the authority
// goroutine.
type Snapshot struct {
	Requests    []models.Request
	Sources     models.Sources
	Channel     models.ChannelState
	HolderLogin string
	Connections int
}

// Authority owns all state for one room. A single goroutine consumes the
// inbox, so joins, departures and inbound frames are applied in strict arrival
// order with no locking. Persistence runs on a second goroutine fed by an
// ordered queue, keeping storage latency out of the hot path.
type Authority struct {
	key      string
	logger   *slog.Logger
	recorder *metrics.Recorder
	store    storage.RoomStore

	inbox       chan authorityEvent
	persistCh   chan persistJob
	stopCh      chan struct{}
	done        chan struct{}
	persistDone chan struct{}

	conns    map[*Conn]struct{}
	requests []models.Request
	sources  models.Sources
	channel  models.ChannelState
	holder   *Conn
}

func newAuthority(key string, store storage.RoomStore, logger *slog.Logger, recorder *metrics.Recorder) *Authority {
	return &Authority{
		key:         key,
		logger:      logger,
		recorder:    recorder,
		store:       store,
		inbox:       make(chan authorityEvent, 256),
		persistCh:   make(chan persistJob, persistQueueSize),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		persistDone: make(chan struct{}),
		conns:       make(map[*Conn]struct{}),
		sources:     models.DefaultSources(),
		channel:     models.OfflineChannel(),
	}
}

// load hydrates the room from storage before the actor starts. Missing blobs
// leave the defaults in place; corrupt blobs are logged and discarded so a bad
// write cannot brick the room.
func (a *Authority) load(ctx context.Context) error {
	if blob, ok, err := a.store.Get(ctx, a.key, storage.KindRequests); err != nil {
		return err
	} else if ok {
		var requests []models.Request
		if err := json.Unmarshal(blob, &requests); err != nil {
			a.logger.Warn("discarding corrupt request ledger", "error", err)
		} else {
			a.requests = requests
		}
	}
	if blob, ok, err := a.store.Get(ctx, a.key, storage.KindSources); err != nil {
		return err
	} else if ok {
		sources, err := models.MergeSources(blob)
		if err != nil {
			a.logger.Warn("discarding corrupt source settings", "error", err)
		} else {
			a.sources = sources
		}
	}
	return nil
}

func (a *Authority) start() {
	go a.run()
	go a.persistLoop()
}

func (a *Authority) run() {
	defer close(a.done)
	for {
		select {
		case ev := <-a.inbox:
			a.handle(ev)
		case <-a.stopCh:
			for c := range a.conns {
				delete(a.conns, c)
				c.finish()
				a.recorder.ConnectionClosed()
			}
			a.holder = nil
			close(a.persistCh)
			<-a.persistDone
			return
		}
	}
}

func (a *Authority) handle(ev authorityEvent) {
	switch ev.kind {
	case eventJoin:
		a.handleJoin(ev.conn)
	case eventLeave:
		a.handleLeave(ev.conn)
	case eventFrame:
		a.handleFrame(ev.conn, ev.raw, ev.msg)
	case eventState:
		ev.reply <- a.snapshot()
	}
}

func (a *Authority) post(ev authorityEvent) {
	select {
	case a.inbox <- ev:
	case <-a.done:
	}
}

// Join registers the connection and pushes it a private full snapshot.
func (a *Authority) Join(c *Conn) {
	a.post(authorityEvent{kind: eventJoin, conn: c})
}

// Leave detaches the connection. If it held the write lease the lease is
// revoked exactly as if the holder had released it.
func (a *Authority) Leave(c *Conn) {
	a.post(authorityEvent{kind: eventLeave, conn: c})
}

// Deliver hands an inbound frame to the actor. The raw bytes ride along so
// mutations can be relayed verbatim.
func (a *Authority) Deliver(c *Conn, raw []byte, msg protocol.Message) {
	a.post(authorityEvent{kind: eventFrame, conn: c, raw: raw, msg: msg})
}

// State returns a copy of the room's current state.
func (a *Authority) State(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case a.inbox <- authorityEvent{kind: eventState, reply: reply}:
	case <-a.done:
		return Snapshot{}, context.Canceled
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (a *Authority) snapshot() Snapshot {
	snap := Snapshot{
		Requests:    models.CloneRequests(a.requests),
		Sources:     a.sources,
		Channel:     a.channel,
		Connections: len(a.conns),
	}
	if a.holder != nil && a.holder.identity != nil {
		snap.HolderLogin = a.holder.identity.Login
	}
	return snap
}

func (a *Authority) handleJoin(c *Conn) {
	a.conns[c] = struct{}{}
	a.recorder.ConnectionOpened()
	a.sendTo(c, protocol.SyncFull{
		Requests: models.CloneRequests(a.requests),
		Sources:  a.sources,
		Channel:  a.channel,
	})
	a.logger.Debug("connection joined", "connection_id", c.id, "connections", len(a.conns))
}

func (a *Authority) handleLeave(c *Conn) {
	if _, ok := a.conns[c]; !ok {
		return
	}
	delete(a.conns, c)
	c.finish()
	a.recorder.ConnectionClosed()
	if a.holder == c {
		a.dropLease("revoked")
	}
	a.logger.Debug("connection left", "connection_id", c.id, "connections", len(a.conns))
}

func (a *Authority) handleFrame(c *Conn, raw []byte, msg protocol.Message) {
	if _, ok := a.conns[c]; !ok {
		return
	}
	a.recorder.ObserveMessage(string(msg.MessageType()))
	switch m := msg.(type) {
	case protocol.ClaimOwnership:
		a.handleClaim(c)
	case protocol.ReleaseOwnership:
		if a.holder == c {
			a.dropLease("released")
		}
	case protocol.IRCStatus:
		a.handleIRCStatus(c, m)
	default:
		if protocol.IsMutation(msg) {
			a.handleMutation(c, raw, msg)
		}
		// Server-origin types arriving from a client are dropped.
	}
}

func (a *Authority) handleClaim(c *Conn) {
	if c.identity == nil || NormalizeKey(c.identity.Login) != a.key {
		a.recorder.ObserveLeaseEvent("denied")
		a.sendTo(c, protocol.OwnershipDenied{Reason: DeniedNotRoomOwner})
		return
	}
	if a.holder != nil && a.holder != c {
		a.recorder.ObserveLeaseEvent("denied")
		a.sendTo(c, protocol.OwnershipDenied{Reason: a.holder.identity.Login})
		return
	}
	if a.holder == c {
		a.sendTo(c, protocol.OwnershipGranted{})
		return
	}
	a.holder = c
	a.channel = models.ChannelState{
		Status: models.StatusOnline,
		Owner: &models.Owner{
			Login:       c.identity.Login,
			DisplayName: c.identity.DisplayName,
			Avatar:      c.identity.ProfileImageURL,
		},
	}
	a.recorder.ObserveLeaseEvent("granted")
	a.sendTo(c, protocol.OwnershipGranted{})
	a.broadcastChannel()
	a.logger.Info("lease granted", "login", c.identity.Login, "connection_id", c.id)
}

// dropLease is the single code path for giving the lease back, whether the
// holder asked for it or simply disconnected.
func (a *Authority) dropLease(cause string) {
	a.holder = nil
	a.channel = models.OfflineChannel()
	a.recorder.ObserveLeaseEvent(cause)
	a.broadcastChannel()
	a.logger.Info("lease dropped", "cause", cause)
}

func (a *Authority) handleIRCStatus(c *Conn, m protocol.IRCStatus) {
	if a.holder != c {
		return
	}
	status := models.StatusOnline
	if m.Connected {
		status = models.StatusLive
	}
	if a.channel.Status == status {
		return
	}
	a.channel.Status = status
	a.broadcastChannel()
}

func (a *Authority) handleMutation(c *Conn, raw []byte, msg protocol.Message) {
	if a.holder != c {
		// Mutations from non-holders are dropped without a reply.
		a.logger.Debug("dropping mutation from non-holder",
			"type", string(msg.MessageType()), "connection_id", c.id)
		return
	}
	var changed bool
	kind := storage.KindRequests
	if m, ok := msg.(protocol.UpdateSources); ok {
		a.sources = m.Sources
		kind = storage.KindSources
		changed = true
	} else {
		a.requests, changed = ledger.Apply(a.requests, msg)
	}
	if !changed {
		return
	}
	a.persist(kind)
	a.relayExcept(c, raw)
}

// persist snapshots the mutated state synchronously and queues the write, so
// jobs reach storage in the same order the mutations were applied.
func (a *Authority) persist(kind storage.Kind) {
	var payload []byte
	var err error
	switch kind {
	case storage.KindRequests:
		payload, err = json.Marshal(a.requests)
	case storage.KindSources:
		payload, err = json.Marshal(a.sources)
	}
	if err != nil {
		a.logger.Error("encoding state for persistence", "kind", string(kind), "error", err)
		a.recorder.ObservePersistFailure(string(kind))
		return
	}
	select {
	case a.persistCh <- persistJob{kind: kind, payload: payload}:
	default:
		// Queue full. Each write carries the full state, so the next
		// successful mutation makes up for the dropped one.
		a.logger.Warn("persist queue full, dropping write", "kind", string(kind))
		a.recorder.ObservePersistFailure(string(kind))
	}
}

func (a *Authority) persistLoop() {
	defer close(a.persistDone)
	for job := range a.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := a.store.Put(ctx, a.key, job.kind, job.payload)
		cancel()
		if err != nil {
			a.logger.Error("persisting room state", "kind", string(job.kind), "error", err)
			a.recorder.ObservePersistFailure(string(job.kind))
		}
	}
}

// relayExcept fans the writer's original frame out to every other connection.
func (a *Authority) relayExcept(sender *Conn, raw []byte) {
	a.recorder.ObserveBroadcast("relay")
	for c := range a.conns {
		if c == sender {
			continue
		}
		c.enqueue(raw)
	}
}

func (a *Authority) broadcastChannel() {
	a.broadcast(protocol.UpdateChannel{Channel: a.channel})
}

func (a *Authority) broadcast(msg protocol.Message) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		a.logger.Error("encoding broadcast", "type", string(msg.MessageType()), "error", err)
		return
	}
	a.recorder.ObserveBroadcast("all")
	for c := range a.conns {
		c.enqueue(payload)
	}
}

func (a *Authority) sendTo(c *Conn, msg protocol.Message) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		a.logger.Error("encoding message", "type", string(msg.MessageType()), "error", err)
		return
	}
	c.enqueue(payload)
}

// stop shuts the actor down, draining queued persistence writes first.
func (a *Authority) stop(ctx context.Context) error {
	close(a.stopCh)
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
