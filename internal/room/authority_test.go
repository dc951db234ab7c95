package room

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"fila-live/internal/identity"
	"fila-live/internal/models"
	"fila-live/internal/observability/metrics"
	"fila-live/internal/protocol"
	"fila-live/internal/storage"
)

const testRoom = "streamer"

func ledgerFixture(ids ...int64) []models.Request {
	requests := make([]models.Request, 0, len(ids))
	for _, id := range ids {
		requests = append(requests, models.Request{ID: id, Donor: "donor", Message: "msg"})
	}
	return requests
}

func idsOf(requests []models.Request) []int64 {
	ids := make([]int64, 0, len(requests))
	for _, r := range requests {
		ids = append(ids, r.ID)
	}
	return ids
}

func sameIDs(a []int64, b ...int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type authorityHarness struct {
	authority *Authority
	store     *storage.MemoryStore
	recorder  *metrics.Recorder
}

func newHarness(t *testing.T, seed func(*storage.MemoryStore)) *authorityHarness {
	t.Helper()
	store := storage.NewMemoryStore()
	if seed != nil {
		seed(store)
	}
	recorder := metrics.New()
	a := newAuthority(testRoom, store, discardLogger(), recorder)
	if err := a.load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	a.start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.stop(ctx)
	})
	return &authorityHarness{authority: a, store: store, recorder: recorder}
}

func ownerClaims() *identity.Claims {
	return &identity.Claims{
		Subject:         "u100",
		Login:           "Streamer",
		DisplayName:     "The Streamer",
		ProfileImageURL: "https://cdn.example/pic.png",
	}
}

func viewerClaims(login string) *identity.Claims {
	return &identity.Claims{Subject: "u200", Login: login, DisplayName: login}
}

// attach joins a connection and consumes the private sync-full snapshot.
func (h *authorityHarness) attach(t *testing.T, claims *identity.Claims) (*Conn, protocol.SyncFull) {
	t.Helper()
	c := newConn(nil, claims, discardLogger())
	h.authority.Join(c)
	msg := nextFrame(t, c)
	snap, ok := msg.(protocol.SyncFull)
	if !ok {
		t.Fatalf("expected sync-full on join, got %T", msg)
	}
	return c, snap
}

func (h *authorityHarness) send(t *testing.T, c *Conn, msg protocol.Message) {
	t.Helper()
	raw, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	h.authority.Deliver(c, raw, decoded)
}

func (h *authorityHarness) state(t *testing.T) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := h.authority.State(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	return snap
}

func nextFrame(t *testing.T, c *Conn) protocol.Message {
	t.Helper()
	raw := nextRaw(t, c)
	msg, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return msg
}

func nextRaw(t *testing.T, c *Conn) []byte {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if !ok {
			t.Fatal("connection closed while waiting for a frame")
		}
		return raw
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
	return nil
}

func expectSilence(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if ok {
			t.Fatalf("expected no frame, got %s", raw)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func claimLease(t *testing.T, h *authorityHarness, c *Conn) {
	t.Helper()
	h.send(t, c, protocol.ClaimOwnership{})
	if msg := nextFrame(t, c); msg.MessageType() != protocol.TypeOwnershipGranted {
		t.Fatalf("expected ownership-granted, got %s", msg.MessageType())
	}
	// The grant is followed by the channel broadcast.
	if msg := nextFrame(t, c); msg.MessageType() != protocol.TypeUpdateChannel {
		t.Fatalf("expected update-channel, got %s", msg.MessageType())
	}
}

func TestJoinReceivesSnapshotWithMergedSettings(t *testing.T) {
	h := newHarness(t, func(store *storage.MemoryStore) {
		requests, _ := json.Marshal([]models.Request{{ID: 1, Donor: "alice", Message: "nurse"}})
		store.Seed(testRoom, storage.KindRequests, requests)
		store.Seed(testRoom, storage.KindSources, []byte(`{"donation":false}`))
	})
	_, snap := h.attach(t, nil)
	if len(snap.Requests) != 1 || snap.Requests[0].ID != 1 {
		t.Fatalf("snapshot missing persisted ledger: %+v", snap.Requests)
	}
	if snap.Sources.Donation {
		t.Fatal("explicit false in the stored blob must win")
	}
	if !snap.Sources.Chat || snap.Sources.ChatCommand != models.DefaultChatCommand {
		t.Fatalf("absent settings must fall back to defaults: %+v", snap.Sources)
	}
	if snap.Channel.Status != models.StatusOffline {
		t.Fatalf("cold room must report offline, got %s", snap.Channel.Status)
	}
}

func TestClaimGrantedToRoomOwner(t *testing.T) {
	h := newHarness(t, nil)
	viewer, _ := h.attach(t, nil)
	owner, _ := h.attach(t, ownerClaims())

	claimLease(t, h, owner)

	msg := nextFrame(t, viewer)
	update, ok := msg.(protocol.UpdateChannel)
	if !ok {
		t.Fatalf("viewer expected update-channel, got %T", msg)
	}
	if update.Channel.Status != models.StatusOnline {
		t.Fatalf("expected online, got %s", update.Channel.Status)
	}
	if update.Channel.Owner == nil || update.Channel.Owner.Login != "Streamer" {
		t.Fatalf("broadcast must carry the holder's profile: %+v", update.Channel.Owner)
	}
	if got := h.state(t).HolderLogin; got != "Streamer" {
		t.Fatalf("holder login = %q", got)
	}
}

func TestClaimDeniedForNonOwner(t *testing.T) {
	h := newHarness(t, nil)
	anon, _ := h.attach(t, nil)
	stranger, _ := h.attach(t, viewerClaims("somebody"))

	h.send(t, anon, protocol.ClaimOwnership{})
	if denied := nextFrame(t, anon).(protocol.OwnershipDenied); denied.Reason != DeniedNotRoomOwner {
		t.Fatalf("anon denial reason = %q", denied.Reason)
	}
	h.send(t, stranger, protocol.ClaimOwnership{})
	if denied := nextFrame(t, stranger).(protocol.OwnershipDenied); denied.Reason != DeniedNotRoomOwner {
		t.Fatalf("stranger denial reason = %q", denied.Reason)
	}
	if h.state(t).Channel.Status != models.StatusOffline {
		t.Fatal("denied claims must not touch channel state")
	}
}

func TestClaimDeniedWhileHeld(t *testing.T) {
	h := newHarness(t, nil)
	first, _ := h.attach(t, ownerClaims())
	second, _ := h.attach(t, ownerClaims())

	claimLease(t, h, first)
	nextFrame(t, second) // second tab sees the channel broadcast

	h.send(t, second, protocol.ClaimOwnership{})
	denied, ok := nextFrame(t, second).(protocol.OwnershipDenied)
	if !ok || denied.Reason != "Streamer" {
		t.Fatalf("expected denial naming the holder, got %+v", denied)
	}
	if h.recorder.LeaseEventCount("denied") != 1 {
		t.Fatal("denied claim must be counted once")
	}
}

func TestLeaseRevokedOnDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	viewer, _ := h.attach(t, nil)
	owner, _ := h.attach(t, ownerClaims())
	claimLease(t, h, owner)
	nextFrame(t, viewer) // online broadcast

	h.authority.Leave(owner)

	update, ok := nextFrame(t, viewer).(protocol.UpdateChannel)
	if !ok || update.Channel.Status != models.StatusOffline {
		t.Fatalf("expected offline broadcast after disconnect, got %+v", update)
	}
	if update.Channel.Owner != nil {
		t.Fatal("offline state must not name an owner")
	}
	if h.recorder.LeaseEventCount("revoked") != 1 {
		t.Fatal("implicit revoke must be counted")
	}
}

func TestReleaseSharesRevokePath(t *testing.T) {
	h := newHarness(t, nil)
	viewer, _ := h.attach(t, nil)
	owner, _ := h.attach(t, ownerClaims())
	claimLease(t, h, owner)
	nextFrame(t, viewer)

	h.send(t, owner, protocol.ReleaseOwnership{})

	for _, c := range []*Conn{owner, viewer} {
		update, ok := nextFrame(t, c).(protocol.UpdateChannel)
		if !ok || update.Channel.Status != models.StatusOffline {
			t.Fatalf("expected offline broadcast, got %+v", update)
		}
	}
	if h.recorder.LeaseEventCount("released") != 1 {
		t.Fatal("explicit release must be counted")
	}
	// The lease is claimable again.
	claimLease(t, h, owner)
}

func TestMutationFromNonHolderDropped(t *testing.T) {
	h := newHarness(t, nil)
	viewer, _ := h.attach(t, viewerClaims("somebody"))
	other, _ := h.attach(t, nil)

	h.send(t, viewer, protocol.AddRequest{Request: models.Request{ID: 1, Donor: "x"}})

	expectSilence(t, other)
	expectSilence(t, viewer)
	if got := h.state(t).Requests; len(got) != 0 {
		t.Fatalf("ledger must be untouched, got %+v", got)
	}
	if _, ok, _ := h.store.Get(context.Background(), testRoom, storage.KindRequests); ok {
		t.Fatal("nothing may be persisted for a rejected mutation")
	}
}

func TestMutationRelaysVerbatimExcludingSender(t *testing.T) {
	h := newHarness(t, nil)
	v1, _ := h.attach(t, nil)
	v2, _ := h.attach(t, nil)
	owner, _ := h.attach(t, ownerClaims())
	claimLease(t, h, owner)
	nextFrame(t, v1)
	nextFrame(t, v2)

	raw, err := protocol.Encode(protocol.AddRequest{Request: models.Request{ID: 42, Donor: "alice", Message: "nurse", Source: models.SourceDonation}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	h.authority.Deliver(owner, raw, msg)

	for _, viewer := range []*Conn{v1, v2} {
		got := nextRaw(t, viewer)
		if string(got) != string(raw) {
			t.Fatalf("relay must carry the writer's frame verbatim:\nwant %s\ngot  %s", raw, got)
		}
	}
	expectSilence(t, owner)

	if got := h.state(t).Requests; len(got) != 1 || got[0].ID != 42 {
		t.Fatalf("ledger = %+v", got)
	}
	waitForBlob(t, h.store, storage.KindRequests)
}

func TestDuplicateAddProducesNoRelay(t *testing.T) {
	h := newHarness(t, nil)
	viewer, _ := h.attach(t, nil)
	owner, _ := h.attach(t, ownerClaims())
	claimLease(t, h, owner)
	nextFrame(t, viewer)

	entry := protocol.AddRequest{Request: models.Request{ID: 7, Donor: "alice"}}
	h.send(t, owner, entry)
	nextRaw(t, viewer)

	h.send(t, owner, entry)
	expectSilence(t, viewer)
	if got := h.state(t).Requests; len(got) != 1 {
		t.Fatalf("duplicate insert grew the ledger: %+v", got)
	}
}

func TestReorderOverWire(t *testing.T) {
	h := newHarness(t, func(store *storage.MemoryStore) {
		requests, _ := json.Marshal(ledgerFixture(1, 2, 3))
		store.Seed(testRoom, storage.KindRequests, requests)
	})
	owner, _ := h.attach(t, ownerClaims())
	claimLease(t, h, owner)

	h.send(t, owner, protocol.Reorder{FromID: 3, ToID: 1})

	if got := idsOf(h.state(t).Requests); !sameIDs(got, 3, 1, 2) {
		t.Fatalf("expected [3 1 2], got %v", got)
	}
}

func TestIRCStatusToggling(t *testing.T) {
	h := newHarness(t, nil)
	viewer, _ := h.attach(t, nil)
	owner, _ := h.attach(t, ownerClaims())
	claimLease(t, h, owner)
	nextFrame(t, viewer)

	h.send(t, owner, protocol.IRCStatus{Connected: true})
	update := nextFrame(t, viewer).(protocol.UpdateChannel)
	if update.Channel.Status != models.StatusLive {
		t.Fatalf("expected live, got %s", update.Channel.Status)
	}

	// Repeating the same status is not rebroadcast.
	h.send(t, owner, protocol.IRCStatus{Connected: true})
	expectSilence(t, viewer)

	h.send(t, owner, protocol.IRCStatus{Connected: false})
	update = nextFrame(t, viewer).(protocol.UpdateChannel)
	if update.Channel.Status != models.StatusOnline {
		t.Fatalf("expected online, got %s", update.Channel.Status)
	}
}

func TestIRCStatusIgnoredFromNonHolder(t *testing.T) {
	h := newHarness(t, nil)
	viewer, _ := h.attach(t, nil)
	stranger, _ := h.attach(t, viewerClaims("somebody"))

	h.send(t, stranger, protocol.IRCStatus{Connected: true})
	expectSilence(t, viewer)
	if h.state(t).Channel.Status != models.StatusOffline {
		t.Fatal("channel status must not move without a lease holder")
	}
}

func TestUpdateSourcesPersistsAndRelays(t *testing.T) {
	h := newHarness(t, nil)
	viewer, _ := h.attach(t, nil)
	owner, _ := h.attach(t, ownerClaims())
	claimLease(t, h, owner)
	nextFrame(t, viewer)

	sources := models.DefaultSources()
	sources.MinDonation = 5
	sources.ChatCommand = "!queue"
	h.send(t, owner, protocol.UpdateSources{Sources: sources})

	relayed := nextFrame(t, viewer).(protocol.UpdateSources)
	if relayed.Sources.ChatCommand != "!queue" {
		t.Fatalf("relayed sources = %+v", relayed.Sources)
	}
	blob := waitForBlob(t, h.store, storage.KindSources)
	stored, err := models.MergeSources(blob)
	if err != nil {
		t.Fatalf("merge stored blob: %v", err)
	}
	if stored.MinDonation != 5 {
		t.Fatalf("stored sources = %+v", stored)
	}
}

func waitForBlob(t *testing.T, store *storage.MemoryStore, kind storage.Kind) []byte {
	t.Helper()
	return waitForRoomBlob(t, store, testRoom, kind)
}

func waitForRoomBlob(t *testing.T, store *storage.MemoryStore, roomKey string, kind storage.Kind) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if blob, ok, _ := store.Get(context.Background(), roomKey, kind); ok {
			return blob
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %s blob persisted", kind)
	return nil
}

func contextWithTestTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
