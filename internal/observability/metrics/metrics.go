package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests, room
// lifecycle, WebSocket connections, message throughput, lease events, and
// persistence failures. Writers coordinate through a RWMutex; the gauges use
// atomics so hot paths stay cheap.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	messageEvents   map[string]uint64
	leaseEvents     map[string]uint64
	broadcastEvents map[string]uint64
	persistFailures map[string]uint64
	roomsActivated  uint64

	activeRooms       atomic.Int64
	activeConnections atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		messageEvents:   make(map[string]uint64),
		leaseEvents:     make(map[string]uint64),
		broadcastEvents: make(map[string]uint64),
		persistFailures: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not need
// a custom instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by method,
// path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   path,
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// RoomActivated records a room actor start and bumps the active room gauge.
func (r *Recorder) RoomActivated() {
	r.mu.Lock()
	r.roomsActivated++
	r.mu.Unlock()
	r.activeRooms.Add(1)
}

// RoomStopped decrements the active room gauge.
func (r *Recorder) RoomStopped() {
	r.decrementGauge(&r.activeRooms)
}

// ConnectionOpened bumps the live WebSocket connection gauge.
func (r *Recorder) ConnectionOpened() {
	r.activeConnections.Add(1)
}

// ConnectionClosed decrements the live WebSocket connection gauge.
func (r *Recorder) ConnectionClosed() {
	r.decrementGauge(&r.activeConnections)
}

// ObserveMessage records an accepted inbound message by wire type.
func (r *Recorder) ObserveMessage(messageType string) {
	name := normalizeName(messageType)
	r.mu.Lock()
	r.messageEvents[name]++
	r.mu.Unlock()
}

// ObserveLeaseEvent records an ownership transition (granted, denied,
// released, revoked).
func (r *Recorder) ObserveLeaseEvent(event string) {
	name := normalizeName(event)
	r.mu.Lock()
	r.leaseEvents[name]++
	r.mu.Unlock()
}

// ObserveBroadcast records a fan-out by mode ("relay" excludes the sender,
// "all" includes it).
func (r *Recorder) ObserveBroadcast(mode string) {
	name := normalizeName(mode)
	r.mu.Lock()
	r.broadcastEvents[name]++
	r.mu.Unlock()
}

// ObservePersistFailure records a failed durable write by blob kind.
func (r *Recorder) ObservePersistFailure(kind string) {
	name := normalizeName(kind)
	r.mu.Lock()
	r.persistFailures[name]++
	r.mu.Unlock()
}

// ActiveRooms exposes the current number of running room actors.
func (r *Recorder) ActiveRooms() int64 {
	return r.activeRooms.Load()
}

// ActiveConnections exposes the current number of live WebSocket connections.
func (r *Recorder) ActiveConnections() int64 {
	return r.activeConnections.Load()
}

// LeaseEventCount returns the recorded count for one lease event, for tests.
func (r *Recorder) LeaseEventCount(event string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leaseEvents[normalizeName(event)]
}

// Reset clears all counters and gauges. Intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.messageEvents = make(map[string]uint64)
	r.leaseEvents = make(map[string]uint64)
	r.broadcastEvents = make(map[string]uint64)
	r.persistFailures = make(map[string]uint64)
	r.roomsActivated = 0
	r.mu.Unlock()
	r.activeRooms.Store(0)
	r.activeConnections.Store(0)
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text
// exposition data.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with stable ordering.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		requestLabels = append(requestLabels, label)
	}
	sort.Slice(requestLabels, func(i, j int) bool {
		a, b := requestLabels[i], requestLabels[j]
		if a.path != b.path {
			return a.path < b.path
		}
		if a.method != b.method {
			return a.method < b.method
		}
		return a.status < b.status
	})

	fmt.Fprintln(w, "# HELP fila_http_requests_total Total number of HTTP requests processed")
	fmt.Fprintln(w, "# TYPE fila_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "fila_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP fila_http_request_duration_seconds_sum Cumulative HTTP request duration in seconds")
	fmt.Fprintln(w, "# TYPE fila_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "fila_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP fila_rooms_activated_total Room actors started since boot")
	fmt.Fprintln(w, "# TYPE fila_rooms_activated_total counter")
	fmt.Fprintf(w, "fila_rooms_activated_total %d\n", r.roomsActivated)

	fmt.Fprintln(w, "# HELP fila_active_rooms Current number of running room actors")
	fmt.Fprintln(w, "# TYPE fila_active_rooms gauge")
	fmt.Fprintf(w, "fila_active_rooms %d\n", r.activeRooms.Load())

	fmt.Fprintln(w, "# HELP fila_active_connections Current number of live WebSocket connections")
	fmt.Fprintln(w, "# TYPE fila_active_connections gauge")
	fmt.Fprintf(w, "fila_active_connections %d\n", r.activeConnections.Load())

	writeCounterFamily(w, "fila_messages_total", "Accepted inbound messages by wire type", "type", r.messageEvents)
	writeCounterFamily(w, "fila_lease_events_total", "Ownership lease transitions by event", "event", r.leaseEvents)
	writeCounterFamily(w, "fila_broadcasts_total", "Fan-outs by distribution mode", "mode", r.broadcastEvents)
	writeCounterFamily(w, "fila_persist_failures_total", "Failed durable writes by blob kind", "kind", r.persistFailures)
}

func writeCounterFamily(w io.Writer, name, help, labelName string, values map[string]uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "%s{%s=%q} %d\n", name, labelName, key, values[key])
	}
}
