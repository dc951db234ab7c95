package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecorderCountsAndGauges(t *testing.T) {
	rec := New()
	rec.RoomActivated()
	rec.RoomActivated()
	rec.RoomStopped()
	rec.ConnectionOpened()
	rec.ObserveMessage("add-request")
	rec.ObserveMessage("add-request")
	rec.ObserveLeaseEvent("granted")
	rec.ObserveBroadcast("relay")
	rec.ObservePersistFailure("requests")

	if rec.ActiveRooms() != 1 {
		t.Fatalf("expected 1 active room, got %d", rec.ActiveRooms())
	}
	if rec.ActiveConnections() != 1 {
		t.Fatalf("expected 1 active connection, got %d", rec.ActiveConnections())
	}
	if rec.LeaseEventCount("granted") != 1 {
		t.Fatalf("expected 1 granted lease event")
	}

	var out strings.Builder
	rec.Write(&out)
	body := out.String()
	for _, line := range []string{
		"fila_rooms_activated_total 2",
		"fila_active_rooms 1",
		`fila_messages_total{type="add-request"} 2`,
		`fila_lease_events_total{event="granted"} 1`,
		`fila_broadcasts_total{mode="relay"} 1`,
		`fila_persist_failures_total{kind="requests"} 1`,
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("exposition missing %q:\n%s", line, body)
		}
	}
}

func TestGaugeNeverGoesNegative(t *testing.T) {
	rec := New()
	rec.ConnectionClosed()
	if rec.ActiveConnections() != 0 {
		t.Fatalf("gauge must not go negative, got %d", rec.ActiveConnections())
	}
}

func TestHTTPMiddlewareObservesRequests(t *testing.T) {
	rec := New()
	handler := HTTPMiddleware(rec, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Millisecond)
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var out strings.Builder
	rec.Write(&out)
	if !strings.Contains(out.String(), `fila_http_requests_total{method="GET",path="/healthz",status="418"} 1`) {
		t.Fatalf("request not observed:\n%s", out.String())
	}
}
