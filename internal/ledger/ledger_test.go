package ledger

import (
	"encoding/json"
	"testing"

	"fila-live/internal/models"
	"fila-live/internal/protocol"
)

func fixture(ids ...int64) []models.Request {
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

func TestAddIdempotent(t *testing.T) {
	requests := fixture(1, 2)
	requests, changed := Add(requests, models.Request{ID: 3})
	if !changed || len(requests) != 3 {
		t.Fatalf("expected insert, got changed=%v len=%d", changed, len(requests))
	}
	requests, changed = Add(requests, models.Request{ID: 3, Donor: "other"})
	if changed {
		t.Fatal("duplicate id must be a no-op")
	}
	if len(requests) != 3 || requests[2].Donor != "" {
		t.Fatal("duplicate insert must not overwrite the existing entry")
	}
}

func TestUpdateMergesPartialFields(t *testing.T) {
	requests := []models.Request{{ID: 7, Donor: "alice", Message: "old", Done: false}}
	requests, changed := Update(requests, 7, json.RawMessage(`{"message":"new","done":true}`))
	if !changed {
		t.Fatal("expected update to apply")
	}
	got := requests[0]
	if got.Message != "new" || !got.Done {
		t.Fatalf("fields not merged: %+v", got)
	}
	if got.Donor != "alice" {
		t.Fatal("untouched fields must survive the merge")
	}
}

func TestUpdateCannotMoveID(t *testing.T) {
	requests := []models.Request{{ID: 7, Donor: "alice"}}
	requests, changed := Update(requests, 7, json.RawMessage(`{"id":99}`))
	if !changed || requests[0].ID != 7 {
		t.Fatalf("id must stay stable, got %d", requests[0].ID)
	}
}

func TestUpdateUnknownID(t *testing.T) {
	if _, changed := Update(fixture(1), 42, json.RawMessage(`{"done":true}`)); changed {
		t.Fatal("updating a missing entry must be a no-op")
	}
}

func TestUpdateMalformedPayload(t *testing.T) {
	requests := fixture(1)
	requests, changed := Update(requests, 1, json.RawMessage(`{"done":`))
	if changed || requests[0].Done {
		t.Fatal("malformed updates must leave the entry untouched")
	}
}

func TestToggleDone(t *testing.T) {
	requests := fixture(5)
	requests, changed := ToggleDone(requests, 5)
	if !changed || !requests[0].Done {
		t.Fatal("first toggle should mark done")
	}
	requests, changed = ToggleDone(requests, 5)
	if !changed || requests[0].Done {
		t.Fatal("second toggle should clear done")
	}
	if _, changed = ToggleDone(requests, 99); changed {
		t.Fatal("toggling a missing entry must be a no-op")
	}
}

func TestDelete(t *testing.T) {
	requests := fixture(1, 2, 3)
	requests, changed := Delete(requests, 2)
	if !changed || !sameIDs(idsOf(requests), 1, 3) {
		t.Fatalf("unexpected list after delete: %v", idsOf(requests))
	}
	if _, changed = Delete(requests, 2); changed {
		t.Fatal("deleting a missing entry must be a no-op")
	}
}

func TestReorderSpliceMove(t *testing.T) {
	requests := fixture(1, 2, 3)
	requests, changed := Reorder(requests, 3, 1)
	if !changed || !sameIDs(idsOf(requests), 3, 1, 2) {
		t.Fatalf("expected [3 1 2], got %v", idsOf(requests))
	}
}

func TestReorderForward(t *testing.T) {
	requests := fixture(1, 2, 3, 4)
	requests, _ = Reorder(requests, 1, 3)
	if !sameIDs(idsOf(requests), 2, 1, 3, 4) {
		t.Fatalf("expected [2 1 3 4], got %v", idsOf(requests))
	}
}

func TestReorderMissingEndpoints(t *testing.T) {
	requests := fixture(1, 2, 3)
	if _, changed := Reorder(requests, 99, 1); changed {
		t.Fatal("missing source must be a no-op")
	}
	requests, changed := Reorder(requests, 2, 99)
	if changed {
		t.Fatal("missing target must be a no-op")
	}
	if !sameIDs(idsOf(requests), 1, 2, 3) {
		t.Fatalf("list must be restored after failed reorder, got %v", idsOf(requests))
	}
	if _, changed := Reorder(requests, 2, 2); changed {
		t.Fatal("self reorder must be a no-op")
	}
}

func TestSetAllClones(t *testing.T) {
	source := fixture(9, 8)
	requests, changed := SetAll(fixture(1), source)
	if !changed || !sameIDs(idsOf(requests), 9, 8) {
		t.Fatalf("unexpected list: %v", idsOf(requests))
	}
	source[0].Donor = "mutated"
	if requests[0].Donor == "mutated" {
		t.Fatal("set-all must copy entries, not alias the input slice")
	}
}

func TestApplyDispatch(t *testing.T) {
	requests := fixture(1, 2)
	requests, changed := Apply(requests, protocol.AddRequest{Request: models.Request{ID: 3}})
	if !changed || !sameIDs(idsOf(requests), 1, 2, 3) {
		t.Fatalf("apply add: %v", idsOf(requests))
	}
	requests, changed = Apply(requests, protocol.DeleteRequest{ID: 1})
	if !changed || !sameIDs(idsOf(requests), 2, 3) {
		t.Fatalf("apply delete: %v", idsOf(requests))
	}
	if _, changed = Apply(requests, protocol.ClaimOwnership{}); changed {
		t.Fatal("non-mutation messages must not change the list")
	}
}
