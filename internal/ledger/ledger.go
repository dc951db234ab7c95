// Package ledger implements the ordered character-request list and its
// mutation operations. The room authority applies these to its canonical
// copy and clients apply the same functions to their mirrors, so both sides
// converge on identical state from identical operation streams.
package ledger

import (
	"encoding/json"

	"fila-live/internal/models"
	"fila-live/internal/protocol"
)

// The operations are pure splice functions over the request slice. They
// return the updated slice and whether anything changed; unchanged ledgers
// trigger neither persistence nor relay.

// Add appends an entry. Inserts with an ID already present are a no-op and
// never overwrite the existing entry.
func Add(requests []models.Request, entry models.Request) ([]models.Request, bool) {
	for _, existing := range requests {
		if existing.ID == entry.ID {
			return requests, false
		}
	}
	return append(requests, entry), true
}

// Update shallow-merges the raw partial JSON into the entry with the matching
// ID. Absent fields keep their current values.
func Update(requests []models.Request, id int64, updates json.RawMessage) ([]models.Request, bool) {
	if len(updates) == 0 {
		return requests, false
	}
	for i := range requests {
		if requests[i].ID != id {
			continue
		}
		merged := requests[i]
		if err := json.Unmarshal(updates, &merged); err != nil {
			return requests, false
		}
		// The id is the entry's identity; partial updates cannot move it.
		merged.ID = id
		requests[i] = merged
		return requests, true
	}
	return requests, false
}

// ToggleDone flips the done flag on the entry with the matching ID.
func ToggleDone(requests []models.Request, id int64) ([]models.Request, bool) {
	for i := range requests {
		if requests[i].ID == id {
			requests[i].Done = !requests[i].Done
			return requests, true
		}
	}
	return requests, false
}

// Delete removes the entry with the matching ID.
func Delete(requests []models.Request, id int64) ([]models.Request, bool) {
	for i := range requests {
		if requests[i].ID == id {
			return append(requests[:i], requests[i+1:]...), true
		}
	}
	return requests, false
}

// Reorder removes the entry identified by fromID and reinserts it at the
// position occupied by toID after the removal. A splice-move, not a swap:
// [A,B,C] with Reorder(C, A) yields [C,A,B].
func Reorder(requests []models.Request, fromID, toID int64) ([]models.Request, bool) {
	if fromID == toID {
		return requests, false
	}
	fromIdx := -1
	for i := range requests {
		if requests[i].ID == fromID {
			fromIdx = i
			break
		}
	}
	if fromIdx < 0 {
		return requests, false
	}
	moved := requests[fromIdx]
	remaining := append(requests[:fromIdx], requests[fromIdx+1:]...)
	toIdx := -1
	for i := range remaining {
		if remaining[i].ID == toID {
			toIdx = i
			break
		}
	}
	if toIdx < 0 {
		// Target vanished; restore the original order.
		restored := append(remaining[:fromIdx], append([]models.Request{moved}, remaining[fromIdx:]...)...)
		return restored, false
	}
	out := make([]models.Request, 0, len(remaining)+1)
	out = append(out, remaining[:toIdx]...)
	out = append(out, moved)
	out = append(out, remaining[toIdx:]...)
	return out, true
}

// SetAll replaces the list wholesale with a copy of entries.
func SetAll(_ []models.Request, entries []models.Request) ([]models.Request, bool) {
	return models.CloneRequests(entries), true
}

// Apply dispatches a request mutation message against the list. Messages
// that do not touch the request list leave it unchanged.
func Apply(requests []models.Request, msg protocol.Message) ([]models.Request, bool) {
	switch m := msg.(type) {
	case protocol.AddRequest:
		return Add(requests, m.Request)
	case protocol.UpdateRequest:
		return Update(requests, m.ID, m.Updates)
	case protocol.ToggleDone:
		return ToggleDone(requests, m.ID)
	case protocol.Reorder:
		return Reorder(requests, m.FromID, m.ToID)
	case protocol.DeleteRequest:
		return Delete(requests, m.ID)
	case protocol.SetAll:
		return SetAll(requests, m.Requests)
	default:
		return requests, false
	}
}
