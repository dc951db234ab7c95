package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"fila-live/internal/models"
)

func TestDecodeRoundTrip(t *testing.T) {
	original := AddRequest{Request: models.Request{
		ID:     42,
		Donor:  "viewer",
		Source: models.SourceChat,
		Type:   models.CharacterUnknown,
	}}
	data, err := Encode(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	add, ok := decoded.(AddRequest)
	if !ok {
		t.Fatalf("expected AddRequest, got %T", decoded)
	}
	if add.Request.ID != 42 || add.Request.Donor != "viewer" {
		t.Fatalf("unexpected payload: %+v", add.Request)
	}
}

func TestDecodeCarriesDiscriminator(t *testing.T) {
	data, err := Encode(OwnershipDenied{Reason: "someone"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var env struct {
		Type   Type   `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != TypeOwnershipDenied || env.Reason != "someone" {
		t.Fatalf("unexpected frame: %+v", env)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"self-destruct"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
	if _, err := Decode([]byte(`{"type":"reorder","fromId":"nope"}`)); err == nil {
		t.Fatal("expected error for mistyped field")
	}
}

func TestIsMutation(t *testing.T) {
	mutations := []Message{
		AddRequest{}, UpdateRequest{}, ToggleDone{}, Reorder{},
		DeleteRequest{}, SetAll{}, UpdateSources{},
	}
	for _, m := range mutations {
		if !IsMutation(m) {
			t.Fatalf("%s should be a mutation", m.MessageType())
		}
	}
	controls := []Message{ClaimOwnership{}, ReleaseOwnership{}, IRCStatus{}, SyncFull{}}
	for _, m := range controls {
		if IsMutation(m) {
			t.Fatalf("%s should not be a mutation", m.MessageType())
		}
	}
}
