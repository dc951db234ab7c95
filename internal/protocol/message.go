// Package protocol defines the WebSocket message vocabulary exchanged between
// room clients and the room authority. Messages form a closed tagged union:
// every frame is a JSON object carrying a "type" discriminator alongside the
// variant's fields.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"fila-live/internal/models"
)

// Type discriminates the wire message variants.
type Type string

const (
	TypeSyncFull         Type = "sync-full"
	TypeAddRequest       Type = "add-request"
	TypeUpdateRequest    Type = "update-request"
	TypeToggleDone       Type = "toggle-done"
	TypeReorder          Type = "reorder"
	TypeDeleteRequest    Type = "delete-request"
	TypeSetAll           Type = "set-all"
	TypeUpdateSources    Type = "update-sources"
	TypeClaimOwnership   Type = "claim-ownership"
	TypeReleaseOwnership Type = "release-ownership"
	TypeOwnershipGranted Type = "ownership-granted"
	TypeOwnershipDenied  Type = "ownership-denied"
	TypeIRCStatus        Type = "irc-status"
	TypeUpdateChannel    Type = "update-channel"
)

// ErrUnknownType is returned when a frame carries a discriminator outside the
// vocabulary. Callers drop such frames silently per the room contract.
var ErrUnknownType = errors.New("protocol: unknown message type")

// Message is implemented by every wire variant.
type Message interface {
	MessageType() Type
}

// SyncFull is the private snapshot pushed to a connection on join.
type SyncFull struct {
	Requests []models.Request    `json:"requests"`
	Sources  models.Sources      `json:"sources"`
	Channel  models.ChannelState `json:"channel"`
}

// AddRequest appends an entry to the ledger. Inserts with an ID already
// present are a no-op.
type AddRequest struct {
	Request models.Request `json:"request"`
}

// UpdateRequest shallow-merges partial fields into the entry with the matching
// ID. Updates keeps the writer's raw JSON so relays and the merge both see the
// exact fields the writer sent.
type UpdateRequest struct {
	ID      int64           `json:"id"`
	Updates json.RawMessage `json:"updates"`
}

// ToggleDone flips the done flag on the entry with the matching ID.
type ToggleDone struct {
	ID int64 `json:"id"`
}

// Reorder splices the entry at FromID's position out of the ledger and
// reinserts it at the position occupied by ToID after removal.
type Reorder struct {
	FromID int64 `json:"fromId"`
	ToID   int64 `json:"toId"`
}

// DeleteRequest removes the entry with the matching ID.
type DeleteRequest struct {
	ID int64 `json:"id"`
}

// SetAll replaces the ledger wholesale.
type SetAll struct {
	Requests []models.Request `json:"requests"`
}

// UpdateSources replaces the room's intake configuration.
type UpdateSources struct {
	Sources models.Sources `json:"sources"`
}

// ClaimOwnership asks the authority for the room's write lease.
type ClaimOwnership struct{}

// ReleaseOwnership gives the write lease back. Only honored from the current
// holder.
type ReleaseOwnership struct{}

// OwnershipGranted is sent to the connection that won the lease.
type OwnershipGranted struct{}

// OwnershipDenied is sent to a claimant that was refused. Reason carries
// either the literal "not-room-owner" or the current holder's login.
type OwnershipDenied struct {
	Reason string `json:"reason"`
}

// IRCStatus reports the lease holder's upstream chat bridge connectivity.
type IRCStatus struct {
	Connected bool `json:"connected"`
}

// UpdateChannel broadcasts the canonical lease/status state to every
// connection.
type UpdateChannel struct {
	Channel models.ChannelState `json:"channel"`
}

func (SyncFull) MessageType() Type         { return TypeSyncFull }
func (AddRequest) MessageType() Type       { return TypeAddRequest }
func (UpdateRequest) MessageType() Type    { return TypeUpdateRequest }
func (ToggleDone) MessageType() Type       { return TypeToggleDone }
func (Reorder) MessageType() Type          { return TypeReorder }
func (DeleteRequest) MessageType() Type    { return TypeDeleteRequest }
func (SetAll) MessageType() Type           { return TypeSetAll }
func (UpdateSources) MessageType() Type    { return TypeUpdateSources }
func (ClaimOwnership) MessageType() Type   { return TypeClaimOwnership }
func (ReleaseOwnership) MessageType() Type { return TypeReleaseOwnership }
func (OwnershipGranted) MessageType() Type { return TypeOwnershipGranted }
func (OwnershipDenied) MessageType() Type  { return TypeOwnershipDenied }
func (IRCStatus) MessageType() Type        { return TypeIRCStatus }
func (UpdateChannel) MessageType() Type    { return TypeUpdateChannel }

// IsMutation reports whether the message mutates ledger or sources state and
// therefore requires the sender to hold the room lease.
func IsMutation(m Message) bool {
	switch m.(type) {
	case AddRequest, UpdateRequest, ToggleDone, Reorder, DeleteRequest, SetAll, UpdateSources:
		return true
	default:
		return false
	}
}

type envelope struct {
	Type Type `json:"type"`
}

// Decode parses a frame into its typed variant. Frames that fail to parse or
// carry an unknown discriminator return an error; the authority drops them
// without replying.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	switch env.Type {
	case TypeSyncFull:
		return decodeAs[SyncFull](data)
	case TypeAddRequest:
		return decodeAs[AddRequest](data)
	case TypeUpdateRequest:
		return decodeAs[UpdateRequest](data)
	case TypeToggleDone:
		return decodeAs[ToggleDone](data)
	case TypeReorder:
		return decodeAs[Reorder](data)
	case TypeDeleteRequest:
		return decodeAs[DeleteRequest](data)
	case TypeSetAll:
		return decodeAs[SetAll](data)
	case TypeUpdateSources:
		return decodeAs[UpdateSources](data)
	case TypeClaimOwnership:
		return ClaimOwnership{}, nil
	case TypeReleaseOwnership:
		return ReleaseOwnership{}, nil
	case TypeOwnershipGranted:
		return OwnershipGranted{}, nil
	case TypeOwnershipDenied:
		return decodeAs[OwnershipDenied](data)
	case TypeIRCStatus:
		return decodeAs[IRCStatus](data)
	case TypeUpdateChannel:
		return decodeAs[UpdateChannel](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeAs[T Message](data []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", msg.MessageType(), err)
	}
	return msg, nil
}

// Encode serializes a variant with its type discriminator.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.MessageType(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.MessageType(), err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	tag, err := json.Marshal(m.MessageType())
	if err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}
