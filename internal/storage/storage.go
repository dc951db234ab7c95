// Package storage provides the durable room store: per-room get-or-put of two
// independent blobs, the request ledger and the sources settings. The room
// authority is the only writer; drivers never merge, they overwrite.
package storage

import (
	"context"
	"errors"
)

// Kind names one of the two logical blobs persisted per room.
type Kind string

const (
	// KindRequests is the ordered request ledger blob.
	KindRequests Kind = "requests"
	// KindSources is the intake settings blob.
	KindSources Kind = "sources"
)

// ErrClosed is returned by drivers after Close.
var ErrClosed = errors.New("storage: store is closed")

// RoomStore persists room blobs. Get reports found=false for rooms that have
// never been written; Put overwrites unconditionally (last write wins).
type RoomStore interface {
	Get(ctx context.Context, roomKey string, kind Kind) (payload []byte, found bool, err error)
	Put(ctx context.Context, roomKey string, kind Kind, payload []byte) error
}
