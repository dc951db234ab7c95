package ledger

import (
	"encoding/binary"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"fila-live/internal/models"
)

const idBucketMask = (int64(1) << 30) - 1

// DeterministicID derives a room-unique request id from an upstream event.
// When the origin supplies a stable event identifier the id depends only on
// that identifier; otherwise it falls back to the donor and message content.
// The high bits carry a minute bucket of the event time so concurrent mirrors
// of the same event converge on one id while unrelated events that happen to
// collide on content stay distinct across time.
func DeterministicID(origin models.RequestSource, eventID, donor, message string, observedAt time.Time) int64 {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	io.WriteString(h, string(origin))
	h.Write([]byte{0})
	if eventID != "" {
		io.WriteString(h, eventID)
	} else {
		io.WriteString(h, strings.TrimSpace(donor))
		h.Write([]byte{0})
		io.WriteString(h, strings.TrimSpace(message))
	}
	sum := h.Sum(nil)

	bucket := (observedAt.UTC().Unix() / 60) & idBucketMask
	return bucket<<32 | int64(binary.BigEndian.Uint32(sum[:4]))
}
