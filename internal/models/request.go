package models

// RequestSource identifies where a queue entry originated.
type RequestSource string

const (
	// SourceDonation marks entries created from a donation alert.
	SourceDonation RequestSource = "donation"
	// SourceChat marks entries created from a chat command.
	SourceChat RequestSource = "chat"
	// SourceResub marks entries created from a resubscription message.
	SourceResub RequestSource = "resub"
	// SourceManual marks entries added by the broadcaster directly.
	SourceManual RequestSource = "manual"
)

// CharacterType classifies the identification result attached to a request.
type CharacterType string

const (
	CharacterSurvivor CharacterType = "survivor"
	CharacterKiller   CharacterType = "killer"
	CharacterUnknown  CharacterType = "unknown"
	CharacterNone     CharacterType = "none"
)

// Request is one row in a room's queue. IDs are unique within a room; inserts
// with an existing ID are a no-op so the same upstream event observed by two
// clients lands exactly once.
type Request struct {
	ID        int64         `json:"id"`
	Donor     string        `json:"donor"`
	Message   string        `json:"message"`
	Character string        `json:"character"`
	Type      CharacterType `json:"type"`
	Amount    string        `json:"amount,omitempty"`
	AmountVal float64       `json:"amountVal,omitempty"`
	Source    RequestSource `json:"source"`
	SubTier   string        `json:"subTier,omitempty"`
	Done      bool          `json:"done"`
	Timestamp int64         `json:"timestamp"`

	// Presentation hints mirrored by clients. The server relays them verbatim
	// but never interprets them.
	NeedsIdentification bool `json:"needsIdentification,omitempty"`
	Validating          bool `json:"validating,omitempty"`
	ToastShown          bool `json:"toastShown,omitempty"`
}

// CloneRequests returns a copy of the slice so callers can hand snapshots to
// other goroutines without sharing backing arrays.
func CloneRequests(requests []Request) []Request {
	if requests == nil {
		return nil
	}
	out := make([]Request, len(requests))
	copy(out, requests)
	return out
}
