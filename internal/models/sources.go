package models

import (
	"encoding/json"
	"fmt"
)

// SortMode controls how clients order the queue for display. The server treats
// it as opaque configuration.
type SortMode string

const (
	SortArrival  SortMode = "arrival"
	SortPriority SortMode = "priority"
)

// DefaultChatCommand is the chat trigger used when the broadcaster has not
// configured one.
const DefaultChatCommand = "!fila"

// Sources holds the per-room intake configuration: which origins feed the
// queue, the chat trigger, donation threshold, tier filter, and display
// ordering.
type Sources struct {
	Donation    bool     `json:"donation"`
	Chat        bool     `json:"chat"`
	Resub       bool     `json:"resub"`
	ChatCommand string   `json:"chatCommand"`
	MinDonation float64  `json:"minDonation"`
	SubTier     string   `json:"subTier"`
	Priority    []string `json:"priority"`
	SortMode    SortMode `json:"sortMode"`
}

// DefaultSources returns the documented defaults applied to rooms that have
// never persisted settings.
func DefaultSources() Sources {
	return Sources{
		Donation:    true,
		Chat:        true,
		Resub:       false,
		ChatCommand: DefaultChatCommand,
		MinDonation: 0,
		SubTier:     "all",
		Priority:    []string{string(SourceDonation), string(SourceChat), string(SourceResub), string(SourceManual)},
		SortMode:    SortArrival,
	}
}

// MergeSources decodes a persisted settings blob over the documented defaults.
// Fields absent from the blob keep their default; present fields win, including
// explicit false values. An empty blob yields the defaults unchanged.
func MergeSources(data []byte) (Sources, error) {
	merged := DefaultSources()
	if len(data) == 0 {
		return merged, nil
	}
	if err := json.Unmarshal(data, &merged); err != nil {
		return Sources{}, fmt.Errorf("decode sources settings: %w", err)
	}
	if merged.ChatCommand == "" {
		merged.ChatCommand = DefaultChatCommand
	}
	if merged.SubTier == "" {
		merged.SubTier = "all"
	}
	if merged.SortMode == "" {
		merged.SortMode = SortArrival
	}
	if len(merged.Priority) == 0 {
		merged.Priority = DefaultSources().Priority
	}
	return merged, nil
}
