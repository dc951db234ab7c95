package models

import (
	"testing"
)

func TestMergeSourcesDefaults(t *testing.T) {
	merged, err := MergeSources(nil)
	if err != nil {
		t.Fatalf("merge empty blob: %v", err)
	}
	if merged.ChatCommand != DefaultChatCommand {
		t.Fatalf("expected default chat command %q, got %q", DefaultChatCommand, merged.ChatCommand)
	}
	if !merged.Donation || !merged.Chat || merged.Resub {
		t.Fatalf("unexpected origin defaults: %+v", merged)
	}
	if merged.SubTier != "all" {
		t.Fatalf("expected tier filter all, got %q", merged.SubTier)
	}
	if merged.SortMode != SortArrival {
		t.Fatalf("expected arrival sort, got %q", merged.SortMode)
	}
}

func TestMergeSourcesPartialBlob(t *testing.T) {
	merged, err := MergeSources([]byte(`{"minDonation": 5}`))
	if err != nil {
		t.Fatalf("merge partial blob: %v", err)
	}
	if merged.MinDonation != 5 {
		t.Fatalf("expected minDonation 5, got %v", merged.MinDonation)
	}
	// Unspecified fields keep the documented defaults.
	if merged.ChatCommand != DefaultChatCommand {
		t.Fatalf("expected default chat command, got %q", merged.ChatCommand)
	}
	if !merged.Donation {
		t.Fatal("expected donation origin to stay enabled")
	}
	if len(merged.Priority) == 0 {
		t.Fatal("expected default priority ordering")
	}
}

func TestMergeSourcesExplicitFalseWins(t *testing.T) {
	merged, err := MergeSources([]byte(`{"chat": false, "chatCommand": "!queue"}`))
	if err != nil {
		t.Fatalf("merge blob: %v", err)
	}
	if merged.Chat {
		t.Fatal("explicit false must override the default")
	}
	if merged.ChatCommand != "!queue" {
		t.Fatalf("expected !queue, got %q", merged.ChatCommand)
	}
}

func TestMergeSourcesRejectsMalformedBlob(t *testing.T) {
	if _, err := MergeSources([]byte(`{"chat":`)); err == nil {
		t.Fatal("expected error for malformed blob")
	}
}
