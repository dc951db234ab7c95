package main

import (
	"strings"
	"testing"

	"fila-live/internal/identity"
)

func TestLoadCompanionConfigRequiresRoom(t *testing.T) {
	_, err := loadCompanionConfig(nil)
	if err == nil || !strings.Contains(err.Error(), "room is required") {
		t.Fatalf("expected missing room error, got %v", err)
	}
}

func TestLoadCompanionConfigWatchExcludesOwnerActions(t *testing.T) {
	_, err := loadCompanionConfig([]string{"--room", "caster", "--watch", "--bridge"})
	if err == nil || !strings.Contains(err.Error(), "--watch") {
		t.Fatalf("expected watch conflict error, got %v", err)
	}
}

func TestLoadCompanionConfigEnvFallback(t *testing.T) {
	t.Setenv("FILA_LIVE_ROOM", "caster")
	t.Setenv("FILA_LIVE_URL", "wss://rooms.example")

	cfg, err := loadCompanionConfig([]string{"--login", "caster", "--secret", "hush"})
	if err != nil {
		t.Fatalf("loadCompanionConfig: %v", err)
	}
	if cfg.Room != "caster" || cfg.URL != "wss://rooms.example" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestResolveTokenSelfSigned(t *testing.T) {
	cfg := companionConfig{Room: "caster", Secret: "hush", Login: "Caster"}

	token, err := resolveToken(cfg)
	if err != nil {
		t.Fatalf("resolveToken: %v", err)
	}
	claims, ok := identity.NewHMACVerifier("hush").Verify(token)
	if !ok {
		t.Fatal("self-signed token should verify against the same secret")
	}
	if claims.Login != "Caster" {
		t.Fatalf("unexpected login %q", claims.Login)
	}
	if claims.DisplayName != "Caster" {
		t.Fatalf("display name should default to the login, got %q", claims.DisplayName)
	}
}

func TestResolveTokenRequiresCredentialForOwners(t *testing.T) {
	if _, err := resolveToken(companionConfig{Room: "caster"}); err == nil {
		t.Fatal("expected an error when no credential is available")
	}
	if token, err := resolveToken(companionConfig{Room: "caster", Watch: true}); err != nil || token != "" {
		t.Fatalf("watch mode should allow anonymous connections, got %q, %v", token, err)
	}
}
