package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig should not fail without a config file, got: %v", err)
	}
	if cfg.Game != DefaultGame() {
		t.Errorf("Expected default game config %+v, got %+v", DefaultGame(), cfg.Game)
	}
	if cfg.Server.HTTPAddress != ":8080" {
		t.Errorf("Expected default http address :8080, got %s", cfg.Server.HTTPAddress)
	}
	if cfg.Server.Heartbeat != 20*time.Second {
		t.Errorf("Expected default heartbeat 20s, got %v", cfg.Server.Heartbeat)
	}
	if cfg.Server.MaxWaiting != 10*time.Minute {
		t.Errorf("Expected default max waiting 10m, got %v", cfg.Server.MaxWaiting)
	}
}

func TestLoadConfig_ReadsYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("game:\n  turn_length_seconds: 45\n  max_attempts_per_turn: 2\nclient:\n  player_name: Ada\nserver:\n  max_idle: 90s\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Game.TurnLengthSeconds != 45 {
		t.Errorf("Expected turn length 45, got %d", cfg.Game.TurnLengthSeconds)
	}
	if cfg.Game.MaxAttemptsPerTurn != 2 {
		t.Errorf("Expected 2 attempts, got %d", cfg.Game.MaxAttemptsPerTurn)
	}
	if cfg.Game.WildCardsPerPlayer != 1 {
		t.Errorf("Expected default wildcards 1, got %d", cfg.Game.WildCardsPerPlayer)
	}
	if cfg.Client.PlayerName != "Ada" {
		t.Errorf("Expected player name Ada, got %s", cfg.Client.PlayerName)
	}
	if cfg.Server.MaxIdle != 90*time.Second {
		t.Errorf("Expected max idle 90s, got %v", cfg.Server.MaxIdle)
	}
}

func TestLoadConfig_RejectsInvalidGame(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("game:\n  max_attempts_per_turn: 0\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadConfig(dir)
	if !errors.Is(err, ErrInvalidGameConfig) {
		t.Fatalf("Expected ErrInvalidGameConfig, got: %v", err)
	}
}
