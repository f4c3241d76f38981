package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":3000" || cfg.DBPath != "" || cfg.SSHAddr != "" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Game.TickRate != 10 || cfg.Game.TickInterval() != 100*time.Millisecond {
		t.Errorf("unexpected tick rate %d", cfg.Game.TickRate)
	}
	if cfg.Game.MaxRoomPlayers() != 6 {
		t.Errorf("expected 6 players per room, got %d", cfg.Game.MaxRoomPlayers())
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("expected no origins, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfigEnvAndFlags(t *testing.T) {
	t.Setenv("AGAWAN_ADDR", ":4000")
	t.Setenv("AGAWAN_TICK_HZ", "20")
	t.Setenv("AGAWAN_LOBBY_TIMEOUT", "30m")
	t.Setenv("AGAWAN_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := LoadConfig([]string{"-tick-hz", "30", "-max-lobbies", "5"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":4000" {
		t.Errorf("env should set addr, got %s", cfg.Addr)
	}
	if cfg.Game.TickRate != 30 {
		t.Errorf("flags should beat env, got %d", cfg.Game.TickRate)
	}
	if cfg.Lobby.MaxLobbies != 5 || cfg.Lobby.LobbyTimeout != 30*time.Minute {
		t.Errorf("unexpected lobby config %+v", cfg.Lobby)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfigMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("AGAWAN_TICK_HZ", "fast")
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Game.TickRate != 10 {
		t.Errorf("expected default tick rate, got %d", cfg.Game.TickRate)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	bad := [][]string{
		{"-tick-hz", "0"},
		{"-tick-hz", "500"},
		{"-min-players", "0"},
		{"-min-players", "7"},
		{"-max-lobbies", "0"},
		{"-no-such-flag"},
	}
	for _, args := range bad {
		if _, err := LoadConfig(args); err == nil {
			t.Errorf("LoadConfig(%v) should fail", args)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("a missing .env is not an error: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	os.WriteFile(path, []byte("AGAWAN_TEST_DOTENV=loaded\n"), 0o644)
	t.Setenv("AGAWAN_TEST_DOTENV", "")
	os.Unsetenv("AGAWAN_TEST_DOTENV")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := GetEnv("AGAWAN_TEST_DOTENV", "unset"); got != "loaded" {
		t.Errorf("expected loaded, got %q", got)
	}
}

func TestValidWinningScore(t *testing.T) {
	cfg := DefaultGameConfig()
	for _, s := range []int{3, 5, 7, 10} {
		if !cfg.ValidWinningScore(s) {
			t.Errorf("%d should be valid", s)
		}
	}
	for _, s := range []int{0, 4, 11} {
		if cfg.ValidWinningScore(s) {
			t.Errorf("%d should be invalid", s)
		}
	}
}
