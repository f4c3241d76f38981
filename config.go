package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// GameConfig holds the tunable constants of the simulation
type GameConfig struct {
	TickRate            int           // simulation ticks per second
	MinPlayersToStart   int           // ready-check threshold
	MaxPlayersPerTeam   int           // per-team cap (room cap is twice this)
	DefaultWinningScore int           // used when the host picks nothing valid
	WinningScoreOptions []int         // values accepted from the host
	GameDuration        time.Duration // time limit of one game
	PlayerSpeed         float64       // pixels/s before multipliers
	PlayerSize          float64       // collision threshold between two players
	FrozenDuration      time.Duration // auto-rescue delay
	SpeedTolerance      float64       // jitter factor for movement validation
	RescueRange         float64       // 0 disables the server-side proximity check
	PickupRange         float64       // 0 disables the server-side proximity check
	MaxPowerups         int           // concurrent world powerups
	PowerupSpawnChance  float64       // chance per tick while below the cap
	ChatHistoryLimit    int
	MessageMaxLength    int
	UsernameMinLength   int
	UsernameMaxLength   int
	RematchDelay        time.Duration // results screen before the room returns to lobby
}

// DefaultGameConfig returns the stock tuning
func DefaultGameConfig() GameConfig {
	return GameConfig{
		TickRate:            10,
		MinPlayersToStart:   2,
		MaxPlayersPerTeam:   3,
		DefaultWinningScore: 3,
		WinningScoreOptions: []int{3, 5, 7, 10},
		GameDuration:        5 * time.Minute,
		PlayerSpeed:         220,
		PlayerSize:          32,
		FrozenDuration:      5 * time.Second,
		SpeedTolerance:      1.15,
		RescueRange:         80,
		PickupRange:         48,
		MaxPowerups:         3,
		PowerupSpawnChance:  0.01,
		ChatHistoryLimit:    100,
		MessageMaxLength:    200,
		UsernameMinLength:   2,
		UsernameMaxLength:   16,
		RematchDelay:        10 * time.Second,
	}
}

// TickInterval returns the duration of one simulation tick
func (c GameConfig) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return 100 * time.Millisecond
	}
	return time.Second / time.Duration(c.TickRate)
}

// MaxRoomPlayers returns the combined capacity of both teams
func (c GameConfig) MaxRoomPlayers() int {
	return c.MaxPlayersPerTeam * 2
}

// ValidWinningScore reports whether the host may pick this score target
func (c GameConfig) ValidWinningScore(score int) bool {
	for _, s := range c.WinningScoreOptions {
		if s == score {
			return true
		}
	}
	return false
}

// LobbyConfig holds the registry limits
type LobbyConfig struct {
	CodeLength      int
	CodeAttempts    int
	MaxLobbies      int
	LobbyTimeout    time.Duration
	CleanupInterval time.Duration
}

// DefaultLobbyConfig returns the stock registry limits
func DefaultLobbyConfig() LobbyConfig {
	return LobbyConfig{
		CodeLength:      6,
		CodeAttempts:    100,
		MaxLobbies:      100,
		LobbyTimeout:    2 * time.Hour,
		CleanupInterval: time.Minute,
	}
}

// Config is the process configuration
type Config struct {
	Addr           string
	ClientDir      string
	DBPath         string
	SSHAddr        string
	SSHHostKey     string
	PublicURL      string
	LogLevel       string
	AllowedOrigins []string
	Game           GameConfig
	Lobby          LobbyConfig
}

// GetEnv returns the value of the environment variable named by the key,
// or fallback if the variable is not set.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return d
}

// LoadEnvFile loads a .env file if one exists
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadConfig builds the configuration from the environment and command line
// flags. Flags take precedence over environment variables.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{
		Game:  DefaultGameConfig(),
		Lobby: DefaultLobbyConfig(),
	}

	fset := flag.NewFlagSet("agawan", flag.ContinueOnError)
	fset.StringVar(&cfg.Addr, "addr", GetEnv("AGAWAN_ADDR", ":3000"), "HTTP listen address")
	fset.StringVar(&cfg.ClientDir, "client", GetEnv("AGAWAN_CLIENT_DIR", ""), "Path to static client directory (empty disables)")
	fset.StringVar(&cfg.DBPath, "db", GetEnv("AGAWAN_DB", ""), "SQLite path for match history (empty disables)")
	fset.StringVar(&cfg.SSHAddr, "ssh-addr", GetEnv("AGAWAN_SSH_ADDR", ""), "SSH status console address (empty disables)")
	fset.StringVar(&cfg.SSHHostKey, "ssh-host-key", GetEnv("AGAWAN_SSH_HOST_KEY", ".ssh/agawan_ed25519"), "SSH host key path")
	fset.StringVar(&cfg.PublicURL, "public-url", GetEnv("AGAWAN_PUBLIC_URL", "http://localhost:3000"), "Public URL used in lobby share links")
	fset.StringVar(&cfg.LogLevel, "log-level", GetEnv("AGAWAN_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	origins := fset.String("origins", GetEnv("AGAWAN_ORIGINS", ""), "Comma separated allowed websocket origins (empty = same host)")
	fset.IntVar(&cfg.Game.TickRate, "tick-hz", getEnvInt("AGAWAN_TICK_HZ", cfg.Game.TickRate), "Simulation ticks per second")
	fset.IntVar(&cfg.Game.MinPlayersToStart, "min-players", getEnvInt("AGAWAN_MIN_PLAYERS", cfg.Game.MinPlayersToStart), "Players required to start a game")
	fset.IntVar(&cfg.Lobby.MaxLobbies, "max-lobbies", getEnvInt("AGAWAN_MAX_LOBBIES", cfg.Lobby.MaxLobbies), "Maximum concurrent lobbies")
	fset.DurationVar(&cfg.Lobby.LobbyTimeout, "lobby-timeout", getEnvDuration("AGAWAN_LOBBY_TIMEOUT", cfg.Lobby.LobbyTimeout), "Lobby lifetime since creation")

	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	for _, o := range strings.Split(*origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	if cfg.Game.TickRate <= 0 || cfg.Game.TickRate > 120 {
		return nil, fmt.Errorf("tick-hz must be in 1..120, got %d", cfg.Game.TickRate)
	}
	if cfg.Game.MinPlayersToStart < 1 || cfg.Game.MinPlayersToStart > cfg.Game.MaxRoomPlayers() {
		return nil, fmt.Errorf("min-players must be in 1..%d, got %d", cfg.Game.MaxRoomPlayers(), cfg.Game.MinPlayersToStart)
	}
	if cfg.Lobby.MaxLobbies <= 0 {
		return nil, fmt.Errorf("max-lobbies must be positive")
	}
	return cfg, nil
}
