package main

import (
	"context"
	"crypto/rand"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// codeAlphabet leaves out characters that are easy to misread (I, O, 0, 1)
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// LobbyStats is a point-in-time summary of the registry
type LobbyStats struct {
	Rooms       int `json:"rooms"`
	ActiveGames int `json:"activeGames"`
	Players     int `json:"players"`
}

// LobbyManager is the registry of rooms keyed by join code
type LobbyManager struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	cfg      LobbyConfig
	game     GameConfig
	recorder Recorder
	logger   *log.Logger
	roomOpts []RoomOption

	now      func() time.Time
	newCode  func() string
	runRooms bool // start a tick goroutine per room
}

// NewLobbyManager creates an empty registry. Extra options are applied to
// every room it creates.
func NewLobbyManager(cfg LobbyConfig, game GameConfig, recorder Recorder, logger *log.Logger, opts ...RoomOption) *LobbyManager {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = discardLogger()
	}
	lm := &LobbyManager{
		rooms:    make(map[string]*Room),
		cfg:      cfg,
		game:     game,
		recorder: recorder,
		logger:   logger,
		roomOpts: opts,
		now:      time.Now,
		runRooms: true,
	}
	lm.newCode = func() string { return randomCode(cfg.CodeLength) }
	return lm
}

// randomCode draws n characters from codeAlphabet using crypto/rand
func randomCode(n int) string {
	var sb strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		sb.WriteByte(codeAlphabet[idx.Int64()])
	}
	return sb.String()
}

// NormalizeCode uppercases and trims a user-entered code and reports
// whether it is well-formed
func (lm *LobbyManager) NormalizeCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != lm.cfg.CodeLength {
		return code, false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(codeAlphabet, code[i]) < 0 {
			return code, false
		}
	}
	return code, true
}

// generateCode must be called with mu held
func (lm *LobbyManager) generateCode() (string, error) {
	for i := 0; i < lm.cfg.CodeAttempts; i++ {
		code := lm.newCode()
		if _, taken := lm.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// Create opens a new room with p as host
func (lm *LobbyManager) Create(p *Player, out Broadcaster, in SettingsInput) (*Room, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if len(lm.rooms) >= lm.cfg.MaxLobbies {
		return nil, ErrTooManyLobbies
	}
	code, err := lm.generateCode()
	if err != nil {
		lm.logger.Error("lobby code space exhausted", "rooms", len(lm.rooms))
		return nil, err
	}

	opts := append([]RoomOption{
		WithClock(lm.now),
		WithRecorder(lm.recorder),
		WithLogger(lm.logger.With("room", code)),
	}, lm.roomOpts...)
	room := NewRoom(code, lm.game, RoomSettings{
		HostID:       p.ID,
		HostUsername: p.Username,
		Map:          in.Map,
		WinningScore: in.WinningScore,
		GameMode:     strings.ToLower(in.GameMode),
		CreatedAt:    lm.now(),
	}, opts...)

	if err := room.AddPlayer(p, out); err != nil {
		room.Close()
		return nil, err
	}
	lm.rooms[code] = room
	if lm.runRooms {
		go room.Run()
	}
	lm.recorder.Track(EvtLobbyCreated, p.AccountID, code, room.Info().Map)
	lm.logger.Info("lobby created", "room", code, "host", p.Username, "rooms", len(lm.rooms))
	return room, nil
}

// Join adds p to the room identified by code
func (lm *LobbyManager) Join(code string, p *Player, out Broadcaster) (*Room, error) {
	code, ok := lm.NormalizeCode(code)
	if !ok {
		return nil, ErrInvalidLobbyCode
	}
	room := lm.Get(code)
	if room == nil {
		return nil, ErrLobbyNotFound
	}
	if err := room.AddPlayer(p, out); err != nil {
		return nil, err
	}
	return room, nil
}

// Get returns the room for code, or nil
func (lm *LobbyManager) Get(code string) *Room {
	code = strings.ToUpper(strings.TrimSpace(code))
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.rooms[code]
}

// Leave removes a player from a room and deletes the room once it is empty
func (lm *LobbyManager) Leave(code, playerID string) {
	room := lm.Get(code)
	if room == nil {
		return
	}
	if room.RemovePlayer(playerID) > 0 {
		return
	}

	lm.mu.Lock()
	// the room may have been refilled or replaced since RemovePlayer
	if lm.rooms[code] == room && room.PlayerCount() == 0 {
		delete(lm.rooms, code)
		lm.mu.Unlock()
		room.Close()
		lm.logger.Info("lobby removed", "room", code, "reason", "empty")
		return
	}
	lm.mu.Unlock()
}

// List returns joinable lobbies, oldest first
func (lm *LobbyManager) List() []LobbyInfo {
	lm.mu.RLock()
	rooms := make([]*Room, 0, len(lm.rooms))
	for _, r := range lm.rooms {
		rooms = append(rooms, r)
	}
	lm.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt().Before(rooms[j].CreatedAt()) })
	list := make([]LobbyInfo, 0, len(rooms))
	for _, r := range rooms {
		if r.Phase() != PhaseLobby {
			continue
		}
		info := r.Info()
		if info.PlayerCount >= info.MaxPlayers {
			continue
		}
		list = append(list, info)
	}
	return list
}

// Sweep removes empty rooms and rooms older than the lobby timeout.
// Returns the number of rooms removed.
func (lm *LobbyManager) Sweep(now time.Time) int {
	lm.mu.Lock()
	var expired []*Room
	for code, r := range lm.rooms {
		if r.PlayerCount() == 0 || now.Sub(r.CreatedAt()) > lm.cfg.LobbyTimeout {
			expired = append(expired, r)
			delete(lm.rooms, code)
		}
	}
	lm.mu.Unlock()

	for _, r := range expired {
		r.Close()
		lm.logger.Info("lobby removed", "room", r.Code, "reason", "expired")
	}
	return len(expired)
}

// Run sweeps the registry until ctx is cancelled
func (lm *LobbyManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(lm.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			lm.Sweep(lm.now())
		}
	}
}

// Shutdown closes every room
func (lm *LobbyManager) Shutdown() {
	lm.mu.Lock()
	rooms := lm.rooms
	lm.rooms = make(map[string]*Room)
	lm.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
}

// Stats summarizes the registry
func (lm *LobbyManager) Stats() LobbyStats {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	s := LobbyStats{Rooms: len(lm.rooms)}
	for _, r := range lm.rooms {
		if r.Phase() == PhasePlaying {
			s.ActiveGames++
		}
		s.Players += r.PlayerCount()
	}
	return s
}
