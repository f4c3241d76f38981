package main

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// RoomPhase is the lifecycle state of a room
type RoomPhase string

const (
	PhaseLobby   RoomPhase = "lobby"
	PhasePlaying RoomPhase = "playing"
	PhaseEnded   RoomPhase = "ended"
)

// Game modes are cosmetic for the server; clients render night with limited vision
const (
	GameModeDay   = "day"
	GameModeNight = "night"
)

const (
	ChatGlobal = "global"
	ChatTeam   = "team"
)

// Broadcaster interface for sending messages to clients
type Broadcaster interface {
	Send(env Envelope)
}

// RoomSettings are the host-controlled parameters of a room
type RoomSettings struct {
	HostID       string
	HostUsername string
	Map          string
	WinningScore int
	GameMode     string
	CreatedAt    time.Time
}

// Room holds the state for one game session
type Room struct {
	mu         sync.Mutex
	Code       string
	cfg        GameConfig
	settings   RoomSettings
	mapCfg     *MapConfig
	phase      RoomPhase
	teamScores TeamScores
	startedAt  time.Time
	endedAt    time.Time
	players    map[string]*Player
	clients    map[string]Broadcaster // playerID -> connection
	powerups   map[string]*Powerup
	chat       []ChatMessage
	joinSeq    int
	tick       uint64
	closed     bool
	stop       chan struct{}

	now      func() time.Time
	rng      *rand.Rand
	recorder Recorder
	logger   *log.Logger
}

// RoomOption customizes a room at construction
type RoomOption func(*Room)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) RoomOption {
	return func(r *Room) { r.now = now }
}

// WithRand replaces the random source used for powerup spawning
func WithRand(rng *rand.Rand) RoomOption {
	return func(r *Room) { r.rng = rng }
}

// WithRecorder attaches the match recorder
func WithRecorder(rec Recorder) RoomOption {
	return func(r *Room) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithLogger attaches a logger
func WithLogger(l *log.Logger) RoomOption {
	return func(r *Room) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRoom creates a room in the lobby phase. Invalid settings fall back to
// the defaults.
func NewRoom(code string, cfg GameConfig, settings RoomSettings, opts ...RoomOption) *Room {
	r := &Room{
		Code:     code,
		cfg:      cfg,
		phase:    PhaseLobby,
		players:  make(map[string]*Player),
		clients:  make(map[string]Broadcaster),
		powerups: make(map[string]*Powerup),
		stop:     make(chan struct{}),
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		recorder: noopRecorder{},
		logger:   discardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if m, ok := LookupMap(settings.Map); ok {
		settings.Map = m.ID
	} else {
		settings.Map = DefaultMapID
	}
	if !cfg.ValidWinningScore(settings.WinningScore) {
		settings.WinningScore = cfg.DefaultWinningScore
	}
	if settings.GameMode != GameModeNight {
		settings.GameMode = GameModeDay
	}
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = r.now()
	}
	r.settings = settings
	r.mapCfg = ResolveMap(settings.Map)
	return r
}

// Run starts the tick loop
func (r *Room) Run() {
	ticker := time.NewTicker(r.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.safeUpdate()
		case <-r.stop:
			return
		}
	}
}

// safeUpdate keeps a panicking tick from killing the room's heartbeat
func (r *Room) safeUpdate() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tick panic recovered", "err", rec)
		}
	}()
	r.update()
}

// update runs one room tick
func (r *Room) update() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	now := r.now()
	r.tick++

	switch r.phase {
	case PhaseLobby:
		r.checkReadyToStart(now)
	case PhasePlaying:
		r.stepGame(now)
		r.broadcastState(now)
	case PhaseEnded:
		if now.Sub(r.endedAt) >= r.cfg.RematchDelay {
			r.resetToLobby(now)
		}
	}
}

// Close stops the tick loop, drops all timed effects and tells any remaining
// connections that the room is gone. Safe to call more than once.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.stop)

	for id, p := range r.players {
		p.ClearEffects(r.mapCfg)
		if c, ok := r.clients[id]; ok {
			c.Send(Envelope{T: MsgServerError, Data: toServerError(ErrLobbyClosed, CodeLobbyClosed)})
		}
	}
	r.players = make(map[string]*Player)
	r.clients = make(map[string]Broadcaster)
	r.powerups = make(map[string]*Powerup)
	r.logger.Info("room closed")
}

// Closed reports whether the room was torn down
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// AddPlayer admits a player, assigning them to the smaller team
func (r *Room) AddPlayer(p *Player, out Broadcaster) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrLobbyNotFound
	}
	if len(r.players) >= r.cfg.MaxRoomPlayers() {
		return ErrLobbyFull
	}
	if r.phase != PhaseLobby {
		return ErrGameInProgress
	}

	now := r.now()
	r.joinSeq++
	p.JoinSeq = r.joinSeq
	r.players[p.ID] = p
	r.clients[p.ID] = out
	if r.settings.HostID == "" || r.settings.HostID == p.ID {
		r.settings.HostID = p.ID
		r.settings.HostUsername = p.Username
	}

	team := TeamRed
	if r.teamCount(TeamRed) > r.teamCount(TeamBlue) {
		team = TeamBlue
	}
	p.SetTeam(team, r.mapCfg, now)

	for _, msg := range r.chat {
		if msg.Type == ChatTeam && msg.Team != p.Team {
			continue
		}
		out.Send(Envelope{T: MsgChat, Data: msg})
	}

	r.broadcastState(now)
	r.broadcast(Envelope{T: MsgPlayerJoined, Data: MembershipMsg{Username: p.Username, PlayerCount: len(r.players)}})
	r.logger.Info("player joined", "player", p.Username, "team", p.Team, "players", len(r.players))
	return nil
}

// RemovePlayer drops a player and rebalances the room. Returns the number of
// players left.
func (r *Room) RemovePlayer(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[id]
	if !ok {
		return len(r.players)
	}
	now := r.now()
	p.ClearEffects(r.mapCfg)
	// points already scored stay with the team
	delete(r.players, id)
	delete(r.clients, id)

	if id == r.settings.HostID {
		r.settings.HostID = ""
		r.settings.HostUsername = ""
		if next := r.firstPlayer(); next != nil {
			r.settings.HostID = next.ID
			r.settings.HostUsername = next.Username
			r.broadcast(Envelope{T: MsgHostChanged, Data: HostChangedMsg{
				NewHostID:       next.ID,
				NewHostUsername: next.Username,
			}})
		}
	}

	if r.phase == PhasePlaying && len(r.players) < r.cfg.MinPlayersToStart {
		r.endGame(TeamNone, "Not enough players.", now)
	}

	r.broadcastState(now)
	r.broadcast(Envelope{T: MsgPlayerLeft, Data: MembershipMsg{Username: p.Username, PlayerCount: len(r.players)}})
	r.logger.Info("player left", "player", p.Username, "players", len(r.players))
	return len(r.players)
}

// UpdateSettings applies host-chosen settings while in the lobby. Invalid
// values are ignored.
func (r *Room) UpdateSettings(playerID string, in SettingsInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if playerID != r.settings.HostID {
		return ErrNotHost
	}
	if r.phase != PhaseLobby {
		return ErrSettingsLocked
	}

	now := r.now()
	if m, ok := LookupMap(in.Map); ok && m.ID != r.settings.Map {
		r.settings.Map = m.ID
		r.mapCfg = m
		for _, p := range r.players {
			p.ResetToBase(m, now)
		}
	}
	if r.cfg.ValidWinningScore(in.WinningScore) {
		r.settings.WinningScore = in.WinningScore
	}
	switch mode := strings.ToLower(in.GameMode); mode {
	case GameModeDay, GameModeNight:
		r.settings.GameMode = mode
	}

	r.broadcast(Envelope{T: MsgLobbySettingsChanged, Data: r.settingsState()})
	r.broadcastState(now)
	return nil
}

// ChangeTeam moves a player to the other team if it has room
func (r *Room) ChangeTeam(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[playerID]
	if !ok || r.phase != PhaseLobby {
		return
	}
	now := r.now()
	p.Ready = false
	target := p.Team.Opponent()
	if r.teamCount(target) < r.cfg.MaxPlayersPerTeam {
		p.SetTeam(target, r.mapCfg, now)
	}
	r.broadcastState(now)
}

// ToggleReady flips a player's ready flag
func (r *Room) ToggleReady(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[playerID]
	if !ok || r.phase != PhaseLobby {
		return
	}
	p.Ready = !p.Ready
	r.broadcastState(r.now())
}

// HandlePosition validates and applies a movement update. Updates implying
// impossible speed or landing inside an obstacle are dropped; the last
// accepted position stays authoritative.
func (r *Room) HandlePosition(playerID string, cmd UpdatePositionCmd) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[playerID]
	if !ok || r.phase == PhaseEnded || p.IsFrozen() {
		return false
	}
	now := r.now()
	x := Clamp(cmd.X, 0, r.mapCfg.Width)
	y := Clamp(cmd.Y, 0, r.mapCfg.Height)
	if r.mapCfg.InsideObstacle(x, y) || !p.CanReach(x, y, now, r.cfg.PlayerSpeed, r.cfg.SpeedTolerance) {
		return false
	}
	dir, _ := ParseDirection(cmd.Direction)
	p.UpdatePosition(r.mapCfg, x, y, dir, now)
	return true
}

// AddChat stores a chat line and delivers it to its audience
func (r *Room) AddChat(playerID, text, scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[playerID]
	if !ok {
		return
	}
	text = strings.TrimSpace(truncateRunes(text, r.cfg.MessageMaxLength))
	if text == "" {
		return
	}
	if scope != ChatTeam {
		scope = ChatGlobal
	}
	msg := ChatMessage{
		Username:  p.Username,
		Team:      p.Team,
		Message:   text,
		Type:      scope,
		Timestamp: r.now().UnixMilli(),
	}
	r.chat = append(r.chat, msg)
	if over := len(r.chat) - r.cfg.ChatHistoryLimit; over > 0 {
		r.chat = append(r.chat[:0:0], r.chat[over:]...)
	}

	env := Envelope{T: MsgChat, Data: msg}
	if scope == ChatTeam {
		r.broadcastTeam(p.Team, env)
		return
	}
	r.broadcast(env)
}

// State returns the current snapshot
func (r *Room) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(r.now())
}

// PlayerCount returns the number of players
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Phase returns the lifecycle phase
func (r *Room) Phase() RoomPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// CreatedAt returns the creation time used for expiry
func (r *Room) CreatedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings.CreatedAt
}

// HasPlayer reports whether a player is in the room
func (r *Room) HasPlayer(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.players[id]
	return ok
}

// Info summarizes the room for the lobby browser
func (r *Room) Info() LobbyInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return LobbyInfo{
		ID:           r.Code,
		PlayerCount:  len(r.players),
		MaxPlayers:   r.cfg.MaxRoomPlayers(),
		Map:          r.settings.Map,
		GameMode:     r.settings.GameMode,
		HostUsername: r.settings.HostUsername,
	}
}

func (r *Room) checkReadyToStart(now time.Time) {
	if len(r.players) < r.cfg.MinPlayersToStart {
		return
	}
	for _, p := range r.players {
		if !p.Ready {
			return
		}
	}
	r.startGame(now)
}

func (r *Room) startGame(now time.Time) {
	r.phase = PhasePlaying
	r.startedAt = now
	r.endedAt = time.Time{}
	r.teamScores = TeamScores{}
	r.powerups = make(map[string]*Powerup)
	for _, p := range r.players {
		p.ResetToBase(r.mapCfg, now)
		p.ResetCounters()
	}
	r.broadcast(Envelope{T: MsgGameStarted, Data: r.snapshot(now)})
	r.recorder.Track(EvtMatchStart, 0, r.Code, "")
	r.logger.Info("game started", "players", len(r.players), "map", r.settings.Map)
}

func (r *Room) resetToLobby(now time.Time) {
	r.phase = PhaseLobby
	r.teamScores = TeamScores{}
	r.startedAt = time.Time{}
	r.endedAt = time.Time{}
	r.powerups = make(map[string]*Powerup)
	for _, p := range r.players {
		p.Ready = false
		p.ResetCounters()
		p.ResetToBase(r.mapCfg, now)
	}
	r.broadcastState(now)
	r.logger.Debug("room back in lobby")
}

func (r *Room) teamCount(team Team) int {
	n := 0
	for _, p := range r.players {
		if p.Team == team {
			n++
		}
	}
	return n
}

// orderedPlayers returns players in join order so tick evaluation is deterministic
func (r *Room) orderedPlayers() []*Player {
	list := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].JoinSeq < list[j].JoinSeq })
	return list
}

func (r *Room) firstPlayer() *Player {
	var first *Player
	for _, p := range r.players {
		if first == nil || p.JoinSeq < first.JoinSeq {
			first = p
		}
	}
	return first
}

func (r *Room) teamMembers(team Team) []*Player {
	var list []*Player
	for _, p := range r.orderedPlayers() {
		if p.Team == team {
			list = append(list, p)
		}
	}
	return list
}

func (r *Room) timeRemaining(now time.Time) time.Duration {
	if r.phase != PhasePlaying || r.startedAt.IsZero() {
		return r.cfg.GameDuration
	}
	left := r.cfg.GameDuration - now.Sub(r.startedAt)
	if left < 0 {
		return 0
	}
	return left
}

func (r *Room) settingsState() SettingsState {
	return SettingsState{
		HostID:       r.settings.HostID,
		HostUsername: r.settings.HostUsername,
		Map:          r.settings.Map,
		WinningScore: r.settings.WinningScore,
		GameMode:     r.settings.GameMode,
		CreatedAt:    r.settings.CreatedAt.UnixMilli(),
	}
}

// snapshot builds the broadcast view from authoritative fields only
func (r *Room) snapshot(now time.Time) RoomState {
	ordered := r.orderedPlayers()
	state := RoomState{
		ID:            r.Code,
		Settings:      r.settingsState(),
		GameState:     r.phase,
		TeamScores:    r.teamScores,
		Players:       make([]PlayerState, 0, len(ordered)),
		Powerups:      make([]PowerupState, 0, len(r.powerups)),
		TimeRemaining: r.timeRemaining(now).Milliseconds(),
		Leaderboard:   make([]LeaderboardRow, 0, len(ordered)),
	}
	for _, p := range ordered {
		state.Players = append(state.Players, p.ToState(r.settings.HostID))
		state.Leaderboard = append(state.Leaderboard, LeaderboardRow{
			ID:       p.ID,
			Username: p.Username,
			Team:     p.Team,
			Score:    p.Score,
			Tags:     p.Tags,
			Rescues:  p.Rescues,
		})
	}
	sort.SliceStable(state.Leaderboard, func(i, j int) bool {
		return state.Leaderboard[i].Score > state.Leaderboard[j].Score
	})
	for _, pu := range r.powerups {
		state.Powerups = append(state.Powerups, pu.ToState())
	}
	sort.Slice(state.Powerups, func(i, j int) bool { return state.Powerups[i].ID < state.Powerups[j].ID })
	return state
}

// broadcastState sends the current room state to all clients
func (r *Room) broadcastState(now time.Time) {
	r.broadcast(Envelope{T: MsgRoomState, Data: r.snapshot(now)})
}

// broadcast sends a message to all clients in the room
func (r *Room) broadcast(env Envelope) {
	for _, c := range r.clients {
		c.Send(env)
	}
}

func (r *Room) broadcastTeam(team Team, env Envelope) {
	for id, c := range r.clients {
		if p, ok := r.players[id]; ok && p.Team == team {
			c.Send(env)
		}
	}
}
