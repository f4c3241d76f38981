package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Client -> Server message types
const (
	MsgCreateLobby    = "createLobby"
	MsgJoinLobby      = "joinLobby"
	MsgLeaveLobby     = "leaveLobby"
	MsgListLobbies    = "listLobbies"
	MsgUpdateSettings = "updateLobbySettings"
	MsgChangeTeam     = "changeTeam"
	MsgPlayerReady    = "playerReady"
	MsgUpdatePosition = "updatePosition"
	MsgRescuePlayer   = "rescuePlayer"
	MsgCollectPowerup = "collectPowerup"
	MsgChat           = "chatMessage"
	MsgRegister       = "register"
	MsgLogin          = "login"
	MsgAuth           = "auth"
	MsgProfile        = "profile"
)

// Server -> Client message types
const (
	MsgLobbyCreated         = "lobbyCreated"
	MsgLobbyJoined          = "lobbyJoined"
	MsgLobbyLeft            = "lobbyLeft"
	MsgLobbyList            = "lobbyList"
	MsgLobbySettingsChanged = "lobbySettingsChanged"
	MsgHostChanged          = "hostChanged"
	MsgPlayerJoined         = "playerJoined"
	MsgPlayerLeft           = "playerLeft"
	MsgRoomState            = "roomStateUpdate"
	MsgGameStarted          = "gameStarted"
	MsgGameOver             = "gameOver"
	MsgPlayerTagged         = "playerTagged"
	MsgPlayerRescued        = "playerRescued"
	MsgPlayerStateChanged   = "playerStateChanged"
	MsgScoreUpdate          = "scoreUpdate"
	MsgPowerupSpawned       = "powerupSpawned"
	MsgPowerupCollected     = "powerupCollected"
	MsgServerError          = "serverError"
	MsgAuthOK               = "authOk"
	MsgProfileData          = "profileData"
	MsgAchievement          = "achievementUnlocked"
	// MsgChat is shared by both directions
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// Command is a decoded inbound message. The set of implementations is closed:
// every kind is registered in commandDecoders.
type Command interface {
	Kind() string
}

// SettingsInput carries host-chosen room settings; zero values mean "keep"
type SettingsInput struct {
	Map          string `json:"map,omitempty"`
	WinningScore int    `json:"winningScore,omitempty"`
	GameMode     string `json:"gameMode,omitempty"`
}

type CreateLobbyCmd struct {
	Username string        `json:"username"`
	Settings SettingsInput `json:"settings"`
}

type JoinLobbyCmd struct {
	Username string `json:"username"`
	LobbyID  string `json:"lobbyId"`
}

type LeaveLobbyCmd struct{}

type ListLobbiesCmd struct{}

type UpdateSettingsCmd struct {
	Settings SettingsInput `json:"settings"`
}

type ChangeTeamCmd struct{}

type PlayerReadyCmd struct{}

// UpdatePositionCmd is sent by the client at its frame rate
type UpdatePositionCmd struct {
	X         float64
	Y         float64
	Direction string
}

type RescueCmd struct {
	TargetID string `json:"targetId"`
}

type CollectPowerupCmd struct {
	PowerupID   string `json:"powerupId"`
	PowerupType string `json:"powerupType"`
}

type ChatCmd struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type RegisterCmd struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginCmd struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthCmd struct {
	Token string `json:"token"`
}

type ProfileCmd struct{}

func (CreateLobbyCmd) Kind() string    { return MsgCreateLobby }
func (JoinLobbyCmd) Kind() string      { return MsgJoinLobby }
func (LeaveLobbyCmd) Kind() string     { return MsgLeaveLobby }
func (ListLobbiesCmd) Kind() string    { return MsgListLobbies }
func (UpdateSettingsCmd) Kind() string { return MsgUpdateSettings }
func (ChangeTeamCmd) Kind() string     { return MsgChangeTeam }
func (PlayerReadyCmd) Kind() string    { return MsgPlayerReady }
func (UpdatePositionCmd) Kind() string { return MsgUpdatePosition }
func (RescueCmd) Kind() string         { return MsgRescuePlayer }
func (CollectPowerupCmd) Kind() string { return MsgCollectPowerup }
func (ChatCmd) Kind() string           { return MsgChat }
func (RegisterCmd) Kind() string       { return MsgRegister }
func (LoginCmd) Kind() string          { return MsgLogin }
func (AuthCmd) Kind() string           { return MsgAuth }
func (ProfileCmd) Kind() string        { return MsgProfile }

type commandDecoder func(json.RawMessage) (Command, error)

var commandDecoders = map[string]commandDecoder{
	MsgCreateLobby:    decodeAs[CreateLobbyCmd](nil),
	MsgJoinLobby:      decodeAs[JoinLobbyCmd](nil),
	MsgLeaveLobby:     decodeAs[LeaveLobbyCmd](nil),
	MsgListLobbies:    decodeAs[ListLobbiesCmd](nil),
	MsgUpdateSettings: decodeAs[UpdateSettingsCmd](nil),
	MsgChangeTeam:     decodeAs[ChangeTeamCmd](nil),
	MsgPlayerReady:    decodeAs[PlayerReadyCmd](nil),
	MsgUpdatePosition: decodePosition,
	MsgRescuePlayer: decodeAs(func(c *RescueCmd) error {
		if c.TargetID == "" {
			return fmt.Errorf("missing targetId")
		}
		return nil
	}),
	MsgCollectPowerup: decodeAs(func(c *CollectPowerupCmd) error {
		if c.PowerupID == "" {
			return fmt.Errorf("missing powerupId")
		}
		return nil
	}),
	MsgChat:     decodeAs[ChatCmd](nil),
	MsgRegister: decodeAs[RegisterCmd](nil),
	MsgLogin:    decodeAs[LoginCmd](nil),
	MsgAuth:     decodeAs[AuthCmd](nil),
	MsgProfile:  decodeAs[ProfileCmd](nil),
}

// DecodeCommand parses one inbound frame into a typed command
func DecodeCommand(raw []byte) (Command, error) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	dec, ok := commandDecoders[env.T]
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", env.T)
	}
	cmd, err := dec(env.D)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.T, err)
	}
	return cmd, nil
}

func decodeAs[T Command](validate func(*T) error) commandDecoder {
	return func(raw json.RawMessage) (Command, error) {
		var v T
		if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
		}
		if validate != nil {
			if err := validate(&v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
}

func decodePosition(raw json.RawMessage) (Command, error) {
	var p struct {
		X         *float64 `json:"x"`
		Y         *float64 `json:"y"`
		Direction string   `json:"direction"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.X == nil || p.Y == nil {
		return nil, fmt.Errorf("missing coordinates")
	}
	if math.IsNaN(*p.X) || math.IsNaN(*p.Y) || math.IsInf(*p.X, 0) || math.IsInf(*p.Y, 0) {
		return nil, fmt.Errorf("non-finite coordinates")
	}
	return UpdatePositionCmd{X: *p.X, Y: *p.Y, Direction: p.Direction}, nil
}

// TeamScores is the per-team tally
type TeamScores struct {
	Red  int `json:"red"`
	Blue int `json:"blue"`
}

// Get returns the tally of a team
func (s TeamScores) Get(t Team) int {
	if t == TeamBlue {
		return s.Blue
	}
	return s.Red
}

// Add increments the tally of a team and returns the new value
func (s *TeamScores) Add(t Team) int {
	if t == TeamBlue {
		s.Blue++
		return s.Blue
	}
	s.Red++
	return s.Red
}

// PlayerState is the public view of a player
type PlayerState struct {
	ID              string        `json:"id"`
	Username        string        `json:"username"`
	Team            Team          `json:"team"`
	X               float64       `json:"x"`
	Y               float64       `json:"y"`
	Direction       Direction     `json:"direction"`
	State           PlayerStatus  `json:"state"`
	Score           int           `json:"score"`
	Tags            int           `json:"tags"`
	Rescues         int           `json:"rescues"`
	SpeedMultiplier float64       `json:"speedMultiplier"`
	ActivePowerups  []PowerupKind `json:"activePowerups"`
	IsReady         bool          `json:"isReady"`
	IsHost          bool          `json:"isHost"`
	FrozenUntil     int64         `json:"frozenUntil"` // unix ms, 0 unless frozen
}

// PowerupState is the public view of a world powerup
type PowerupState struct {
	ID   string      `json:"id"`
	Type PowerupKind `json:"type"`
	X    float64     `json:"x"`
	Y    float64     `json:"y"`
}

// SettingsState is the public view of room settings
type SettingsState struct {
	HostID       string `json:"hostId"`
	HostUsername string `json:"hostUsername"`
	Map          string `json:"map"`
	WinningScore int    `json:"winningScore"`
	GameMode     string `json:"gameMode"`
	CreatedAt    int64  `json:"createdAt"`
}

// LeaderboardRow is one line of the in-room leaderboard
type LeaderboardRow struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Team     Team   `json:"team"`
	Score    int    `json:"score"`
	Tags     int    `json:"tags"`
	Rescues  int    `json:"rescues"`
}

// RoomState is the full snapshot clients reconcile against
type RoomState struct {
	ID            string           `json:"id"`
	Settings      SettingsState    `json:"settings"`
	GameState     RoomPhase        `json:"gameState"`
	TeamScores    TeamScores       `json:"teamScores"`
	Players       []PlayerState    `json:"players"`
	Powerups      []PowerupState   `json:"powerups"`
	TimeRemaining int64            `json:"timeRemaining"` // ms
	Leaderboard   []LeaderboardRow `json:"leaderboard"`
}

// LobbyEnteredMsg answers createLobby and joinLobby
type LobbyEnteredMsg struct {
	LobbyID   string    `json:"lobbyId"`
	PlayerID  string    `json:"playerId"`
	RoomState RoomState `json:"roomState"`
}

type LobbyLeftMsg struct {
	LobbyID string `json:"lobbyId"`
}

// LobbyInfo is used in the lobby browser list
type LobbyInfo struct {
	ID           string `json:"id"`
	PlayerCount  int    `json:"playerCount"`
	MaxPlayers   int    `json:"maxPlayers"`
	Map          string `json:"map"`
	GameMode     string `json:"gameMode"`
	HostUsername string `json:"hostUsername"`
}

type HostChangedMsg struct {
	NewHostID       string `json:"newHostId"`
	NewHostUsername string `json:"newHostUsername"`
}

// MembershipMsg is broadcast on playerJoined and playerLeft
type MembershipMsg struct {
	Username    string `json:"username"`
	PlayerCount int    `json:"playerCount"`
}

// PlayerStats is the per-player row of gameOver
type PlayerStats struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Team     Team   `json:"team"`
	Score    int    `json:"score"`
	Tags     int    `json:"tags"`
	Rescues  int    `json:"rescues"`
	Captures int    `json:"captures"`
}

// GameOverMsg announces the result; Winner is empty on a tie
type GameOverMsg struct {
	Winner      Team          `json:"winner"`
	Reason      string        `json:"reason"`
	FinalScores TeamScores    `json:"finalScores"`
	PlayerStats []PlayerStats `json:"playerStats"`
}

type PlayerTaggedMsg struct {
	Tagger PlayerState `json:"tagger"`
	Tagged PlayerState `json:"tagged"`
}

type PlayerRescuedMsg struct {
	Rescuer PlayerState `json:"rescuer"`
	Rescued PlayerState `json:"rescued"`
}

type PlayerStateChangedMsg struct {
	PlayerID string       `json:"playerId"`
	State    PlayerStatus `json:"state"`
}

type ScoreUpdateMsg struct {
	Scorer     PlayerState `json:"scorer"`
	TeamScores TeamScores  `json:"teamScores"`
}

type PowerupCollectedMsg struct {
	PlayerID  string      `json:"playerId"`
	PowerupID string      `json:"powerupId"`
	Type      PowerupKind `json:"type"`
}

// ChatMessage is both stored in history and broadcast
type ChatMessage struct {
	Username  string `json:"username"`
	Team      Team   `json:"team"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ServerErrorMsg sends a structured error to one client
type ServerErrorMsg struct {
	Message string    `json:"message"`
	Code    ErrorCode `json:"code"`
}

type AuthOKMsg struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	PlayerID int64  `json:"playerId"`
}

type ProfileDataMsg struct {
	Username     string        `json:"username"`
	Games        int           `json:"games"`
	Wins         int           `json:"wins"`
	Losses       int           `json:"losses"`
	Score        int           `json:"score"`
	Tags         int           `json:"tags"`
	Rescues      int           `json:"rescues"`
	Captures     int           `json:"captures"`
	Playtime     float64       `json:"playtime"`
	Achievements []string      `json:"achievements"`
	Recent       []RecentMatch `json:"recent"`
}

// RecentMatch is one line of the profile match history
type RecentMatch struct {
	MatchID int64  `json:"matchId"`
	Map     string `json:"map"`
	Team    Team   `json:"team"`
	Winner  Team   `json:"winner"`
	Score   int    `json:"score"`
	Tags    int    `json:"tags"`
	Rescues int    `json:"rescues"`
	Won     bool   `json:"won"`
}

type AchievementMsg struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
