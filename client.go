package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50

	profileHistoryLimit = 10
)

// Codecs a client may negotiate with ?codec= on the upgrade request
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	id         string // connection ID, doubles as the in-room player ID
	remoteAddr string
	codec      string
	roomCode   string
	msgCount   int
	msgResetAt time.Time
	logger     *log.Logger
	// Auth state
	authPlayerID int64  // 0 = unauthenticated/guest
	authUsername string // "" = unauthenticated
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr, codec string) *Client {
	id := NewConnID()
	if codec != CodecMsgpack {
		codec = CodecJSON
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		id:         id,
		remoteAddr: remoteAddr,
		codec:      codec,
		logger:     hub.logger.With("conn", id[:8]),
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("ws read error", "err", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			c.logger.Warn("rate limit exceeded, disconnecting", "ip", c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send implements Broadcaster. Room snapshots go out as msgpack binary
// frames when the client negotiated it; everything else is JSON.
func (c *Client) Send(env Envelope) {
	if c.codec == CodecMsgpack && env.T == MsgRoomState {
		data, err := encodeMsgpack(env)
		if err != nil {
			c.logger.Error("msgpack marshal error", "err", err)
			return
		}
		c.SendBinary(data)
		return
	}
	c.SendJSON(env)
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("marshal error", "err", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }() // send on closed channel after unregister
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message
// Prefixes with 0xFF marker byte so WritePump can distinguish from text
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF // binary marker
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

// encodeMsgpack encodes v reusing the json tags so both codecs share field names
func encodeMsgpack(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Client) sendError(err error, fallback ErrorCode) {
	c.Send(Envelope{T: MsgServerError, Data: toServerError(err, fallback)})
}

// handleMessage decodes one frame and dispatches it. A panic in a handler
// is reported to this connection only.
func (c *Client) handleMessage(raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("handler panic recovered", "err", rec)
			c.sendError(fmt.Errorf("panic: %v", rec), CodeInternal)
		}
	}()

	cmd, err := DecodeCommand(raw)
	if err != nil {
		c.logger.Debug("bad message", "err", err)
		c.sendError(err, CodeBadMessage)
		return
	}

	switch cmd := cmd.(type) {
	case CreateLobbyCmd:
		c.handleCreate(cmd)
	case JoinLobbyCmd:
		c.handleJoin(cmd)
	case LeaveLobbyCmd:
		c.handleLeave(true)
	case ListLobbiesCmd:
		c.Send(Envelope{T: MsgLobbyList, Data: c.hub.lobbies.List()})
	case UpdateSettingsCmd:
		c.handleSettings(cmd)
	case ChangeTeamCmd:
		if room := c.currentRoom(); room != nil {
			room.ChangeTeam(c.id)
		}
	case PlayerReadyCmd:
		if room := c.currentRoom(); room != nil {
			room.ToggleReady(c.id)
		}
	case UpdatePositionCmd:
		if room := c.currentRoom(); room != nil {
			room.HandlePosition(c.id, cmd)
		}
	case RescueCmd:
		if room := c.currentRoom(); room != nil {
			room.HandleRescue(c.id, cmd.TargetID)
		}
	case CollectPowerupCmd:
		if room := c.currentRoom(); room != nil {
			room.HandleCollect(c.id, cmd.PowerupID)
		}
	case ChatCmd:
		if room := c.currentRoom(); room != nil {
			room.AddChat(c.id, cmd.Message, cmd.Type)
		}
	case RegisterCmd:
		c.handleRegister(cmd)
	case LoginCmd:
		c.handleLogin(cmd)
	case AuthCmd:
		c.handleAuth(cmd)
	case ProfileCmd:
		c.handleProfile()
	}
}

// currentRoom returns the room this connection is in, or nil. A room closed
// by the sweeper is forgotten here.
func (c *Client) currentRoom() *Room {
	if c.roomCode == "" {
		return nil
	}
	room := c.hub.lobbies.Get(c.roomCode)
	if room == nil || room.Closed() || !room.HasPlayer(c.id) {
		c.roomCode = ""
		return nil
	}
	return room
}

func (c *Client) newPlayer(username string) *Player {
	cfg := c.hub.lobbies.game
	name := username
	if name == "" && c.authUsername != "" {
		name = c.authUsername
	}
	p := NewPlayer(c.id, SanitizeUsername(name, c.id, cfg.UsernameMinLength, cfg.UsernameMaxLength))
	p.AccountID = c.authPlayerID
	return p
}

func (c *Client) handleCreate(cmd CreateLobbyCmd) {
	c.handleLeave(false)

	room, err := c.hub.lobbies.Create(c.newPlayer(cmd.Username), c, cmd.Settings)
	if err != nil {
		c.logger.Warn("create lobby failed", "err", err)
		if errors.Is(err, ErrTooManyLobbies) {
			c.sendError(err, CodeTooManyLobbies)
			return
		}
		c.sendError(err, CodeCreateFailed)
		return
	}
	c.roomCode = room.Code
	c.Send(Envelope{T: MsgLobbyCreated, Data: LobbyEnteredMsg{
		LobbyID:   room.Code,
		PlayerID:  c.id,
		RoomState: room.State(),
	}})
}

func (c *Client) handleJoin(cmd JoinLobbyCmd) {
	c.handleLeave(false)

	room, err := c.hub.lobbies.Join(cmd.LobbyID, c.newPlayer(cmd.Username), c)
	if err != nil {
		c.sendError(err, CodeLobbyNotFound)
		return
	}
	c.roomCode = room.Code
	c.Send(Envelope{T: MsgLobbyJoined, Data: LobbyEnteredMsg{
		LobbyID:   room.Code,
		PlayerID:  c.id,
		RoomState: room.State(),
	}})
}

// handleLeave removes the connection from its room. Explicit leaves are
// acknowledged; implicit ones before create/join are silent.
func (c *Client) handleLeave(explicit bool) {
	if c.roomCode == "" {
		if explicit {
			c.sendError(ErrNotInLobby, CodeNotInLobby)
		}
		return
	}
	code := c.roomCode
	c.hub.lobbies.Leave(code, c.id)
	c.roomCode = ""
	if explicit {
		c.Send(Envelope{T: MsgLobbyLeft, Data: LobbyLeftMsg{LobbyID: code}})
	}
}

func (c *Client) handleSettings(cmd UpdateSettingsCmd) {
	room := c.currentRoom()
	if room == nil {
		c.sendError(ErrNotInLobby, CodeNotInLobby)
		return
	}
	if err := room.UpdateSettings(c.id, cmd.Settings); err != nil {
		c.sendError(err, CodeSettingsLocked)
	}
}

func (c *Client) handleRegister(cmd RegisterCmd) {
	if c.hub.auth == nil {
		c.sendError(errAccountsDisabled, CodeAuthFailed)
		return
	}
	id, token, err := c.hub.auth.Register(cmd.Username, cmd.Password)
	if err != nil {
		c.sendAuthError(err)
		return
	}
	c.setAuth(id, cmd.Username)
	c.Send(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:    token,
		Username: c.authUsername,
		PlayerID: id,
	}})
}

func (c *Client) handleLogin(cmd LoginCmd) {
	if c.hub.auth == nil {
		c.sendError(errAccountsDisabled, CodeAuthFailed)
		return
	}
	id, username, token, err := c.hub.auth.Login(cmd.Username, cmd.Password, c.remoteAddr)
	if err != nil {
		c.sendAuthError(err)
		return
	}
	c.setAuth(id, username)
	c.Send(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:    token,
		Username: username,
		PlayerID: id,
	}})
}

func (c *Client) handleAuth(cmd AuthCmd) {
	if c.hub.auth == nil {
		c.sendError(errAccountsDisabled, CodeAuthFailed)
		return
	}
	id, username, err := c.hub.auth.ValidateToken(cmd.Token)
	if err != nil {
		c.Send(Envelope{T: MsgServerError, Data: ServerErrorMsg{Message: "invalid token", Code: CodeAuthFailed}})
		return
	}
	c.setAuth(id, username)
	c.Send(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:    cmd.Token,
		Username: username,
		PlayerID: id,
	}})
}

// setAuth links the connection to an account. Rooms already joined keep
// the guest identity until the next join.
func (c *Client) setAuth(id int64, username string) {
	if c.authPlayerID != 0 && c.authPlayerID != id {
		c.hub.SetOffline(c.authPlayerID, c)
	}
	c.authPlayerID = id
	c.authUsername = username
	c.hub.SetOnline(id, c)
}

// sendAuthError reports validation and credential failures verbatim and
// hides internal ones
func (c *Client) sendAuthError(err error) {
	msg := err.Error()
	var wrapped interface{ Unwrap() error }
	if errors.As(err, &wrapped) {
		c.logger.Error("auth failure", "err", err)
		msg = "Authentication failed"
	}
	c.Send(Envelope{T: MsgServerError, Data: ServerErrorMsg{Message: msg, Code: CodeAuthFailed}})
}

func (c *Client) handleProfile() {
	if c.hub.db == nil || c.authPlayerID == 0 {
		c.Send(Envelope{T: MsgServerError, Data: ServerErrorMsg{Message: "not authenticated", Code: CodeAuthFailed}})
		return
	}
	stats, err := c.hub.db.GetStats(c.authPlayerID)
	if err != nil || stats == nil {
		c.Send(Envelope{T: MsgServerError, Data: ServerErrorMsg{Message: "profile not found", Code: CodeAuthFailed}})
		return
	}
	ids, err := c.hub.db.GetAchievements(c.authPlayerID)
	if err != nil {
		c.logger.Error("load achievements", "err", err)
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if def, ok := LookupAchievement(id); ok {
			names = append(names, def.Name)
		}
	}
	history, err := c.hub.db.GetMatchHistory(c.authPlayerID, profileHistoryLimit)
	if err != nil {
		c.logger.Error("load match history", "err", err)
	}
	recent := make([]RecentMatch, 0, len(history))
	for _, m := range history {
		recent = append(recent, RecentMatch{
			MatchID: m.MatchID,
			Map:     m.Map,
			Team:    Team(m.Team),
			Winner:  Team(m.Winner),
			Score:   m.Score,
			Tags:    m.Tags,
			Rescues: m.Rescues,
			Won:     m.Won,
		})
	}
	c.Send(Envelope{T: MsgProfileData, Data: ProfileDataMsg{
		Username:     c.authUsername,
		Games:        stats.Games,
		Wins:         stats.Wins,
		Losses:       stats.Losses,
		Score:        stats.Score,
		Tags:         stats.Tags,
		Rescues:      stats.Rescues,
		Captures:     stats.Captures,
		Playtime:     stats.Playtime,
		Achievements: names,
		Recent:       recent,
	}})
}
