package main

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
)

// Hub manages all connected clients and routes them to rooms
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	lobbies    *LobbyManager
	logger     *log.Logger
	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
	// Accounts and persistence; all optional
	db        *DB
	auth      *Auth
	analytics *Analytics
	// Online auth users: account ID -> *Client
	onlineMu    sync.RWMutex
	onlineUsers map[int64]*Client
}

// NewHub creates a new Hub. db, auth and analytics may be nil to run
// without accounts.
func NewHub(lobbies *LobbyManager, db *DB, auth *Auth, analytics *Analytics, logger *log.Logger) *Hub {
	if logger == nil {
		logger = discardLogger()
	}
	h := &Hub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		lobbies:     lobbies,
		logger:      logger,
		ipConns:     make(map[string]int),
		db:          db,
		auth:        auth,
		analytics:   analytics,
		onlineUsers: make(map[int64]*Client),
	}
	if analytics != nil {
		analytics.OnAchievement = h.notifyAchievement
	}
	return h
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events until ctx is cancelled
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.trackPeers(n)
			h.track(EvtSessionStart, client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.trackPeers(n)

			// Disconnect is an implicit leave
			if client.roomCode != "" {
				h.lobbies.Leave(client.roomCode, client.id)
				client.roomCode = ""
			}
			if client.authPlayerID != 0 {
				h.SetOffline(client.authPlayerID, client)
			}
			h.track(EvtSessionEnd, client)
			h.logger.Debug("client disconnected", "conn", client.id, "ip", client.remoteAddr)
		}
	}
}

func (h *Hub) trackPeers(n int) {
	if h.analytics != nil {
		h.analytics.SetConcurrentPeers(n)
		h.analytics.SetActiveRooms(h.lobbies.Stats().Rooms)
	}
}

func (h *Hub) track(evt string, c *Client) {
	if h.analytics != nil {
		h.analytics.Track(evt, c.authPlayerID, c.id, "")
	}
}

// notifyAchievement pushes an unlock to the account's live connection
func (h *Hub) notifyAchievement(accountID int64, def AchievementDef) {
	if c := h.GetOnlineClient(accountID); c != nil {
		c.Send(Envelope{T: MsgAchievement, Data: AchievementMsg{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
		}})
	}
}

// SetOnline marks an authenticated user as online
func (h *Hub) SetOnline(playerID int64, client *Client) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	h.onlineUsers[playerID] = client
}

// SetOffline removes an authenticated user from online tracking, unless a
// newer connection already took over the account
func (h *Hub) SetOffline(playerID int64, client *Client) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	if h.onlineUsers[playerID] == client {
		delete(h.onlineUsers, playerID)
	}
}

// GetOnlineClient returns the client for an online account
func (h *Hub) GetOnlineClient(playerID int64) *Client {
	h.onlineMu.RLock()
	defer h.onlineMu.RUnlock()
	return h.onlineUsers[playerID]
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}

// OnlineCount returns the number of authenticated connections
func (h *Hub) OnlineCount() int {
	h.onlineMu.RLock()
	defer h.onlineMu.RUnlock()
	return len(h.onlineUsers)
}
