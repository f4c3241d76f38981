package main

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
)

// lobbyPathRe matches share links like /K7PQ2M so the SPA can open them
var lobbyPathRe = regexp.MustCompile(`^/[` + codeAlphabet + `]{6}$`)

func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // Non-browser clients don't send Origin
			}
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(a, origin) {
					return true
				}
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return u.Host == r.Host
		},
	}
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// StatusReport is served on /status and printed by the SSH console
type StatusReport struct {
	Uptime       string         `json:"uptime"`
	Lobbies      LobbyStats     `json:"lobbies"`
	Clients      int            `json:"clients"`
	Connections  int            `json:"connections"`
	Online       int            `json:"online"`
	MatchesSaved int            `json:"matchesSaved"`
	MatchesTotal int            `json:"matchesTotal"`
	DAU          int            `json:"dau"`
	Events       map[string]int `json:"events,omitempty"`
}

// Status collects the live server metrics
func (h *Hub) Status(started time.Time) StatusReport {
	rep := StatusReport{
		Uptime:      time.Since(started).Round(time.Second).String(),
		Lobbies:     h.lobbies.Stats(),
		Clients:     h.ClientCount(),
		Connections: h.TotalConns(),
		Online:      h.OnlineCount(),
	}
	if h.db != nil {
		if n, err := h.db.MatchCount(); err == nil {
			rep.MatchesTotal = n
		}
	}
	if h.analytics != nil {
		_, _, rep.MatchesSaved = h.analytics.GetLiveMetrics()
		if n, err := h.analytics.DAUCount(); err == nil {
			rep.DAU = n
		}
		if ev, err := h.analytics.EventCounts(1); err == nil {
			rep.Events = ev
		}
	}
	return rep
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// SetupRoutes configures HTTP routes
func SetupRoutes(hub *Hub, cfg *Config) *http.ServeMux {
	mux := http.NewServeMux()
	started := time.Now()
	upgrader := newUpgrader(cfg.AllowedOrigins)

	if cfg.ClientDir != "" {
		// Serve static files with no-cache so browsers always revalidate
		fs := http.FileServer(http.Dir(cfg.ClientDir))
		mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-cache")
			// SPA: serve index.html for root and lobby share links
			if r.URL.Path == "/" || lobbyPathRe.MatchString(r.URL.Path) {
				http.ServeFile(w, r, filepath.Join(cfg.ClientDir, "index.html"))
				return
			}
			fs.ServeHTTP(w, r)
		}))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"lobbies": hub.lobbies.Stats().Rooms,
		})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.Status(started))
	})

	mux.HandleFunc("/api/lobbies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.lobbies.List())
	})

	mux.HandleFunc("/api/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		if hub.db == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence disabled"})
			return
		}
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 || limit > 100 {
			limit = 20
		}
		rows, err := hub.db.GetLeaderboard(r.URL.Query().Get("by"), limit)
		if err != nil {
			hub.logger.Error("leaderboard query", "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		if rows == nil {
			rows = []LeaderboardEntry{}
		}
		writeJSON(w, http.StatusOK, rows)
	})

	// QR code of the lobby share link, for joining from a phone
	mux.HandleFunc("/qr/{code}", func(w http.ResponseWriter, r *http.Request) {
		code, ok := hub.lobbies.NormalizeCode(r.PathValue("code"))
		if !ok || hub.lobbies.Get(code) == nil {
			http.NotFound(w, r)
			return
		}
		png, err := qrcode.Encode(strings.TrimRight(cfg.PublicURL, "/")+"/"+code, qrcode.Medium, 256)
		if err != nil {
			hub.logger.Error("qr encode", "err", err)
			http.Error(w, "qr failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(png)
	})

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("upgrade error", "err", err)
			return
		}

		hub.TrackConnect(ip)

		client := NewClient(hub, conn, ip, r.URL.Query().Get("codec"))
		hub.register <- client

		go client.WritePump()
		go client.ReadPump()
	})

	return mux
}
