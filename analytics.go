package main

import (
	"database/sql"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Event types for analytics tracking
const (
	EvtMatchStart   = "match_start"
	EvtMatchEnd     = "match_end"
	EvtTag          = "tag"
	EvtRescue       = "rescue"
	EvtScore        = "score"
	EvtCapture      = "capture"
	EvtPowerup      = "powerup"
	EvtAchievement  = "achievement"
	EvtLobbyCreated = "lobby_created"
	EvtSessionStart = "session_start"
	EvtSessionEnd   = "session_end"
)

// Recorder receives gameplay events from rooms. Implementations must not
// block: rooms call it while holding their lock.
type Recorder interface {
	Track(evtType string, playerID int64, sessionID string, data string)
	RecordMatch(res MatchResult)
}

type noopRecorder struct{}

func (noopRecorder) Track(string, int64, string, string) {}
func (noopRecorder) RecordMatch(MatchResult)             {}

// MatchResult is the outcome of one finished game
type MatchResult struct {
	RoomCode  string
	Map       string
	GameMode  string
	Winner    Team // empty on a tie
	Reason    string
	RedScore  int
	BlueScore int
	StartedAt time.Time
	EndedAt   time.Time
	Players   []MatchPlayerResult
}

// Duration returns how long the match ran
func (m MatchResult) Duration() time.Duration {
	if m.StartedAt.IsZero() || m.EndedAt.Before(m.StartedAt) {
		return 0
	}
	return m.EndedAt.Sub(m.StartedAt)
}

// MatchPlayerResult is one player's line in a MatchResult
type MatchPlayerResult struct {
	AccountID int64 // 0 = guest
	Username  string
	Team      Team
	Score     int
	Tags      int
	Rescues   int
	Captures  int
	Won       bool
}

// AnalyticsEvent represents a single trackable event
type AnalyticsEvent struct {
	Type      string
	PlayerID  int64
	SessionID string
	Data      string
	Timestamp time.Time
}

// Analytics handles event tracking and match persistence with batched
// background writes
type Analytics struct {
	db      *DB
	events  chan AnalyticsEvent
	matches chan MatchResult
	stop    chan struct{}
	wg      sync.WaitGroup
	logger  *log.Logger

	// OnAchievement is called from the writer goroutine for each new unlock
	OnAchievement func(accountID int64, def AchievementDef)

	// Live metrics (atomic-safe via mutex)
	mu              sync.RWMutex
	concurrentPeers int
	activeRooms     int
	matchesSaved    int
}

// NewAnalytics creates and starts the analytics background writer
func NewAnalytics(db *DB, logger *log.Logger) *Analytics {
	if logger == nil {
		logger = discardLogger()
	}
	a := &Analytics{
		db:      db,
		events:  make(chan AnalyticsEvent, 1024),
		matches: make(chan MatchResult, 64),
		stop:    make(chan struct{}),
		logger:  logger,
	}
	a.wg.Add(1)
	go a.writer()
	return a
}

// Track enqueues an event for async persistence (non-blocking)
func (a *Analytics) Track(evtType string, playerID int64, sessionID string, data string) {
	select {
	case a.events <- AnalyticsEvent{
		Type:      evtType,
		PlayerID:  playerID,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}:
	default:
		// Channel full, drop rather than stall a room tick
	}
}

// RecordMatch enqueues a finished match for persistence (non-blocking)
func (a *Analytics) RecordMatch(res MatchResult) {
	select {
	case a.matches <- res:
	default:
		a.logger.Warn("match queue full, dropping result", "room", res.RoomCode)
	}
}

// SetConcurrentPeers updates live connection count metric
func (a *Analytics) SetConcurrentPeers(n int) {
	a.mu.Lock()
	a.concurrentPeers = n
	a.mu.Unlock()
}

// SetActiveRooms updates live room count metric
func (a *Analytics) SetActiveRooms(n int) {
	a.mu.Lock()
	a.activeRooms = n
	a.mu.Unlock()
}

// GetLiveMetrics returns (peers, rooms, matches saved since start)
func (a *Analytics) GetLiveMetrics() (int, int, int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.concurrentPeers, a.activeRooms, a.matchesSaved
}

// Stop gracefully shuts down the analytics writer
func (a *Analytics) Stop() {
	close(a.stop)
	a.wg.Wait()
}

// writer is the background goroutine that batches events and saves matches
func (a *Analytics) writer() {
	defer a.wg.Done()

	batch := make([]AnalyticsEvent, 0, 64)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt := <-a.events:
			batch = append(batch, evt)
			// Flush immediately if batch is large
			if len(batch) >= 50 {
				a.flush(batch)
				batch = batch[:0]
			}
		case res := <-a.matches:
			a.saveMatch(res)
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.stop:
			// Drain whatever is still queued; senders never block so this terminates
			for {
				select {
				case evt := <-a.events:
					batch = append(batch, evt)
					continue
				case res := <-a.matches:
					a.saveMatch(res)
					continue
				default:
				}
				break
			}
			a.flush(batch)
			return
		}
	}
}

func (a *Analytics) saveMatch(res MatchResult) {
	a.flushOne(AnalyticsEvent{
		Type:      EvtMatchEnd,
		SessionID: res.RoomCode,
		Data:      string(res.Winner),
		Timestamp: time.Now().UTC(),
	})
	if a.db == nil {
		return
	}
	id, err := a.db.SaveMatch(res)
	if err != nil {
		a.logger.Error("save match failed", "room", res.RoomCode, "err", err)
		return
	}
	a.mu.Lock()
	a.matchesSaved++
	a.mu.Unlock()
	a.logger.Debug("match saved", "id", id, "room", res.RoomCode)

	for _, p := range res.Players {
		if p.AccountID == 0 {
			continue
		}
		for _, def := range CheckAchievements(a.db, p) {
			a.flushOne(AnalyticsEvent{
				Type:      EvtAchievement,
				PlayerID:  p.AccountID,
				Data:      def.ID,
				Timestamp: time.Now().UTC(),
			})
			if a.OnAchievement != nil {
				a.OnAchievement(p.AccountID, def)
			}
		}
	}
}

func (a *Analytics) flushOne(evt AnalyticsEvent) {
	a.flush([]AnalyticsEvent{evt})
}

// flush writes a batch of events to the database
func (a *Analytics) flush(events []AnalyticsEvent) {
	if a.db == nil || len(events) == 0 {
		return
	}
	tx, err := a.db.conn.Begin()
	if err != nil {
		a.logger.Error("analytics: begin tx", "err", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO analytics_events (event_type, player_id, session_id, data, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		a.logger.Error("analytics: prepare", "err", err)
		return
	}
	defer stmt.Close()

	for _, evt := range events {
		pid := sql.NullInt64{Int64: evt.PlayerID, Valid: evt.PlayerID > 0}
		sid := sql.NullString{String: evt.SessionID, Valid: evt.SessionID != ""}
		data := sql.NullString{String: evt.Data, Valid: evt.Data != ""}
		if _, err := stmt.Exec(evt.Type, pid, sid, data, evt.Timestamp.Format(time.RFC3339)); err != nil {
			a.logger.Error("analytics: insert", "err", err)
		}
	}
	if err := tx.Commit(); err != nil {
		a.logger.Error("analytics: commit", "err", err)
	}
}

// --- Query methods for the status endpoints ---

// DAUCount returns number of distinct accounts active today
func (a *Analytics) DAUCount() (int, error) {
	if a.db == nil {
		return 0, nil
	}
	var count int
	err := a.db.conn.QueryRow(`
		SELECT COUNT(DISTINCT player_id) FROM analytics_events
		WHERE player_id IS NOT NULL AND created_at >= date('now')
	`).Scan(&count)
	return count, err
}

// EventCounts returns counts of each event type for the last N days
func (a *Analytics) EventCounts(days int) (map[string]int, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT event_type, COUNT(*) FROM analytics_events
		WHERE created_at >= date('now', '-' || ? || ' days')
		GROUP BY event_type ORDER BY COUNT(*) DESC
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var evtType string
		var count int
		if err := rows.Scan(&evtType, &count); err != nil {
			continue
		}
		result[evtType] = count
	}
	return result, rows.Err()
}
