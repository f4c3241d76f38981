package main

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// PlayerRow represents an account in the database
type PlayerRow struct {
	ID        int64
	Username  string
	PassHash  string
	CreatedAt time.Time
}

// StatsRow represents lifetime account stats
type StatsRow struct {
	PlayerID int64
	Games    int
	Wins     int
	Losses   int
	Score    int
	Tags     int
	Rescues  int
	Captures int
	Playtime float64 // seconds
}

// MatchPlayerRow represents one account's line in a finished match
type MatchPlayerRow struct {
	MatchID  int64
	Map      string
	Winner   string
	Team     string
	Score    int
	Tags     int
	Rescues  int
	Captures int
	Won      bool
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS players (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE COLLATE NOCASE,
		pass_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS stats (
		player_id INTEGER PRIMARY KEY REFERENCES players(id),
		games INTEGER NOT NULL DEFAULT 0,
		wins INTEGER NOT NULL DEFAULT 0,
		losses INTEGER NOT NULL DEFAULT 0,
		score INTEGER NOT NULL DEFAULT 0,
		tags INTEGER NOT NULL DEFAULT 0,
		rescues INTEGER NOT NULL DEFAULT 0,
		captures INTEGER NOT NULL DEFAULT 0,
		playtime REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_code TEXT NOT NULL,
		map TEXT NOT NULL,
		game_mode TEXT NOT NULL,
		winner TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		red_score INTEGER NOT NULL DEFAULT 0,
		blue_score INTEGER NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS match_players (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		match_id INTEGER NOT NULL REFERENCES matches(id),
		player_id INTEGER REFERENCES players(id),
		username TEXT NOT NULL,
		team TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		tags INTEGER NOT NULL DEFAULT 0,
		rescues INTEGER NOT NULL DEFAULT 0,
		captures INTEGER NOT NULL DEFAULT 0,
		won INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS achievements (
		player_id INTEGER NOT NULL REFERENCES players(id),
		achievement_id TEXT NOT NULL,
		unlocked_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (player_id, achievement_id)
	);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		player_id INTEGER,
		session_id TEXT,
		data TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_match_players_player ON match_players(player_id);
	CREATE INDEX IF NOT EXISTS idx_analytics_created ON analytics_events(created_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// GetSetting returns a stored server setting, or "" when absent
func (db *DB) GetSetting(key string) string {
	var value string
	if err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value); err != nil {
		return ""
	}
	return value
}

// SetSetting stores a server setting
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// CreatePlayer creates a new account (returns player ID)
func (db *DB) CreatePlayer(username, passHash string) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec("INSERT INTO players (username, pass_hash) VALUES (?, ?)", username, passHash)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec("INSERT INTO stats (player_id) VALUES (?)", id); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// GetPlayerByUsername returns an account by username, or nil if unknown
func (db *DB) GetPlayerByUsername(username string) (*PlayerRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM players WHERE username = ?",
		username,
	)
	p := &PlayerRow{}
	err := row.Scan(&p.ID, &p.Username, &p.PassHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetPlayerByID returns an account by ID, or nil if unknown
func (db *DB) GetPlayerByID(id int64) (*PlayerRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM players WHERE id = ?",
		id,
	)
	p := &PlayerRow{}
	err := row.Scan(&p.ID, &p.Username, &p.PassHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// UsernameExists checks if a username is taken
func (db *DB) UsernameExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM players WHERE username = ?", username).Scan(&count)
	return count > 0, err
}

// GetStats returns lifetime stats, or nil if the account has none
func (db *DB) GetStats(playerID int64) (*StatsRow, error) {
	row := db.conn.QueryRow(
		"SELECT player_id, games, wins, losses, score, tags, rescues, captures, playtime FROM stats WHERE player_id = ?",
		playerID,
	)
	s := &StatsRow{}
	err := row.Scan(&s.PlayerID, &s.Games, &s.Wins, &s.Losses, &s.Score, &s.Tags, &s.Rescues, &s.Captures, &s.Playtime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// SaveMatch records a finished match and folds it into account stats.
// Guests are stored in the match roster only.
func (db *DB) SaveMatch(res MatchResult) (int64, error) {
	duration := res.Duration().Seconds()

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	out, err := tx.Exec(
		`INSERT INTO matches (room_code, map, game_mode, winner, reason, red_score, blue_score, duration, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RoomCode, res.Map, res.GameMode, string(res.Winner), res.Reason,
		res.RedScore, res.BlueScore, duration, res.EndedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	matchID, err := out.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, p := range res.Players {
		pid := sql.NullInt64{Int64: p.AccountID, Valid: p.AccountID > 0}
		if _, err := tx.Exec(
			`INSERT INTO match_players (match_id, player_id, username, team, score, tags, rescues, captures, won)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			matchID, pid, p.Username, string(p.Team), p.Score, p.Tags, p.Rescues, p.Captures, boolToInt(p.Won),
		); err != nil {
			return 0, err
		}
		if !pid.Valid {
			continue
		}

		winInc, lossInc := 0, 0
		if p.Won {
			winInc = 1
		} else if res.Winner != TeamNone {
			lossInc = 1
		}
		if _, err := tx.Exec(`
			UPDATE stats SET
				games = games + 1,
				wins = wins + ?,
				losses = losses + ?,
				score = score + ?,
				tags = tags + ?,
				rescues = rescues + ?,
				captures = captures + ?,
				playtime = playtime + ?
			WHERE player_id = ?`,
			winInc, lossInc, p.Score, p.Tags, p.Rescues, p.Captures, duration, p.AccountID,
		); err != nil {
			return 0, err
		}
	}
	return matchID, tx.Commit()
}

// GetMatchHistory returns recent matches for an account
func (db *DB) GetMatchHistory(playerID int64, limit int) ([]MatchPlayerRow, error) {
	rows, err := db.conn.Query(`
		SELECT mp.match_id, m.map, m.winner, mp.team, mp.score, mp.tags, mp.rescues, mp.captures, mp.won
		FROM match_players mp
		JOIN matches m ON m.id = mp.match_id
		WHERE mp.player_id = ?
		ORDER BY m.id DESC
		LIMIT ?`,
		playerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []MatchPlayerRow
	for rows.Next() {
		var r MatchPlayerRow
		if err := rows.Scan(&r.MatchID, &r.Map, &r.Winner, &r.Team, &r.Score, &r.Tags, &r.Rescues, &r.Captures, &r.Won); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// MatchCount returns the number of recorded matches
func (db *DB) MatchCount() (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM matches").Scan(&n)
	return n, err
}

// LeaderboardEntry represents one row in the leaderboard
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Games    int    `json:"games"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Score    int    `json:"score"`
	Tags     int    `json:"tags"`
	Rescues  int    `json:"rescues"`
	Captures int    `json:"captures"`
}

// GetLeaderboard returns top accounts sorted by the given field
func (db *DB) GetLeaderboard(orderBy string, limit int) ([]LeaderboardEntry, error) {
	// Whitelist valid order columns
	validCols := map[string]string{
		"wins": "s.wins", "score": "s.score", "tags": "s.tags",
		"rescues": "s.rescues", "captures": "s.captures", "games": "s.games",
	}
	col, ok := validCols[orderBy]
	if !ok {
		col = "s.wins"
	}

	query := `SELECT p.username, s.games, s.wins, s.losses, s.score, s.tags, s.rescues, s.captures
		FROM stats s JOIN players p ON p.id = s.player_id
		WHERE s.games > 0
		ORDER BY ` + col + ` DESC, p.username ASC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LeaderboardEntry
	rank := 1
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.Games, &e.Wins, &e.Losses, &e.Score, &e.Tags, &e.Rescues, &e.Captures); err != nil {
			return nil, err
		}
		e.Rank = rank
		rank++
		result = append(result, e)
	}
	return result, rows.Err()
}

// UnlockAchievement records an achievement. Returns true if it was new.
func (db *DB) UnlockAchievement(playerID int64, id string) (bool, error) {
	res, err := db.conn.Exec(
		"INSERT OR IGNORE INTO achievements (player_id, achievement_id) VALUES (?, ?)",
		playerID, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetAchievements returns the unlocked achievement IDs of an account
func (db *DB) GetAchievements(playerID int64) ([]string, error) {
	rows, err := db.conn.Query(
		"SELECT achievement_id FROM achievements WHERE player_id = ? ORDER BY unlocked_at, achievement_id",
		playerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
