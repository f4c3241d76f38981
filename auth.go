package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	jwtExpiry        = 7 * 24 * time.Hour
	bcryptCost       = 12
	minPasswordLen   = 4
	minUsernameLen   = 2
	maxUsernameLen   = 16
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
)

var (
	errInvalidCredentials = errors.New("invalid username or password")
	errRateLimited        = errors.New("too many login attempts, try again later")
	errUsernameTaken      = errors.New("username already taken")
	errAccountsDisabled   = errors.New("accounts are disabled")
)

// Auth handles account registration, login and token validation
type Auth struct {
	db        *DB
	jwtSecret []byte
	logger    *log.Logger

	// Rate limiting for login attempts (IP -> attempts)
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAuth creates a new Auth handler
func NewAuth(db *DB, logger *log.Logger) *Auth {
	if logger == nil {
		logger = discardLogger()
	}
	return &Auth{
		db:        db,
		jwtSecret: loadOrCreateSecret(db, logger),
		logger:    logger,
		rateMap:   make(map[string]*rateEntry),
	}
}

// loadOrCreateSecret loads the JWT secret from the database, or generates
// and persists a new one if none exists.
func loadOrCreateSecret(db *DB, logger *log.Logger) []byte {
	if db != nil {
		if h := db.GetSetting("jwt_secret"); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting("jwt_secret", hex.EncodeToString(secret)); err != nil {
			logger.Warn("could not persist JWT secret", "err", err)
		}
	}
	return secret
}

// Register creates a new account and returns its ID and a session token
func (a *Auth) Register(username, password string) (int64, string, error) {
	if a.db == nil {
		return 0, "", errAccountsDisabled
	}
	username = strings.TrimSpace(username)

	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return 0, "", fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	}
	if len(password) < minPasswordLen {
		return 0, "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	exists, err := a.db.UsernameExists(username)
	if err != nil {
		return 0, "", fmt.Errorf("check username: %w", err)
	}
	if exists {
		return 0, "", errUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return 0, "", fmt.Errorf("hash password: %w", err)
	}

	id, err := a.db.CreatePlayer(username, string(hash))
	if err != nil {
		return 0, "", fmt.Errorf("create account: %w", err)
	}

	token, err := a.generateToken(id, username)
	if err != nil {
		return 0, "", fmt.Errorf("sign token: %w", err)
	}
	a.logger.Info("account registered", "id", id, "username", username)
	return id, token, nil
}

// Login authenticates a user and returns a JWT
func (a *Auth) Login(username, password, ip string) (int64, string, string, error) {
	if a.db == nil {
		return 0, "", "", errAccountsDisabled
	}
	if !a.checkRate(ip) {
		return 0, "", "", errRateLimited
	}

	player, err := a.db.GetPlayerByUsername(strings.TrimSpace(username))
	if err != nil {
		return 0, "", "", fmt.Errorf("lookup account: %w", err)
	}
	if player == nil || player.PassHash == "" {
		return 0, "", "", errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(player.PassHash), []byte(password)); err != nil {
		return 0, "", "", errInvalidCredentials
	}

	token, err := a.generateToken(player.ID, player.Username)
	if err != nil {
		return 0, "", "", fmt.Errorf("sign token: %w", err)
	}
	return player.ID, player.Username, token, nil
}

// ValidateToken validates a JWT and returns (playerID, username, error)
func (a *Auth) ValidateToken(tokenStr string) (int64, string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return 0, "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, "", fmt.Errorf("invalid token")
	}

	pidFloat, ok := claims["pid"].(float64)
	if !ok {
		return 0, "", fmt.Errorf("invalid token claims")
	}
	username, ok := claims["usr"].(string)
	if !ok {
		return 0, "", fmt.Errorf("invalid token claims")
	}

	// the account may have been removed since the token was issued
	if a.db != nil {
		player, err := a.db.GetPlayerByID(int64(pidFloat))
		if err != nil {
			return 0, "", fmt.Errorf("lookup account: %w", err)
		}
		if player == nil {
			return 0, "", fmt.Errorf("unknown account")
		}
		username = player.Username
	}
	return int64(pidFloat), username, nil
}

func (a *Auth) generateToken(playerID int64, username string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"pid": playerID,
		"usr": username,
		"exp": now.Add(jwtExpiry).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

func (a *Auth) checkRate(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(loginRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxLoginAttempts
}
