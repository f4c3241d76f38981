package main

import (
	"crypto/rand"
	"encoding/hex"
	"math"
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns a random hex string of the given byte length
func GenerateID(byteLen int) string {
	b := make([]byte, byteLen)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// NewConnID returns a fresh connection-derived player identity
func NewConnID() string {
	return uuid.NewString()
}

// Clamp restricts v to [min, max]
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Distance returns the distance between two points
func Distance(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return math.Sqrt(dx*dx + dy*dy)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// truncateRunes cuts s to at most n runes
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SanitizeUsername trims and truncates a display name, falling back to a
// connection-derived name when the result is too short.
func SanitizeUsername(name, connID string, minLen, maxLen int) string {
	name = strings.TrimSpace(truncateRunes(strings.TrimSpace(name), maxLen))
	if len([]rune(name)) < minLen {
		suffix := strings.ReplaceAll(connID, "-", "")
		if len(suffix) > 4 {
			suffix = suffix[:4]
		}
		return "Player_" + suffix
	}
	return name
}
