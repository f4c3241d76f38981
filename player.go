package main

import (
	"sort"
	"time"
)

// PlayerStatus is the discrete state of a player
type PlayerStatus string

const (
	StatusInBase   PlayerStatus = "in_base"
	StatusActive   PlayerStatus = "active"
	StatusFrozen   PlayerStatus = "frozen"
	StatusShielded PlayerStatus = "shielded"
)

// Direction is the cosmetic facing of a player
type Direction string

const (
	DirFront Direction = "front"
	DirBack  Direction = "back"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// ParseDirection validates a facing, returning ok=false for unknown values
func ParseDirection(s string) (Direction, bool) {
	switch d := Direction(s); d {
	case DirFront, DirBack, DirLeft, DirRight:
		return d, true
	}
	return "", false
}

// Player represents one participant of a room
type Player struct {
	ID        string
	Username  string
	AccountID int64 // 0 = guest
	Team      Team
	X, Y      float64
	Direction Direction
	Status    PlayerStatus
	// BaseExitAt is when the player last left their own base; zero while home
	BaseExitAt      time.Time
	Score           int
	Tags            int
	Rescues         int
	Captures        int
	SpeedMultiplier float64
	Effects         map[PowerupKind]time.Time // kind -> expiry
	Ready           bool
	FrozenUntil     time.Time
	LastUpdate      time.Time
	JoinSeq         int
}

// NewPlayer creates a player that has not been assigned to a team yet
func NewPlayer(id, username string) *Player {
	return &Player{
		ID:              id,
		Username:        username,
		Direction:       DirFront,
		Status:          StatusInBase,
		SpeedMultiplier: 1,
		Effects:         make(map[PowerupKind]time.Time),
	}
}

// SetTeam assigns the team and teleports the player home
func (p *Player) SetTeam(team Team, m *MapConfig, now time.Time) {
	p.Team = team
	p.ResetToBase(m, now)
}

// ResetToBase teleports the player to their base center with a clean state
func (p *Player) ResetToBase(m *MapConfig, now time.Time) {
	b := m.BaseOf(p.Team)
	p.X = b.X
	p.Y = b.Y
	p.Status = StatusInBase
	p.BaseExitAt = time.Time{}
	p.FrozenUntil = time.Time{}
	p.Direction = DirFront
	p.LastUpdate = now
	p.ClearEffects(m)
}

// ResetCounters zeroes the per-game statistics
func (p *Player) ResetCounters() {
	p.Score = 0
	p.Tags = 0
	p.Rescues = 0
	p.Captures = 0
}

// IsInBase reports whether the player stands inside the base of team
func (p *Player) IsInBase(m *MapConfig, team Team) bool {
	return m.InBase(team, p.X, p.Y)
}

// IsFrozen reports whether the player is currently frozen
func (p *Player) IsFrozen() bool {
	return p.Status == StatusFrozen
}

// CanReach reports whether moving to (x, y) at now is plausible given the
// elapsed time since the last accepted update and the current speed
func (p *Player) CanReach(x, y float64, now time.Time, speed, tolerance float64) bool {
	dt := now.Sub(p.LastUpdate).Seconds()
	if dt < 0 {
		dt = 0
	}
	maxDist := speed * p.SpeedMultiplier * dt * tolerance
	return Distance(p.X, p.Y, x, y) <= maxDist
}

// UpdatePosition moves the player and re-evaluates base membership
func (p *Player) UpdatePosition(m *MapConfig, x, y float64, dir Direction, now time.Time) {
	p.X = Clamp(x, 0, m.Width)
	p.Y = Clamp(y, 0, m.Height)
	if dir != "" {
		p.Direction = dir
	}
	p.LastUpdate = now
	p.checkBaseExit(m, now)
}

func (p *Player) checkBaseExit(m *MapConfig, now time.Time) {
	home := p.IsInBase(m, p.Team)
	switch p.Status {
	case StatusInBase, StatusShielded:
		// leaving home drops the shield state; the effect entry runs out on its own
		if !home {
			p.Status = StatusActive
			p.BaseExitAt = now
		}
	case StatusActive:
		if home {
			p.Status = StatusInBase
			p.BaseExitAt = time.Time{}
		}
	}
}

// CanTag reports whether p wins a collision against other
func (p *Player) CanTag(other *Player) bool {
	if p.Team == other.Team || p.Status != StatusActive || other.Status != StatusActive {
		return false
	}
	return p.BaseExitAt.After(other.BaseExitAt)
}

// Freeze puts the player on ice until now+d, dropping all effects
func (p *Player) Freeze(m *MapConfig, now time.Time, d time.Duration) {
	p.ClearEffects(m)
	p.Status = StatusFrozen
	p.FrozenUntil = now.Add(d)
}

// Unfreeze returns a frozen player to play
func (p *Player) Unfreeze() {
	p.Status = StatusActive
	p.FrozenUntil = time.Time{}
}

// ApplyEffect grants a timed effect, replacing any effect of the same kind
func (p *Player) ApplyEffect(def PowerupDef, m *MapConfig, now time.Time) {
	p.RemoveEffect(def.Kind, m)
	p.Effects[def.Kind] = now.Add(def.Duration)

	switch def.Kind {
	case PowerupSpeedBoost:
		p.SpeedMultiplier = def.SpeedMultiplier
	case PowerupShield:
		p.Status = StatusShielded
	}
}

// RemoveEffect drops an effect and reverts what it changed
func (p *Player) RemoveEffect(kind PowerupKind, m *MapConfig) {
	if !p.HasEffect(kind) {
		return
	}
	delete(p.Effects, kind)

	switch kind {
	case PowerupSpeedBoost:
		p.SpeedMultiplier = 1
	case PowerupShield:
		if p.Status == StatusShielded {
			if p.IsInBase(m, p.Team) {
				p.Status = StatusInBase
				p.BaseExitAt = time.Time{}
			} else {
				p.Status = StatusActive
			}
		}
	}
}

// ClearEffects drops every active effect
func (p *Player) ClearEffects(m *MapConfig) {
	for kind := range p.Effects {
		p.RemoveEffect(kind, m)
	}
}

// ExpireEffects removes effects whose expiry has passed and returns them
func (p *Player) ExpireEffects(m *MapConfig, now time.Time) []PowerupKind {
	var expired []PowerupKind
	for kind, until := range p.Effects {
		if !now.Before(until) {
			expired = append(expired, kind)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	for _, kind := range expired {
		p.RemoveEffect(kind, m)
	}
	return expired
}

// HasEffect reports whether an effect is active
func (p *Player) HasEffect(kind PowerupKind) bool {
	_, ok := p.Effects[kind]
	return ok
}

// ToState converts to protocol state
func (p *Player) ToState(hostID string) PlayerState {
	effects := make([]PowerupKind, 0, len(p.Effects))
	for kind := range p.Effects {
		effects = append(effects, kind)
	}
	sort.Slice(effects, func(i, j int) bool { return effects[i] < effects[j] })

	var frozenUntil int64
	if !p.FrozenUntil.IsZero() {
		frozenUntil = p.FrozenUntil.UnixMilli()
	}
	return PlayerState{
		ID:              p.ID,
		Username:        p.Username,
		Team:            p.Team,
		X:               round1(p.X),
		Y:               round1(p.Y),
		Direction:       p.Direction,
		State:           p.Status,
		Score:           p.Score,
		Tags:            p.Tags,
		Rescues:         p.Rescues,
		SpeedMultiplier: p.SpeedMultiplier,
		ActivePowerups:  effects,
		IsReady:         p.Ready,
		IsHost:          p.ID == hostID,
		FrozenUntil:     frozenUntil,
	}
}

// Stats returns the end-of-game statistics row
func (p *Player) Stats() PlayerStats {
	return PlayerStats{
		ID:       p.ID,
		Username: p.Username,
		Team:     p.Team,
		Score:    p.Score,
		Tags:     p.Tags,
		Rescues:  p.Rescues,
		Captures: p.Captures,
	}
}
