package main

import (
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func classicMap() *MapConfig {
	return MapCatalog["classic"]
}

func newTeamPlayer(id string, team Team) *Player {
	p := NewPlayer(id, "P_"+id)
	p.SetTeam(team, classicMap(), testEpoch)
	return p
}

func TestNewPlayer(t *testing.T) {
	p := NewPlayer("abc", "Juan")
	if p.Username != "Juan" {
		t.Errorf("expected username Juan, got %s", p.Username)
	}
	if p.Status != StatusInBase {
		t.Errorf("expected in_base, got %s", p.Status)
	}
	if p.SpeedMultiplier != 1 {
		t.Errorf("expected speed multiplier 1, got %v", p.SpeedMultiplier)
	}
	if p.Direction != DirFront {
		t.Errorf("expected front, got %s", p.Direction)
	}
}

func TestPlayerSetTeamTeleportsHome(t *testing.T) {
	m := classicMap()
	p := newTeamPlayer("a", TeamBlue)
	if p.X != m.BlueBase.X || p.Y != m.BlueBase.Y {
		t.Errorf("expected blue base center, got (%v, %v)", p.X, p.Y)
	}
	if !p.IsInBase(m, TeamBlue) {
		t.Error("player should be inside own base")
	}
}

func TestPlayerBaseExitAndReturn(t *testing.T) {
	m := classicMap()
	p := newTeamPlayer("a", TeamRed)

	exit := testEpoch.Add(time.Second)
	p.UpdatePosition(m, 300, 400, DirRight, exit)
	if p.Status != StatusActive {
		t.Fatalf("expected active after leaving base, got %s", p.Status)
	}
	if !p.BaseExitAt.Equal(exit) {
		t.Errorf("expected exit time %v, got %v", exit, p.BaseExitAt)
	}
	if p.Direction != DirRight {
		t.Errorf("expected right, got %s", p.Direction)
	}

	p.UpdatePosition(m, 300, 420, "", exit.Add(time.Second))
	if !p.BaseExitAt.Equal(exit) {
		t.Error("exit time must not move while staying outside")
	}
	if p.Direction != DirRight {
		t.Error("empty direction should keep the current facing")
	}

	p.UpdatePosition(m, 110, 400, DirLeft, exit.Add(2*time.Second))
	if p.Status != StatusInBase {
		t.Errorf("expected in_base after returning, got %s", p.Status)
	}
	if !p.BaseExitAt.IsZero() {
		t.Error("exit time should reset inside base")
	}
}

func TestPlayerPositionClamped(t *testing.T) {
	m := classicMap()
	p := newTeamPlayer("a", TeamRed)
	p.UpdatePosition(m, -50, 5000, DirFront, testEpoch)
	if p.X != 0 || p.Y != m.Height {
		t.Errorf("expected clamp to (0, %v), got (%v, %v)", m.Height, p.X, p.Y)
	}
}

func TestPlayerCanTagLaterExitWins(t *testing.T) {
	m := classicMap()
	red := newTeamPlayer("r", TeamRed)
	blue := newTeamPlayer("b", TeamBlue)

	red.UpdatePosition(m, 700, 400, DirRight, testEpoch.Add(1*time.Second))
	blue.UpdatePosition(m, 710, 400, DirLeft, testEpoch.Add(2*time.Second))

	if !blue.CanTag(red) {
		t.Error("later exit should tag the earlier one")
	}
	if red.CanTag(blue) {
		t.Error("earlier exit must not tag the later one")
	}
}

func TestPlayerCanTagRequiresActive(t *testing.T) {
	m := classicMap()
	red := newTeamPlayer("r", TeamRed)
	blue := newTeamPlayer("b", TeamBlue)
	mate := newTeamPlayer("m", TeamRed)

	red.UpdatePosition(m, 700, 400, DirRight, testEpoch.Add(1*time.Second))
	mate.UpdatePosition(m, 705, 400, DirRight, testEpoch.Add(2*time.Second))

	if mate.CanTag(red) {
		t.Error("teammates never tag each other")
	}
	if red.CanTag(blue) || blue.CanTag(red) {
		t.Error("a player in base is not part of a tag")
	}

	blue.UpdatePosition(m, 710, 400, DirLeft, testEpoch.Add(3*time.Second))
	red.Freeze(m, testEpoch.Add(3*time.Second), 5*time.Second)
	if blue.CanTag(red) {
		t.Error("frozen players cannot be tagged again")
	}
}

func TestPlayerCanReach(t *testing.T) {
	p := newTeamPlayer("a", TeamRed)
	later := testEpoch.Add(time.Second)

	// 220 px/s * 1 s * 1.15 = 253
	if !p.CanReach(p.X+250, p.Y, later, 220, 1.15) {
		t.Error("250px in one second should be accepted")
	}
	if p.CanReach(p.X+260, p.Y, later, 220, 1.15) {
		t.Error("260px in one second should be rejected")
	}

	p.SpeedMultiplier = 1.5
	if !p.CanReach(p.X+370, p.Y, later, 220, 1.15) {
		t.Error("speed boost should widen the allowance")
	}
}

func TestPlayerShieldDropsOnLeavingBase(t *testing.T) {
	m := classicMap()
	p := newTeamPlayer("a", TeamRed)
	shield, _ := LookupPowerup(PowerupShield)

	p.ApplyEffect(shield, m, testEpoch)
	if p.Status != StatusShielded {
		t.Fatalf("expected shielded, got %s", p.Status)
	}

	exit := testEpoch.Add(time.Second)
	p.UpdatePosition(m, 400, 400, DirRight, exit)
	if p.Status != StatusActive {
		t.Fatalf("leaving base should make the player active, got %s", p.Status)
	}
	if !p.BaseExitAt.Equal(exit) {
		t.Errorf("expected exit stamp %v, got %v", exit, p.BaseExitAt)
	}

	// the effect entry runs out without touching the state
	expired := p.ExpireEffects(m, testEpoch.Add(shield.Duration))
	if len(expired) != 1 || expired[0] != PowerupShield {
		t.Fatalf("expected shield to expire, got %v", expired)
	}
	if p.Status != StatusActive || !p.BaseExitAt.Equal(exit) {
		t.Errorf("expiry changed an active player: %s %v", p.Status, p.BaseExitAt)
	}
}

func TestPlayerShieldHoldsInsideBase(t *testing.T) {
	m := classicMap()
	p := newTeamPlayer("a", TeamRed)
	shield, _ := LookupPowerup(PowerupShield)

	p.ApplyEffect(shield, m, testEpoch)
	p.UpdatePosition(m, m.RedBase.X+10, m.RedBase.Y, DirRight, testEpoch.Add(time.Second))
	if p.Status != StatusShielded || !p.BaseExitAt.IsZero() {
		t.Errorf("moving inside the base keeps the shield, got %s %v", p.Status, p.BaseExitAt)
	}
}

func TestPlayerShieldExpiresInBase(t *testing.T) {
	m := classicMap()
	p := newTeamPlayer("a", TeamRed)
	shield, _ := LookupPowerup(PowerupShield)

	p.ApplyEffect(shield, m, testEpoch)
	p.ExpireEffects(m, testEpoch.Add(time.Hour))
	if p.Status != StatusInBase {
		t.Errorf("expected in_base, got %s", p.Status)
	}
}

func TestPlayerSpeedBoost(t *testing.T) {
	m := classicMap()
	p := newTeamPlayer("a", TeamRed)
	boost, _ := LookupPowerup(PowerupSpeedBoost)

	p.ApplyEffect(boost, m, testEpoch)
	if p.SpeedMultiplier != 1.5 {
		t.Errorf("expected 1.5, got %v", p.SpeedMultiplier)
	}
	if got := p.ExpireEffects(m, testEpoch.Add(4*time.Second)); len(got) != 0 {
		t.Errorf("boost expired early: %v", got)
	}
	p.ExpireEffects(m, testEpoch.Add(5*time.Second))
	if p.SpeedMultiplier != 1 || p.HasEffect(PowerupSpeedBoost) {
		t.Error("boost should be gone after 5s")
	}
}

func TestPlayerFreezeClearsEffects(t *testing.T) {
	m := classicMap()
	p := newTeamPlayer("a", TeamRed)
	boost, _ := LookupPowerup(PowerupSpeedBoost)
	reveal, _ := LookupPowerup(PowerupReveal)
	p.ApplyEffect(boost, m, testEpoch)
	p.ApplyEffect(reveal, m, testEpoch)
	p.UpdatePosition(m, 400, 400, DirRight, testEpoch)

	p.Freeze(m, testEpoch, 5*time.Second)
	if !p.IsFrozen() {
		t.Fatal("expected frozen")
	}
	if len(p.Effects) != 0 || p.SpeedMultiplier != 1 {
		t.Error("freeze should drop all effects")
	}
	if !p.FrozenUntil.Equal(testEpoch.Add(5 * time.Second)) {
		t.Errorf("unexpected frozenUntil %v", p.FrozenUntil)
	}

	p.Unfreeze()
	if p.Status != StatusActive || !p.FrozenUntil.IsZero() {
		t.Error("unfreeze should return the player to active")
	}
}

func TestPlayerToState(t *testing.T) {
	m := classicMap()
	p := newTeamPlayer("a", TeamBlue)
	reveal, _ := LookupPowerup(PowerupReveal)
	boost, _ := LookupPowerup(PowerupSpeedBoost)
	p.ApplyEffect(reveal, m, testEpoch)
	p.ApplyEffect(boost, m, testEpoch)
	p.Ready = true

	s := p.ToState("a")
	if s.ID != "a" || s.Team != TeamBlue || !s.IsHost || !s.IsReady {
		t.Errorf("unexpected state %+v", s)
	}
	if len(s.ActivePowerups) != 2 || s.ActivePowerups[0] != PowerupReveal || s.ActivePowerups[1] != PowerupSpeedBoost {
		t.Errorf("expected sorted powerups, got %v", s.ActivePowerups)
	}
	if s.FrozenUntil != 0 {
		t.Error("frozenUntil should be 0 when not frozen")
	}

	p.Freeze(m, testEpoch, 5*time.Second)
	s = p.ToState("other")
	if s.IsHost {
		t.Error("should not be host")
	}
	if s.FrozenUntil != testEpoch.Add(5*time.Second).UnixMilli() {
		t.Errorf("unexpected frozenUntil %d", s.FrozenUntil)
	}
}
