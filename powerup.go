package main

import "time"

// PowerupKind identifies a timed effect
type PowerupKind string

const (
	PowerupSpeedBoost PowerupKind = "speed_boost"
	PowerupShield     PowerupKind = "shield"
	PowerupReveal     PowerupKind = "reveal"
)

const (
	PowerupRadius   = 16.0
	powerupMarginX  = 150.0
	powerupMarginY  = 100.0
	spawnMaxRerolls = 10
)

// PowerupDef is a catalog entry describing an effect
type PowerupDef struct {
	Kind            PowerupKind
	Duration        time.Duration
	SpeedMultiplier float64 // only meaningful for speed boosts
}

// PowerupCatalog holds every known effect, in spawn-table order
var PowerupCatalog = []PowerupDef{
	{Kind: PowerupSpeedBoost, Duration: 5 * time.Second, SpeedMultiplier: 1.5},
	{Kind: PowerupShield, Duration: 8 * time.Second},
	{Kind: PowerupReveal, Duration: 10 * time.Second},
}

// LookupPowerup returns the catalog entry for kind
func LookupPowerup(kind PowerupKind) (PowerupDef, bool) {
	for _, def := range PowerupCatalog {
		if def.Kind == kind {
			return def, true
		}
	}
	return PowerupDef{}, false
}

// Powerup is a collectible lying in the arena
type Powerup struct {
	ID   string
	Kind PowerupKind
	X, Y float64
}

// NewPowerup spawns a powerup of a random kind away from edges and obstacles.
// It returns nil when every reroll lands on an obstacle.
func NewPowerup(m *MapConfig, rnd func() float64) *Powerup {
	def := PowerupCatalog[int(rnd()*float64(len(PowerupCatalog)))%len(PowerupCatalog)]
	for i := 0; i < spawnMaxRerolls; i++ {
		x := powerupMarginX + rnd()*(m.Width-2*powerupMarginX)
		y := powerupMarginY + rnd()*(m.Height-2*powerupMarginY)
		if m.Blocked(x, y, PowerupRadius) {
			continue
		}
		return &Powerup{
			ID:   GenerateID(4),
			Kind: def.Kind,
			X:    x,
			Y:    y,
		}
	}
	return nil
}

// ToState converts to protocol state
func (p *Powerup) ToState() PowerupState {
	return PowerupState{
		ID:   p.ID,
		Type: p.Kind,
		X:    round1(p.X),
		Y:    round1(p.Y),
	}
}
