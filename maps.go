package main

import "strings"

// Team identifies a side
type Team string

const (
	TeamNone Team = ""
	TeamRed  Team = "red"
	TeamBlue Team = "blue"
)

// Opponent returns the other team
func (t Team) Opponent() Team {
	switch t {
	case TeamRed:
		return TeamBlue
	case TeamBlue:
		return TeamRed
	}
	return TeamNone
}

// Title returns the capitalized team name used in announcements
func (t Team) Title() string {
	switch t {
	case TeamRed:
		return "Red"
	case TeamBlue:
		return "Blue"
	}
	return ""
}

// Point is a world position
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MapConfig is the immutable geometry of one arena
type MapConfig struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	RedBase    Point   `json:"redBase"`
	BlueBase   Point   `json:"blueBase"`
	BaseRadius float64 `json:"baseRadius"`
	Background string  `json:"background"`
	Obstacles  []Rect  `json:"obstacles"`
}

const DefaultMapID = "classic"

// MapCatalog lists every playable arena keyed by id
var MapCatalog = map[string]*MapConfig{
	"classic": {
		ID:         "classic",
		Name:       "Classic Field",
		Width:      1600,
		Height:     800,
		RedBase:    Point{X: 100, Y: 400},
		BlueBase:   Point{X: 1500, Y: 400},
		BaseRadius: 75,
		Background: "#2d5016",
	},
	"forest": {
		ID:         "forest",
		Name:       "Forest Clearing",
		Width:      1600,
		Height:     800,
		RedBase:    Point{X: 100, Y: 400},
		BlueBase:   Point{X: 1500, Y: 400},
		BaseRadius: 75,
		Background: "#1e3a0f",
		Obstacles: []Rect{
			{X: 500, Y: 200, Width: 80, Height: 80},
			{X: 500, Y: 600, Width: 80, Height: 80},
			{X: 800, Y: 400, Width: 120, Height: 120},
			{X: 1100, Y: 200, Width: 80, Height: 80},
			{X: 1100, Y: 600, Width: 80, Height: 80},
		},
	},
	"fortress": {
		ID:         "fortress",
		Name:       "Fortress",
		Width:      2000,
		Height:     1000,
		RedBase:    Point{X: 120, Y: 500},
		BlueBase:   Point{X: 1880, Y: 500},
		BaseRadius: 75,
		Background: "#4a4a4a",
		Obstacles: []Rect{
			{X: 400, Y: 300, Width: 40, Height: 300},
			{X: 400, Y: 700, Width: 40, Height: 300},
			{X: 1000, Y: 150, Width: 300, Height: 40},
			{X: 1000, Y: 850, Width: 300, Height: 40},
			{X: 1600, Y: 300, Width: 40, Height: 300},
			{X: 1600, Y: 700, Width: 40, Height: 300},
		},
	},
}

// LookupMap returns the map with the given id and whether it exists
func LookupMap(id string) (*MapConfig, bool) {
	m, ok := MapCatalog[strings.ToLower(strings.TrimSpace(id))]
	return m, ok
}

// ResolveMap returns the map for id, falling back to the default arena
func ResolveMap(id string) *MapConfig {
	if m, ok := LookupMap(id); ok {
		return m
	}
	return MapCatalog[DefaultMapID]
}

// BaseOf returns the base center of a team
func (m *MapConfig) BaseOf(team Team) Point {
	if team == TeamBlue {
		return m.BlueBase
	}
	return m.RedBase
}

// InBase reports whether a point lies inside the base circle of a team
func (m *MapConfig) InBase(team Team, x, y float64) bool {
	if team == TeamNone {
		return false
	}
	b := m.BaseOf(team)
	return InCircle(x, y, b.X, b.Y, m.BaseRadius)
}

// Blocked reports whether a circle at (x, y) overlaps any obstacle
func (m *MapConfig) Blocked(x, y, radius float64) bool {
	for _, o := range m.Obstacles {
		if CheckCircleRectCollision(x, y, radius, o) {
			return true
		}
	}
	return false
}

// InsideObstacle reports whether a point lies within any obstacle
func (m *MapConfig) InsideObstacle(x, y float64) bool {
	for _, o := range m.Obstacles {
		if o.Contains(x, y) {
			return true
		}
	}
	return false
}
