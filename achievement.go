package main

// Achievement definitions
type AchievementDef struct {
	ID          string
	Name        string
	Description string
}

var Achievements = []AchievementDef{
	{"first_tag", "First Tag", "Freeze your first opponent"},
	{"ice_age", "Ice Age", "Reach 100 total tags"},
	{"hat_trick", "Hat Trick", "Tag 3 opponents in a single match"},
	{"first_aid", "First Aid", "Rescue a frozen teammate"},
	{"medic", "Medic", "Reach 50 total rescues"},
	{"raider", "Raider", "Score 25 points in enemy bases"},
	{"conqueror", "Conqueror", "Capture an undefended base"},
	{"victor", "Victor", "Win 10 matches"},
	{"regular", "Regular", "Play 50 matches"},
	{"survivor", "Survivor", "Play for 1 hour total"},
}

// CheckAchievements unlocks whatever the player earned with this match.
// Returns the newly unlocked achievements.
func CheckAchievements(db *DB, p MatchPlayerResult) []AchievementDef {
	if db == nil || p.AccountID == 0 {
		return nil
	}

	stats, err := db.GetStats(p.AccountID)
	if err != nil || stats == nil {
		return nil
	}

	existing, err := db.GetAchievements(p.AccountID)
	if err != nil {
		return nil
	}
	has := make(map[string]bool, len(existing))
	for _, a := range existing {
		has[a] = true
	}

	check := func(id string) bool {
		if has[id] {
			return false
		}
		switch id {
		case "first_tag":
			return stats.Tags >= 1
		case "ice_age":
			return stats.Tags >= 100
		case "hat_trick":
			return p.Tags >= 3
		case "first_aid":
			return stats.Rescues >= 1
		case "medic":
			return stats.Rescues >= 50
		case "raider":
			return stats.Score >= 25
		case "conqueror":
			return stats.Captures >= 1
		case "victor":
			return stats.Wins >= 10
		case "regular":
			return stats.Games >= 50
		case "survivor":
			return stats.Playtime >= 3600
		}
		return false
	}

	var unlocked []AchievementDef
	for _, def := range Achievements {
		if check(def.ID) {
			if newlyUnlocked, err := db.UnlockAchievement(p.AccountID, def.ID); err == nil && newlyUnlocked {
				unlocked = append(unlocked, def)
			}
		}
	}
	return unlocked
}

// LookupAchievement returns the definition for an ID
func LookupAchievement(id string) (AchievementDef, bool) {
	for _, def := range Achievements {
		if def.ID == id {
			return def, true
		}
	}
	return AchievementDef{}, false
}
