package main

import (
	"fmt"
	"time"
)

// stepGame runs the in-game tick pipeline. Each step stops the pipeline once
// the game has ended so a finished game never scores twice.
func (r *Room) stepGame(now time.Time) {
	r.expireEffects(now)
	r.thawPlayers(now)

	steps := []func(time.Time){
		r.checkCollisions,
		r.checkScoring,
		r.checkTeamWipe,
		r.checkTimeLimit,
		r.maybeSpawnPowerup,
	}
	for _, step := range steps {
		if r.phase != PhasePlaying {
			return
		}
		step(now)
	}
}

// expireEffects drops lapsed powerup effects
func (r *Room) expireEffects(now time.Time) {
	for _, p := range r.orderedPlayers() {
		before := p.Status
		expired := p.ExpireEffects(r.mapCfg, now)
		if len(expired) > 0 && p.Status != before {
			r.broadcastStatus(p)
		}
	}
}

// thawPlayers unfreezes players whose freeze ran out
func (r *Room) thawPlayers(now time.Time) {
	for _, p := range r.orderedPlayers() {
		if p.IsFrozen() && !now.Before(p.FrozenUntil) {
			p.Unfreeze()
			r.broadcastStatus(p)
		}
	}
}

// checkCollisions resolves tags between overlapping enemies. Pairs are
// visited in join order; the player who left base later wins the collision.
func (r *Room) checkCollisions(now time.Time) {
	players := r.orderedPlayers()
	for i := 0; i < len(players); i++ {
		for j := i + 1; j < len(players); j++ {
			a, b := players[i], players[j]
			if a.Team == b.Team || !WithinRange(a.X, a.Y, b.X, b.Y, r.cfg.PlayerSize) {
				continue
			}
			switch {
			case a.CanTag(b):
				r.tagPlayer(a, b, now)
			case b.CanTag(a):
				r.tagPlayer(b, a, now)
			}
		}
	}
}

func (r *Room) tagPlayer(tagger, tagged *Player, now time.Time) {
	if tagged.Status == StatusShielded || tagged.IsFrozen() {
		return
	}
	tagged.Freeze(r.mapCfg, now, r.cfg.FrozenDuration)
	tagger.Tags++

	r.broadcast(Envelope{T: MsgPlayerTagged, Data: PlayerTaggedMsg{
		Tagger: tagger.ToState(r.settings.HostID),
		Tagged: tagged.ToState(r.settings.HostID),
	}})
	r.broadcastStatus(tagged)
	r.recorder.Track(EvtTag, tagger.AccountID, r.Code, tagged.Username)
}

// checkScoring awards base incursions. Entering an undefended enemy base ends
// the game outright; otherwise the intruder scores a point and goes home.
func (r *Room) checkScoring(now time.Time) {
	for _, p := range r.orderedPlayers() {
		if p.IsFrozen() || p.Team == TeamNone {
			continue
		}
		enemy := p.Team.Opponent()
		if !p.IsInBase(r.mapCfg, enemy) {
			continue
		}

		if r.baseUndefended(enemy) {
			p.Captures++
			r.recorder.Track(EvtCapture, p.AccountID, r.Code, string(enemy))
			r.endGame(p.Team, fmt.Sprintf("%s captured the base!", p.Username), now)
			return
		}

		r.scorePoint(p, now)
		if r.phase != PhasePlaying {
			return
		}
	}
}

// baseUndefended reports whether no member of team is guarding its base
func (r *Room) baseUndefended(team Team) bool {
	for _, d := range r.teamMembers(team) {
		if !d.IsFrozen() && d.IsInBase(r.mapCfg, team) {
			return false
		}
	}
	return true
}

func (r *Room) scorePoint(p *Player, now time.Time) {
	p.Score++
	total := r.teamScores.Add(p.Team)
	p.ResetToBase(r.mapCfg, now)

	r.broadcast(Envelope{T: MsgScoreUpdate, Data: ScoreUpdateMsg{
		Scorer:     p.ToState(r.settings.HostID),
		TeamScores: r.teamScores,
	}})
	r.recorder.Track(EvtScore, p.AccountID, r.Code, string(p.Team))

	if total >= r.settings.WinningScore {
		r.endGame(p.Team, "Score limit reached!", now)
	}
}

// checkTeamWipe ends the game when every member of a team is frozen. Red is
// checked first.
func (r *Room) checkTeamWipe(now time.Time) {
	for _, team := range []Team{TeamRed, TeamBlue} {
		members := r.teamMembers(team)
		if len(members) == 0 {
			continue
		}
		wiped := true
		for _, p := range members {
			if !p.IsFrozen() {
				wiped = false
				break
			}
		}
		if wiped {
			r.endGame(team.Opponent(), fmt.Sprintf("%s team is eliminated!", team.Title()), now)
			return
		}
	}
}

func (r *Room) checkTimeLimit(now time.Time) {
	if r.cfg.GameDuration > 0 && now.Sub(r.startedAt) >= r.cfg.GameDuration {
		r.endGame(TeamNone, "Time's up!", now)
	}
}

func (r *Room) maybeSpawnPowerup(now time.Time) {
	if len(r.powerups) >= r.cfg.MaxPowerups || r.rng.Float64() >= r.cfg.PowerupSpawnChance {
		return
	}
	pu := NewPowerup(r.mapCfg, r.rng.Float64)
	if pu == nil {
		return
	}
	r.powerups[pu.ID] = pu
	r.broadcast(Envelope{T: MsgPowerupSpawned, Data: pu.ToState()})
}

// HandleRescue thaws a frozen teammate. The rescuer must be free and close
// enough when a rescue range is configured.
func (r *Room) HandleRescue(rescuerID, targetID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhasePlaying || rescuerID == targetID {
		return false
	}
	rescuer, ok := r.players[rescuerID]
	if !ok || rescuer.IsFrozen() {
		return false
	}
	target, ok := r.players[targetID]
	if !ok || !target.IsFrozen() || target.Team != rescuer.Team {
		return false
	}
	if r.cfg.RescueRange > 0 && !WithinRange(rescuer.X, rescuer.Y, target.X, target.Y, r.cfg.RescueRange) {
		return false
	}

	target.Unfreeze()
	rescuer.Rescues++
	r.broadcast(Envelope{T: MsgPlayerRescued, Data: PlayerRescuedMsg{
		Rescuer: rescuer.ToState(r.settings.HostID),
		Rescued: target.ToState(r.settings.HostID),
	}})
	r.broadcastStatus(target)
	r.recorder.Track(EvtRescue, rescuer.AccountID, r.Code, target.Username)
	return true
}

// HandleCollect grants a world powerup to the player standing on it. The
// effect comes from the powerup itself, never from the client.
func (r *Room) HandleCollect(playerID, powerupID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhasePlaying {
		return false
	}
	p, ok := r.players[playerID]
	if !ok || p.IsFrozen() {
		return false
	}
	pu, ok := r.powerups[powerupID]
	if !ok {
		return false
	}
	if r.cfg.PickupRange > 0 && !WithinRange(p.X, p.Y, pu.X, pu.Y, r.cfg.PickupRange+PowerupRadius) {
		return false
	}
	def, ok := LookupPowerup(pu.Kind)
	if !ok {
		return false
	}

	delete(r.powerups, powerupID)
	before := p.Status
	p.ApplyEffect(def, r.mapCfg, r.now())

	r.broadcast(Envelope{T: MsgPowerupCollected, Data: PowerupCollectedMsg{
		PlayerID:  p.ID,
		PowerupID: pu.ID,
		Type:      pu.Kind,
	}})
	if p.Status != before {
		r.broadcastStatus(p)
	}
	r.recorder.Track(EvtPowerup, p.AccountID, r.Code, string(pu.Kind))
	return true
}

// endGame finishes the running game. An empty winner is decided by score and
// stays empty on a tie.
func (r *Room) endGame(winner Team, reason string, now time.Time) {
	if r.phase != PhasePlaying {
		return
	}
	r.phase = PhaseEnded
	r.endedAt = now

	if winner == TeamNone {
		switch {
		case r.teamScores.Red > r.teamScores.Blue:
			winner = TeamRed
		case r.teamScores.Blue > r.teamScores.Red:
			winner = TeamBlue
		}
	}

	ordered := r.orderedPlayers()
	stats := make([]PlayerStats, 0, len(ordered))
	results := make([]MatchPlayerResult, 0, len(ordered))
	for _, p := range ordered {
		p.ClearEffects(r.mapCfg)
		stats = append(stats, p.Stats())
		results = append(results, MatchPlayerResult{
			AccountID: p.AccountID,
			Username:  p.Username,
			Team:      p.Team,
			Score:     p.Score,
			Tags:      p.Tags,
			Rescues:   p.Rescues,
			Captures:  p.Captures,
			Won:       winner != TeamNone && p.Team == winner,
		})
	}
	r.powerups = make(map[string]*Powerup)

	r.broadcast(Envelope{T: MsgGameOver, Data: GameOverMsg{
		Winner:      winner,
		Reason:      reason,
		FinalScores: r.teamScores,
		PlayerStats: stats,
	}})

	r.recorder.RecordMatch(MatchResult{
		RoomCode:  r.Code,
		Map:       r.settings.Map,
		GameMode:  r.settings.GameMode,
		Winner:    winner,
		Reason:    reason,
		RedScore:  r.teamScores.Red,
		BlueScore: r.teamScores.Blue,
		StartedAt: r.startedAt,
		EndedAt:   now,
		Players:   results,
	})
	r.logger.Info("game over", "winner", winner, "reason", reason,
		"red", r.teamScores.Red, "blue", r.teamScores.Blue)
}

func (r *Room) broadcastStatus(p *Player) {
	r.broadcast(Envelope{T: MsgPlayerStateChanged, Data: PlayerStateChangedMsg{
		PlayerID: p.ID,
		State:    p.Status,
	}})
}
