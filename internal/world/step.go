package world

import "github.com/talgya/guildhouse/internal/guildhouse"

// StepConfig holds the per-step odds of world events, in percent.
type StepConfig struct {
	Login         int // offline character logs in
	Logout        int // online character logs out
	Combat        int // combat flag flips
	Death         int // character in combat dies
	Revive        int // dead character resurrects
	Flight        int // flight flag flips
	Queue         int // battleground queue flag flips
	EnterInstance int // character joins a battleground, arena or random dungeon
	LeaveInstance int // instanced character returns to the open world
	VisitHouse    int // human outside the sanctuary walks in
	LeaveHouse    int // human inside the sanctuary walks out
	WanderRadius  float32
}

// DefaultStepConfig returns modest churn suited to a one-second tick.
func DefaultStepConfig() StepConfig {
	return StepConfig{
		Login:         5,
		Logout:        1,
		Combat:        4,
		Death:         2,
		Revive:        10,
		Flight:        2,
		Queue:         1,
		EnterInstance: 1,
		LeaveInstance: 3,
		VisitHouse:    2,
		LeaveHouse:    3,
		WanderRadius:  15,
	}
}

var instances = [...]Status{StatusBattleground, StatusArena, StatusRandomDungeon}

// Step advances every character by one tick of random activity.
func (w *World) Step(cfg StepConfig) {
	for _, id := range w.order {
		p := w.players[id]
		if !p.online {
			if w.rng.Chance(cfg.Login) {
				w.Login(id)
			}
			continue
		}
		if w.rng.Chance(cfg.Logout) {
			w.Logout(id)
			continue
		}
		if !p.alive {
			if w.rng.Chance(cfg.Revive) {
				w.SetStatus(id, StatusDead, false)
			}
			continue
		}
		w.toggle(p, StatusBattlegroundQueue, cfg.Queue)
		if p.zone == ZoneSanctuary {
			if !p.IsBot() && w.rng.Chance(cfg.LeaveHouse) {
				w.Recall(id)
			}
			continue
		}
		if w.instanced(p) {
			if w.rng.Chance(cfg.LeaveInstance) {
				for _, s := range instances {
					w.SetStatus(id, s, false)
				}
			}
			continue
		}
		if w.rng.Chance(cfg.EnterInstance) {
			w.SetStatus(id, StatusBattlegroundQueue, false)
			w.SetStatus(id, StatusCombat, false)
			w.SetStatus(id, instances[w.rng.URand(0, len(instances)-1)], true)
			continue
		}
		w.toggle(p, StatusCombat, cfg.Combat)
		if p.combat && w.rng.Chance(cfg.Death) {
			w.SetStatus(id, StatusDead, true)
			continue
		}
		w.toggle(p, StatusFlight, cfg.Flight)
		if !p.IsBot() && w.rng.Chance(cfg.VisitHouse) {
			w.visitSanctuary(p)
			continue
		}
		w.wander(p, cfg.WanderRadius)
	}
}

// toggle flips status s on p with the given odds.
func (w *World) toggle(p *Player, s Status, percent int) {
	if w.rng.Chance(percent) {
		w.SetStatus(p.ID(), s, !p.has(s))
	}
}

func (w *World) instanced(p *Player) bool {
	for _, s := range instances {
		if p.has(s) {
			return true
		}
	}
	return false
}

// visitSanctuary walks a human into the sanctuary zone.
func (w *World) visitSanctuary(p *Player) {
	z, ok := w.terrain.Zone(ZoneSanctuary)
	if !ok {
		return
	}
	x, y := z.Center()
	w.place(p, guildhouse.Location{MapID: z.MapID, X: x, Y: y, Z: w.terrain.Height(z.MapID, x, y), Orientation: p.loc.Orientation})
}

// wander nudges p within its current zone.
func (w *World) wander(p *Player, radius float32) {
	if radius <= 0 || p.inFlight {
		return
	}
	r := int(radius)
	dx := float32(w.rng.URand(-r, r))
	dy := float32(w.rng.URand(-r, r))
	next := p.loc
	next.X += dx
	next.Y += dy
	if w.terrain.ZoneAt(next.MapID, next.X, next.Y) != p.zone {
		return
	}
	next.Z = w.terrain.Height(next.MapID, next.X, next.Y)
	p.loc = next
}
