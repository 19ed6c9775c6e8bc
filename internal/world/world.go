package world

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/talgya/guildhouse/internal/guildhouse"
)

var (
	ErrUnknownPlayer = errors.New("unknown player")
	ErrNotInWorld    = errors.New("player not in world")
	ErrUnknownMap    = errors.New("unknown map")
)

// Random is the dice the world rolls during Step.
type Random interface {
	URand(lo, hi int) int
	Chance(percent int) bool
}

// World is the simulated host world. It is not safe for concurrent use;
// the server serialises access behind one lock.
type World struct {
	terrain  *Terrain
	rng      Random
	players  map[guildhouse.BotID]*Player
	order    []guildhouse.BotID
	byName   map[string]guildhouse.BotID
	sessions map[guildhouse.BotID]*Session
	now      func() time.Time

	// OnLogin runs after a character enters the world.
	OnLogin func(p *Player)
	// OnZoneChange runs after an online character's zone changes.
	OnZoneChange func(p *Player, from, to uint32)
}

// New creates an empty world.
func New(terrain *Terrain, rng Random) *World {
	return &World{
		terrain:  terrain,
		rng:      rng,
		players:  make(map[guildhouse.BotID]*Player),
		byName:   make(map[string]guildhouse.BotID),
		sessions: make(map[guildhouse.BotID]*Session),
		now:      time.Now,
	}
}

// Terrain returns the world's terrain.
func (w *World) Terrain() *Terrain {
	return w.terrain
}

// Add registers an offline player. Humans get a session.
func (w *World) Add(p *Player) error {
	id := p.ID()
	if _, ok := w.players[id]; ok {
		return fmt.Errorf("player %d already exists", id)
	}
	key := strings.ToLower(p.Name())
	if _, ok := w.byName[key]; ok {
		return fmt.Errorf("player name %q already taken", p.Name())
	}
	p.loc = w.ground(p.info.Bind)
	p.zone = w.terrain.ZoneAt(p.loc.MapID, p.loc.X, p.loc.Y)
	w.players[id] = p
	w.byName[key] = id
	w.order = append(w.order, id)
	sort.Slice(w.order, func(i, j int) bool { return w.order[i] < w.order[j] })
	if !p.IsBot() {
		w.sessions[id] = newSession(p.Name())
	}
	return nil
}

// Player returns the player with id, online or not.
func (w *World) Player(id guildhouse.BotID) (*Player, bool) {
	p, ok := w.players[id]
	return p, ok
}

// PlayerByName looks a player up case-insensitively.
func (w *World) PlayerByName(name string) (*Player, bool) {
	id, ok := w.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return w.players[id], true
}

// Views returns snapshots of every player in ID order.
func (w *World) Views() []View {
	out := make([]View, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.players[id].View())
	}
	return out
}

// Players returns the characters currently in the world.
func (w *World) Players() []guildhouse.Character {
	out := make([]guildhouse.Character, 0, len(w.order))
	for _, id := range w.order {
		if p := w.players[id]; p.online {
			out = append(out, p)
		}
	}
	return out
}

// FindPlayer returns an online character.
func (w *World) FindPlayer(id guildhouse.BotID) (guildhouse.Character, bool) {
	p, ok := w.players[id]
	if !ok || !p.online {
		return nil, false
	}
	return p, true
}

// Online returns how many characters are in the world, and how many of
// them are bots.
func (w *World) Online() (total, bots int) {
	for _, p := range w.players {
		if p.online {
			total++
			if p.IsBot() {
				bots++
			}
		}
	}
	return total, bots
}

// IsBot reports whether c is a bot.
func (w *World) IsBot(c guildhouse.Character) bool {
	if p, ok := c.(*Player); ok {
		return p.IsBot()
	}
	p, ok := w.players[c.ID()]
	return ok && p.IsBot()
}

// Session returns the session of the human character called name.
func (w *World) Session(name string) (*Session, bool) {
	p, ok := w.PlayerByName(name)
	if !ok {
		return nil, false
	}
	s, ok := w.sessions[p.ID()]
	return s, ok
}

// Notify delivers message to the session that owns c. Messages to
// ownerless bots are dropped.
func (w *World) Notify(c guildhouse.Character, message string) {
	p, ok := w.players[c.ID()]
	if !ok {
		return
	}
	target := p.ID()
	if p.IsBot() {
		target = p.Owner()
	}
	s, ok := w.sessions[target]
	if !ok {
		return
	}
	s.Deliver(Message{At: w.now().UTC(), Character: p.Name(), Text: message})
}

// TeleportTo moves an online character to dest in phase.
func (w *World) TeleportTo(id guildhouse.BotID, dest guildhouse.Location, phase uint32) error {
	p, err := w.online(id)
	if err != nil {
		return err
	}
	if _, known := fallbackZone[dest.MapID]; !known {
		return fmt.Errorf("teleport %s: %w %d", p.Name(), ErrUnknownMap, dest.MapID)
	}
	p.inFlight = false
	p.phase = phase
	w.place(p, dest)
	return nil
}

// Recall sends an online character to its bind point in the default phase.
func (w *World) Recall(id guildhouse.BotID) error {
	p, err := w.online(id)
	if err != nil {
		return err
	}
	p.inFlight = false
	p.phase = guildhouse.DefaultPhase
	w.place(p, w.ground(p.Bind()))
	return nil
}

// Login brings a character into the world where it last stood.
func (w *World) Login(id guildhouse.BotID) error {
	p, ok := w.players[id]
	if !ok {
		return fmt.Errorf("login %d: %w", id, ErrUnknownPlayer)
	}
	if p.online {
		return nil
	}
	p.online = true
	p.zone = w.terrain.ZoneAt(p.loc.MapID, p.loc.X, p.loc.Y)
	if w.OnLogin != nil {
		w.OnLogin(p)
	}
	return nil
}

// Logout removes a character from the world and its group.
func (w *World) Logout(id guildhouse.BotID) error {
	p, ok := w.players[id]
	if !ok {
		return fmt.Errorf("logout %d: %w", id, ErrUnknownPlayer)
	}
	p.online = false
	p.combat, p.inFlight, p.bgQueue = false, false, false
	w.leaveGroup(p)
	return nil
}

// SetStatus toggles a status flag on a character.
func (w *World) SetStatus(id guildhouse.BotID, s Status, on bool) error {
	p, ok := w.players[id]
	if !ok {
		return fmt.Errorf("status %d: %w", id, ErrUnknownPlayer)
	}
	if s == StatusDead {
		p.alive = !on
		if on {
			p.combat, p.inFlight = false, false
		}
		return nil
	}
	if f := p.flag(s); f != nil {
		*f = on
		return nil
	}
	return fmt.Errorf("unknown status %d", s)
}

// Group puts the given characters in a new group, pulling them out of any
// group they were in.
func (w *World) Group(ids ...guildhouse.BotID) (*Group, error) {
	if len(ids) < 2 {
		return nil, errors.New("a group needs at least two members")
	}
	members := make([]*Player, 0, len(ids))
	for _, id := range ids {
		p, ok := w.players[id]
		if !ok {
			return nil, fmt.Errorf("group %d: %w", id, ErrUnknownPlayer)
		}
		members = append(members, p)
	}
	g := &Group{}
	for _, p := range members {
		w.leaveGroup(p)
		p.group = g
		g.members = append(g.members, p)
	}
	return g, nil
}

// Ungroup removes a character from its group.
func (w *World) Ungroup(id guildhouse.BotID) {
	if p, ok := w.players[id]; ok {
		w.leaveGroup(p)
	}
}

func (w *World) leaveGroup(p *Player) {
	g := p.group
	if g == nil {
		return
	}
	p.group = nil
	kept := g.members[:0]
	for _, m := range g.members {
		if m != p {
			kept = append(kept, m)
		}
	}
	g.members = kept
	if len(g.members) == 1 {
		g.members[0].group = nil
		g.members = nil
	}
}

func (w *World) online(id guildhouse.BotID) (*Player, error) {
	p, ok := w.players[id]
	if !ok {
		return nil, fmt.Errorf("player %d: %w", id, ErrUnknownPlayer)
	}
	if !p.online {
		return nil, fmt.Errorf("%s: %w", p.Name(), ErrNotInWorld)
	}
	return p, nil
}

// place moves p and fires OnZoneChange when the zone differs.
func (w *World) place(p *Player, loc guildhouse.Location) {
	from := p.zone
	p.loc = loc
	p.zone = w.terrain.ZoneAt(loc.MapID, loc.X, loc.Y)
	if p.online && p.zone != from && w.OnZoneChange != nil {
		w.OnZoneChange(p, from, p.zone)
	}
}

// ground snaps loc to the terrain height.
func (w *World) ground(loc guildhouse.Location) guildhouse.Location {
	loc.Z = w.terrain.Height(loc.MapID, loc.X, loc.Y)
	return loc
}
