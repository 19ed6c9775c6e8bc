package world

import "github.com/talgya/guildhouse/internal/guildhouse"

// PlayerInfo describes a character when it is added to the world.
type PlayerInfo struct {
	ID    guildhouse.BotID
	Name  string
	Guild guildhouse.GuildID
	Bot   bool
	// Owner is the human character whose session receives this bot's
	// messages. Zero for humans and ownerless bots.
	Owner guildhouse.BotID
	Bind  guildhouse.Location
}

// Player is a simulated character. Its state is owned by the World and
// must only be touched while the world is serialised.
type Player struct {
	info PlayerInfo

	online   bool
	alive    bool
	combat   bool
	bg       bool
	arena    bool
	lfg      bool
	bgQueue  bool
	inFlight bool

	zone  uint32
	phase uint32
	loc   guildhouse.Location
	group *Group
}

// NewPlayer creates an offline, living character at its bind point.
func NewPlayer(info PlayerInfo) *Player {
	return &Player{
		info:  info,
		alive: true,
		phase: guildhouse.DefaultPhase,
		loc:   info.Bind,
	}
}

func (p *Player) ID() guildhouse.BotID          { return p.info.ID }
func (p *Player) Name() string                  { return p.info.Name }
func (p *Player) GuildID() guildhouse.GuildID   { return p.info.Guild }
func (p *Player) IsInWorld() bool               { return p.online }
func (p *Player) IsAlive() bool                 { return p.alive }
func (p *Player) IsInCombat() bool              { return p.combat }
func (p *Player) InBattleground() bool          { return p.bg }
func (p *Player) InArena() bool                 { return p.arena }
func (p *Player) InRandomDungeon() bool         { return p.lfg }
func (p *Player) InBattlegroundQueue() bool     { return p.bgQueue }
func (p *Player) IsInFlight() bool              { return p.inFlight }
func (p *Player) ZoneID() uint32                { return p.zone }
func (p *Player) Location() guildhouse.Location { return p.loc }
func (p *Player) IsBot() bool                   { return p.info.Bot }
func (p *Player) Owner() guildhouse.BotID       { return p.info.Owner }
func (p *Player) Phase() uint32                 { return p.phase }
func (p *Player) Bind() guildhouse.Location     { return p.info.Bind }

// GroupMembers returns every member of the player's group, itself
// included, or nil when ungrouped.
func (p *Player) GroupMembers() []guildhouse.Character {
	if p.group == nil {
		return nil
	}
	out := make([]guildhouse.Character, 0, len(p.group.members))
	for _, m := range p.group.members {
		out = append(out, m)
	}
	return out
}

// Status flags that can be toggled on a player.
type Status uint8

const (
	StatusCombat Status = iota
	StatusBattleground
	StatusArena
	StatusRandomDungeon
	StatusBattlegroundQueue
	StatusFlight
	StatusDead
)

func (p *Player) flag(s Status) *bool {
	switch s {
	case StatusCombat:
		return &p.combat
	case StatusBattleground:
		return &p.bg
	case StatusArena:
		return &p.arena
	case StatusRandomDungeon:
		return &p.lfg
	case StatusBattlegroundQueue:
		return &p.bgQueue
	case StatusFlight:
		return &p.inFlight
	}
	return nil
}

func (p *Player) has(s Status) bool {
	if s == StatusDead {
		return !p.alive
	}
	if f := p.flag(s); f != nil {
		return *f
	}
	return false
}

// View is the JSON form of a player.
type View struct {
	ID       guildhouse.BotID    `json:"id"`
	Name     string              `json:"name"`
	Guild    guildhouse.GuildID  `json:"guild"`
	Bot      bool                `json:"bot"`
	Online   bool                `json:"online"`
	Alive    bool                `json:"alive"`
	Busy     bool                `json:"busy"`
	Zone     uint32              `json:"zone"`
	Phase    uint32              `json:"phase"`
	Location guildhouse.Location `json:"location"`
	Grouped  bool                `json:"grouped"`
}

// View returns a snapshot of the player.
func (p *Player) View() View {
	return View{
		ID:       p.info.ID,
		Name:     p.info.Name,
		Guild:    p.info.Guild,
		Bot:      p.info.Bot,
		Online:   p.online,
		Alive:    p.alive,
		Busy:     p.combat || p.bg || p.arena || p.lfg || p.bgQueue || p.inFlight,
		Zone:     p.zone,
		Phase:    p.phase,
		Location: p.loc,
		Grouped:  p.group != nil,
	}
}

// Group is a party of players.
type Group struct {
	members []*Player
}

// Members returns the players in the group.
func (g *Group) Members() []*Player {
	out := make([]*Player, len(g.members))
	copy(out, g.members)
	return out
}
