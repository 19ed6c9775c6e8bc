// Package agents populates the simulated world with guild members: human
// players and the bots they own.
package agents

import (
	"fmt"
	"math/rand"

	"github.com/talgya/guildhouse/internal/guildhouse"
	"github.com/talgya/guildhouse/internal/world"
)

// GuildPopulation is the online head-count to spawn for one guild.
type GuildPopulation struct {
	Guild  guildhouse.GuildID
	Name   string
	Bots   int
	Humans int
}

// Spawner creates characters for the world.
type Spawner struct {
	rng    *rand.Rand
	nextID guildhouse.BotID
	used   map[string]bool
}

// NewSpawner creates a character spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(seed + 300)),
		nextID: 1,
		used:   make(map[string]bool),
	}
}

// cityBind returns the home city for a guild: odd guilds bind in
// Stormwind, even guilds in Orgrimmar.
func cityBind(guild guildhouse.GuildID) world.Zone {
	id := world.ZoneOrgrimmar
	if guild%2 == 1 {
		id = world.ZoneStormwind
	}
	for _, z := range world.DefaultZones {
		if z.ID == id {
			return z
		}
	}
	return world.DefaultZones[0]
}

// SpawnGuild adds and logs in a guild's humans and bots. Bots are shared
// out between the guild's humans as owners. When the guild has a human and
// at least two bots, the first human is grouped with the last bot.
func (s *Spawner) SpawnGuild(w *world.World, pop GuildPopulation) ([]*world.Player, error) {
	city := cityBind(pop.Guild)
	out := make([]*world.Player, 0, pop.Humans+pop.Bots)
	var humans []guildhouse.BotID

	for i := 0; i < pop.Humans; i++ {
		p, err := s.spawnOne(w, pop.Guild, false, 0, city)
		if err != nil {
			return out, err
		}
		humans = append(humans, p.ID())
		out = append(out, p)
	}
	for i := 0; i < pop.Bots; i++ {
		var owner guildhouse.BotID
		if len(humans) > 0 {
			owner = humans[i%len(humans)]
		}
		p, err := s.spawnOne(w, pop.Guild, true, owner, city)
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}

	if len(humans) > 0 && pop.Bots >= 2 {
		if _, err := w.Group(humans[0], out[len(out)-1].ID()); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Spawner) spawnOne(w *world.World, guild guildhouse.GuildID, bot bool, owner guildhouse.BotID, city world.Zone) (*world.Player, error) {
	id := s.nextID
	s.nextID++

	cx, cy := city.Center()
	bind := guildhouse.Location{
		MapID:       city.MapID,
		X:           cx + float32(s.rng.Intn(201)-100),
		Y:           cy + float32(s.rng.Intn(201)-100),
		Orientation: s.rng.Float32() * 6.28,
	}
	p := world.NewPlayer(world.PlayerInfo{
		ID:    id,
		Name:  s.generateName(),
		Guild: guild,
		Bot:   bot,
		Owner: owner,
		Bind:  bind,
	})
	if err := w.Add(p); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", p.Name(), err)
	}
	if err := w.Login(id); err != nil {
		return nil, err
	}
	return p, nil
}

// generateName returns a name not yet issued by this spawner.
func (s *Spawner) generateName() string {
	for attempt := 0; attempt < 20; attempt++ {
		firsts := maleNames
		if s.rng.Float32() < 0.5 {
			firsts = femaleNames
		}
		name := firsts[s.rng.Intn(len(firsts))] + " " + lastNames[s.rng.Intn(len(lastNames))]
		if !s.used[name] {
			s.used[name] = true
			return name
		}
	}
	name := fmt.Sprintf("%s %d", maleNames[s.rng.Intn(len(maleNames))], s.nextID)
	s.used[name] = true
	return name
}

var maleNames = []string{
	"Aldric", "Bram", "Cedric", "Doran", "Erik", "Finn", "Gareth",
	"Halvard", "Ivan", "Jasper", "Kael", "Leif", "Magnus", "Nils",
	"Oswin", "Per", "Quinn", "Rowan", "Stellan", "Theron", "Ulric",
	"Varen", "Wren", "Yorick", "Zander", "Arlen", "Beric", "Cade",
	"Dorian", "Edric", "Falk", "Gunnar", "Hugo", "Ivar", "Jorik",
}

var femaleNames = []string{
	"Astrid", "Brenna", "Calla", "Daria", "Elara", "Freya", "Greta",
	"Helene", "Iris", "Juno", "Kira", "Lena", "Mira", "Nessa",
	"Olwen", "Petra", "Runa", "Senna", "Thea", "Una", "Vera",
	"Willa", "Yara", "Zara", "Ava", "Birgit", "Cora", "Dagny",
	"Eira", "Fern", "Gwen", "Hilde", "Inga", "Johanna", "Katla",
}

var lastNames = []string{
	"Voss", "Thornwood", "Blackwood", "Ashford", "Ironhand", "Dunmore",
	"Greenvale", "Stormcrow", "Frostborn", "Hearthstone", "Millward",
	"Copperfield", "Ravenmoor", "Silverdale", "Wolfsbane", "Stoneheart",
	"Deepwell", "Brightwater", "Oakenshield", "Redforge", "Windholm",
	"Marshwood", "Goldhaven", "Nightingale", "Riverstone", "Steelworth",
	"Embercroft", "Holloway", "Dawnridge", "Farrow", "Wyatt", "Thatcher",
	"Briar", "Caldwell", "Frost", "Harper", "Mercer", "Ward", "Cross",
}
