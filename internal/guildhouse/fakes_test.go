package guildhouse

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

type fakeChar struct {
	id       BotID
	name     string
	guild    GuildID
	bot      bool
	offline  bool
	dead     bool
	combat   bool
	bg       bool
	arena    bool
	lfg      bool
	bgQueue  bool
	flying   bool
	zone     uint32
	phase    uint32
	loc      Location
	bind     Location
	group    []*fakeChar
	messages []string
}

func (c *fakeChar) ID() BotID                 { return c.id }
func (c *fakeChar) Name() string              { return c.name }
func (c *fakeChar) GuildID() GuildID          { return c.guild }
func (c *fakeChar) IsInWorld() bool           { return !c.offline }
func (c *fakeChar) IsAlive() bool             { return !c.dead }
func (c *fakeChar) IsInCombat() bool          { return c.combat }
func (c *fakeChar) InBattleground() bool      { return c.bg }
func (c *fakeChar) InArena() bool             { return c.arena }
func (c *fakeChar) InRandomDungeon() bool     { return c.lfg }
func (c *fakeChar) InBattlegroundQueue() bool { return c.bgQueue }
func (c *fakeChar) IsInFlight() bool          { return c.flying }
func (c *fakeChar) ZoneID() uint32            { return c.zone }
func (c *fakeChar) Location() Location        { return c.loc }

func (c *fakeChar) GroupMembers() []Character {
	if c.group == nil {
		return nil
	}
	out := make([]Character, 0, len(c.group))
	for _, m := range c.group {
		out = append(out, m)
	}
	return out
}

// fakeWorld places anything teleported with a non-default phase inside the
// sanctuary zone and everything else in zone 1.
type fakeWorld struct {
	chars     []*fakeChar
	teleports []BotID
	recalls   []BotID
	failNext  error
}

func newFakeWorld(chars ...*fakeChar) *fakeWorld {
	return &fakeWorld{chars: chars}
}

func (w *fakeWorld) Players() []Character {
	out := make([]Character, 0, len(w.chars))
	for _, c := range w.chars {
		if !c.offline {
			out = append(out, c)
		}
	}
	return out
}

func (w *fakeWorld) FindPlayer(id BotID) (Character, bool) {
	for _, c := range w.chars {
		if c.id == id && !c.offline {
			return c, true
		}
	}
	return nil, false
}

func (w *fakeWorld) char(id BotID) *fakeChar {
	for _, c := range w.chars {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (w *fakeWorld) TeleportTo(id BotID, dest Location, phase uint32) error {
	if err := w.failNext; err != nil {
		w.failNext = nil
		return err
	}
	c := w.char(id)
	if c == nil {
		return errors.New("no such character")
	}
	c.loc = dest
	c.phase = phase
	if phase == DefaultPhase {
		c.zone = 1
	} else {
		c.zone = SanctuaryZoneID
	}
	w.teleports = append(w.teleports, id)
	return nil
}

func (w *fakeWorld) Recall(id BotID) error {
	c := w.char(id)
	if c == nil {
		return errors.New("no such character")
	}
	c.loc = c.bind
	c.zone = 1
	c.phase = DefaultPhase
	w.recalls = append(w.recalls, id)
	return nil
}

func (w *fakeWorld) IsBot(c Character) bool {
	fc, ok := c.(*fakeChar)
	return ok && fc.bot
}

func (w *fakeWorld) Notify(c Character, message string) {
	if fc, ok := c.(*fakeChar); ok {
		fc.messages = append(fc.messages, message)
	}
}

type fakeStore struct {
	records []Record
	err     error
}

func (s *fakeStore) GuildHouses(context.Context) ([]Record, error) {
	return s.records, s.err
}

type fakeRecorder struct {
	moves []Teleport
}

func (r *fakeRecorder) RecordTeleports(_ context.Context, moves []Teleport) error {
	r.moves = append(r.moves, moves...)
	return nil
}

// maxRandom always draws the top of the range: every batch is as large as
// allowed and every roll is 100.
type maxRandom struct {
	calls [][2]int
}

func (r *maxRandom) URand(lo, hi int) int {
	r.calls = append(r.calls, [2]int{lo, hi})
	return hi
}

// minRandom always draws the bottom of the range: batches of one and rolls of 1.
type minRandom struct{}

func (minRandom) URand(lo, _ int) int { return lo }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(opts Options, w *fakeWorld, store *fakeStore, rng Random) (*Scheduler, *fakeRecorder) {
	rec := &fakeRecorder{}
	s := NewScheduler(opts, Deps{
		World:      w,
		Classifier: w,
		Store:      store,
		Notifier:   w,
		Recorder:   rec,
		Random:     rng,
		Logger:     quietLogger(),
	})
	return s, rec
}

func guild12House() Record {
	return Record{ID: 1, GuildID: 12, Phase: 2, Dest: Location{MapID: 1, X: 16222, Y: 16265, Z: 14.2, Orientation: 1.5}}
}

func newBot(id BotID, guild GuildID) *fakeChar {
	return &fakeChar{
		id:    id,
		name:  "bot",
		guild: guild,
		bot:   true,
		zone:  1,
		loc:   Location{MapID: 0, X: float32(id) * 10, Y: float32(id) * 20, Z: 5, Orientation: 0.5},
		bind:  Location{MapID: 0, X: -8833, Y: 628, Z: 94},
	}
}

func newHuman(id BotID, guild GuildID) *fakeChar {
	return &fakeChar{id: id, name: "human", guild: guild, zone: 1}
}
