package guildhouse

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// DefaultPhase is the visibility phase a bot returns to when it leaves.
const DefaultPhase uint32 = 1

// Mode selects what drives the scheduler.
type Mode string

const (
	// ModeStaggered moves random batches on a fixed timer.
	ModeStaggered Mode = "staggered"
	// ModeMirror moves every eligible bot when a human of the guild logs in
	// or changes zone, following the human into or out of the guild house.
	ModeMirror Mode = "mirror"
)

// Options controls a Scheduler.
type Options struct {
	CycleFrequency     time.Duration
	BatchSize          int
	RequireRealPlayer  bool
	EntryChancePercent int
	ExitChancePercent  int
	Debug              bool
	Mode               Mode

	// KeepUnmovedResidents keeps a resident tracked when its exit roll
	// fails. Off by default: an evaluated resident is always untracked.
	KeepUnmovedResidents bool
}

// DefaultOptions returns the stock configuration.
func DefaultOptions() Options {
	return Options{
		CycleFrequency:     120 * time.Second,
		BatchSize:          5,
		RequireRealPlayer:  true,
		EntryChancePercent: 60,
		ExitChancePercent:  40,
		Mode:               ModeStaggered,
	}
}

// Deps are the collaborators a Scheduler works through.
type Deps struct {
	World      World
	Classifier Classifier
	Store      Store
	Notifier   Notifier
	Recorder   Recorder     // optional
	Random     Random       // defaults to math/rand/v2
	Logger     *slog.Logger // defaults to slog.Default()
}

// CycleReport summarises one scheduler pass.
type CycleReport struct {
	ID              string     `json:"id"`
	Trigger         string     `json:"trigger"`
	At              time.Time  `json:"at"`
	Discovered      int        `json:"discovered"`
	LedgerDropped   int        `json:"ledger_dropped"`
	GuildsProcessed int        `json:"guilds_processed"`
	GuildsGated     int        `json:"guilds_gated"`
	GuildsSkipped   int        `json:"guilds_skipped"`
	Entered         int        `json:"entered"`
	Evaluated       int        `json:"evaluated"`
	Exited          int        `json:"exited"`
	Recalled        int        `json:"recalled"`
	Moves           []Teleport `json:"-"`
}

// Stats accumulates totals across cycles.
type Stats struct {
	Cycles    uint64      `json:"cycles"`
	Entered   uint64      `json:"entered"`
	Exited    uint64      `json:"exited"`
	Recalled  uint64      `json:"recalled"`
	LastCycle CycleReport `json:"last_cycle"`
}

// Scheduler owns the ledger and residency state and runs teleport cycles.
// It is not safe for concurrent use: the host must serialise calls.
type Scheduler struct {
	opts       Options
	world      World
	classifier Classifier
	store      Store
	notifier   Notifier
	recorder   Recorder
	rng        Random
	log        *slog.Logger

	ledger    *Ledger
	residency *Residency
	// swept is set once the ledger has been reconciled after startup.
	swept bool

	elapsed time.Duration
	stats   Stats
	now     func() time.Time
}

// NewScheduler builds a scheduler with empty bookkeeping.
func NewScheduler(opts Options, deps Deps) *Scheduler {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.Mode == "" {
		opts.Mode = ModeStaggered
	}
	s := &Scheduler{
		opts:       opts,
		world:      deps.World,
		classifier: deps.Classifier,
		store:      deps.Store,
		notifier:   deps.Notifier,
		recorder:   deps.Recorder,
		rng:        deps.Random,
		log:        deps.Logger,
		ledger:     NewLedger(),
		residency:  NewResidency(),
		now:        time.Now,
	}
	if s.rng == nil {
		s.rng = stdRandom{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	return s
}

// Options returns the scheduler's configuration.
func (s *Scheduler) Options() Options { return s.opts }

// Ledger exposes the saved-location ledger.
func (s *Scheduler) Ledger() *Ledger { return s.ledger }

// Residency exposes the guild-house residency tracker.
func (s *Scheduler) Residency() *Residency { return s.residency }

// Stats returns totals across all cycles so far.
func (s *Scheduler) Stats() Stats { return s.stats }

// NextCycleIn returns the time left until the timer fires.
func (s *Scheduler) NextCycleIn() time.Duration {
	if s.opts.Mode != ModeStaggered {
		return 0
	}
	if left := s.opts.CycleFrequency - s.elapsed; left > 0 {
		return left
	}
	return 0
}

// Update advances the cycle timer by diff and runs a cycle once the
// configured period has elapsed. It reports whether a cycle ran.
func (s *Scheduler) Update(ctx context.Context, diff time.Duration) (CycleReport, bool) {
	if s.opts.Mode != ModeStaggered {
		return CycleReport{}, false
	}
	s.elapsed += diff
	if s.elapsed < s.opts.CycleFrequency {
		return CycleReport{}, false
	}
	s.elapsed = 0
	return s.RunCycle(ctx, "timer"), true
}

// policy decides how many bots a phase moves and with what chance.
type policy struct {
	all         bool
	entryChance int
	exitChance  int
}

func (s *Scheduler) staggered() policy {
	return policy{entryChance: s.opts.EntryChancePercent, exitChance: s.opts.ExitChancePercent}
}

func mirrored() policy {
	return policy{all: true, entryChance: 100, exitChance: 100}
}

func (p policy) count(n, batch int, rng Random) int {
	if p.all {
		return n
	}
	return rng.URand(1, min(n, batch))
}

// RunCycle performs one full reconciliation, entry and exit pass.
func (s *Scheduler) RunCycle(ctx context.Context, trigger string) CycleReport {
	rep, log := s.begin(trigger)
	players := s.world.Players()
	cls := newCachedClassifier(s.classifier)
	s.reconcile(players, cls, &rep, log)
	s.debug(log, "cycle start", "players", len(players))

	records, err := s.store.GuildHouses(ctx)
	if err != nil {
		log.Error("guild house query failed", "error", err)
	}

	seen := make(map[GuildID]bool, len(records))
	var touched []GuildID
	for _, rec := range records {
		if seen[rec.GuildID] {
			continue
		}
		seen[rec.GuildID] = true
		if err := rec.Validate(); err != nil {
			log.Warn("skipping guild house", "guild", rec.GuildID, "error", err)
			rep.GuildsSkipped++
			continue
		}
		s.debug(log, "processing guild", "guild", rec.GuildID)
		if s.opts.RequireRealPlayer && !HasRealPlayerPresent(players, cls, rec.GuildID) {
			s.debug(log, "no real player online", "guild", rec.GuildID)
			rep.GuildsGated++
			continue
		}
		touched = append(touched, rec.GuildID)
		rep.GuildsProcessed++
		s.enterGuild(rec, players, cls, s.staggered(), &rep, log)
	}

	for _, guild := range touched {
		s.exitGuild(guild, s.staggered(), &rep, log)
	}

	s.finish(ctx, &rep, log)
	return rep
}

// OnLogin reacts to a character entering the world. Mirror mode only.
func (s *Scheduler) OnLogin(ctx context.Context, c Character) (CycleReport, bool) {
	if c == nil {
		return CycleReport{}, false
	}
	return s.mirror(ctx, c, c.ZoneID(), "login")
}

// OnZoneChange reacts to a character arriving in zone. Mirror mode only.
func (s *Scheduler) OnZoneChange(ctx context.Context, c Character, zone uint32) (CycleReport, bool) {
	return s.mirror(ctx, c, zone, "zone")
}

func (s *Scheduler) mirror(ctx context.Context, c Character, zone uint32, trigger string) (CycleReport, bool) {
	if s.opts.Mode != ModeMirror || c == nil || c.GuildID() == 0 || s.classifier.IsBot(c) {
		return CycleReport{}, false
	}
	guild := c.GuildID()
	rep, log := s.begin(trigger)
	players := s.world.Players()
	cls := newCachedClassifier(s.classifier)
	s.reconcile(players, cls, &rep, log)

	if zone == SanctuaryZoneID {
		rec, ok := s.findRecord(ctx, guild, &rep, log)
		if ok {
			rep.GuildsProcessed++
			s.enterGuild(rec, players, cls, mirrored(), &rep, log)
		}
	} else if !humanInSanctuary(players, cls, guild) {
		rep.GuildsProcessed++
		s.exitGuild(guild, mirrored(), &rep, log)
	}

	s.finish(ctx, &rep, log)
	return rep, true
}

// findRecord returns the first usable record for guild.
func (s *Scheduler) findRecord(ctx context.Context, guild GuildID, rep *CycleReport, log *slog.Logger) (Record, bool) {
	records, err := s.store.GuildHouses(ctx)
	if err != nil {
		log.Error("guild house query failed", "error", err)
		return Record{}, false
	}
	for _, rec := range records {
		if rec.GuildID != guild {
			continue
		}
		if err := rec.Validate(); err != nil {
			log.Warn("skipping guild house", "guild", guild, "error", err)
			rep.GuildsSkipped++
			return Record{}, false
		}
		return rec, true
	}
	return Record{}, false
}

func humanInSanctuary(players []Character, cls Classifier, guild GuildID) bool {
	for _, p := range players {
		if p != nil && p.GuildID() == guild && !cls.IsBot(p) && p.ZoneID() == SanctuaryZoneID {
			return true
		}
	}
	return false
}

func (s *Scheduler) begin(trigger string) (CycleReport, *slog.Logger) {
	rep := CycleReport{ID: uuid.NewString(), Trigger: trigger, At: s.now()}
	return rep, s.log.With("cycle", rep.ID)
}

// reconcile re-discovers bots already standing in a guild house. The first
// pass after startup also drops ledger entries nobody can claim any more;
// later passes leave the ledger alone so saved locations never expire.
func (s *Scheduler) reconcile(players []Character, cls Classifier, rep *CycleReport, log *slog.Logger) {
	online := make(map[BotID]Character, len(players))
	for _, c := range players {
		if c == nil {
			continue
		}
		online[c.ID()] = c
		if c.GuildID() == 0 || !cls.IsBot(c) || c.ZoneID() != SanctuaryZoneID {
			continue
		}
		if s.residency.Add(c.GuildID(), c.ID()) {
			rep.Discovered++
			s.debug(log, "discovered existing bot in guild house", "bot", c.Name(), "guild", c.GuildID())
		}
	}

	if s.swept {
		return
	}
	s.swept = true
	rep.LedgerDropped = s.ledger.Reconcile(func(id BotID) bool {
		c, ok := online[id]
		return !ok || s.residency.Contains(id) || c.ZoneID() == SanctuaryZoneID
	})
}

func (s *Scheduler) enterGuild(rec Record, players []Character, cls Classifier, p policy, rep *CycleReport, log *slog.Logger) {
	var candidates []Character
	for _, c := range players {
		if c == nil || c.GuildID() != rec.GuildID || !cls.IsBot(c) || !IsSafeForRelocation(c, cls) {
			continue
		}
		candidates = append(candidates, c)
		s.debug(log, "candidate bot", "bot", c.Name(), "id", c.ID())
	}
	if len(candidates) == 0 {
		return
	}

	count := p.count(len(candidates), s.opts.BatchSize, s.rng)
	for _, bot := range PartialShuffle(candidates, count, s.rng) {
		if !s.roll(p.entryChance, "entry roll", bot, log) {
			continue
		}
		s.moveIn(bot, rec, rep, log)
	}
}

func (s *Scheduler) moveIn(bot Character, rec Record, rep *CycleReport, log *slog.Logger) {
	id := bot.ID()
	from := bot.Location()
	s.ledger.Save(id, from)
	if err := s.world.TeleportTo(id, rec.Dest, rec.Phase); err != nil {
		s.ledger.TakeAndRemove(id)
		log.Warn("teleport into guild house failed", "bot", bot.Name(), "guild", rec.GuildID, "error", err)
		return
	}
	s.notifier.Notify(bot, MsgArrived)
	s.residency.Add(rec.GuildID, id)
	rep.Entered++
	rep.Moves = append(rep.Moves, Teleport{
		Cycle: rep.ID, Bot: id, BotName: bot.Name(), Guild: rec.GuildID,
		Direction: DirectionIn, Method: MethodTeleport, From: from, To: rec.Dest,
	})
	s.debug(log, "teleported in", "bot", bot.Name(), "guild", rec.GuildID)
}

func (s *Scheduler) exitGuild(guild GuildID, p policy, rep *CycleReport, log *slog.Logger) {
	n := s.residency.Len(guild)
	if n == 0 {
		return
	}

	var kept []BotID
	count := p.count(n, s.opts.BatchSize, s.rng)
	for i := 0; i < count && s.residency.Len(guild) > 0; i++ {
		id := s.residency.at(guild, s.rng.URand(0, s.residency.Len(guild)-1))
		if bot, ok := s.world.FindPlayer(id); ok && bot.IsInWorld() {
			if s.roll(p.exitChance, "exit roll", bot, log) {
				s.moveOut(bot, guild, rep, log)
			} else if s.opts.KeepUnmovedResidents {
				kept = append(kept, id)
			}
		}
		s.residency.Remove(id)
		rep.Evaluated++
	}

	for _, id := range kept {
		s.residency.Add(guild, id)
	}
}

func (s *Scheduler) moveOut(bot Character, guild GuildID, rep *CycleReport, log *slog.Logger) {
	id := bot.ID()
	from := bot.Location()
	if loc, ok := s.ledger.TakeAndRemove(id); ok {
		if err := s.world.TeleportTo(id, loc, DefaultPhase); err != nil {
			s.ledger.Save(id, loc)
			log.Warn("teleport out of guild house failed", "bot", bot.Name(), "guild", guild, "error", err)
			return
		}
		s.notifier.Notify(bot, MsgLeft)
		rep.Exited++
		rep.Moves = append(rep.Moves, Teleport{
			Cycle: rep.ID, Bot: id, BotName: bot.Name(), Guild: guild,
			Direction: DirectionOut, Method: MethodLedger, From: from, To: loc,
		})
		s.debug(log, "teleported out", "bot", bot.Name(), "guild", guild)
		return
	}

	if err := s.world.Recall(id); err != nil {
		log.Warn("recall out of guild house failed", "bot", bot.Name(), "guild", guild, "error", err)
		return
	}
	s.notifier.Notify(bot, MsgLeftRecall)
	rep.Recalled++
	to := from
	if c, ok := s.world.FindPlayer(id); ok {
		to = c.Location()
	}
	rep.Moves = append(rep.Moves, Teleport{
		Cycle: rep.ID, Bot: id, BotName: bot.Name(), Guild: guild,
		Direction: DirectionOut, Method: MethodRecall, From: from, To: to,
	})
	s.debug(log, "fallback exit using recall", "bot", bot.Name(), "guild", guild)
}

// roll draws a percentage in [1, 100] and reports whether it is within chance.
func (s *Scheduler) roll(chance int, what string, bot Character, log *slog.Logger) bool {
	r := s.rng.URand(1, 100)
	s.debug(log, what, "roll", r, "chance", chance, "bot", bot.Name())
	return r <= chance
}

func (s *Scheduler) finish(ctx context.Context, rep *CycleReport, log *slog.Logger) {
	if s.recorder != nil && len(rep.Moves) > 0 {
		if err := s.recorder.RecordTeleports(ctx, rep.Moves); err != nil {
			log.Error("record teleports failed", "error", err)
		}
	}

	s.stats.Cycles++
	s.stats.Entered += uint64(rep.Entered)
	s.stats.Exited += uint64(rep.Exited)
	s.stats.Recalled += uint64(rep.Recalled)
	s.stats.LastCycle = *rep
	s.stats.LastCycle.Moves = nil

	attrs := []any{
		"trigger", rep.Trigger,
		"guilds", rep.GuildsProcessed,
		"gated", rep.GuildsGated,
		"entered", rep.Entered,
		"exited", rep.Exited,
		"recalled", rep.Recalled,
		"residents", s.residency.Total(),
	}
	if rep.Entered+rep.Exited+rep.Recalled > 0 {
		log.Info("guild house cycle", attrs...)
	} else {
		s.debug(log, "guild house cycle", attrs...)
	}
}

func (s *Scheduler) debug(log *slog.Logger, msg string, args ...any) {
	if s.opts.Debug {
		log.Debug(msg, args...)
	}
}

type stdRandom struct{}

func (stdRandom) URand(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Character, string) {}
