package guildhouse

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openOptions() Options {
	opts := DefaultOptions()
	opts.RequireRealPlayer = false
	opts.EntryChancePercent = 100
	opts.ExitChancePercent = 100
	return opts
}

func TestCycleMovesAllEligibleBotsWithFullChance(t *testing.T) {
	bots := []*fakeChar{newBot(1, 12), newBot(2, 12), newBot(3, 12), newBot(4, 12)}
	w := newFakeWorld(bots...)
	store := &fakeStore{records: []Record{guild12House()}}
	opts := openOptions()
	opts.ExitChancePercent = 0
	s, rec := newTestScheduler(opts, w, store, &maxRandom{})

	before := map[BotID]Location{}
	for _, b := range bots {
		before[b.id] = b.loc
	}

	rep := s.RunCycle(context.Background(), "test")
	if rep.Entered != 4 {
		t.Fatalf("entered %d bots, want 4", rep.Entered)
	}
	// The exit phase ran on the new residents but every roll failed, and an
	// evaluated resident is no longer tracked.
	for _, b := range bots {
		if b.loc != guild12House().Dest || b.phase != 2 {
			t.Fatalf("bot %d at %+v phase %d, want guild house in phase 2", b.id, b.loc, b.phase)
		}
		if len(b.messages) != 1 || b.messages[0] != MsgArrived {
			t.Fatalf("bot %d messages = %v, want one arrival", b.id, b.messages)
		}
		saved, ok := s.Ledger().Lookup(b.id)
		if !ok || saved != before[b.id] {
			t.Fatalf("bot %d ledger = %+v, %v; want %+v", b.id, saved, ok, before[b.id])
		}
	}
	if len(rec.moves) != 4 {
		t.Fatalf("recorded %d moves, want 4", len(rec.moves))
	}
}

func TestCycleResidencyHoldsExactlyTheMovedBots(t *testing.T) {
	bots := []*fakeChar{newBot(1, 12), newBot(2, 12), newBot(3, 12), newBot(4, 12)}
	w := newFakeWorld(bots...)
	store := &fakeStore{records: []Record{guild12House()}}
	s, _ := newTestScheduler(openOptions(), w, store, &maxRandom{})

	// Drive only the entry half so the residency set can be inspected.
	players := w.Players()
	rep := CycleReport{}
	s.enterGuild(guild12House(), players, w, s.staggered(), &rep, quietLogger())

	got := s.Residency().Residents(12)
	if len(got) != 4 {
		t.Fatalf("guild 12 residents = %v, want 4 bots", got)
	}
	for _, b := range bots {
		if g, ok := s.Residency().GuildOf(b.id); !ok || g != 12 {
			t.Fatalf("bot %d not tracked under guild 12", b.id)
		}
	}
}

func TestEntryAttemptsNeverExceedCandidates(t *testing.T) {
	w := newFakeWorld(newBot(1, 12), newBot(2, 12), newBot(3, 12))
	store := &fakeStore{records: []Record{guild12House()}}
	rng := &maxRandom{}
	opts := openOptions()
	opts.BatchSize = 5
	s, _ := newTestScheduler(opts, w, store, rng)

	s.RunCycle(context.Background(), "test")
	if len(rng.calls) == 0 || rng.calls[0] != [2]int{1, 3} {
		t.Fatalf("first draw = %v, want the entry count drawn from [1,3]", rng.calls)
	}
}

func TestEntryRespectsBatchSize(t *testing.T) {
	var bots []*fakeChar
	for i := 1; i <= 10; i++ {
		bots = append(bots, newBot(BotID(i), 12))
	}
	w := newFakeWorld(bots...)
	opts := openOptions()
	opts.BatchSize = 3
	opts.ExitChancePercent = 0
	s, _ := newTestScheduler(opts, w, &fakeStore{records: []Record{guild12House()}}, &maxRandom{})

	rep := s.RunCycle(context.Background(), "test")
	if rep.Entered != 3 {
		t.Fatalf("entered %d, want batch size 3", rep.Entered)
	}
}

func TestFailedEntryRollLeavesBotAlone(t *testing.T) {
	b := newBot(1, 12)
	w := newFakeWorld(b)
	opts := openOptions()
	opts.EntryChancePercent = 0
	s, _ := newTestScheduler(opts, w, &fakeStore{records: []Record{guild12House()}}, minRandom{})

	rep := s.RunCycle(context.Background(), "test")
	if rep.Entered != 0 || len(w.teleports) != 0 || s.Ledger().Len() != 0 {
		t.Fatalf("bot moved despite failed roll: %+v", rep)
	}
	if len(b.messages) != 0 {
		t.Fatalf("unexpected messages %v", b.messages)
	}
}

func TestGatingSkipsGuildWithoutHuman(t *testing.T) {
	resident := newBot(1, 12)
	resident.zone = SanctuaryZoneID
	outside := newBot(2, 12)
	w := newFakeWorld(resident, outside)
	opts := openOptions()
	opts.RequireRealPlayer = true
	s, _ := newTestScheduler(opts, w, &fakeStore{records: []Record{guild12House()}}, &maxRandom{})

	rep := s.RunCycle(context.Background(), "test")
	if rep.GuildsGated != 1 || rep.Entered != 0 || rep.Exited+rep.Recalled != 0 {
		t.Fatalf("gated guild was processed: %+v", rep)
	}
	if len(w.teleports)+len(w.recalls) != 0 {
		t.Fatalf("world saw moves for a gated guild")
	}
	// Passive discovery still happens and the resident stays tracked.
	if !s.Residency().Contains(resident.id) {
		t.Fatalf("resident should remain tracked while the guild is gated")
	}
}

func TestGatingPassesWithHumanOnline(t *testing.T) {
	w := newFakeWorld(newBot(1, 12), newHuman(50, 12))
	opts := openOptions()
	opts.RequireRealPlayer = true
	opts.ExitChancePercent = 0
	s, _ := newTestScheduler(opts, w, &fakeStore{records: []Record{guild12House()}}, &maxRandom{})

	if rep := s.RunCycle(context.Background(), "test"); rep.Entered != 1 {
		t.Fatalf("entered %d, want 1", rep.Entered)
	}
}

func TestRoundTripRestoresExactLocation(t *testing.T) {
	b := newBot(1, 12)
	origin := b.loc
	w := newFakeWorld(b)
	store := &fakeStore{records: []Record{guild12House()}}
	opts := openOptions()
	opts.ExitChancePercent = 0
	opts.KeepUnmovedResidents = true
	s, _ := newTestScheduler(opts, w, store, &maxRandom{})

	s.RunCycle(context.Background(), "enter")
	if b.zone != SanctuaryZoneID {
		t.Fatalf("bot did not enter the guild house")
	}

	s.opts.ExitChancePercent = 100
	rep := s.RunCycle(context.Background(), "exit")
	if rep.Exited != 1 {
		t.Fatalf("exited %d, want 1 (%+v)", rep.Exited, rep)
	}
	if b.loc != origin {
		t.Fatalf("bot returned to %+v, want %+v", b.loc, origin)
	}
	if b.phase != DefaultPhase {
		t.Fatalf("bot left in phase %d, want %d", b.phase, DefaultPhase)
	}
	if _, ok := s.Ledger().Lookup(b.id); ok {
		t.Fatalf("ledger entry should be consumed on exit")
	}
	if got := b.messages[len(b.messages)-1]; got != MsgLeft {
		t.Fatalf("last message %q, want %q", got, MsgLeft)
	}
}

func TestExitWithoutLedgerEntryFallsBackToRecall(t *testing.T) {
	b := newBot(1, 12)
	b.zone = SanctuaryZoneID
	w := newFakeWorld(b)
	// Already inside before the process started: nothing in the ledger.
	s, _ := newTestScheduler(openOptions(), w, &fakeStore{records: []Record{guild12House()}}, &maxRandom{})

	rep := s.RunCycle(context.Background(), "test")
	if rep.Discovered != 1 {
		t.Fatalf("discovered %d, want 1", rep.Discovered)
	}
	if rep.Recalled != 1 || len(w.recalls) != 1 {
		t.Fatalf("recalled %d, want 1", rep.Recalled)
	}
	if len(b.messages) != 1 || b.messages[0] != MsgLeftRecall {
		t.Fatalf("messages = %v, want recall notice", b.messages)
	}
	if s.Residency().Contains(b.id) {
		t.Fatalf("recalled bot should no longer be tracked")
	}
}

func TestExitSkipsDisconnectedResidentButClearsIt(t *testing.T) {
	b := newBot(1, 12)
	w := newFakeWorld(b)
	s, _ := newTestScheduler(openOptions(), w, &fakeStore{records: []Record{guild12House()}}, &maxRandom{})
	s.Residency().Add(12, b.id)
	s.Ledger().Save(b.id, b.loc)
	b.offline = true

	rep := s.RunCycle(context.Background(), "test")
	if rep.Evaluated != 1 || rep.Exited != 0 || rep.Recalled != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if s.Residency().Contains(b.id) {
		t.Fatalf("disconnected resident should be cleared")
	}
	if _, ok := s.Ledger().Lookup(b.id); !ok {
		t.Fatalf("ledger entry of an offline bot must be kept")
	}
}

func TestFailedExitRollUntracksByDefault(t *testing.T) {
	b := newBot(1, 12)
	w := newFakeWorld(b)
	opts := openOptions()
	opts.EntryChancePercent = 0
	opts.ExitChancePercent = 0
	s, _ := newTestScheduler(opts, w, &fakeStore{records: []Record{guild12House()}}, minRandom{})
	s.Residency().Add(12, b.id)

	s.RunCycle(context.Background(), "test")
	if s.Residency().Contains(b.id) {
		t.Fatalf("evaluated resident should be untracked")
	}

	s.opts.KeepUnmovedResidents = true
	s.Residency().Add(12, b.id)
	s.RunCycle(context.Background(), "test")
	if !s.Residency().Contains(b.id) {
		t.Fatalf("resident should stay tracked with KeepUnmovedResidents")
	}
}

func TestReconciliationIsIdempotent(t *testing.T) {
	in := newBot(1, 12)
	in.zone = SanctuaryZoneID
	w := newFakeWorld(in, newBot(2, 12))
	s, _ := newTestScheduler(openOptions(), w, &fakeStore{}, &maxRandom{})

	var first, second CycleReport
	s.reconcile(w.Players(), w, &first, quietLogger())
	snap := s.Residency().Snapshot()
	s.reconcile(w.Players(), w, &second, quietLogger())

	if first.Discovered != 1 || second.Discovered != 0 {
		t.Fatalf("discovered %d then %d, want 1 then 0", first.Discovered, second.Discovered)
	}
	if got := s.Residency().Snapshot(); len(got[12]) != len(snap[12]) || len(got[12]) != 1 {
		t.Fatalf("residency changed on second pass: %v -> %v", snap, got)
	}
}

func TestLedgerReconcileDropsOnlyUnclaimableEntries(t *testing.T) {
	wandered := newBot(1, 12)
	offline := newBot(2, 12)
	offline.offline = true
	inside := newBot(3, 12)
	inside.zone = SanctuaryZoneID
	w := newFakeWorld(wandered, offline, inside)
	s, _ := newTestScheduler(openOptions(), w, &fakeStore{}, &maxRandom{})
	for _, b := range []*fakeChar{wandered, offline, inside} {
		s.Ledger().Save(b.id, b.loc)
	}

	var rep CycleReport
	s.reconcile(w.Players(), w, &rep, quietLogger())
	if rep.LedgerDropped != 1 {
		t.Fatalf("dropped %d, want 1", rep.LedgerDropped)
	}
	if _, ok := s.Ledger().Lookup(wandered.id); ok {
		t.Fatalf("entry of a connected bot outside the guild house should be dropped")
	}

	s.Ledger().Save(wandered.id, wandered.loc)
	var later CycleReport
	s.reconcile(w.Players(), w, &later, quietLogger())
	if later.LedgerDropped != 0 {
		t.Fatalf("later pass dropped %d entries, want 0", later.LedgerDropped)
	}
	if _, ok := s.Ledger().Lookup(wandered.id); !ok {
		t.Fatalf("saved location expired after startup")
	}
}

func TestGuildlessBotsAreNotDiscovered(t *testing.T) {
	loner := newBot(1, 0)
	loner.zone = SanctuaryZoneID
	w := newFakeWorld(loner)
	s, _ := newTestScheduler(openOptions(), w, &fakeStore{}, &maxRandom{})

	var rep CycleReport
	s.reconcile(w.Players(), w, &rep, quietLogger())
	if rep.Discovered != 0 || s.Residency().Total() != 0 {
		t.Fatalf("guildless bot tracked: discovered %d, total %d", rep.Discovered, s.Residency().Total())
	}
}

func TestDuplicateRecordsFirstWins(t *testing.T) {
	b := newBot(1, 12)
	w := newFakeWorld(b)
	second := guild12House()
	second.ID = 2
	second.Dest.X = 1
	opts := openOptions()
	opts.ExitChancePercent = 0
	s, _ := newTestScheduler(opts, w, &fakeStore{records: []Record{guild12House(), second}}, &maxRandom{})

	rep := s.RunCycle(context.Background(), "test")
	if rep.GuildsProcessed != 1 {
		t.Fatalf("processed %d guilds, want 1", rep.GuildsProcessed)
	}
	if b.loc != guild12House().Dest {
		t.Fatalf("bot sent to %+v, want first record", b.loc)
	}
}

func TestMalformedRecordSkipsOnlyThatGuild(t *testing.T) {
	bad := newBot(1, 12)
	good := newBot(2, 40)
	w := newFakeWorld(bad, good)
	broken := guild12House()
	broken.Problem = errors.New("positionX is NULL")
	other := Record{ID: 3, GuildID: 40, Phase: 3, Dest: Location{MapID: 1, X: 5}}
	opts := openOptions()
	opts.ExitChancePercent = 0
	s, _ := newTestScheduler(opts, w, &fakeStore{records: []Record{broken, other}}, &maxRandom{})

	rep := s.RunCycle(context.Background(), "test")
	if rep.GuildsSkipped != 1 || rep.Entered != 1 {
		t.Fatalf("report %+v, want one skipped guild and one entry", rep)
	}
	if bad.zone == SanctuaryZoneID || good.zone != SanctuaryZoneID {
		t.Fatalf("wrong bot moved: bad zone %d, good zone %d", bad.zone, good.zone)
	}
}

func TestStoreFailureDoesNotAbortCycle(t *testing.T) {
	in := newBot(1, 12)
	in.zone = SanctuaryZoneID
	w := newFakeWorld(in)
	s, _ := newTestScheduler(openOptions(), w, &fakeStore{err: errors.New("db locked")}, &maxRandom{})

	rep := s.RunCycle(context.Background(), "test")
	if rep.Discovered != 1 || s.Stats().Cycles != 1 {
		t.Fatalf("cycle should still reconcile and finish: %+v", rep)
	}
}

func TestTeleportFailureKeepsLedgerClean(t *testing.T) {
	b := newBot(1, 12)
	w := newFakeWorld(b)
	w.failNext = errors.New("map not loaded")
	s, _ := newTestScheduler(openOptions(), w, &fakeStore{records: []Record{guild12House()}}, &maxRandom{})

	rep := s.RunCycle(context.Background(), "test")
	if rep.Entered != 0 || s.Ledger().Len() != 0 || s.Residency().Contains(b.id) {
		t.Fatalf("failed teleport left bookkeeping behind: %+v", rep)
	}
}

func TestUpdateRunsOnlyWhenPeriodElapses(t *testing.T) {
	w := newFakeWorld(newBot(1, 12))
	opts := openOptions()
	opts.CycleFrequency = 10 * time.Second
	s, _ := newTestScheduler(opts, w, &fakeStore{records: []Record{guild12House()}}, &maxRandom{})

	ctx := context.Background()
	for i := 0; i < 9; i++ {
		if _, ran := s.Update(ctx, time.Second); ran {
			t.Fatalf("cycle ran after %ds", i+1)
		}
	}
	if left := s.NextCycleIn(); left != time.Second {
		t.Fatalf("next cycle in %v, want 1s", left)
	}
	if _, ran := s.Update(ctx, time.Second); !ran {
		t.Fatalf("cycle should run once the period elapses")
	}
	if s.NextCycleIn() != opts.CycleFrequency {
		t.Fatalf("timer should reset after a cycle")
	}
}

func TestMirrorModeFollowsHuman(t *testing.T) {
	h := newHuman(50, 12)
	bots := []*fakeChar{newBot(1, 12), newBot(2, 12), newBot(3, 12)}
	w := newFakeWorld(append([]*fakeChar{h}, bots...)...)
	opts := DefaultOptions()
	opts.Mode = ModeMirror
	opts.BatchSize = 1
	opts.EntryChancePercent = 0
	opts.ExitChancePercent = 0
	s, _ := newTestScheduler(opts, w, &fakeStore{records: []Record{guild12House()}}, minRandom{})
	ctx := context.Background()

	if _, ran := s.Update(ctx, time.Hour); ran {
		t.Fatalf("timer must not drive mirror mode")
	}

	h.zone = SanctuaryZoneID
	rep, ok := s.OnZoneChange(ctx, h, SanctuaryZoneID)
	if !ok || rep.Entered != 3 {
		t.Fatalf("mirror entry moved %d bots, want all 3", rep.Entered)
	}

	h.zone = 1
	rep, _ = s.OnZoneChange(ctx, h, 1)
	if rep.Exited != 3 {
		t.Fatalf("mirror exit moved %d bots, want all 3", rep.Exited)
	}
	for _, b := range bots {
		if b.zone == SanctuaryZoneID {
			t.Fatalf("bot %d still inside", b.id)
		}
	}
}

func TestMirrorModeIgnoresBotsAndStaggeredMode(t *testing.T) {
	b := newBot(1, 12)
	w := newFakeWorld(b)
	opts := DefaultOptions()
	opts.Mode = ModeMirror
	s, _ := newTestScheduler(opts, w, &fakeStore{records: []Record{guild12House()}}, minRandom{})
	if _, ok := s.OnLogin(context.Background(), b); ok {
		t.Fatalf("bot logins must not trigger mirroring")
	}

	s2, _ := newTestScheduler(DefaultOptions(), w, &fakeStore{}, minRandom{})
	if _, ok := s2.OnLogin(context.Background(), newHuman(2, 12)); ok {
		t.Fatalf("staggered mode must ignore login events")
	}
}
