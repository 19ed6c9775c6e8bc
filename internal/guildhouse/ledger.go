package guildhouse

// Ledger remembers where each bot stood before it was moved into a guild
// house. There is at most one entry per bot; entries never expire on their own.
type Ledger struct {
	entries map[BotID]Location
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[BotID]Location)}
}

// Save stores loc for id, replacing any earlier entry.
func (l *Ledger) Save(id BotID, loc Location) {
	l.entries[id] = loc
}

// Lookup returns the saved location for id without removing it.
func (l *Ledger) Lookup(id BotID) (Location, bool) {
	loc, ok := l.entries[id]
	return loc, ok
}

// TakeAndRemove returns the saved location for id and deletes it.
func (l *Ledger) TakeAndRemove(id BotID) (Location, bool) {
	loc, ok := l.entries[id]
	if ok {
		delete(l.entries, id)
	}
	return loc, ok
}

// Len returns the number of saved locations.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Reconcile drops every entry for which keep returns false and reports how
// many were dropped.
func (l *Ledger) Reconcile(keep func(BotID) bool) int {
	dropped := 0
	for id := range l.entries {
		if !keep(id) {
			delete(l.entries, id)
			dropped++
		}
	}
	return dropped
}

// Snapshot returns a copy of all entries.
func (l *Ledger) Snapshot() map[BotID]Location {
	out := make(map[BotID]Location, len(l.entries))
	for id, loc := range l.entries {
		out[id] = loc
	}
	return out
}
