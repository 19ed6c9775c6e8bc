package guildhouse

import "slices"

// Residency tracks which bots are believed to be inside each guild house.
// A bot belongs to at most one guild's set at a time.
type Residency struct {
	byGuild map[GuildID][]BotID
	guildOf map[BotID]GuildID
}

// NewResidency returns an empty tracker.
func NewResidency() *Residency {
	return &Residency{
		byGuild: make(map[GuildID][]BotID),
		guildOf: make(map[BotID]GuildID),
	}
}

// Add records id as resident in guild. Adding a bot that is already tracked
// under guild is a no-op; a bot tracked under another guild is moved.
// Reports whether the set for guild changed.
func (r *Residency) Add(guild GuildID, id BotID) bool {
	if g, ok := r.guildOf[id]; ok {
		if g == guild {
			return false
		}
		r.Remove(id)
	}
	r.byGuild[guild] = append(r.byGuild[guild], id)
	r.guildOf[id] = guild
	return true
}

// Remove forgets id. Reports whether it was tracked.
func (r *Residency) Remove(id BotID) bool {
	g, ok := r.guildOf[id]
	if !ok {
		return false
	}
	delete(r.guildOf, id)
	members := r.byGuild[g]
	if i := slices.Index(members, id); i >= 0 {
		members = slices.Delete(members, i, i+1)
	}
	if len(members) == 0 {
		delete(r.byGuild, g)
	} else {
		r.byGuild[g] = members
	}
	return true
}

// Contains reports whether id is tracked under any guild.
func (r *Residency) Contains(id BotID) bool {
	_, ok := r.guildOf[id]
	return ok
}

// GuildOf returns the guild id is tracked under.
func (r *Residency) GuildOf(id BotID) (GuildID, bool) {
	g, ok := r.guildOf[id]
	return g, ok
}

// Len returns the number of residents of guild.
func (r *Residency) Len(guild GuildID) int {
	return len(r.byGuild[guild])
}

// Total returns the number of tracked bots across all guilds.
func (r *Residency) Total() int {
	return len(r.guildOf)
}

// Residents returns a copy of guild's residents in insertion order.
func (r *Residency) Residents(guild GuildID) []BotID {
	return slices.Clone(r.byGuild[guild])
}

// at returns the i-th resident of guild.
func (r *Residency) at(guild GuildID, i int) BotID {
	return r.byGuild[guild][i]
}

// Snapshot returns a copy of every guild's residents.
func (r *Residency) Snapshot() map[GuildID][]BotID {
	out := make(map[GuildID][]BotID, len(r.byGuild))
	for g, ids := range r.byGuild {
		out[g] = slices.Clone(ids)
	}
	return out
}
