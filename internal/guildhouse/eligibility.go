package guildhouse

// IsSafeForRelocation reports whether bot may be moved into its guild house
// right now. It has no side effects and must be called fresh every cycle.
func IsSafeForRelocation(bot Character, cls Classifier) bool {
	if bot == nil || !bot.IsInWorld() || !bot.IsAlive() || bot.IsInCombat() {
		return false
	}
	if bot.InBattleground() || bot.InArena() || bot.InRandomDungeon() || bot.InBattlegroundQueue() {
		return false
	}
	if bot.IsInFlight() {
		return false
	}
	if bot.ZoneID() == SanctuaryZoneID {
		return false
	}
	// Never pull a bot away from a human it is grouped with.
	for _, m := range bot.GroupMembers() {
		if m != nil && !cls.IsBot(m) {
			return false
		}
	}
	return true
}

// HasRealPlayerPresent reports whether any connected human belongs to guild.
func HasRealPlayerPresent(players []Character, cls Classifier, guild GuildID) bool {
	for _, p := range players {
		if p != nil && p.GuildID() == guild && !cls.IsBot(p) {
			return true
		}
	}
	return false
}

// cachedClassifier memoises IsBot answers for the duration of one cycle.
type cachedClassifier struct {
	inner Classifier
	seen  map[BotID]bool
}

func newCachedClassifier(inner Classifier) *cachedClassifier {
	return &cachedClassifier{inner: inner, seen: make(map[BotID]bool)}
}

func (c *cachedClassifier) IsBot(ch Character) bool {
	if ch == nil {
		return false
	}
	if v, ok := c.seen[ch.ID()]; ok {
		return v
	}
	v := c.inner.IsBot(ch)
	c.seen[ch.ID()] = v
	return v
}
