package guildhouse

// Random draws uniformly distributed integers.
type Random interface {
	// URand returns an integer in the closed range [lo, hi].
	URand(lo, hi int) int
}

// PartialShuffle moves k items chosen uniformly without replacement to the
// front of items and returns that prefix. items is reordered in place.
// k is clamped to [0, len(items)].
func PartialShuffle[T any](items []T, k int, rng Random) []T {
	if k > len(items) {
		k = len(items)
	}
	if k < 0 {
		k = 0
	}
	for i := 0; i < k; i++ {
		j := rng.URand(i, len(items)-1)
		items[i], items[j] = items[j], items[i]
	}
	return items[:k]
}
