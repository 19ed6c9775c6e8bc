package entropy

import "testing"

func TestURandStaysInRange(t *testing.T) {
	src := New(42)
	seen := map[int]bool{}
	for i := 0; i < 1000; i++ {
		v := src.URand(1, 3)
		if v < 1 || v > 3 {
			t.Fatalf("URand(1,3) = %d", v)
		}
		seen[v] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected every value in [1,3], saw %v", seen)
	}
}

func TestURandDegenerateRange(t *testing.T) {
	src := New(1)
	if got := src.URand(4, 4); got != 4 {
		t.Fatalf("URand(4,4) = %d, want 4", got)
	}
	if got := src.URand(5, 2); got != 5 {
		t.Fatalf("URand(5,2) = %d, want 5", got)
	}
}

func TestSameSeedSameSequence(t *testing.T) {
	a, b := New(99), New(99)
	for i := 0; i < 50; i++ {
		if x, y := a.Percent(), b.Percent(); x != y {
			t.Fatalf("draw %d differs: %d vs %d", i, x, y)
		}
	}
}

func TestZeroSeedUsesCrypto(t *testing.T) {
	if New(0).Seed() == 0 {
		t.Fatalf("zero seed should be replaced")
	}
}

func TestChanceBounds(t *testing.T) {
	src := New(7)
	for i := 0; i < 200; i++ {
		if src.Chance(0) {
			t.Fatalf("0%% chance succeeded")
		}
		if !src.Chance(100) {
			t.Fatalf("100%% chance failed")
		}
	}
}
