package engine

import (
	"testing"
	"time"
)

func TestStepCallsHooks(t *testing.T) {
	e := NewEngine()
	e.SaveEvery = 3

	var total time.Duration
	var saves []uint64
	e.OnTick = func(_ uint64, diff time.Duration) { total += diff }
	e.OnSave = func(tick uint64) { saves = append(saves, tick) }

	for i := 0; i < 7; i++ {
		e.Step(time.Second)
	}
	if e.Tick() != 7 {
		t.Fatalf("tick = %d, want 7", e.Tick())
	}
	if total != 7*time.Second {
		t.Fatalf("elapsed = %v, want 7s", total)
	}
	if len(saves) != 2 || saves[0] != 3 || saves[1] != 6 {
		t.Fatalf("saves = %v, want [3 6]", saves)
	}
}

func TestRunStopsAndSaves(t *testing.T) {
	e := NewEngine()
	e.sleep = func(time.Duration) {}

	saved := false
	e.OnTick = func(tick uint64, _ time.Duration) {
		if tick == 5 {
			e.Stop()
		}
	}
	e.OnSave = func(uint64) { saved = true }

	e.Run()
	if e.Tick() != 5 {
		t.Fatalf("tick = %d, want 5", e.Tick())
	}
	if e.Running() {
		t.Fatalf("engine should report stopped")
	}
	if !saved {
		t.Fatalf("Run should save on exit")
	}
}

func TestUptime(t *testing.T) {
	if got := Uptime(90, time.Second); got != "1m30s" {
		t.Fatalf("uptime = %q", got)
	}
}
