// Package engine provides the fixed-interval update loop that drives the
// simulated world and the guild-house scheduler.
package engine

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// DefaultSaveEvery is the number of ticks between OnSave calls.
const DefaultSaveEvery = 60

// Engine drives the server forward in fixed steps. Tick and speed may be
// read and changed from other goroutines while Run loops.
type Engine struct {
	Interval  time.Duration // Base tick interval (default 1 second)
	SaveEvery uint64        // Ticks between OnSave calls; 0 disables saving

	// OnTick receives the simulated time elapsed since the previous tick.
	OnTick func(tick uint64, diff time.Duration)
	// OnSave runs every SaveEvery ticks.
	OnSave func(tick uint64)

	tick    atomic.Uint64 // monotonic, never resets
	speed   atomic.Uint64 // float64 bits; 1.0 = real-time, 0 = paused
	running atomic.Bool
	now     func() time.Time
	sleep   func(time.Duration)
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	e := &Engine{
		Interval:  time.Second,
		SaveEvery: DefaultSaveEvery,
		now:       time.Now,
		sleep:     time.Sleep,
	}
	e.SetSpeed(1.0)
	return e
}

// Tick returns the current tick counter.
func (e *Engine) Tick() uint64 {
	return e.tick.Load()
}

// Speed returns the speed multiplier.
func (e *Engine) Speed() float64 {
	return math.Float64frombits(e.speed.Load())
}

// SetSpeed changes the speed multiplier; 0 pauses the loop.
func (e *Engine) SetSpeed(speed float64) {
	e.speed.Store(math.Float64bits(speed))
}

// Running reports whether Run is looping.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run starts the update loop. Blocks until Stop() is called.
func (e *Engine) Run() {
	e.running.Store(true)
	slog.Info("engine started", "tick", e.Tick(), "speed", e.Speed(), "interval", e.Interval)

	for e.running.Load() {
		speed := e.Speed()
		if speed <= 0 {
			// Paused: sleep briefly and check again.
			e.sleep(100 * time.Millisecond)
			continue
		}

		start := e.now()

		e.Step(e.Interval)

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := e.now().Sub(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			e.sleep(target - elapsed)
		}
	}

	if e.OnSave != nil {
		e.OnSave(e.Tick())
	}
	slog.Info("engine stopped", "tick", e.Tick())
}

// Stop halts the update loop after the current tick.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Step advances by one tick of diff simulated time.
func (e *Engine) Step(diff time.Duration) {
	tick := e.tick.Add(1)

	if e.OnTick != nil {
		e.OnTick(tick, diff)
	}

	if e.SaveEvery > 0 && tick%e.SaveEvery == 0 && e.OnSave != nil {
		e.OnSave(tick)
	}
}

// Uptime formats a tick count at the given interval as a duration string.
func Uptime(tick uint64, interval time.Duration) string {
	return (time.Duration(tick) * interval).Round(time.Second).String()
}
