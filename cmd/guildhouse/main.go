// Command guildhouse runs the bot guild-house scheduler against a simulated
// host world and serves its state over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/talgya/guildhouse/internal/agents"
	"github.com/talgya/guildhouse/internal/api"
	"github.com/talgya/guildhouse/internal/config"
	"github.com/talgya/guildhouse/internal/engine"
	"github.com/talgya/guildhouse/internal/entropy"
	"github.com/talgya/guildhouse/internal/guildhouse"
	"github.com/talgya/guildhouse/internal/persistence"
	"github.com/talgya/guildhouse/internal/world"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	var port int
	var dbPath string
	var seed int64
	var mode string
	var debug bool

	flagSet := pflag.NewFlagSet("guildhouse", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flagSet.IntVar(&port, "port", 0, "HTTP API port (overrides config)")
	flagSet.StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	flagSet.Int64Var(&seed, "seed", 0, "random seed; 0 picks one (overrides config)")
	flagSet.StringVar(&mode, "mode", "", `scheduler mode: "staggered" or "mirror" (overrides config)`)
	flagSet.BoolVar(&debug, "debug", false, "log every scheduler decision")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagSet.Changed("port") {
		cfg.Port = port
	}
	if flagSet.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flagSet.Changed("seed") {
		cfg.Seed = seed
	}
	if flagSet.Changed("mode") {
		cfg.Mode = mode
	}
	if flagSet.Changed("debug") {
		cfg.DebugEnabled = debug
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.DebugEnabled {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	added, err := db.SeedGuildHouses(ctx, cfg.SeedRecords())
	if err != nil {
		return fmt.Errorf("seed guild houses: %w", err)
	}
	if added > 0 {
		slog.Info("guild houses seeded from config", "added", added)
	}
	if prev, err := db.GetMeta("cycles_run"); err == nil {
		last, _ := db.GetMeta("last_cycle_at")
		slog.Info("previous run", "cycles", prev, "last_cycle_at", last)
	}

	// ── World ─────────────────────────────────────────────────────────
	rng := entropy.New(cfg.Seed)
	w := world.New(world.NewTerrain(rng.Seed()), rng)
	spawner := agents.NewSpawner(rng.Seed())
	for _, g := range cfg.Guilds {
		pop := agents.GuildPopulation{Guild: guildhouse.GuildID(g.ID), Name: g.Name, Bots: g.Bots, Humans: g.Humans}
		if _, err := spawner.SpawnGuild(w, pop); err != nil {
			return fmt.Errorf("spawn guild %d: %w", g.ID, err)
		}
		slog.Info("guild online", "guild", g.ID, "name", g.Name, "bots", g.Bots, "humans", g.Humans)
	}
	online, bots := w.Online()
	slog.Info("world ready", "seed", rng.Seed(), "online", online, "bots", bots)

	// ── Scheduler ─────────────────────────────────────────────────────
	sched := guildhouse.NewScheduler(cfg.SchedulerOptions(), guildhouse.Deps{
		World:      w,
		Classifier: w,
		Store:      db,
		Notifier:   w,
		Recorder:   db,
		Random:     rng,
		Logger:     logger.With("component", "guildhouse"),
	})
	// Both hooks run on the engine goroutine with the world lock held.
	w.OnLogin = func(p *world.Player) { sched.OnLogin(ctx, p) }
	w.OnZoneChange = func(p *world.Player, _, to uint32) { sched.OnZoneChange(ctx, p, to) }

	opts := sched.Options()
	slog.Info("scheduler ready",
		"mode", opts.Mode,
		"cycle_frequency", opts.CycleFrequency,
		"batch_size", opts.BatchSize,
		"require_real_player", opts.RequireRealPlayer,
		"entry_chance", opts.EntryChancePercent,
		"exit_chance", opts.ExitChancePercent,
	)

	// ── Engine ────────────────────────────────────────────────────────
	var mu sync.Mutex
	stepCfg := world.DefaultStepConfig()
	eng := engine.NewEngine()
	eng.Interval = cfg.TickInterval
	eng.OnTick = func(_ uint64, diff time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		w.Step(stepCfg)
		sched.Update(ctx, diff)
	}
	eng.OnSave = func(uint64) {
		mu.Lock()
		stats := sched.Stats()
		mu.Unlock()
		if err := db.SaveSchedulerStats(stats); err != nil {
			slog.Error("stats save failed", "error", err)
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("GUILDHOUSE_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	apiServer := &api.Server{
		Sched:    sched,
		World:    w,
		Eng:      eng,
		DB:       db,
		Port:     cfg.Port,
		AdminKey: cfg.AdminKey,
		Lock:     &mu,
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		eng.Stop()
	}()

	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.Port)
	eng.Run()

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	fmt.Println("Scheduler stopped. Stats saved.")
	return nil
}
