package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/guildhouse/internal/guildhouse"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guildhouse.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	opts := cfg.SchedulerOptions()
	if opts != guildhouse.DefaultOptions() {
		t.Fatalf("default options = %+v, want %+v", opts, guildhouse.DefaultOptions())
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, `
teleport_cycle_frequency: 30
teleport_batch_size: 3
entry_chance_percent: 100
mode: Mirror
tick_interval: 250ms
guild_houses:
  - {guild: 9, phase: 3, map: 1, x: 1, y: 2, z: 3, orientation: 0.5}
guilds:
  - {id: 9, name: Ninth, bots: 4, humans: 1}
`)
	t.Setenv("GUILDHOUSE_TELEPORT_BATCH_SIZE", "7")
	t.Setenv("GUILDHOUSE_REQUIRE_REAL_PLAYER", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TeleportCycleFrequency != 30 {
		t.Fatalf("frequency = %d, want 30 from yaml", cfg.TeleportCycleFrequency)
	}
	if cfg.TeleportBatchSize != 7 {
		t.Fatalf("batch = %d, env should win over yaml", cfg.TeleportBatchSize)
	}
	if cfg.RequireRealPlayer {
		t.Fatalf("require_real_player should be overridden by env")
	}
	if cfg.Mode != "mirror" {
		t.Fatalf("mode = %q, want normalized mirror", cfg.Mode)
	}
	if cfg.TickInterval != 250*time.Millisecond {
		t.Fatalf("tick interval = %v", cfg.TickInterval)
	}
	recs := cfg.SeedRecords()
	if len(recs) != 1 || recs[0].GuildID != 9 || recs[0].Phase != 3 || recs[0].Dest.Z != 3 {
		t.Fatalf("seed records = %+v", recs)
	}
	if len(cfg.Guilds) != 1 || cfg.Guilds[0].Bots != 4 {
		t.Fatalf("guilds = %+v", cfg.Guilds)
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := map[string]func(*Config){
		"entry":     func(c *Config) { c.EntryChancePercent = 101 },
		"exit":      func(c *Config) { c.ExitChancePercent = -1 },
		"batch":     func(c *Config) { c.TeleportBatchSize = 0 },
		"frequency": func(c *Config) { c.TeleportCycleFrequency = 0 },
		"mode":      func(c *Config) { c.Mode = "sometimes" },
		"guild":     func(c *Config) { c.Guilds = append(c.Guilds, GuildSpec{ID: 1}) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("GUILDHOUSE_TELEPORT_BATCH_SIZE", "many")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "parse env") {
		t.Fatalf("err = %v, want parse env error", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "guildhouse.yaml"))
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if len(cfg.GuildHouses) != 2 || len(cfg.Guilds) != 2 {
		t.Fatalf("sample config = %+v", cfg)
	}
}
