// Package config loads the guild-house server configuration from a YAML
// file and GUILDHOUSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/talgya/guildhouse/internal/guildhouse"
)

// Options are the scheduler and server settings. Each can be set in the
// YAML file and overridden by its environment variable.
type Options struct {
	TeleportCycleFrequency int    `yaml:"teleport_cycle_frequency" env:"GUILDHOUSE_TELEPORT_CYCLE_FREQUENCY"`
	TeleportBatchSize      int    `yaml:"teleport_batch_size" env:"GUILDHOUSE_TELEPORT_BATCH_SIZE"`
	RequireRealPlayer      bool   `yaml:"require_real_player" env:"GUILDHOUSE_REQUIRE_REAL_PLAYER"`
	EntryChancePercent     int    `yaml:"entry_chance_percent" env:"GUILDHOUSE_ENTRY_CHANCE_PERCENT"`
	ExitChancePercent      int    `yaml:"exit_chance_percent" env:"GUILDHOUSE_EXIT_CHANCE_PERCENT"`
	DebugEnabled           bool   `yaml:"debug_enabled" env:"GUILDHOUSE_DEBUG_ENABLED"`
	KeepUnmovedResidents   bool   `yaml:"keep_unmoved_residents" env:"GUILDHOUSE_KEEP_UNMOVED_RESIDENTS"`
	Mode                   string `yaml:"mode" env:"GUILDHOUSE_MODE"`

	DBPath       string        `yaml:"db_path" env:"GUILDHOUSE_DB_PATH"`
	Port         int           `yaml:"port" env:"GUILDHOUSE_PORT"`
	AdminKey     string        `yaml:"-" env:"GUILDHOUSE_ADMIN_KEY"`
	Seed         int64         `yaml:"seed" env:"GUILDHOUSE_SEED"`
	TickInterval time.Duration `yaml:"tick_interval" env:"GUILDHOUSE_TICK_INTERVAL"`
}

// Config is the full server configuration.
type Config struct {
	Options `yaml:",inline"`

	// GuildHouses seed the guild_house table for guilds that have no row.
	GuildHouses []GuildHouseSpec `yaml:"guild_houses"`
	// Guilds describe the simulated population.
	Guilds []GuildSpec `yaml:"guilds"`
}

// GuildHouseSpec is a guild-house destination in the config file.
type GuildHouseSpec struct {
	Guild       uint32  `yaml:"guild"`
	Phase       uint32  `yaml:"phase"`
	Map         uint32  `yaml:"map"`
	X           float32 `yaml:"x"`
	Y           float32 `yaml:"y"`
	Z           float32 `yaml:"z"`
	Orientation float32 `yaml:"orientation"`
}

// GuildSpec describes one simulated guild's online population.
type GuildSpec struct {
	ID     uint32 `yaml:"id"`
	Name   string `yaml:"name"`
	Bots   int    `yaml:"bots"`
	Humans int    `yaml:"humans"`
}

// Defaults returns the stock configuration.
func Defaults() Config {
	return Config{
		Options: Options{
			TeleportCycleFrequency: 120,
			TeleportBatchSize:      5,
			RequireRealPlayer:      true,
			EntryChancePercent:     60,
			ExitChancePercent:      40,
			Mode:                   string(guildhouse.ModeStaggered),
			DBPath:                 "data/guildhouse.db",
			Port:                   8080,
			TickInterval:           time.Second,
		},
		GuildHouses: []GuildHouseSpec{
			{Guild: 1, Phase: 2, Map: 1, X: 16222.0, Y: 16265.0, Z: 14.2, Orientation: 1.57},
			{Guild: 2, Phase: 4, Map: 1, X: 16222.0, Y: 16265.0, Z: 14.2, Orientation: 1.57},
		},
		Guilds: []GuildSpec{
			{ID: 1, Name: "Iron Vanguard", Bots: 12, Humans: 1},
			{ID: 2, Name: "Silver Covenant", Bots: 8, Humans: 0},
		},
	}
}

// Load reads path (optional) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg.Options); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseEnv applies environment variables that are set onto target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Normalize fills in zero values that have an obvious meaning.
func (c *Config) Normalize() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = string(guildhouse.ModeStaggered)
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
}

// Validate checks option ranges.
func (c Config) Validate() error {
	var errs []error
	if c.TeleportCycleFrequency < 1 {
		errs = append(errs, fmt.Errorf("teleport_cycle_frequency must be at least 1 second, got %d", c.TeleportCycleFrequency))
	}
	if c.TeleportBatchSize < 1 {
		errs = append(errs, fmt.Errorf("teleport_batch_size must be at least 1, got %d", c.TeleportBatchSize))
	}
	if c.EntryChancePercent < 0 || c.EntryChancePercent > 100 {
		errs = append(errs, fmt.Errorf("entry_chance_percent must be within [0,100], got %d", c.EntryChancePercent))
	}
	if c.ExitChancePercent < 0 || c.ExitChancePercent > 100 {
		errs = append(errs, fmt.Errorf("exit_chance_percent must be within [0,100], got %d", c.ExitChancePercent))
	}
	switch guildhouse.Mode(c.Mode) {
	case guildhouse.ModeStaggered, guildhouse.ModeMirror:
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", guildhouse.ModeStaggered, guildhouse.ModeMirror, c.Mode))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	seen := map[uint32]bool{}
	for _, g := range c.Guilds {
		if g.ID == 0 {
			errs = append(errs, errors.New("guild id must be non-zero"))
		}
		if seen[g.ID] {
			errs = append(errs, fmt.Errorf("duplicate guild %d", g.ID))
		}
		seen[g.ID] = true
	}
	return errors.Join(errs...)
}

// SchedulerOptions converts the config into scheduler options.
func (c Config) SchedulerOptions() guildhouse.Options {
	return guildhouse.Options{
		CycleFrequency:       time.Duration(c.TeleportCycleFrequency) * time.Second,
		BatchSize:            c.TeleportBatchSize,
		RequireRealPlayer:    c.RequireRealPlayer,
		EntryChancePercent:   c.EntryChancePercent,
		ExitChancePercent:    c.ExitChancePercent,
		Debug:                c.DebugEnabled,
		Mode:                 guildhouse.Mode(c.Mode),
		KeepUnmovedResidents: c.KeepUnmovedResidents,
	}
}

// SeedRecords converts the configured guild houses into store records.
func (c Config) SeedRecords() []guildhouse.Record {
	out := make([]guildhouse.Record, 0, len(c.GuildHouses))
	for _, h := range c.GuildHouses {
		out = append(out, guildhouse.Record{
			GuildID: guildhouse.GuildID(h.Guild),
			Phase:   h.Phase,
			Dest: guildhouse.Location{
				MapID: h.Map, X: h.X, Y: h.Y, Z: h.Z, Orientation: h.Orientation,
			},
		})
	}
	return out
}
