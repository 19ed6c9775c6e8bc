// Package persistence provides SQLite-backed storage for guild-house
// destinations, the teleport audit log and scheduler metadata.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/guildhouse/internal/guildhouse"
)

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// guild_house columns are nullable; incomplete rows surface as Record.Problem.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS guild_house (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild INTEGER,
		phase INTEGER,
		map INTEGER,
		positionX REAL,
		positionY REAL,
		positionZ REAL,
		orientation REAL
	);

	CREATE TABLE IF NOT EXISTS teleport_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle TEXT NOT NULL,
		bot INTEGER NOT NULL,
		bot_name TEXT NOT NULL,
		guild INTEGER NOT NULL,
		direction TEXT NOT NULL,
		method TEXT NOT NULL,
		from_json TEXT NOT NULL,
		to_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_guild_house_guild ON guild_house(guild);
	CREATE INDEX IF NOT EXISTS idx_teleport_events_bot ON teleport_events(bot);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type guildHouseRow struct {
	ID          int64           `db:"id"`
	Guild       sql.NullInt64   `db:"guild"`
	Phase       sql.NullInt64   `db:"phase"`
	Map         sql.NullInt64   `db:"map"`
	X           sql.NullFloat64 `db:"position_x"`
	Y           sql.NullFloat64 `db:"position_y"`
	Z           sql.NullFloat64 `db:"position_z"`
	Orientation sql.NullFloat64 `db:"orientation"`
}

func (r guildHouseRow) record() guildhouse.Record {
	rec := guildhouse.Record{
		ID:      r.ID,
		GuildID: guildhouse.GuildID(r.Guild.Int64),
		Phase:   uint32(r.Phase.Int64),
		Dest: guildhouse.Location{
			MapID:       uint32(r.Map.Int64),
			X:           float32(r.X.Float64),
			Y:           float32(r.Y.Float64),
			Z:           float32(r.Z.Float64),
			Orientation: float32(r.Orientation.Float64),
		},
	}
	var missing []string
	for name, valid := range map[string]bool{
		"guild": r.Guild.Valid, "phase": r.Phase.Valid, "map": r.Map.Valid,
		"positionX": r.X.Valid, "positionY": r.Y.Valid, "positionZ": r.Z.Valid,
		"orientation": r.Orientation.Valid,
	} {
		if !valid {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		rec.Problem = fmt.Errorf("null columns %v", missing)
	} else if r.Phase.Int64 < 0 || r.Map.Int64 < 0 || r.Guild.Int64 < 0 {
		rec.Problem = errors.New("negative id column")
	}
	return rec
}

// houseArgs returns the insert arguments for rec in column order,
// starting with guild.
func houseArgs(rec guildhouse.Record) []any {
	return []any{
		int64(rec.GuildID), int64(rec.Phase), int64(rec.Dest.MapID),
		float64(rec.Dest.X), float64(rec.Dest.Y), float64(rec.Dest.Z), float64(rec.Dest.Orientation),
	}
}

const selectGuildHouses = `SELECT id, guild, phase, map,
	positionX AS position_x, positionY AS position_y, positionZ AS position_z, orientation
	FROM guild_house ORDER BY id`

// GuildHouses returns every configured guild house in id order. Rows with
// missing columns are returned with Record.Problem set.
func (db *DB) GuildHouses(ctx context.Context) ([]guildhouse.Record, error) {
	var rows []guildHouseRow
	if err := db.conn.SelectContext(ctx, &rows, selectGuildHouses); err != nil {
		return nil, fmt.Errorf("select guild houses: %w", err)
	}
	out := make([]guildhouse.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// UpsertGuildHouse replaces the first row for rec.GuildID, or inserts one.
// It returns the row id.
func (db *DB) UpsertGuildHouse(ctx context.Context, rec guildhouse.Record) (int64, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.GetContext(ctx, &id, "SELECT id FROM guild_house WHERE guild = ? ORDER BY id LIMIT 1", int64(rec.GuildID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `INSERT INTO guild_house
			(guild, phase, map, positionX, positionY, positionZ, orientation)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, houseArgs(rec)...)
		if err != nil {
			return 0, fmt.Errorf("insert guild house %d: %w", rec.GuildID, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, fmt.Errorf("find guild house %d: %w", rec.GuildID, err)
	default:
		_, err := tx.ExecContext(ctx, `UPDATE guild_house SET
			phase = ?, map = ?, positionX = ?, positionY = ?, positionZ = ?, orientation = ?
			WHERE id = ?`, append(houseArgs(rec)[1:], id)...)
		if err != nil {
			return 0, fmt.Errorf("update guild house %d: %w", rec.GuildID, err)
		}
	}

	return id, tx.Commit()
}

// DeleteGuildHouse removes every row for guild.
func (db *DB) DeleteGuildHouse(ctx context.Context, guild guildhouse.GuildID) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM guild_house WHERE guild = ?", int64(guild))
	return err
}

// SeedGuildHouses inserts records for guilds that have no row yet and
// returns how many were added. Existing rows are left untouched.
func (db *DB) SeedGuildHouses(ctx context.Context, recs []guildhouse.Record) (int, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	added := 0
	for _, rec := range recs {
		var n int
		if err := tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM guild_house WHERE guild = ?", int64(rec.GuildID)); err != nil {
			return 0, fmt.Errorf("count guild house %d: %w", rec.GuildID, err)
		}
		if n > 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO guild_house
			(guild, phase, map, positionX, positionY, positionZ, orientation)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, houseArgs(rec)...)
		if err != nil {
			return 0, fmt.Errorf("insert guild house %d: %w", rec.GuildID, err)
		}
		added++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if added > 0 {
		slog.Info("seeded guild houses", "count", added)
	}
	return added, nil
}

// RecordTeleports appends moves to the audit log.
func (db *DB) RecordTeleports(ctx context.Context, moves []guildhouse.Teleport) error {
	if len(moves) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO teleport_events
		(cycle, bot, bot_name, guild, direction, method, from_json, to_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, m := range moves {
		fromJSON, _ := json.Marshal(m.From)
		toJSON, _ := json.Marshal(m.To)
		_, err := stmt.ExecContext(ctx,
			m.Cycle, int64(m.Bot), m.BotName, int64(m.Guild), string(m.Direction), string(m.Method),
			string(fromJSON), string(toJSON), now,
		)
		if err != nil {
			return fmt.Errorf("insert teleport event for bot %d: %w", m.Bot, err)
		}
	}

	return tx.Commit()
}

// Event is a stored teleport with its timestamp.
type Event struct {
	guildhouse.Teleport
	At time.Time `json:"at"`
}

type eventRow struct {
	Cycle     string `db:"cycle"`
	Bot       int64  `db:"bot"`
	BotName   string `db:"bot_name"`
	Guild     int64  `db:"guild"`
	Direction string `db:"direction"`
	Method    string `db:"method"`
	FromJSON  string `db:"from_json"`
	ToJSON    string `db:"to_json"`
	CreatedAt int64  `db:"created_at"`
}

// RecentEvents returns the most recent teleports, newest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	var rows []eventRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT cycle, bot, bot_name, guild, direction, method, from_json, to_json, created_at
		FROM teleport_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		e := Event{
			Teleport: guildhouse.Teleport{
				Cycle:     r.Cycle,
				Bot:       guildhouse.BotID(r.Bot),
				BotName:   r.BotName,
				Guild:     guildhouse.GuildID(r.Guild),
				Direction: guildhouse.Direction(r.Direction),
				Method:    guildhouse.Method(r.Method),
			},
			At: time.Unix(r.CreatedAt, 0).UTC(),
		}
		if err := json.Unmarshal([]byte(r.FromJSON), &e.From); err != nil {
			return nil, fmt.Errorf("decode event origin: %w", err)
		}
		if err := json.Unmarshal([]byte(r.ToJSON), &e.To); err != nil {
			return nil, fmt.Errorf("decode event destination: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// SaveSchedulerStats stores running totals so operators can see them after
// a restart. The scheduler itself never reads them back.
func (db *DB) SaveSchedulerStats(stats guildhouse.Stats) error {
	if err := db.SaveMeta("cycles_run", strconv.FormatUint(stats.Cycles, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if !stats.LastCycle.At.IsZero() {
		if err := db.SaveMeta("last_cycle_at", stats.LastCycle.At.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("save meta: %w", err)
		}
	}
	return nil
}
