// Package guildhouse moves bot characters into and out of their guild's
// sanctuary zone on a staggered schedule, remembering where each bot stood so
// it can be returned to the exact same spot.
package guildhouse

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// SanctuaryZoneID is the zone shared by every guild house.
const SanctuaryZoneID uint32 = 876

// Messages sent to the session owning a moved bot.
const (
	MsgArrived    = "PlayerBot: Teleported to Guild House."
	MsgLeft       = "PlayerBot: Left Guild House."
	MsgLeftRecall = "PlayerBot: Left Guild House (hearthstone)."
)

// BotID is the stable handle of a character (its GUID).
type BotID uint64

// GuildID identifies a guild.
type GuildID uint32

// Location is a position snapshot: map, coordinates and facing.
type Location struct {
	MapID       uint32  `json:"map"`
	X           float32 `json:"x"`
	Y           float32 `json:"y"`
	Z           float32 `json:"z"`
	Orientation float32 `json:"orientation"`
}

// Record is one guild's sanctuary destination as read from the store.
type Record struct {
	ID      int64    `json:"id"`
	GuildID GuildID  `json:"guild"`
	Phase   uint32   `json:"phase"`
	Dest    Location `json:"dest"`

	// Problem is set by the store when the row could not be read cleanly.
	Problem error `json:"-"`
}

// ErrMalformedRecord marks a guild-house row that cannot be used this cycle.
var ErrMalformedRecord = errors.New("malformed guild house record")

// Validate reports whether the record can be used as a teleport destination.
func (r Record) Validate() error {
	if r.Problem != nil {
		return fmt.Errorf("%w: row %d: %v", ErrMalformedRecord, r.ID, r.Problem)
	}
	if r.GuildID == 0 {
		return fmt.Errorf("%w: row %d: guild id is zero", ErrMalformedRecord, r.ID)
	}
	for _, v := range []float32{r.Dest.X, r.Dest.Y, r.Dest.Z, r.Dest.Orientation} {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: row %d: non-finite coordinate", ErrMalformedRecord, r.ID)
		}
	}
	return nil
}

// Character is the host world's view of a connected player or bot.
type Character interface {
	ID() BotID
	Name() string
	GuildID() GuildID
	IsInWorld() bool
	IsAlive() bool
	IsInCombat() bool
	InBattleground() bool
	InArena() bool
	InRandomDungeon() bool
	InBattlegroundQueue() bool
	IsInFlight() bool
	ZoneID() uint32
	Location() Location
	// GroupMembers returns every member of the character's group,
	// including the character itself, or nil when ungrouped.
	GroupMembers() []Character
}

// World enumerates connected characters and carries out moves.
type World interface {
	Players() []Character
	FindPlayer(id BotID) (Character, bool)
	TeleportTo(id BotID, dest Location, phase uint32) error
	// Recall sends the character to its bound home point.
	Recall(id BotID) error
}

// Classifier tells bots apart from human-controlled characters.
type Classifier interface {
	IsBot(c Character) bool
}

// Notifier delivers a one-line system message to the session owning c.
// Delivery is best effort: an unavailable session is not an error.
type Notifier interface {
	Notify(c Character, message string)
}

// Store returns the configured guild houses in storage order.
type Store interface {
	GuildHouses(ctx context.Context) ([]Record, error)
}

// Direction of a teleport.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Method describes how a bot was moved.
type Method string

const (
	MethodTeleport Method = "teleport"
	MethodLedger   Method = "ledger"
	MethodRecall   Method = "recall"
)

// Teleport records one completed move.
type Teleport struct {
	Cycle     string    `json:"cycle"`
	Bot       BotID     `json:"bot"`
	BotName   string    `json:"bot_name"`
	Guild     GuildID   `json:"guild"`
	Direction Direction `json:"direction"`
	Method    Method    `json:"method"`
	From      Location  `json:"from"`
	To        Location  `json:"to"`
}

// Recorder keeps an audit trail of moves. Optional.
type Recorder interface {
	RecordTeleports(ctx context.Context, moves []Teleport) error
}
