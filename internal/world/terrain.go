// Package world simulates the host game world the guild-house scheduler
// runs against: terrain, zones, connected characters and their sessions.
package world

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Zone IDs used by the simulated maps.
const (
	ZoneElwynn     uint32 = 12
	ZoneDurotar    uint32 = 14
	ZoneStormwind  uint32 = 1519
	ZoneOrgrimmar  uint32 = 1637
	ZoneSanctuary  uint32 = 876
	MapEasternKing uint32 = 0
	MapKalimdor    uint32 = 1
)

// Zone is an axis-aligned region of a map.
type Zone struct {
	ID    uint32  `json:"id"`
	Name  string  `json:"name"`
	MapID uint32  `json:"map"`
	MinX  float32 `json:"min_x"`
	MinY  float32 `json:"min_y"`
	MaxX  float32 `json:"max_x"`
	MaxY  float32 `json:"max_y"`
}

// Contains reports whether (x, y) on mapID lies inside the zone.
func (z Zone) Contains(mapID uint32, x, y float32) bool {
	return mapID == z.MapID && x >= z.MinX && x <= z.MaxX && y >= z.MinY && y <= z.MaxY
}

// Center returns the midpoint of the zone.
func (z Zone) Center() (float32, float32) {
	return (z.MinX + z.MaxX) / 2, (z.MinY + z.MaxY) / 2
}

// DefaultZones is the zone layout of the simulated maps. Order matters:
// the first containing zone wins.
var DefaultZones = []Zone{
	{ID: ZoneSanctuary, Name: "Sanctuary", MapID: MapKalimdor, MinX: 16000, MinY: 16000, MaxX: 16500, MaxY: 16500},
	{ID: ZoneStormwind, Name: "Stormwind City", MapID: MapEasternKing, MinX: -9100, MinY: 300, MaxX: -8300, MaxY: 1100},
	{ID: ZoneOrgrimmar, Name: "Orgrimmar", MapID: MapKalimdor, MinX: 1300, MinY: -4700, MaxX: 2000, MaxY: -4100},
}

// fallbackZone is the zone for points outside every listed region.
var fallbackZone = map[uint32]uint32{
	MapEasternKing: ZoneElwynn,
	MapKalimdor:    ZoneDurotar,
}

// Terrain answers zone and ground-height queries.
type Terrain struct {
	zones []Zone
	noise opensimplex.Noise
}

// NewTerrain builds terrain with the default zones and a height field
// seeded by seed.
func NewTerrain(seed int64) *Terrain {
	return &Terrain{
		zones: DefaultZones,
		noise: opensimplex.NewNormalized(seed),
	}
}

// Zones returns the zone layout.
func (t *Terrain) Zones() []Zone {
	out := make([]Zone, len(t.zones))
	copy(out, t.zones)
	return out
}

// Zone returns the zone definition for id.
func (t *Terrain) Zone(id uint32) (Zone, bool) {
	for _, z := range t.zones {
		if z.ID == id {
			return z, true
		}
	}
	return Zone{}, false
}

// ZoneAt returns the zone ID for a point, or 0 on an unknown map.
func (t *Terrain) ZoneAt(mapID uint32, x, y float32) uint32 {
	for _, z := range t.zones {
		if z.Contains(mapID, x, y) {
			return z.ID
		}
	}
	return fallbackZone[mapID]
}

// Height returns the ground height at a point, between 0 and 120.
func (t *Terrain) Height(mapID uint32, x, y float32) float32 {
	// Offset maps so they don't share a height field.
	ox := float64(x)/400 + float64(mapID)*1000
	oy := float64(y) / 400
	h := octaveNoise(t.noise, ox, oy, 4, 1.0, 0.5)
	return float32(math.Round(h*120*100) / 100)
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
