// Package api provides the HTTP API for observing and steering the
// guild-house scheduler.
// GET endpoints are public (read-only observation).
// POST and DELETE endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/guildhouse/internal/engine"
	"github.com/talgya/guildhouse/internal/guildhouse"
	"github.com/talgya/guildhouse/internal/persistence"
	"github.com/talgya/guildhouse/internal/world"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// Server serves scheduler state over HTTP.
type Server struct {
	Sched    *guildhouse.Scheduler
	World    *world.World
	Eng      *engine.Engine
	DB       *persistence.DB
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// Lock serialises access to World and Sched with the engine loop.
	// Nil means the server owns a private mutex.
	Lock sync.Locker

	// CycleLimit caps manual cycles per client per minute. Zero means 6.
	CycleLimit int

	mu       sync.Mutex
	upgrader websocket.Upgrader
	limiter  *RateLimiter
	httpSrv  *http.Server
	started  time.Time
}

// Handler builds the request router.
func (s *Server) Handler() http.Handler {
	if s.Lock == nil {
		s.Lock = &sync.Mutex{}
	}
	if s.CycleLimit <= 0 {
		s.CycleLimit = 6
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter(s.CycleLimit, time.Minute)
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/guildhouses", s.adminOnly(s.handleGuildHouses))
	mux.HandleFunc("/api/v1/residents", s.handleResidents)
	mux.HandleFunc("/api/v1/ledger", s.handleLedger)
	mux.HandleFunc("/api/v1/players", s.handlePlayers)
	mux.HandleFunc("/api/v1/zones", s.handleZones)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/session/ws", s.handleSessionWS)

	// Admin endpoints.
	mux.HandleFunc("/api/v1/cycle", s.adminOnly(RateLimitMiddleware(s.limiter, s.handleCycle)))
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	s.mu.Lock()
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpSrv
	s.mu.Unlock()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if s.limiter != nil {
		s.limiter.Close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set GUILDHOUSE_CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("GUILDHOUSE_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// locked runs fn while holding the world lock.
func (s *Server) locked(fn func()) {
	s.Lock.Lock()
	defer s.Lock.Unlock()
	fn()
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on mutating
// requests. GET requests pass through.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodDelete {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no GUILDHOUSE_ADMIN_KEY set)", http.StatusForbidden)
				return
			}

			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status map[string]any
	s.locked(func() {
		opts := s.Sched.Options()
		online, bots := s.World.Online()
		status = map[string]any{
			"name":          "guildhouse",
			"mode":          opts.Mode,
			"online":        online,
			"bots":          bots,
			"residents":     s.Sched.Residency().Total(),
			"ledger":        s.Sched.Ledger().Len(),
			"next_cycle_in": s.Sched.NextCycleIn().Round(time.Second).String(),
			"stats":         s.Sched.Stats(),
			"options": map[string]any{
				"cycle_frequency":        opts.CycleFrequency.String(),
				"batch_size":             opts.BatchSize,
				"require_real_player":    opts.RequireRealPlayer,
				"entry_chance_percent":   opts.EntryChancePercent,
				"exit_chance_percent":    opts.ExitChancePercent,
				"keep_unmoved_residents": opts.KeepUnmovedResidents,
				"debug":                  opts.Debug,
			},
		}
	})
	if s.Eng != nil {
		tick := s.Eng.Tick()
		status["tick"] = tick
		status["uptime"] = engine.Uptime(tick, s.Eng.Interval)
		status["speed"] = s.Eng.Speed()
		status["running"] = s.Eng.Running()
	}
	status["started_at"] = s.started.UTC().Format(time.RFC3339)
	writeJSON(w, status)
}

// guildHouseView is a stored guild house with its validation result.
type guildHouseView struct {
	guildhouse.Record
	Usable  bool   `json:"usable"`
	Problem string `json:"problem,omitempty"`
}

type guildHouseRequest struct {
	Guild       uint32  `json:"guild"`
	Phase       uint32  `json:"phase"`
	Map         uint32  `json:"map"`
	X           float32 `json:"x"`
	Y           float32 `json:"y"`
	Z           float32 `json:"z"`
	Orientation float32 `json:"orientation"`
}

func (s *Server) handleGuildHouses(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		recs, err := s.DB.GuildHouses(r.Context())
		if err != nil {
			slog.Error("guild house query failed", "error", err)
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		out := make([]guildHouseView, 0, len(recs))
		for _, rec := range recs {
			v := guildHouseView{Record: rec, Usable: true}
			if err := rec.Validate(); err != nil {
				v.Usable = false
				v.Problem = err.Error()
			}
			out = append(out, v)
		}
		writeJSON(w, out)

	case http.MethodPost:
		var req guildHouseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		rec := guildhouse.Record{
			GuildID: guildhouse.GuildID(req.Guild),
			Phase:   req.Phase,
			Dest: guildhouse.Location{
				MapID: req.Map, X: req.X, Y: req.Y, Z: req.Z, Orientation: req.Orientation,
			},
		}
		if err := rec.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, err := s.DB.UpsertGuildHouse(r.Context(), rec)
		if err != nil {
			slog.Error("guild house upsert failed", "guild", req.Guild, "error", err)
			http.Error(w, "save failed", http.StatusInternalServerError)
			return
		}
		rec.ID = id
		slog.Info("guild house saved", "guild", req.Guild, "phase", req.Phase, "map", req.Map)
		writeJSON(w, rec)

	case http.MethodDelete:
		guild, err := strconv.ParseUint(r.URL.Query().Get("guild"), 10, 32)
		if err != nil || guild == 0 {
			http.Error(w, "guild query parameter required", http.StatusBadRequest)
			return
		}
		if err := s.DB.DeleteGuildHouse(r.Context(), guildhouse.GuildID(guild)); err != nil {
			slog.Error("guild house delete failed", "guild", guild, "error", err)
			http.Error(w, "delete failed", http.StatusInternalServerError)
			return
		}
		slog.Info("guild house deleted", "guild", guild)
		writeJSON(w, map[string]any{"guild": guild, "deleted": true})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type residentView struct {
	ID   guildhouse.BotID `json:"id"`
	Name string           `json:"name"`
	Zone uint32           `json:"zone"`
	// Online is false for residents that disconnected since their last cycle.
	Online bool `json:"online"`
}

func (s *Server) handleResidents(w http.ResponseWriter, r *http.Request) {
	out := map[string][]residentView{}
	s.locked(func() {
		for guild, ids := range s.Sched.Residency().Snapshot() {
			views := make([]residentView, 0, len(ids))
			for _, id := range ids {
				v := residentView{ID: id}
				if p, ok := s.World.Player(id); ok {
					v.Name = p.Name()
					v.Zone = p.ZoneID()
					v.Online = p.IsInWorld()
				}
				views = append(views, v)
			}
			out[strconv.FormatUint(uint64(guild), 10)] = views
		}
	})
	writeJSON(w, out)
}

type ledgerView struct {
	Bot      guildhouse.BotID    `json:"bot"`
	Name     string              `json:"name"`
	Resident bool                `json:"resident"`
	Location guildhouse.Location `json:"location"`
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	var out []ledgerView
	s.locked(func() {
		for id, loc := range s.Sched.Ledger().Snapshot() {
			v := ledgerView{Bot: id, Location: loc, Resident: s.Sched.Residency().Contains(id)}
			if p, ok := s.World.Player(id); ok {
				v.Name = p.Name()
			}
			out = append(out, v)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Bot < out[j].Bot })
	if out == nil {
		out = []ledgerView{}
	}
	writeJSON(w, out)
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	var filter uint64
	if g := r.URL.Query().Get("guild"); g != "" {
		n, err := strconv.ParseUint(g, 10, 32)
		if err != nil {
			http.Error(w, "invalid guild", http.StatusBadRequest)
			return
		}
		filter = n
	}
	var out []world.View
	s.locked(func() {
		for _, v := range s.World.Views() {
			if filter != 0 && uint64(v.Guild) != filter {
				continue
			}
			out = append(out, v)
		}
	})
	if out == nil {
		out = []world.View{}
	}
	writeJSON(w, out)
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.World.Terrain().Zones())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	events, err := s.DB.RecentEvents(r.Context(), limit)
	if err != nil {
		slog.Error("event query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var rep guildhouse.CycleReport
	s.locked(func() {
		rep = s.Sched.RunCycle(r.Context(), "manual")
	})
	writeJSON(w, map[string]any{
		"report": rep,
		"moves":  rep.Moves,
	})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if math.IsNaN(req.Speed) || req.Speed < 0 || req.Speed > 100 {
			http.Error(w, "speed must be 0-100", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

// handleSessionWS streams a human character's system messages, backlog
// first, over a websocket.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("character")
	if name == "" {
		http.Error(w, "character query parameter required", http.StatusBadRequest)
		return
	}
	var sess *world.Session
	var ok bool
	s.locked(func() { sess, ok = s.World.Session(name) })
	if !ok {
		http.Error(w, "no session for character", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, msgs, backlog := sess.Attach(64)
	defer sess.Unsubscribe(id)
	slog.Debug("session stream opened", "character", sess.Owner(), "listener", id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: only control frames matter; any error ends the stream.
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(m world.Message) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(m)
	}
	for _, m := range backlog {
		if err := write(m); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			if err := write(m); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
