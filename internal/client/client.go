// Package client talks to the guildhouse HTTP API. It backs the ghctl
// operator command.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/guildhouse/internal/guildhouse"
)

// Status mirrors GET /api/v1/status.
type Status struct {
	Name        string           `json:"name"`
	Mode        string           `json:"mode"`
	Online      int              `json:"online"`
	Bots        int              `json:"bots"`
	Residents   int              `json:"residents"`
	Ledger      int              `json:"ledger"`
	NextCycleIn string           `json:"next_cycle_in"`
	Tick        uint64           `json:"tick"`
	Uptime      string           `json:"uptime"`
	Speed       float64          `json:"speed"`
	Running     bool             `json:"running"`
	StartedAt   string           `json:"started_at"`
	Stats       guildhouse.Stats `json:"stats"`
	Options     map[string]any   `json:"options"`
}

// Resident mirrors an item from GET /api/v1/residents.
type Resident struct {
	ID     guildhouse.BotID `json:"id"`
	Name   string           `json:"name"`
	Zone   uint32           `json:"zone"`
	Online bool             `json:"online"`
}

// LedgerEntry mirrors an item from GET /api/v1/ledger.
type LedgerEntry struct {
	Bot      guildhouse.BotID    `json:"bot"`
	Name     string              `json:"name"`
	Resident bool                `json:"resident"`
	Location guildhouse.Location `json:"location"`
}

// Event mirrors an item from GET /api/v1/events.
type Event struct {
	guildhouse.Teleport
	At time.Time `json:"at"`
}

// GuildHouse mirrors an item from GET /api/v1/guildhouses.
type GuildHouse struct {
	guildhouse.Record
	Usable  bool   `json:"usable"`
	Problem string `json:"problem,omitempty"`
}

// CycleResult is the response from POST /api/v1/cycle.
type CycleResult struct {
	Report guildhouse.CycleReport `json:"report"`
	Moves  []guildhouse.Teleport  `json:"moves"`
}

// Message is a session message from the websocket stream.
type Message struct {
	At        time.Time `json:"at"`
	Character string    `json:"character"`
	Text      string    `json:"text"`
}

// Client calls the API. AdminKey is only needed for POST endpoints.
type Client struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// New creates a Client targeting the given API base URL.
func New(baseURL, adminKey string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Status fetches GET /api/v1/status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Residents fetches GET /api/v1/residents keyed by guild ID.
func (c *Client) Residents(ctx context.Context) (map[string][]Resident, error) {
	var out map[string][]Resident
	if err := c.do(ctx, http.MethodGet, "/api/v1/residents", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ledger fetches GET /api/v1/ledger.
func (c *Client) Ledger(ctx context.Context) ([]LedgerEntry, error) {
	var out []LedgerEntry
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Events fetches the most recent teleports.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	var out []Event
	path := "/api/v1/events?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GuildHouses fetches GET /api/v1/guildhouses.
func (c *Client) GuildHouses(ctx context.Context) ([]GuildHouse, error) {
	var out []GuildHouse
	if err := c.do(ctx, http.MethodGet, "/api/v1/guildhouses", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetGuildHouse creates or replaces a guild's house.
func (c *Client) SetGuildHouse(ctx context.Context, guild guildhouse.GuildID, phase uint32, dest guildhouse.Location) (*guildhouse.Record, error) {
	body := map[string]any{
		"guild":       guild,
		"phase":       phase,
		"map":         dest.MapID,
		"x":           dest.X,
		"y":           dest.Y,
		"z":           dest.Z,
		"orientation": dest.Orientation,
	}
	var rec guildhouse.Record
	if err := c.do(ctx, http.MethodPost, "/api/v1/guildhouses", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ForceCycle asks the server to run a cycle now.
func (c *Client) ForceCycle(ctx context.Context) (*CycleResult, error) {
	var out CycleResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/cycle", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watch streams a human character's session messages to fn until ctx is
// done or the connection drops.
func (c *Client) Watch(ctx context.Context, character string, fn func(Message)) error {
	u, err := url.Parse(c.BaseURL + "/api/v1/session/ws")
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"character": {character}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial session stream (%d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial session stream: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read session stream: %w", err)
		}
		fn(m)
	}
}

// WaitReady polls the status endpoint with exponential backoff until it
// responds or ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second
	for {
		if _, err := c.Status(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("api not ready: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && c.AdminKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.AdminKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s failed (%d): %s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
