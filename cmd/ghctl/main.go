// Command ghctl is the operator CLI for a running guildhouse server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/talgya/guildhouse/internal/client"
	"github.com/talgya/guildhouse/internal/guildhouse"
)

const usage = `Usage: ghctl [flags] <command> [args]

Commands:
  status                 scheduler and world summary
  residents              bots currently tracked inside guild houses
  ledger                 saved return positions
  events [limit]         recent teleports, newest first
  houses                 configured guild houses
  cycle                  run a teleport cycle now (admin)
  set-house <guild> <phase> <map> <x> <y> <z> [orientation]
                         create or replace a guild house (admin)
  watch <character>      follow a human character's system messages

Flags:
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var apiURL, adminKey string
	var wait bool

	flagSet := pflag.NewFlagSet("ghctl", pflag.ContinueOnError)
	flagSet.StringVar(&apiURL, "api", envOrDefault("GUILDHOUSE_API_URL", "http://localhost:8080"), "guildhouse API base URL")
	flagSet.StringVar(&adminKey, "key", os.Getenv("GUILDHOUSE_ADMIN_KEY"), "admin bearer token")
	flagSet.BoolVar(&wait, "wait", false, "wait for the API to come up before running the command")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		flagSet.Usage()
		return errors.New("missing command")
	}
	c := client.New(apiURL, adminKey)

	if wait {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if err := c.WaitReady(waitCtx); err != nil {
			return err
		}
	}

	switch cmd, params := rest[0], rest[1:]; cmd {
	case "status":
		return printStatus(ctx, c, out)
	case "residents":
		return printResidents(ctx, c, out)
	case "ledger":
		return printLedger(ctx, c, out)
	case "events":
		limit := 20
		if len(params) > 0 {
			n, err := strconv.Atoi(params[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid limit %q", params[0])
			}
			limit = n
		}
		return printEvents(ctx, c, out, limit)
	case "houses":
		return printHouses(ctx, c, out)
	case "cycle":
		return forceCycle(ctx, c, out)
	case "set-house":
		return setHouse(ctx, c, out, params)
	case "watch":
		if len(params) != 1 {
			return errors.New("usage: ghctl watch <character>")
		}
		return c.Watch(ctx, params[0], func(m client.Message) {
			fmt.Fprintf(out, "%s  [%s] %s\n", m.At.Local().Format(time.TimeOnly), m.Character, m.Text)
		})
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printStatus(ctx context.Context, c *client.Client, out io.Writer) error {
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "mode\t%s\n", st.Mode)
	fmt.Fprintf(tw, "online\t%d (%d bots)\n", st.Online, st.Bots)
	fmt.Fprintf(tw, "residents\t%d\n", st.Residents)
	fmt.Fprintf(tw, "ledger\t%d\n", st.Ledger)
	fmt.Fprintf(tw, "cycles\t%d (next in %s)\n", st.Stats.Cycles, st.NextCycleIn)
	fmt.Fprintf(tw, "moved\t%d in, %d out, %d recalled\n", st.Stats.Entered, st.Stats.Exited, st.Stats.Recalled)
	fmt.Fprintf(tw, "uptime\t%s (speed %.1fx)\n", st.Uptime, st.Speed)
	return tw.Flush()
}

func printResidents(ctx context.Context, c *client.Client, out io.Writer) error {
	res, err := c.Residents(ctx)
	if err != nil {
		return err
	}
	guilds := make([]string, 0, len(res))
	for g := range res {
		guilds = append(guilds, g)
	}
	sort.Strings(guilds)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GUILD\tBOT\tNAME\tZONE\tONLINE")
	for _, g := range guilds {
		for _, r := range res[g] {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%t\n", g, r.ID, r.Name, r.Zone, r.Online)
		}
	}
	return tw.Flush()
}

func printLedger(ctx context.Context, c *client.Client, out io.Writer) error {
	entries, err := c.Ledger(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BOT\tNAME\tRESIDENT\tRETURN TO")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", e.Bot, e.Name, e.Resident, formatLocation(e.Location))
	}
	return tw.Flush()
}

func printEvents(ctx context.Context, c *client.Client, out io.Writer, limit int) error {
	events, err := c.Events(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tGUILD\tBOT\tDIR\tMETHOD\tTO")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			e.At.Local().Format(time.DateTime), e.Guild, e.BotName, e.Direction, e.Method, formatLocation(e.To))
	}
	return tw.Flush()
}

func printHouses(ctx context.Context, c *client.Client, out io.Writer) error {
	houses, err := c.GuildHouses(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGUILD\tPHASE\tDESTINATION\tUSABLE")
	for _, h := range houses {
		usable := "yes"
		if !h.Usable {
			usable = "no: " + h.Problem
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", h.ID, h.GuildID, h.Phase, formatLocation(h.Dest), usable)
	}
	return tw.Flush()
}

func forceCycle(ctx context.Context, c *client.Client, out io.Writer) error {
	res, err := c.ForceCycle(ctx)
	if err != nil {
		return err
	}
	r := res.Report
	fmt.Fprintf(out, "cycle %s: %d guilds processed, %d gated, %d skipped\n",
		r.ID, r.GuildsProcessed, r.GuildsGated, r.GuildsSkipped)
	fmt.Fprintf(out, "entered %d, evaluated %d, exited %d, recalled %d\n",
		r.Entered, r.Evaluated, r.Exited, r.Recalled)
	for _, m := range res.Moves {
		fmt.Fprintf(out, "  %-4s %-9s guild %d  %s\n", m.Direction, m.Method, m.Guild, m.BotName)
	}
	return nil
}

func setHouse(ctx context.Context, c *client.Client, out io.Writer, params []string) error {
	if len(params) < 6 || len(params) > 7 {
		return errors.New("usage: ghctl set-house <guild> <phase> <map> <x> <y> <z> [orientation]")
	}
	var ints [3]uint64
	for i := range ints {
		n, err := strconv.ParseUint(params[i], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", params[i], err)
		}
		ints[i] = n
	}
	floats := make([]float32, 4)
	for i, p := range params[3:] {
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return fmt.Errorf("invalid coordinate %q: %w", p, err)
		}
		floats[i] = float32(f)
	}
	dest := guildhouse.Location{MapID: uint32(ints[2]), X: floats[0], Y: floats[1], Z: floats[2], Orientation: floats[3]}
	rec, err := c.SetGuildHouse(ctx, guildhouse.GuildID(ints[0]), uint32(ints[1]), dest)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "guild %d house saved (row %d): phase %d at %s\n", rec.GuildID, rec.ID, rec.Phase, formatLocation(rec.Dest))
	return nil
}

func formatLocation(l guildhouse.Location) string {
	return fmt.Sprintf("map %d (%.1f, %.1f, %.1f)", l.MapID, l.X, l.Y, l.Z)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
