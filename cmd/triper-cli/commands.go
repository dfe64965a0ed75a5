package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/triper/triper/internal/config"
	"github.com/triper/triper/internal/ipc"
	"github.com/triper/triper/pkg/geocell"
)

// defaultRPCTimeout is the default timeout for daemon calls.
const defaultRPCTimeout = 30 * time.Second

// ErrBadStop is returned for a stop argument that is not "lat,lng".
var ErrBadStop = errors.New("stop must be lat,lng")

// CLI provides commands for interacting with the triper agent daemon.
type CLI struct {
	socketPath string
	client     *ipc.Client
	output     io.Writer
}

// NewCLI creates a new CLI instance for the daemon at socketPath.
func NewCLI(socketPath string) *CLI {
	return &CLI{
		socketPath: socketPath,
		output:     os.Stdout,
	}
}

// NewCLIWithDefaults creates a new CLI instance using the default socket path.
func NewCLIWithDefaults() *CLI {
	paths := config.DefaultPaths()
	return NewCLI(paths.AgentSocket)
}

// connect establishes a connection to the agent daemon.
func (c *CLI) connect() error {
	if c.client != nil {
		return nil
	}
	client, err := ipc.NewClient(c.socketPath)
	if err != nil {
		return fmt.Errorf("failed to connect to agent daemon: %w", err)
	}
	c.client = client
	return nil
}

// Close closes the daemon connection.
func (c *CLI) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

func (c *CLI) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), defaultRPCTimeout)
}

// Status displays the agent daemon status.
func (c *CLI) Status() error {
	fmt.Fprintln(c.output, "=== Triper Status ===")
	fmt.Fprintln(c.output)

	if err := c.connect(); err != nil {
		fmt.Fprintf(c.output, "  Status: not running\n")
		fmt.Fprintf(c.output, "  Error: %v\n", err)
		return nil
	}

	ctx, cancel := c.ctx()
	defer cancel()
	status, err := c.client.Status(ctx)
	if err != nil {
		fmt.Fprintf(c.output, "  Status: not running\n")
		fmt.Fprintf(c.output, "  Error: %v\n", err)
		return nil
	}

	fmt.Fprintf(c.output, "  Address: %s\n", status.Address)
	fmt.Fprintf(c.output, "  Compute: %s\n", status.ComputeMode)
	fmt.Fprintf(c.output, "  Pending matches: %d\n", status.PendingMatches)
	return nil
}

// parseStop parses one "lat,lng" argument.
func parseStop(arg string) (ipc.Stop, error) {
	parts := strings.SplitN(arg, ",", 2)
	if len(parts) != 2 {
		return ipc.Stop{}, fmt.Errorf("%w: %q", ErrBadStop, arg)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return ipc.Stop{}, fmt.Errorf("%w: %q", ErrBadStop, arg)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return ipc.Stop{}, fmt.Errorf("%w: %q", ErrBadStop, arg)
	}
	return ipc.Stop{Lat: lat, Lng: lng}, nil
}

// Publish publishes a trip from command-line flags.
func (c *CLI) Publish(args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	var stops stopList
	fs.Var(&stops, "stop", "Stop as lat,lng (repeatable, in travel order)")
	start := fs.String("start", "", "Start date, YYYY-MM-DD")
	end := fs.String("end", "", "End date, YYYY-MM-DD")
	interests := fs.String("interests", "", "Comma-separated interest category numbers")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if len(stops) == 0 {
		return errors.New("at least one -stop is required")
	}
	startDate, err := time.Parse("2006-01-02", *start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}
	endDate, err := time.Parse("2006-01-02", *end)
	if err != nil {
		return fmt.Errorf("parse -end: %w", err)
	}

	var categories []int
	if *interests != "" {
		for _, tok := range strings.Split(*interests, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(tok))
			if err != nil {
				return fmt.Errorf("parse -interests: %w", err)
			}
			categories = append(categories, n)
		}
	}

	if err := c.connect(); err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()

	tripID, err := c.client.PublishTrip(ctx, &ipc.TripRequest{
		Stops:     stops,
		StartDate: startDate.Unix(),
		EndDate:   endDate.Unix(),
		Interests: categories,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Published trip %s\n", tripID)
	return nil
}

// Find runs candidate matching for a trip and prints the results.
func (c *CLI) Find(tripID string) error {
	if err := c.connect(); err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()

	matches, err := c.client.FindMatches(ctx, tripID)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintln(c.output, "No matches found")
		return nil
	}
	c.printMatches(matches)
	return nil
}

// Matches lists pending matches.
func (c *CLI) Matches() error {
	if err := c.connect(); err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()

	matches, err := c.client.Matches(ctx)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintln(c.output, "No pending matches")
		return nil
	}
	c.printMatches(matches)
	return nil
}

func (c *CLI) printMatches(matches []ipc.MatchInfo) {
	fmt.Fprintf(c.output, "%-36s  %-8s  %5s  %5s  %5s  %5s  %s\n",
		"MATCH", "STATUS", "TOTAL", "ROUTE", "DATE", "INT", "EXPIRES")
	for _, m := range matches {
		fmt.Fprintf(c.output, "%-36s  %-8s  %5d  %5d  %5d  %5d  %s\n",
			m.ID, m.Status, m.TotalScore, m.RouteScore, m.DateScore, m.InterestScore,
			time.Unix(m.ExpiresAt, 0).UTC().Format("2006-01-02"))
	}
}

// Accept accepts a match.
func (c *CLI) Accept(matchID string) error {
	if err := c.connect(); err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()

	info, err := c.client.Accept(ctx, matchID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Match %s is now %s\n", info.ID, info.Status)
	if info.Status == "mutual" {
		fmt.Fprintln(c.output, "Both parties accepted; run 'triper-cli reveal' to see the counterparty trip")
	}
	return nil
}

// Reject rejects a match.
func (c *CLI) Reject(matchID string) error {
	if err := c.connect(); err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()

	info, err := c.client.Reject(ctx, matchID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Match %s is now %s\n", info.ID, info.Status)
	return nil
}

// Reveal prints the counterparty's revealed trip for a mutual match.
func (c *CLI) Reveal(matchID string) error {
	if err := c.connect(); err != nil {
		return err
	}
	ctx, cancel := c.ctx()
	defer cancel()

	trip, err := c.client.Reveal(ctx, matchID)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.output, "Trip %s - %s\n",
		time.Unix(trip.StartDate, 0).UTC().Format("2006-01-02"),
		time.Unix(trip.EndDate, 0).UTC().Format("2006-01-02"))
	fmt.Fprintln(c.output, "Waypoints:")
	for _, w := range trip.Waypoints {
		lat, lng, err := geocell.CellCenter(geocell.Cell(w))
		if err != nil {
			fmt.Fprintf(c.output, "  cell %#x\n", w)
			continue
		}
		fmt.Fprintf(c.output, "  %.4f, %.4f\n", lat, lng)
	}
	if len(trip.Interests) > 0 {
		fmt.Fprintf(c.output, "Interests: %v\n", trip.Interests)
	}
	return nil
}

// stopList collects repeated -stop flags.
type stopList []ipc.Stop

func (s *stopList) String() string {
	parts := make([]string, len(*s))
	for i, stop := range *s {
		parts[i] = fmt.Sprintf("%g,%g", stop.Lat, stop.Lng)
	}
	return strings.Join(parts, " ")
}

func (s *stopList) Set(value string) error {
	stop, err := parseStop(value)
	if err != nil {
		return err
	}
	*s = append(*s, stop)
	return nil
}
