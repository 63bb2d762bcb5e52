// Package cli implements the interactive operator shell for ipfwd. It
// talks to the daemon through the gRPC management service.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/psaab/ipfwd/pkg/cmdtree"
	"github.com/psaab/ipfwd/pkg/forwarding"
)

// Backend is the daemon API the shell drives; *grpcapi.Client satisfies it.
type Backend interface {
	GetStatus(ctx context.Context) (map[string]any, error)
	GetStatistics(ctx context.Context) (map[string]any, error)
	ListRoutes(ctx context.Context) ([]any, error)
	ListNeighbors(ctx context.Context) ([]any, error)
	ListInterfaces(ctx context.Context) ([]any, error)
	Lookup(ctx context.Context, addr string) (map[string]any, error)
	GetEvents(ctx context.Context, filter map[string]any) ([]any, error)
	Reload(ctx context.Context) error
	Complete(ctx context.Context, line string) ([]cmdtree.Candidate, error)
}

// CLI is the interactive command-line interface.
type CLI struct {
	backend  Backend
	out      io.Writer
	rl       *readline.Instance
	hostname string
	username string
	timeout  time.Duration
}

// New creates a CLI writing to stdout.
func New(b Backend) *CLI {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "ipfwd"
	}
	username := os.Getenv("USER")
	if username == "" {
		username = "root"
	}
	return &CLI{
		backend:  b,
		out:      os.Stdout,
		hostname: hostname,
		username: username,
		timeout:  5 * time.Second,
	}
}

// SetOutput redirects command output.
func (c *CLI) SetOutput(w io.Writer) {
	c.out = w
}

var errExit = errors.New("exit")

// Run starts the interactive loop and returns on exit or EOF.
func (c *CLI) Run() error {
	var err error
	c.rl, err = readline.NewEx(&readline.Config{
		Prompt:          c.prompt(),
		HistoryFile:     "/tmp/ipfwd_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    &remoteCompleter{cli: c},
		Listener:        readline.FuncListener(c.helpKey),
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer c.rl.Close()
	c.out = c.rl.Stdout()

	fmt.Fprintln(c.out, "ipfwd - IPv4 forwarding dataplane")
	fmt.Fprintln(c.out, "Type '?' for help")
	fmt.Fprintln(c.out)

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := c.Execute(context.Background(), line); err != nil {
			if err == errExit {
				return nil
			}
			fmt.Fprintf(c.rl.Stderr(), "error: %v\n", err)
		}
	}
}

func (c *CLI) prompt() string {
	return fmt.Sprintf("%s@%s> ", c.username, c.hostname)
}

// Execute runs one command line. exit and quit return a nil error from
// Run but are reported to direct callers as errExit.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch parts[0] {
	case "show":
		return c.handleShow(ctx, parts[1:])
	case "request":
		return c.handleRequest(ctx, parts[1:])
	case "quit", "exit":
		return errExit
	case "?", "help":
		cmdtree.WriteHelp(c.out, cmdtree.HelpCandidates(cmdtree.OperationalTree))
		return nil
	default:
		return fmt.Errorf("unknown command: %s", parts[0])
	}
}

// IsExit reports whether err came from an exit command.
func IsExit(err error) bool {
	return err == errExit
}

func (c *CLI) handleShow(ctx context.Context, args []string) error {
	if len(args) == 0 {
		cmdtree.WriteHelp(c.out, cmdtree.HelpCandidates(cmdtree.OperationalTree["show"].Children))
		return nil
	}
	switch args[0] {
	case "status":
		return c.showStatus(ctx)
	case "statistics":
		return c.showStatistics(ctx)
	case "route":
		if len(args) > 1 {
			return c.showLookup(ctx, args[1])
		}
		return c.showRoutes(ctx)
	case "neighbors":
		return c.showNeighbors(ctx)
	case "interfaces":
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		return c.showInterfaces(ctx, name)
	case "events":
		return c.showEvents(ctx, args[1:])
	default:
		return fmt.Errorf("unknown show target: %s", args[0])
	}
}

func (c *CLI) handleRequest(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "reload" {
		return fmt.Errorf("usage: request reload")
	}
	if err := c.backend.Reload(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Tables reloaded")
	return nil
}

// num renders a JSON number without a fractional part.
func num(v any) string {
	f, ok := v.(float64)
	if !ok {
		return "-"
	}
	return strconv.FormatFloat(f, 'f', 0, 64)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func (c *CLI) showStatus(ctx context.Context) error {
	st, err := c.backend.GetStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Version:      %s\n", str(st["version"]))
	fmt.Fprintf(c.out, "Uptime:       %s\n", str(st["uptime"]))
	fmt.Fprintf(c.out, "Ports:        %s\n", num(st["ports"]))
	fmt.Fprintf(c.out, "Routes:       %s (%s replaced by duplicates)\n", num(st["routes"]), num(st["routes_replaced"]))
	fmt.Fprintf(c.out, "Neighbors:    %s\n", num(st["neighbors"]))
	fmt.Fprintf(c.out, "Drop events:  %s\n", num(st["drop_events"]))
	return nil
}

func (c *CLI) showStatistics(ctx context.Context) error {
	st, err := c.backend.GetStatistics(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Frames received:    %s\n", num(st["frames"]))
	fmt.Fprintf(c.out, "Bytes received:     %s\n", num(st["bytes"]))
	fmt.Fprintf(c.out, "Frames forwarded:   %s\n", num(st["transmitted"]))
	fmt.Fprintf(c.out, "Echo replies:       %s\n", num(st["replied"]))
	fmt.Fprintf(c.out, "Frames dropped:     %s\n", num(st["dropped"]))
	drops, _ := st["drop_reasons"].(map[string]any)
	for _, r := range forwarding.DropReasons() {
		if v, ok := drops[r.String()]; ok {
			fmt.Fprintf(c.out, "  %-20s %s\n", r.String(), num(v))
		}
	}
	return nil
}

func (c *CLI) showRoutes(ctx context.Context) error {
	routes, err := c.backend.ListRoutes(ctx)
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		fmt.Fprintln(c.out, "No routes")
		return nil
	}
	fmt.Fprintf(c.out, "%-20s %-16s %s\n", "Destination", "Next hop", "Port")
	for _, item := range routes {
		r, _ := item.(map[string]any)
		fmt.Fprintf(c.out, "%-20s %-16s %s\n", str(r["destination"]), str(r["next_hop"]), num(r["interface"]))
	}
	return nil
}

func (c *CLI) showLookup(ctx context.Context, addr string) error {
	res, err := c.backend.Lookup(ctx, addr)
	if err != nil {
		return err
	}
	if found, _ := res["found"].(bool); !found {
		fmt.Fprintf(c.out, "No route to %s\n", str(res["address"]))
		return nil
	}
	r, _ := res["route"].(map[string]any)
	fmt.Fprintf(c.out, "%s via %s port %s (%s)\n",
		str(res["address"]), str(r["next_hop"]), num(r["interface"]), str(r["destination"]))
	if mac := str(res["next_hop_mac"]); mac != "" {
		fmt.Fprintf(c.out, "  next-hop MAC %s\n", mac)
	} else {
		fmt.Fprintln(c.out, "  next hop unresolved (frames would be dropped)")
	}
	return nil
}

func (c *CLI) showNeighbors(ctx context.Context) error {
	entries, err := c.backend.ListNeighbors(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No neighbors")
		return nil
	}
	fmt.Fprintf(c.out, "%-16s %s\n", "Address", "MAC address")
	for _, item := range entries {
		e, _ := item.(map[string]any)
		fmt.Fprintf(c.out, "%-16s %s\n", str(e["ip"]), str(e["mac"]))
	}
	return nil
}

func (c *CLI) showInterfaces(ctx context.Context, name string) error {
	ifaces, err := c.backend.ListInterfaces(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%-5s %-12s %-16s %s\n", "Port", "Interface", "Address", "MAC address")
	shown := 0
	for _, item := range ifaces {
		p, _ := item.(map[string]any)
		if name != "" && str(p["name"]) != name {
			continue
		}
		fmt.Fprintf(c.out, "%-5s %-12s %-16s %s\n", num(p["port"]), str(p["name"]), str(p["address"]), str(p["mac"]))
		shown++
	}
	if name != "" && shown == 0 {
		return fmt.Errorf("interface %s not found", name)
	}
	return nil
}

// showEvents handles: show events [reason R] [port N] [address A] [count N]
func (c *CLI) showEvents(ctx context.Context, args []string) error {
	filter := map[string]any{}
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			return fmt.Errorf("show events: %s needs a value", args[i])
		}
		key, val := args[i], args[i+1]
		switch key {
		case "reason":
			if _, ok := forwarding.ParseDropReason(val); !ok {
				return fmt.Errorf("unknown drop reason %q", val)
			}
			filter["reason"] = val
		case "address":
			filter["address"] = val
		case "port", "count":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid %s %q", key, val)
			}
			if key == "count" {
				key = "limit"
			}
			filter[key] = n
		default:
			return fmt.Errorf("unknown filter %q", key)
		}
	}
	events, err := c.backend.GetEvents(ctx, filter)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(c.out, "No drop events")
		return nil
	}
	for _, item := range events {
		ev, _ := item.(map[string]any)
		fmt.Fprintf(c.out, "%s %s\n", str(ev["time"]), str(ev["message"]))
	}
	return nil
}

// helpKey shows completions when '?' is typed.
func (c *CLI) helpKey(line []rune, pos int, key rune) ([]rune, int, bool) {
	if key != '?' || pos < 1 {
		return line, pos, false
	}
	// Strip the '?' that readline already inserted.
	clean := make([]rune, 0, len(line)-1)
	clean = append(clean, line[:pos-1]...)
	clean = append(clean, line[pos:]...)
	text := string(clean[:pos-1])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	candidates, err := c.backend.Complete(ctx, text+" ")
	if err != nil || len(candidates) == 0 {
		fmt.Fprintln(c.out, "  (no help available)")
		return clean, pos - 1, true
	}
	cmdtree.WriteHelp(c.out, candidates)
	return clean, pos - 1, true
}

type remoteCompleter struct {
	cli *CLI
}

// Do implements readline.AutoCompleter.
func (rc *remoteCompleter) Do(line []rune, pos int) ([][]rune, int) {
	text := string(line[:pos])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	candidates, err := rc.cli.backend.Complete(ctx, text)
	if err != nil || len(candidates) == 0 {
		return nil, 0
	}
	_, partial := cmdtree.SplitLine(text)

	if len(candidates) == 1 {
		suffix := strings.TrimPrefix(candidates[0].Name, partial)
		return [][]rune{[]rune(suffix + " ")}, len(partial)
	}

	// Multiple matches: show descriptions above prompt.
	names := make([]string, len(candidates))
	for i, cand := range candidates {
		names[i] = cand.Name
	}
	sort.Strings(names)
	cmdtree.WriteHelp(rc.cli.out, candidates)

	suffix := strings.TrimPrefix(cmdtree.CommonPrefix(names), partial)
	if suffix == "" {
		return nil, 0
	}
	return [][]rune{[]rune(suffix)}, len(partial)
}
