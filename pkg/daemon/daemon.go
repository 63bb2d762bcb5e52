// Package daemon implements the ipfwd daemon lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psaab/ipfwd/pkg/api"
	"github.com/psaab/ipfwd/pkg/config"
	"github.com/psaab/ipfwd/pkg/fib"
	"github.com/psaab/ipfwd/pkg/forwarding"
	"github.com/psaab/ipfwd/pkg/grpcapi"
	"github.com/psaab/ipfwd/pkg/link"
	"github.com/psaab/ipfwd/pkg/logging"
)

// Links is the port layer the forwarding worker runs over.
type Links interface {
	forwarding.Ports
	Receive(ctx context.Context, buf []byte) (n, port int, err error)
	Transmit(port int, frame []byte) error
	Describe() []link.PortInfo
	Close() error
}

// openLinks is replaced in tests.
var openLinks = func(specs []link.PortSpec) (Links, error) {
	s, err := link.Open(specs)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Options configures the daemon.
type Options struct {
	Config     *config.Config
	ConfigFile string                 // for log messages only
	LogHandler *logging.SyslogHandler // receives the syslog client, if configured
	Version    string
}

// Daemon is the main ipfwd daemon.
type Daemon struct {
	opts     Options
	cfg      *config.Config
	links    Links
	pipeline *forwarding.Pipeline
	eventBuf *logging.EventBuffer
	agg      *logging.DropAggregator
	trace    *logging.PcapWriter
	dropLog  *logging.DropLogWriter
	syslog   *logging.SyslogClient
	sysDrops bool // send drop events to syslog
	ingress  []byte // copy of the frame as received, kept only when tracing

	reloadMu sync.Mutex
}

// New creates a new Daemon.
func New(opts Options) *Daemon {
	return &Daemon{
		opts: opts,
		cfg:  opts.Config,
	}
}

// PortSpecs converts the configured interfaces into link specs, in port
// order.
func PortSpecs(cfg *config.Config) ([]link.PortSpec, error) {
	specs := make([]link.PortSpec, 0, len(cfg.Interfaces))
	for _, ifc := range cfg.Interfaces {
		addr, err := ifc.ParseAddress()
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", ifc.Name, err)
		}
		mac, err := ifc.ParseMAC()
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", ifc.Name, err)
		}
		specs = append(specs, link.PortSpec{Name: ifc.Name, Address: addr, MAC: mac})
	}
	return specs, nil
}

// LoadTables reads the routing and neighbor tables named by cfg and
// builds a forwarding snapshot.
func LoadTables(cfg *config.Config) (*forwarding.Tables, error) {
	routes, err := config.LoadRoutesFile(cfg.Routes)
	if err != nil {
		return nil, err
	}
	if err := config.CheckRoutes(routes, len(cfg.Interfaces)); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Routes, err)
	}
	neighbors, err := config.LoadNeighborsFile(cfg.Neighbors)
	if err != nil {
		return nil, err
	}
	t := forwarding.NewTables(routes, neighbors)
	if n := t.FIB.Replaced(); n > 0 {
		slog.Warn("duplicate route prefixes, later entries win", "replaced", n)
	}
	return t, nil
}

// Run starts the daemon and blocks until shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	if d.cfg == nil {
		return errors.New("no configuration")
	}
	slog.Info("starting ipfwd daemon",
		"config", d.opts.ConfigFile,
		"routes", d.cfg.Routes,
		"neighbors", d.cfg.Neighbors,
		"pid", os.Getpid())

	// Tables must load before any port is opened.
	tables, err := LoadTables(d.cfg)
	if err != nil {
		return fmt.Errorf("load tables: %w", err)
	}
	slog.Info("tables loaded", "routes", tables.FIB.Len(), "neighbors", tables.Neighbors.Len())

	specs, err := PortSpecs(d.cfg)
	if err != nil {
		return err
	}
	links, err := openLinks(specs)
	if err != nil {
		return fmt.Errorf("open links: %w", err)
	}
	d.links = links
	defer links.Close()

	d.pipeline = forwarding.New(links, tables)
	d.eventBuf = logging.NewEventBuffer(d.cfg.EventBuffer)
	d.agg = logging.NewDropAggregator(0, 0)
	d.agg.SetLogger(slog.Default().With("component", "drop-aggregator"))

	if err := d.openSinks(); err != nil {
		d.closeSinks()
		return err
	}
	defer d.closeSinks()

	// Handle signals for clean shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// WaitGroup for coordinated shutdown of background goroutines
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				slog.Error(name+" stopped", "err", err)
			}
		}()
	}

	if d.cfg.APIAddr != "" {
		srv := api.NewServer(api.Config{
			Addr:     d.cfg.APIAddr,
			Auth:     apiAuth(d.cfg),
			DP:       d.pipeline,
			Ports:    links,
			EventBuf: d.eventBuf,
			ReloadFn: d.Reload,
		})
		start("HTTP API", srv.Run)
	}
	if d.cfg.GRPCAddr != "" {
		srv := grpcapi.NewServer(d.cfg.GRPCAddr, grpcapi.Config{
			DP:       d.pipeline,
			Ports:    links,
			EventBuf: d.eventBuf,
			ReloadFn: d.Reload,
			Version:  d.opts.Version,
		})
		start("gRPC API", srv.Run)
	}
	start("drop aggregator", func(ctx context.Context) error {
		d.agg.Run(ctx)
		return nil
	})
	start("reload handler", d.watchReload)

	// Single forwarding worker
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.forward(ctx)
	}()

	var runErr error
	select {
	case err := <-errCh:
		if err != nil {
			runErr = fmt.Errorf("forwarding: %w", err)
		}
	case <-ctx.Done():
		slog.Info("signal received, shutting down")
		<-errCh
	}

	// Cancel context to stop background goroutines, then wait for them.
	stop()
	wg.Wait()

	logFinalStats(d.pipeline.Stats())
	slog.Info("shutdown complete")
	return runErr
}

func apiAuth(cfg *config.Config) *api.AuthConfig {
	if !cfg.APIAuthEnabled() {
		return nil
	}
	return &api.AuthConfig{
		Users:     cfg.APIUsers,
		Keys:      cfg.APIKeys,
		OpenReads: cfg.APIOpenReads,
	}
}

// openSinks opens the optional drop trace, drop log and syslog outputs.
func (d *Daemon) openSinks() error {
	if d.cfg.TraceFile != "" {
		pw, err := logging.NewPcapWriter(d.cfg.TraceFile)
		if err != nil {
			return fmt.Errorf("trace file: %w", err)
		}
		d.trace = pw
		slog.Info("tracing dropped frames", "file", d.cfg.TraceFile)
	}
	if d.cfg.DropLog != "" {
		lw, err := logging.NewDropLogWriter(logging.DropLogConfig{Path: d.cfg.DropLog})
		if err != nil {
			return fmt.Errorf("drop log: %w", err)
		}
		d.dropLog = lw
	}
	if d.cfg.Syslog.Host != "" {
		c, err := logging.DialSyslog(d.cfg.Syslog.Host)
		if err != nil {
			return err
		}
		c.MinSeverity = logging.ParseSeverity(d.cfg.Syslog.Severity)
		d.syslog = c
		d.sysDrops = d.cfg.Syslog.Drops
		if d.opts.LogHandler != nil {
			d.opts.LogHandler.SetClient(c)
		}
		slog.Info("syslog configured", "host", d.cfg.Syslog.Host, "drops", d.cfg.Syslog.Drops)
	}
	return nil
}

func (d *Daemon) closeSinks() {
	if d.trace != nil {
		d.trace.Close()
	}
	if d.dropLog != nil {
		d.dropLog.Close()
	}
	switch {
	case d.syslog == nil:
	case d.opts.LogHandler != nil:
		d.opts.LogHandler.SetClient(nil) // closes d.syslog
	default:
		d.syslog.Close()
	}
}

// Reload rebuilds the routing and neighbor tables from disk and swaps
// them in. On error the running tables are kept.
func (d *Daemon) Reload() error {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	t, err := LoadTables(d.cfg)
	if err != nil {
		slog.Warn("reload: keeping current tables", "err", err)
		return err
	}
	d.pipeline.SetTables(t)
	slog.Info("reload: tables replaced", "routes", t.FIB.Len(), "neighbors", t.Neighbors.Len())
	return nil
}

// watchReload reloads tables on SIGHUP until ctx is done.
func (d *Daemon) watchReload(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			slog.Info("SIGHUP received, reloading tables")
			d.Reload()
		}
	}
}

// forward is the forwarding worker: receive, decide, transmit.
func (d *Daemon) forward(ctx context.Context) error {
	buf := make([]byte, link.MaxFrame)
	for {
		n, in, err := d.links.Receive(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		d.handle(buf[:n], in)
	}
}

func (d *Daemon) handle(frame []byte, in int) {
	// Process rewrites TTL and checksum before some drops; the trace
	// records frames as they arrived.
	received := frame
	if d.trace != nil {
		d.ingress = append(d.ingress[:0], frame...)
		received = d.ingress
	}

	out := d.pipeline.Process(frame, in)
	switch out.Action {
	case forwarding.Transmitted, forwarding.Replied:
		if err := d.links.Transmit(out.Port, frame); err != nil {
			slog.Warn("transmit failed", "port", out.Port, "err", err)
		}
	case forwarding.Dropped:
		d.recordDrop(received, in, out.Reason)
	}
}

func (d *Daemon) recordDrop(frame []byte, in int, reason forwarding.DropReason) {
	now := time.Now()
	ev := logging.DropEvent{
		Time:   now,
		Port:   in,
		Reason: reason.String(),
		Length: len(frame),
	}
	if src, dst, ok := forwarding.Addresses(frame); ok {
		ev.Src = fib.AddrFrom(src)
		ev.Dst = fib.AddrFrom(dst)
	}
	slog.Debug("frame dropped", "port", in, "reason", ev.Reason, "src", ev.Src, "dst", ev.Dst)

	d.eventBuf.Add(ev)
	d.agg.Add(ev)
	if d.trace != nil {
		if err := d.trace.WriteFrame(now, frame); err != nil {
			slog.Warn("trace write failed", "err", err)
		}
	}
	if d.dropLog != nil {
		if err := d.dropLog.Write(ev); err != nil {
			slog.Warn("drop log write failed", "err", err)
		}
	}
	if d.sysDrops {
		d.syslog.SendDrop(ev)
	}
}

// logFinalStats logs the counter summary before shutdown.
func logFinalStats(s forwarding.Stats) {
	attrs := []any{
		"frames", s.Frames,
		"transmitted", s.Transmitted,
		"replied", s.Replied,
		"dropped", s.DroppedTotal(),
	}
	for _, r := range forwarding.DropReasons() {
		if n := s.Dropped[r]; n > 0 {
			attrs = append(attrs, r.String(), n)
		}
	}
	slog.Info("final statistics", attrs...)
}
