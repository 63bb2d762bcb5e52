package main

import (
	"fmt"
	"io"
	"net/netip"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psaab/ipfwd/pkg/config"
	"github.com/psaab/ipfwd/pkg/daemon"
	"github.com/psaab/ipfwd/pkg/forwarding"
	"github.com/psaab/ipfwd/pkg/link"
	"github.com/psaab/ipfwd/pkg/logging"
)

func newCheckCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check [routing-table interface...]",
		Short: "Validate the configuration and tables, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, v, args)
			if err != nil {
				return err
			}
			return runCheck(cmd.OutOrStdout(), cfg)
		},
	}
}

func runCheck(w io.Writer, cfg *config.Config) error {
	t, err := daemon.LoadTables(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "interfaces: %d\n", len(cfg.Interfaces))
	fmt.Fprintf(w, "routes:     %d", t.FIB.Len())
	if n := t.FIB.Replaced(); n > 0 {
		fmt.Fprintf(w, " (%d duplicate prefixes replaced)", n)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "neighbors:  %d\n", t.Neighbors.Len())
	return nil
}

func newLookupCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <address>...",
		Short: "Resolve addresses against the configured tables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, v, nil)
			if err != nil {
				return err
			}
			return runLookup(cmd.OutOrStdout(), cfg, args)
		},
	}
}

func runLookup(w io.Writer, cfg *config.Config, addrs []string) error {
	t, err := daemon.LoadTables(cfg)
	if err != nil {
		return err
	}
	names := cfg.InterfaceNames()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tROUTE\tNEXT-HOP\tINTERFACE\tNEXT-HOP MAC")
	for _, s := range addrs {
		a, err := netip.ParseAddr(s)
		if err != nil || !a.Is4() {
			return fmt.Errorf("invalid IPv4 address %q", s)
		}
		r, ok := t.FIB.LookupAddr(a)
		if !ok {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\n", a)
			continue
		}
		mac := "-"
		if hw, ok := t.Neighbors.Resolve(r.NextHop); ok {
			mac = hw.String()
		}
		ifname := fmt.Sprintf("port%d", r.Interface)
		if r.Interface < len(names) {
			ifname = names[r.Interface]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a, r.Destination(), r.Gateway(), ifname, mac)
	}
	return tw.Flush()
}

func newReplayCmd(v *viper.Viper) *cobra.Command {
	var (
		out    string
		inPort int
	)
	cmd := &cobra.Command{
		Use:   "replay <capture.pcap>",
		Short: "Run a capture through the pipeline offline",
		Long: `replay feeds every frame of an Ethernet pcap file through the forwarding
pipeline as if it arrived on --port, and prints the outcome of each.
Interfaces need an address and mac in the configuration file since no
kernel state is consulted. Forwarded frames and replies are written to
--out if given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, v, nil)
			if err != nil {
				return err
			}
			return runReplay(cmd.OutOrStdout(), cfg, args[0], out, inPort)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write transmitted frames and replies to this pcap file")
	cmd.Flags().IntVar(&inPort, "port", 0, "ingress port for every frame")
	return cmd
}

func runReplay(w io.Writer, cfg *config.Config, in, out string, inPort int) error {
	if inPort < 0 || inPort >= len(cfg.Interfaces) {
		return fmt.Errorf("ingress port %d out of range (%d interfaces)", inPort, len(cfg.Interfaces))
	}
	specs, err := daemon.PortSpecs(cfg)
	if err != nil {
		return err
	}
	ports, err := link.NewStatic(specs)
	if err != nil {
		return err
	}
	t, err := daemon.LoadTables(cfg)
	if err != nil {
		return err
	}
	frames, err := logging.ReadPcap(in)
	if err != nil {
		return err
	}

	var pw *logging.PcapWriter
	if out != "" {
		if pw, err = logging.NewPcapWriter(out); err != nil {
			return err
		}
		defer pw.Close()
	}

	p := forwarding.New(ports, t)
	ts := time.Now()
	for i, frame := range frames {
		o := p.Process(frame, inPort)
		fmt.Fprintf(w, "%d: %s\n", i+1, o)
		if pw != nil && o.Action != forwarding.Dropped {
			if err := pw.WriteFrame(ts, frame); err != nil {
				return err
			}
		}
	}

	s := p.Stats()
	fmt.Fprintf(w, "frames %d: transmitted %d, replied %d, dropped %d\n",
		s.Frames, s.Transmitted, s.Replied, s.DroppedTotal())
	if pw != nil {
		return pw.Close()
	}
	return nil
}
