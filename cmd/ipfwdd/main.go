// ipfwdd is the ipfwd IPv4 forwarding daemon.
//
// It forwards IPv4 frames between the given interfaces using a static
// routing table and a static neighbor table, and answers frames addressed
// to its own interfaces with an ICMP echo reply.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psaab/ipfwd/pkg/config"
	"github.com/psaab/ipfwd/pkg/daemon"
	"github.com/psaab/ipfwd/pkg/logging"
)

var version = "dev"

// bindFlags are root flags that map one-to-one onto config keys.
var bindFlags = []string{"routes", "interfaces", "neighbors", "api-addr", "grpc-addr", "trace-file", "drop-log", "log-level"}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ipfwdd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "ipfwdd [routing-table interface...]",
		Short: "Static IPv4 forwarding dataplane",
		Long: `ipfwdd forwards IPv4 frames between interfaces by longest-prefix match
over a static routing table, resolving next hops from a static neighbor
table. Interface N in the routing table is the N-th interface given.

The routing table and interfaces may be given as arguments or in the
configuration file; arguments win.`,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, handler, err := loadConfig(cmd, v, args)
			if err != nil {
				return err
			}
			d := daemon.New(daemon.Options{
				Config:     cfg,
				ConfigFile: v.ConfigFileUsed(),
				LogHandler: handler,
				Version:    version,
			})
			return d.Run(cmd.Context())
		},
	}

	f := cmd.PersistentFlags()
	f.StringP("config", "c", config.DefaultConfigFile, "configuration file path")
	f.String("routes", "", "routing table (prefix mask next-hop interface per line)")
	f.StringSlice("interfaces", nil, "forwarding interfaces in port order")
	f.String("neighbors", config.DefaultNeighbors, "neighbor table (ip mac per line)")
	f.String("api-addr", config.DefaultAPIAddr, "HTTP API listen address (empty to disable)")
	f.String("grpc-addr", config.DefaultGRPCAddr, "gRPC API listen address (empty to disable)")
	f.String("trace-file", "", "write dropped frames to this pcap file")
	f.String("drop-log", "", "append drop events to this text file")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.Bool("debug", false, "enable debug logging")
	for _, name := range bindFlags {
		if err := v.BindPFlag(name, f.Lookup(name)); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(
		newCheckCmd(v),
		newLookupCmd(v),
		newReplayCmd(v),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig merges defaults, the config file, IPFWD_* environment,
// flags and positional arguments, then sets up logging.
func loadConfig(cmd *cobra.Command, v *viper.Viper, args []string) (*config.Config, *logging.SyslogHandler, error) {
	file, _ := cmd.Flags().GetString("config")
	config.Prepare(v, file)
	required := cmd.Flags().Changed("config")

	if len(args) > 0 {
		v.Set("routes", args[0])
	}
	if len(args) > 1 {
		v.Set("interfaces", args[1:])
	}

	cfg, err := config.Load(v, required)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.SlogLevel()
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}
	handler := logging.NewSyslogHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(slog.New(handler))
	return cfg, handler, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the ipfwdd version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ipfwdd %s\n", version)
		},
	}
}
