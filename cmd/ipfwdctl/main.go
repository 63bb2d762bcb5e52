// ipfwdctl is the remote CLI client for ipfwdd.
//
// It connects to the ipfwdd gRPC API and runs either an interactive shell
// or, with -c, a single command.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/psaab/ipfwd/pkg/cli"
	"github.com/psaab/ipfwd/pkg/config"
	"github.com/psaab/ipfwd/pkg/grpcapi"
)

func main() {
	addr := flag.String("addr", config.DefaultGRPCAddr, "ipfwdd gRPC address")
	command := flag.StringP("command", "c", "", "run one command and exit")
	flag.Parse()

	client, conn, err := grpcapi.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ipfwdctl: connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	// Verify connectivity
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	status, err := client.GetStatus(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ipfwdctl: cannot reach ipfwdd at %s: %v\n", *addr, err)
		os.Exit(1)
	}

	c := cli.New(client)
	if *command != "" {
		if err := c.Execute(context.Background(), *command); err != nil && !cli.IsExit(err) {
			fmt.Fprintf(os.Stderr, "ipfwdctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("ipfwdctl - connected to ipfwdd %v (uptime: %v)\n", status["version"], status["uptime"])
	if err := c.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ipfwdctl: %v\n", err)
		os.Exit(1)
	}
}
