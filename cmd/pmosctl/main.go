// Command pmosctl is an unsupported debug and administrative client for a
// running pmoskernel, mirroring cmd/ctr's relationship to the containerd
// daemon: a thin ttrpc client over a handful of read-only subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/ThatMishakov/pmOS-sub004/internal/adminsvc"
)

const defaultAddress = "/run/pmos/admin.sock"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "pmosctl"
	app.Usage = "inspect a running pmoskernel"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "address",
			Aliases: []string{"a"},
			Usage:   "admin socket address",
			Value:   defaultAddress,
			EnvVars: []string{"PMOS_ADMIN_ADDRESS"},
		},
		&cli.DurationFlag{
			Name:  "connect-timeout",
			Usage: "timeout for dialing the admin socket",
			Value: 3 * time.Second,
		},
	}
	app.Before = func(c *cli.Context) error {
		return log.SetLevel("info")
	}
	app.Commands = []*cli.Command{
		tasksCommand,
		portsCommand,
		timersCommand,
		interruptsCommand,
	}
	return app
}

func dial(c *cli.Context) (*adminsvc.Client, func(), error) {
	addr := c.String("address")
	conn, err := net.DialTimeout("unix", addr, c.Duration("connect-timeout"))
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return adminsvc.NewClient(adminsvc.NewClientConn(conn)), func() { conn.Close() }, nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

var tasksCommand = &cli.Command{
	Name:  "tasks",
	Usage: "list every task the scheduler knows about",
	Action: func(c *cli.Context) error {
		client, closeConn, err := dial(c)
		if err != nil {
			return err
		}
		defer closeConn()
		resp, err := client.ListTasks(context.Background())
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var portsCommand = &cli.Command{
	Name:  "ports",
	Usage: "list every live port",
	Action: func(c *cli.Context) error {
		client, closeConn, err := dial(c)
		if err != nil {
			return err
		}
		defer closeConn()
		resp, err := client.ListPorts(context.Background())
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var timersCommand = &cli.Command{
	Name:      "timers",
	Usage:     "dump a simulated CPU's pending timer heap",
	ArgsUsage: "<cpu>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("usage: pmosctl timers <cpu>")
		}
		var cpu int
		if _, err := fmt.Sscanf(c.Args().First(), "%d", &cpu); err != nil {
			return fmt.Errorf("invalid cpu %q: %w", c.Args().First(), err)
		}
		client, closeConn, err := dial(c)
		if err != nil {
			return err
		}
		defer closeConn()
		resp, err := client.DumpTimers(context.Background(), cpu)
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var interruptsCommand = &cli.Command{
	Name:  "interrupts",
	Usage: "dump every interrupt binding",
	Action: func(c *cli.Context) error {
		client, closeConn, err := dial(c)
		if err != nil {
			return err
		}
		defer closeConn()
		resp, err := client.DumpInterrupts(context.Background())
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}
