// Command pmoskernel is the simulated machine's entry point: it parses the
// hand-off-chain equivalents as CLI flags, brings the machine up via
// kernel/boot.Boot, starts the admin ttrpc surface, and blocks until
// interrupted.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/ThatMishakov/pmOS-sub004/internal/adminsvc"
	"github.com/ThatMishakov/pmOS-sub004/kernel/boot"
	"github.com/ThatMishakov/pmOS-sub004/kernel/interrupt"
	interruptarch "github.com/ThatMishakov/pmOS-sub004/kernel/interrupt/arch"
	"github.com/ThatMishakov/pmOS-sub004/kernel/memory/arch"
)

const defaultAdminAddress = "/run/pmos/admin.sock"

var archByName = map[string]arch.Descriptor{
	"amd64-4level": arch.AMD64Level4,
	"amd64-5level": arch.AMD64Level5,
	"i686":         arch.I686,
	"i686-pae":     arch.I686PAE,
	"riscv-sv39":   arch.RISCVSv39,
	"riscv-sv48":   arch.RISCVSv48,
	"loongarch64":  arch.LoongArch,
	"arm64":        arch.ARM64,
}

func main() {
	app := cli.NewApp()
	app.Name = "pmoskernel"
	app.Usage = "bring up a simulated pmOS machine"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
		&cli.IntFlag{
			Name:  "ncpus",
			Usage: "number of simulated CPUs to bring up",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "total-pages",
			Usage: "number of page frames the frame allocator manages",
			Value: 65536,
		},
		&cli.StringFlag{
			Name:  "arch",
			Usage: fmt.Sprintf("page-table shape (%s)", archNames()),
			Value: "amd64-4level",
		},
		&cli.StringFlag{
			Name:  "admin-address",
			Usage: "unix socket the admin introspection service listens on",
			Value: defaultAdminAddress,
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.Bool("debug") {
			return log.SetLevel("debug")
		}
		return nil
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// hooksFor returns the interrupt-controller hook set matching archName's
// family: IOAPIC/LAPIC for amd64 and i686 (both route through an IOAPIC in
// this simulation), PLIC for riscv, EIO-PIC/LIO-PIC for loongarch64.
// arm64's GICv3 has no hook set implemented yet, so it is refused here
// rather than silently running with nil hooks.
func hooksFor(archName string) (interrupt.Hooks, error) {
	switch {
	case strings.HasPrefix(archName, "amd64") || strings.HasPrefix(archName, "i686"):
		return interruptarch.NewX86(), nil
	case strings.HasPrefix(archName, "riscv"):
		return interruptarch.NewRISCV(), nil
	case archName == "loongarch64":
		return interruptarch.NewLoongArch(), nil
	default:
		return nil, fmt.Errorf("no interrupt hook set implemented for arch %q", archName)
	}
}

func archNames() string {
	s := ""
	for name := range archByName {
		if s != "" {
			s += ", "
		}
		s += name
	}
	return s
}

func run(c *cli.Context) error {
	archName := c.String("arch")
	desc, ok := archByName[archName]
	if !ok {
		return fmt.Errorf("unknown arch %q", archName)
	}
	hooks, err := hooksFor(archName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithLogger(ctx, log.L)

	k, err := boot.Boot(ctx, boot.Config{
		NCPUs:      c.Int("ncpus"),
		TotalPages: c.Int("total-pages"),
		Arch:       desc,
		Hooks:      hooks,
	})
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	defer k.Shutdown()

	adminAddr := c.String("admin-address")
	lis, err := listenAdmin(adminAddr)
	if err != nil {
		return fmt.Errorf("admin listener: %w", err)
	}
	defer lis.Close()

	srv, err := adminsvc.NewServer()
	if err != nil {
		return fmt.Errorf("admin server: %w", err)
	}
	adminsvc.RegisterService(srv, adminsvc.NewService(k.Syscall))

	go func() {
		if err := srv.Serve(ctx, lis); err != nil && ctx.Err() == nil {
			log.G(ctx).WithError(err).Error("admin server exited")
		}
	}()

	log.G(ctx).WithField("admin-address", adminAddr).Info("pmoskernel up")

	<-ctx.Done()
	log.G(ctx).Info("shutting down")
	_ = srv.Shutdown(context.Background())
	return nil
}

// listenAdmin binds the admin unix socket, removing a stale socket file
// left behind by an unclean prior shutdown first.
func listenAdmin(addr string) (net.Listener, error) {
	if _, err := os.Stat(addr); err == nil {
		os.Remove(addr)
	}
	return net.Listen("unix", addr)
}
