// Command dpp-hostapd-cli sends one raw command to hostapd's control
// interface and prints the reply, e.g.
//
//	dpp-hostapd-cli wlan0 DPP_BOOTSTRAP_GEN type=qrcode
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/qrdia/dpp-provisioner/internal/hostapd"
)

func main() {
	flags := pflag.NewFlagSet("dpp-hostapd-cli", pflag.ExitOnError)
	socketDir := flags.String("socket-dir", "/var/run/hostapd", "hostapd control socket directory")
	timeout := flags.Duration("timeout", 5*time.Second, "reply timeout")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: dpp-hostapd-cli [flags] <interface> <command> [args...]\n")
		flags.PrintDefaults()
	}
	// Everything after the interface belongs to the hostapd command.
	flags.SetInterspersed(false)
	flags.Parse(os.Args[1:])

	args := flags.Args()
	if len(args) < 2 {
		flags.Usage()
		os.Exit(2)
	}

	if err := run(*socketDir, *timeout, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(socketDir string, timeout time.Duration, iface string, words []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reply, err := hostapd.NewClient(socketDir, iface, timeout).Request(ctx, hostapd.JoinCommand(words))
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}
