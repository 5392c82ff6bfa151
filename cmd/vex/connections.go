// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vex/client"
	"github.com/bureau-foundation/vex/cmd/vex/cli"
	"github.com/bureau-foundation/vex/lib/protocol"
)

type connectParams struct {
	Name    string        `flag:"name,n" desc:"name to save the connection under" default:"default"`
	Host    string        `flag:"host" desc:"remote daemon host[:port]; omit for the local daemon"`
	Pairing string        `flag:"pairing" desc:"pairing string from 'vexd pair' (read from stdin if omitted)"`
	Socket  string        `flag:"socket" desc:"local daemon socket (default: $VEX_HOME/daemon/vexd.sock)"`
	Timeout time.Duration `flag:"timeout" desc:"connection timeout" default:"10s"`
}

func (a *app) connectCommand() *cli.Command {
	var params connectParams
	return &cli.Command{
		Name:    "connect",
		Summary: "Save a connection to a daemon",
		Description: "Connect to a daemon and save the connection. Without --host, the local\n" +
			"daemon's socket is used. With --host, the pairing string from 'vexd pair'\n" +
			"authenticates the connection and the daemon's certificate is pinned.\n\n" +
			"Nothing is saved unless the handshake succeeds.",
		Usage: "vex connect [--host host[:port]] [flags]",
		Examples: []cli.Example{
			{Description: "Use the daemon on this machine", Command: "vex connect"},
			{Description: "Pair with a remote daemon", Command: "vex connect --host devbox:7422 --name devbox"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("connect", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.MaxArgs(args, 0, "vex connect [--host host[:port]] [flags]"); err != nil {
				return err
			}
			vex, paths, err := openClient(params.Timeout)
			if err != nil {
				return err
			}
			request := client.ConnectRequest{Name: params.Name}

			if params.Host == "" {
				request.SocketPath = params.Socket
				if request.SocketPath == "" {
					request.SocketPath = paths.SocketFile()
				}
			} else {
				pairing := params.Pairing
				if pairing == "" {
					pairing, err = a.readSecret("Pairing string: ")
					if err != nil {
						return err
					}
				}
				credential, err := protocol.ParsePairingString(pairing)
				if err != nil {
					return err
				}
				request.Host = params.Host
				request.Credential = &credential
			}

			connection, err := vex.Connect(ctx, request)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Connected %s to %s.\n", a.output.Bold(connection.Name), connection.Address())
			if connection.Remote() {
				fmt.Fprintf(a.stdout, "Pinned certificate %s\n", connection.TLSFingerprint)
				fmt.Fprintln(a.stdout, a.output.Muted("Compare with 'vexd fingerprint' on the daemon host."))
			}
			if vex.Store().Default() == connection.Name {
				fmt.Fprintf(a.stdout, "%s is the default connection.\n", connection.Name)
			}
			return nil
		},
	}
}

type disconnectParams struct {
	All bool `flag:"all" desc:"remove every saved connection"`
}

func (a *app) disconnectCommand() *cli.Command {
	var params disconnectParams
	return &cli.Command{
		Name:    "disconnect",
		Summary: "Remove saved connections",
		Usage:   "vex disconnect <name> | --all",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("disconnect", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			vex, _, err := openClient(0)
			if err != nil {
				return err
			}
			store := vex.Store()
			removed := 0
			switch {
			case params.All && len(args) == 0:
				removed, err = store.RemoveAll()
			case !params.All && len(args) == 1:
				err = store.Remove(args[0])
				removed = 1
			default:
				return fmt.Errorf("provide exactly one connection name or --all\n\nUsage: vex disconnect <name> | --all")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Removed %d connection(s).\n", removed)
			return nil
		},
	}
}

type listParams struct {
	cli.JSONOutput
}

// connectionSummary is the --json form of a saved connection. Secrets
// are left out.
type connectionSummary struct {
	Name        string `json:"name"`
	Transport   string `json:"transport"`
	Address     string `json:"address"`
	TokenID     string `json:"token_id,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Default     bool   `json:"default"`
}

func (a *app) listCommand() *cli.Command {
	var params listParams
	return &cli.Command{
		Name:    "list",
		Summary: "List saved connections",
		Usage:   "vex list [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			vex, _, err := openClient(0)
			if err != nil {
				return err
			}
			store := vex.Store()
			defaultName := store.Default()
			var summaries []connectionSummary
			for _, connection := range store.List() {
				summaries = append(summaries, connectionSummary{
					Name:        connection.Name,
					Transport:   string(connection.Transport),
					Address:     connection.Address(),
					TokenID:     connection.TokenID,
					Fingerprint: connection.TLSFingerprint,
					Default:     connection.Name == defaultName,
				})
			}
			if done, err := params.EmitJSON(a.stdout, summaries); done {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(a.stdout, "No saved connections. Run 'vex connect' to add one.")
				return nil
			}
			tw := tabwriter.NewWriter(a.stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "\tNAME\tTRANSPORT\tADDRESS\tTOKEN")
			for _, summary := range summaries {
				marker := ""
				if summary.Default {
					marker = "*"
				}
				token := summary.TokenID
				if token == "" {
					token = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, summary.Name, summary.Transport, summary.Address, token)
			}
			return tw.Flush()
		},
	}
}

func (a *app) useCommand() *cli.Command {
	return &cli.Command{
		Name:    "use",
		Summary: "Set the default connection",
		Usage:   "vex use <name>",
		Run: func(ctx context.Context, args []string) error {
			if err := cli.ExactArgs(args, 1, "vex use <name>"); err != nil {
				return err
			}
			vex, _, err := openClient(0)
			if err != nil {
				return err
			}
			if err := vex.Store().SetDefault(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Default connection is now %s.\n", args[0])
			return nil
		},
	}
}

type repinParams struct {
	Timeout time.Duration `flag:"timeout" desc:"connection timeout" default:"10s"`
}

func (a *app) repinCommand() *cli.Command {
	var params repinParams
	return &cli.Command{
		Name:    "repin",
		Summary: "Trust a remote daemon's new TLS certificate",
		Description: "Replace the pinned certificate fingerprint of a remote connection with\n" +
			"the one the daemon presents now. Only do this when the daemon's certificate\n" +
			"was deliberately regenerated: check the new fingerprint against\n" +
			"'vexd fingerprint' on the daemon host.",
		Usage: "vex repin <name>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("repin", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.ExactArgs(args, 1, "vex repin <name>"); err != nil {
				return err
			}
			vex, _, err := openClient(params.Timeout)
			if err != nil {
				return err
			}
			repinned, err := vex.Repin(ctx, args[0])
			if err != nil {
				return err
			}
			previous := repinned.Previous
			if previous == "" {
				previous = "(none)"
			}
			fmt.Fprintf(a.stdout, "Re-pinned %s.\n  previous: %s\n  current:  %s\n", args[0], previous, repinned.Current)
			return nil
		},
	}
}
