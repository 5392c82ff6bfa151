// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vex/client"
	"github.com/bureau-foundation/vex/cmd/vex/cli"
	"github.com/bureau-foundation/vex/lib/protocol"
	"github.com/bureau-foundation/vex/lib/tlscert"
	"github.com/bureau-foundation/vex/lib/version"
)

// requestTimeout bounds each administrative request to the local
// daemon.
const requestTimeout = 10 * time.Second

// request sends one command to the daemon over the local socket.
func request(ctx context.Context, command protocol.Command) (protocol.Response, error) {
	paths, err := resolvePaths()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	session, err := client.DialLocal(ctx, paths.SocketFile())
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.Do(ctx, command)
}

func unexpected(response protocol.Response) error {
	return fmt.Errorf("unexpected response %s from daemon", protocol.ResponseName(response))
}

type statusParams struct {
	cli.JSONOutput
}

func (a *app) statusCommand() *cli.Command {
	var params statusParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show daemon uptime and connected clients",
		Usage:   "vexd status [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			response, err := request(ctx, protocol.Status{})
			if err != nil {
				return err
			}
			status, ok := response.(protocol.DaemonStatus)
			if !ok {
				return unexpected(response)
			}
			if done, err := params.EmitJSON(a.stdout, status); done {
				return err
			}
			fmt.Fprintln(a.stdout, formatStatus(status))
			return nil
		},
	}
}

func formatStatus(status protocol.DaemonStatus) string {
	return fmt.Sprintf("vexd v%s | uptime: %ds | clients: %d",
		status.Version, status.UptimeSecs, status.ConnectedClients)
}

type pairParams struct {
	cli.JSONOutput
	Label  string        `flag:"label" desc:"human-readable label for the token"`
	Expire time.Duration `flag:"expire" desc:"token lifetime, e.g. 24h (default: never expires)"`
	NoQR   bool          `flag:"no-qr" desc:"do not print a QR code"`
}

// pairResult is the --json form of a new pairing.
type pairResult struct {
	TokenID       string `json:"token_id"`
	PairingString string `json:"pairing_string"`
	Host          string `json:"host,omitempty"`
	Fingerprint   string `json:"fingerprint,omitempty"`
}

func (a *app) pairCommand() *cli.Command {
	var params pairParams
	return &cli.Command{
		Name:    "pair",
		Summary: "Issue a pairing token for a remote client",
		Description: "Issue a pairing token and print the pairing string a remote client\n" +
			"passes to 'vex connect'. The secret is shown once and cannot be recovered.",
		Usage: "vexd pair [flags]",
		Examples: []cli.Example{
			{Description: "Pair a laptop for one week", Command: "vexd pair --label laptop --expire 168h"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("pair", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.MaxArgs(args, 0, "vexd pair [flags]"); err != nil {
				return err
			}
			command := protocol.PairCreate{}
			if params.Label != "" {
				command.Label = &params.Label
			}
			if params.Expire < 0 {
				return fmt.Errorf("--expire must not be negative")
			}
			if params.Expire > 0 {
				seconds := uint64((params.Expire + time.Second - 1) / time.Second)
				command.ExpireSecs = &seconds
			}

			response, err := request(ctx, command)
			if err != nil {
				return err
			}
			pair, ok := response.(protocol.Pair)
			if !ok {
				return unexpected(response)
			}

			result := pairResult{
				TokenID:       pair.TokenID,
				PairingString: protocol.AuthToken{TokenID: pair.TokenID, TokenSecret: pair.TokenSecret}.PairingString(),
			}
			if pair.Host != nil {
				result.Host = *pair.Host
			}
			if paths, err := resolvePaths(); err == nil {
				result.Fingerprint, _ = tlscert.ReadFingerprint(paths.TLSDir())
			}
			if done, err := params.EmitJSON(a.stdout, result); done {
				return err
			}
			a.printPairing(result, !params.NoQR)
			return nil
		},
	}
}

func (a *app) printPairing(result pairResult, withQR bool) {
	fmt.Fprintf(a.stdout, "Token ID:       %s\n", result.TokenID)
	fmt.Fprintf(a.stdout, "Pairing string: %s\n", a.output.Bold(result.PairingString))
	if result.Fingerprint != "" {
		fmt.Fprintf(a.stdout, "Fingerprint:    %s\n", result.Fingerprint)
	}
	host := result.Host
	if host == "" {
		host = "<host>"
	}
	fmt.Fprintf(a.stdout, "\nOn the client:\n  vex connect --host %s --name <name>\n", host)
	fmt.Fprintln(a.stdout, a.output.Muted("  (paste the pairing string when prompted)"))

	if !withQR {
		return
	}
	code, err := qrcode.New(result.PairingString, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(a.stdout, "\nCould not render QR code: %v\n", err)
		return
	}
	fmt.Fprintf(a.stdout, "\n%s", code.ToSmallString(false))
}

func (a *app) tokensCommand() *cli.Command {
	return &cli.Command{
		Name:    "tokens",
		Summary: "List or revoke pairing tokens",
		Subcommands: []*cli.Command{
			a.tokensListCommand(),
			a.tokensRevokeCommand(),
		},
	}
}

type tokensListParams struct {
	cli.JSONOutput
}

func (a *app) tokensListCommand() *cli.Command {
	var params tokensListParams
	return &cli.Command{
		Name:    "list",
		Summary: "List pairing tokens",
		Usage:   "vexd tokens list [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			response, err := request(ctx, protocol.PairList{})
			if err != nil {
				return err
			}
			list, ok := response.(protocol.PairedClients)
			if !ok {
				return unexpected(response)
			}
			if done, err := params.EmitJSON(a.stdout, list.Clients); done {
				return err
			}
			if len(list.Clients) == 0 {
				fmt.Fprintln(a.stdout, "No paired tokens.")
				return nil
			}
			writeTokenTable(a.stdout, list.Clients)
			return nil
		},
	}
}

func writeTokenTable(w io.Writer, clients []protocol.PairedClient) {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tCREATED\tEXPIRES\tLAST SEEN\tSTATUS")
	for _, paired := range clients {
		label := "-"
		if paired.Label != nil {
			label = *paired.Label
		}
		status := "active"
		if paired.Revoked {
			status = "revoked"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			paired.TokenID, label,
			formatUnix(&paired.CreatedAt, "-"),
			formatUnix(paired.ExpiresAt, "never"),
			formatUnix(paired.LastSeen, "never"),
			status)
	}
	tw.Flush()
}

func formatUnix(seconds *int64, missing string) string {
	if seconds == nil {
		return missing
	}
	return time.Unix(*seconds, 0).UTC().Format(time.RFC3339)
}

type tokensRevokeParams struct {
	All bool `flag:"all" desc:"revoke every token"`
}

func (a *app) tokensRevokeCommand() *cli.Command {
	var params tokensRevokeParams
	return &cli.Command{
		Name:    "revoke",
		Summary: "Revoke a pairing token, or all of them",
		Description: "Revoke a pairing token. Clients using it are refused on their next\n" +
			"connection; sessions already open are not interrupted.",
		Usage: "vexd tokens revoke <token-id> | --all",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("revoke", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			var command protocol.Command
			switch {
			case params.All && len(args) == 0:
				command = protocol.PairRevokeAll{}
			case !params.All && len(args) == 1:
				command = protocol.PairRevoke{ID: args[0]}
			default:
				return fmt.Errorf("provide exactly one token ID or --all\n\nUsage: vexd tokens revoke <token-id> | --all")
			}
			response, err := request(ctx, command)
			var remote *client.RemoteError
			if errors.As(err, &remote) && remote.Code == protocol.CodeNotFound {
				return fmt.Errorf("no token with ID %q", args[0])
			}
			if err != nil {
				return err
			}
			switch response := response.(type) {
			case protocol.Revoked:
				fmt.Fprintf(a.stdout, "Revoked %d token(s).\n", response.Count)
			case protocol.OK:
				fmt.Fprintf(a.stdout, "Revoked %s.\n", args[0])
			default:
				return unexpected(response)
			}
			return nil
		},
	}
}

func (a *app) fingerprintCommand() *cli.Command {
	return &cli.Command{
		Name:    "fingerprint",
		Summary: "Print the daemon's TLS certificate fingerprint",
		Description: "Print the fingerprint remote clients pin on first contact. Compare it\n" +
			"with the one a client reports before trusting a new pin.",
		Run: func(ctx context.Context, args []string) error {
			paths, err := resolvePaths()
			if err != nil {
				return err
			}
			fingerprint, err := tlscert.ReadFingerprint(paths.TLSDir())
			if err != nil {
				return fmt.Errorf("reading certificate (has vexd run with TCP enabled?): %w", err)
			}
			fmt.Fprintln(a.stdout, fingerprint)
			return nil
		},
	}
}

func (a *app) versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(ctx context.Context, args []string) error {
			fmt.Fprintf(a.stdout, "vexd %s\n", version.Full())
			return nil
		},
	}
}
