// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vex/client"
	"github.com/bureau-foundation/vex/cmd/vex/cli"
	"github.com/bureau-foundation/vex/lib/protocol"
	"github.com/bureau-foundation/vex/lib/version"
)

// ConnectionParams selects a single saved connection. It is exported
// so that flag binding can reach the fields through embedding.
type ConnectionParams struct {
	cli.JSONOutput
	Connection string        `flag:"connection,c" desc:"saved connection to use (default: the default connection)"`
	Timeout    time.Duration `flag:"timeout" desc:"per-connection timeout" default:"10s"`
}

// TargetParams selects one saved connection or all of them.
type TargetParams struct {
	ConnectionParams
	All bool `flag:"all" desc:"send to every saved connection"`
}

func (p *TargetParams) target() (client.Target, error) {
	switch {
	case p.All && p.Connection != "":
		return client.Target{}, fmt.Errorf("--all and --connection are mutually exclusive")
	case p.All:
		return client.AllConnections(), nil
	case p.Connection != "":
		return client.Named(p.Connection), nil
	default:
		return client.DefaultConnection(), nil
	}
}

// dispatchResult is the --json form of one connection's outcome.
type dispatchResult struct {
	Connection string            `json:"connection"`
	Response   protocol.Response `json:"response,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// fanOut sends command to the selected connections and prints each
// rendered response labeled with its connection name. Failures are
// reported per connection and turn into exit status 1 once every
// target has been printed.
func (a *app) fanOut(ctx context.Context, params *TargetParams, command protocol.Command, render func(protocol.Response) (string, error)) error {
	target, err := params.target()
	if err != nil {
		return err
	}
	vex, _, err := openClient(params.Timeout)
	if err != nil {
		return err
	}
	results, err := vex.Dispatch(ctx, command, target)
	if err != nil {
		return err
	}

	failed := false
	if params.OutputJSON {
		out := make([]dispatchResult, len(results))
		for i, result := range results {
			out[i] = dispatchResult{Connection: result.Connection.Name, Response: result.Response}
			if result.Err != nil {
				out[i].Error = result.Err.Error()
				failed = true
			}
		}
		if err := cli.WriteJSON(a.stdout, out); err != nil {
			return err
		}
	} else {
		for _, result := range results {
			name := result.Connection.Name
			if result.Err != nil {
				a.output.LabeledError(name, result.Err)
				failed = true
				continue
			}
			text, err := render(result.Response)
			if err != nil {
				a.output.LabeledError(name, err)
				failed = true
				continue
			}
			a.output.Labeled(name, text)
		}
	}
	if failed {
		return &cli.ExitError{Code: 1}
	}
	return nil
}

func unexpected(response protocol.Response) error {
	return fmt.Errorf("unexpected response %s", protocol.ResponseName(response))
}

func (a *app) statusCommand() *cli.Command {
	var params TargetParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show daemon status",
		Usage:   "vex status [--connection name | --all] [flags]",
		Examples: []cli.Example{
			{Description: "Status of every saved daemon", Command: "vex status --all"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.MaxArgs(args, 0, "vex status [flags]"); err != nil {
				return err
			}
			return a.fanOut(ctx, &params, protocol.Status{}, func(response protocol.Response) (string, error) {
				status, ok := response.(protocol.DaemonStatus)
				if !ok {
					return "", unexpected(response)
				}
				return fmt.Sprintf("vexd v%s | uptime: %ds | clients: %d",
					status.Version, status.UptimeSecs, status.ConnectedClients), nil
			})
		},
	}
}

func (a *app) whoamiCommand() *cli.Command {
	var params TargetParams
	return &cli.Command{
		Name:    "whoami",
		Summary: "Show how each daemon sees this client",
		Usage:   "vex whoami [--connection name | --all] [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("whoami", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.MaxArgs(args, 0, "vex whoami [flags]"); err != nil {
				return err
			}
			return a.fanOut(ctx, &params, protocol.Whoami{}, func(response protocol.Response) (string, error) {
				info, ok := response.(protocol.ClientInfo)
				if !ok {
					return "", unexpected(response)
				}
				return formatClientInfo(info), nil
			})
		},
	}
}

func formatClientInfo(info protocol.ClientInfo) string {
	switch {
	case info.IsLocal:
		return "local (admin via Unix socket)"
	case info.TokenID != nil:
		return "authenticated as token: " + *info.TokenID
	default:
		return "authenticated"
	}
}

func (a *app) versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(ctx context.Context, args []string) error {
			fmt.Fprintln(a.stdout, "vex "+version.Full())
			return nil
		},
	}
}
