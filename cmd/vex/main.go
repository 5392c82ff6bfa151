// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Vex is the client for vexd. It keeps a list of saved connections to
// local and remote daemons and sends commands to one of them, or to all
// of them at once.
//
// Remote connections are paired with a token issued by "vexd pair" and
// pin the daemon's TLS certificate on first contact. A changed
// certificate is refused until the operator runs "vex repin".
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bureau-foundation/vex/client"
	"github.com/bureau-foundation/vex/cmd/vex/cli"
	"github.com/bureau-foundation/vex/lib/config"
)

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.root().Execute(context.Background(), os.Args[1:]); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	stdout io.Writer
	output *cli.Output

	// readSecret reads the pairing string when --pairing is absent.
	readSecret func(prompt string) (string, error)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:     stdout,
		output:     cli.NewOutput(stdout, stderr),
		readSecret: cli.ReadSecret,
	}
}

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name:    "vex",
		Summary: "vex client",
		Description: "vex talks to one or more vexd daemons, locally over a Unix socket or\n" +
			"remotely over TLS.",
		Subcommands: []*cli.Command{
			a.connectCommand(),
			a.disconnectCommand(),
			a.listCommand(),
			a.useCommand(),
			a.repinCommand(),
			a.statusCommand(),
			a.whoamiCommand(),
			a.repoCommand(),
			a.workstreamCommand(),
			a.agentCommand(),
			a.versionCommand(),
		},
	}
}

// openClient loads the saved connections.
func openClient(timeout time.Duration) (*client.Client, config.Paths, error) {
	paths, err := config.ResolvePaths()
	if err != nil {
		return nil, config.Paths{}, fmt.Errorf("resolving vex home: %w", err)
	}
	store, err := client.OpenConnections(paths.ConnectionsFile())
	if err != nil {
		return nil, config.Paths{}, err
	}
	return client.New(store, client.Options{
		Timeout: timeout,
		Logger:  cli.NewCommandLogger(false),
	}), paths, nil
}
