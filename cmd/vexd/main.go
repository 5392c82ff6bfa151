// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Vexd is the vex daemon. It accepts trusted local connections on a
// Unix socket and authenticated remote connections over TLS, and
// manages repositories, workstreams, and agents for both.
//
// "vexd run" starts the daemon in the foreground. The remaining
// subcommands (status, pair, tokens, stop) talk to a running daemon
// over its local socket.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

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

// app holds what every subcommand writes to.
type app struct {
	stdout io.Writer
	output *cli.Output
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, output: cli.NewOutput(stdout, stderr)}
}

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name:        "vexd",
		Summary:     "vex daemon",
		Description: "vexd serves vex clients over a local Unix socket and, for paired remote\nclients, over TLS.",
		Subcommands: []*cli.Command{
			a.runCommand(),
			a.stopCommand(),
			a.statusCommand(),
			a.pairCommand(),
			a.tokensCommand(),
			a.fingerprintCommand(),
			a.versionCommand(),
		},
	}
}

func resolvePaths() (config.Paths, error) {
	paths, err := config.ResolvePaths()
	if err != nil {
		return config.Paths{}, fmt.Errorf("resolving vex home: %w", err)
	}
	return paths, nil
}
