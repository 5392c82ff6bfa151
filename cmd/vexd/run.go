// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/vex/cmd/vex/cli"
	"github.com/bureau-foundation/vex/lib/clock"
	"github.com/bureau-foundation/vex/lib/config"
	"github.com/bureau-foundation/vex/lib/pairing"
	"github.com/bureau-foundation/vex/lib/statefile"
	"github.com/bureau-foundation/vex/lib/tlscert"
	"github.com/bureau-foundation/vex/lib/tmux"
	"github.com/bureau-foundation/vex/lib/version"
	"github.com/bureau-foundation/vex/server"
	"github.com/bureau-foundation/vex/workstream"
)

// reconcileInterval is how often workstream state is checked against
// tmux.
const reconcileInterval = 5 * time.Second

type runParams struct {
	Verbose bool `flag:"verbose,v" desc:"log at debug level"`
}

func (a *app) runCommand() *cli.Command {
	var params runParams
	return &cli.Command{
		Name:    "run",
		Summary: "Run the daemon in the foreground",
		Description: "Run the daemon until SIGINT or SIGTERM.\n\n" +
			"Configuration is read from $VEX_HOME/config.yaml. The TLS certificate is\n" +
			"generated on first start and reused afterwards.",
		Usage: "vexd run [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("run", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.MaxArgs(args, 0, "vexd run [flags]"); err != nil {
				return err
			}
			logger := cli.NewDaemonLogger(params.Verbose)
			slog.SetDefault(logger)
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, logger)
		},
	}
}

func runDaemon(ctx context.Context, logger *slog.Logger) error {
	paths, err := resolvePaths()
	if err != nil {
		return err
	}
	daemonConfig, err := config.Load(paths)
	if err != nil {
		return err
	}
	if err := paths.EnsureDaemonDirs(); err != nil {
		return err
	}

	tokens, err := pairing.Open(paths.TokensFile(), clock.Real(), logger.With("component", "tokens"))
	if err != nil {
		return fmt.Errorf("opening token store: %w", err)
	}

	manager, err := workstream.New(workstream.Options{
		RegistryPath: paths.ReposFile(),
		WorktreesDir: paths.WorktreesDir(),
		AgentCommand: daemonConfig.Agent.Command,
		Hooks:        daemonConfig.Repo.Register.Hooks,
		Tmux:         tmux.NewServer("", ""),
		Logger:       logger.With("component", "workstream"),
	})
	if err != nil {
		return fmt.Errorf("loading repository registry: %w", err)
	}

	handler := server.NewHandler(server.HandlerConfig{
		Tokens:        tokens,
		Collaborator:  manager,
		Logger:        logger,
		Version:       version.Short(),
		AdvertiseHost: daemonConfig.TCP.Advertise,
	})

	listenerConfig := server.ListenerConfig{
		SocketPath: paths.SocketFile(),
		Handler:    handler,
		Logger:     logger,
	}
	if daemonConfig.TCP.Enabled {
		identity, err := tlscert.LoadOrGenerate(paths.TLSDir(), certificateHosts(daemonConfig.TCP), time.Now())
		if err != nil {
			return err
		}
		logger.Info("TLS certificate loaded",
			"fingerprint", identity.Fingerprint,
			"generated", identity.Generated)
		listenerConfig.TCPAddress = daemonConfig.TCP.Listen
		listenerConfig.TLSConfig = identity.ServerConfig()
	}

	listener, err := server.Listen(listenerConfig)
	if err != nil {
		return err
	}

	pidFile := paths.PIDFile()
	if err := statefile.Write(pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0600); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := os.Remove(pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("removing PID file", "error", err)
		}
	}()

	logger.Info("vexd started", "pid", os.Getpid(), "version", version.Info())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return listener.Serve(groupCtx)
	})
	group.Go(func() error {
		manager.Watch(groupCtx, reconcileInterval)
		return nil
	})
	err = group.Wait()
	if flushErr := tokens.Flush(); flushErr != nil {
		logger.Warn("saving token last-seen times", "error", flushErr)
	}
	logger.Info("vexd stopped")
	return err
}

// certificateHosts names the addresses the certificate is issued for.
// Clients verify by pin, so these are informational.
func certificateHosts(tcp config.TCPConfig) []string {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		hosts = append(hosts, hostname)
	}
	for _, address := range []string{tcp.Advertise, tcp.Listen} {
		host, _, err := net.SplitHostPort(address)
		if err != nil || host == "" {
			continue
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
			continue
		}
		hosts = append(hosts, strings.TrimSpace(host))
	}
	return hosts
}
