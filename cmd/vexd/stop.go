// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/vex/cmd/vex/cli"
)

// stopTimeout is how long stop waits for the socket to go away.
const stopTimeout = 10 * time.Second

func (a *app) stopCommand() *cli.Command {
	return &cli.Command{
		Name:    "stop",
		Summary: "Stop a running daemon",
		Description: "Send SIGTERM to the daemon named in the PID file and wait for it to\n" +
			"close its socket.",
		Run: func(ctx context.Context, args []string) error {
			paths, err := resolvePaths()
			if err != nil {
				return err
			}
			pidFile := paths.PIDFile()
			pid, err := readPIDFile(pidFile)
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(a.stdout, "vexd does not appear to be running (no PID file).")
				return nil
			}
			if err != nil {
				return err
			}

			if err := unix.Kill(pid, unix.SIGTERM); err != nil {
				if errors.Is(err, unix.ESRCH) {
					os.Remove(pidFile)
					fmt.Fprintf(a.stdout, "vexd (PID %d) was not running; removed stale PID file.\n", pid)
					return nil
				}
				return fmt.Errorf("signalling PID %d: %w", pid, err)
			}

			if err := waitForSocketGone(ctx, paths.SocketFile(), stopTimeout); err != nil {
				return fmt.Errorf("sent SIGTERM to PID %d but %w", pid, err)
			}
			fmt.Fprintf(a.stdout, "Stopped vexd (PID %d).\n", pid)
			return nil
		},
	}
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%s does not contain a PID", path)
	}
	return pid, nil
}

// waitForSocketGone polls until nothing answers on the socket.
func waitForSocketGone(ctx context.Context, socketPath string, timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for {
		conn, err := net.DialTimeout("unix", socketPath, time.Second)
		if err != nil {
			return nil
		}
		conn.Close()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("the daemon is still answering on %s after %s", socketPath, timeout)
		case <-ticker.C:
		}
	}
}
