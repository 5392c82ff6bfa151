// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tmux provides a typed interface to a tmux server. vexd gives
// each workstream its own session and each agent its own window, so an
// operator can attach with plain tmux and watch.
//
// The central type is Server. Every command goes through it, and it
// injects -S when a socket path is set. vexd uses the operator's
// default server (empty socket path); tests always use a dedicated
// socket via NewTestServer so they never touch a real session.
package tmux

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Server represents a tmux server.
type Server struct {
	socketPath string
	configFile string // passed as "-f <path>" on new-session; empty = tmux default
}

// NewServer returns a Server that targets the given socket path. An
// empty socketPath means tmux's default server.
//
// configFile is passed as -f on new-session, which is when tmux starts
// a server. Tests pass "/dev/null" so ~/.tmux.conf is never loaded.
func NewServer(socketPath, configFile string) *Server {
	return &Server{
		socketPath: socketPath,
		configFile: configFile,
	}
}

// SocketPath returns the socket path, or "" for the default server.
func (s *Server) SocketPath() string {
	return s.socketPath
}

func (s *Server) baseArgs() []string {
	if s.socketPath == "" {
		return nil
	}
	return []string{"-S", s.socketPath}
}

// NewSession creates a detached session whose first window starts in
// directory. If command is non-empty, the window runs it instead of
// the default shell.
func (s *Server) NewSession(sessionName, directory string, command ...string) error {
	var args []string
	if s.configFile != "" {
		args = append(args, "-f", s.configFile)
	}
	args = append(args, s.baseArgs()...)
	args = append(args, "new-session", "-d", "-s", sessionName)
	if directory != "" {
		args = append(args, "-c", directory)
	}
	args = append(args, command...)
	cmd := exec.Command("tmux", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux new-session %q: %w (%s)",
			sessionName, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// HasSession reports whether a session with the given name exists on
// this server. Returns false if the server is not running.
func (s *Server) HasSession(sessionName string) bool {
	_, err := s.Run("has-session", "-t", "="+sessionName)
	return err == nil
}

// KillSession terminates a specific session. Returns nil if the session
// was already gone or the server was not running.
func (s *Server) KillSession(sessionName string) error {
	_, err := s.Run("kill-session", "-t", "="+sessionName)
	if err != nil && isGone(err) {
		return nil
	}
	return err
}

// KillServer terminates the entire tmux server. Returns nil if the
// server was already stopped.
func (s *Server) KillServer() error {
	_, err := s.Run("kill-server")
	if err != nil && (isGone(err) || strings.Contains(err.Error(), "server exited unexpectedly")) {
		return nil
	}
	return err
}

// NewWindow opens a window named name in the session, starting in
// directory, and returns its index.
func (s *Server) NewWindow(sessionName, directory, name string) (int, error) {
	args := []string{"new-window", "-t", "=" + sessionName + ":", "-P", "-F", "#{window_index}"}
	if directory != "" {
		args = append(args, "-c", directory)
	}
	if name != "" {
		args = append(args, "-n", name)
	}
	output, err := s.Run(args...)
	if err != nil {
		return 0, err
	}
	index, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil {
		return 0, fmt.Errorf("parsing window index %q: %w", strings.TrimSpace(output), err)
	}
	return index, nil
}

// SendKeys types text into a window followed by Enter.
func (s *Server) SendKeys(sessionName string, window int, text string) error {
	_, err := s.Run("send-keys", "-t", windowTarget(sessionName, window), "-l", text)
	if err != nil {
		return err
	}
	_, err = s.Run("send-keys", "-t", windowTarget(sessionName, window), "Enter")
	return err
}

// KillWindow closes one window. Returns nil if it was already gone.
func (s *Server) KillWindow(sessionName string, window int) error {
	_, err := s.Run("kill-window", "-t", windowTarget(sessionName, window))
	if err != nil && (isGone(err) || strings.Contains(err.Error(), "can't find window")) {
		return nil
	}
	return err
}

// ListWindows returns the indexes of the session's windows.
func (s *Server) ListWindows(sessionName string) ([]int, error) {
	output, err := s.Run("list-windows", "-t", "="+sessionName, "-F", "#{window_index}")
	if err != nil {
		return nil, err
	}
	var indexes []int
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		index, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("parsing window index %q: %w", line, err)
		}
		indexes = append(indexes, index)
	}
	return indexes, nil
}

// Run executes an arbitrary tmux subcommand on this server and returns
// the combined output. The -S flag is prepended when set:
//
//	output, err := server.Run("list-panes", "-t", session, "-F", "#{pane_index}")
func (s *Server) Run(args ...string) (string, error) {
	fullArgs := append(s.baseArgs(), args...)
	cmd := exec.Command("tmux", fullArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w (%s)",
			strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

func windowTarget(sessionName string, window int) string {
	return "=" + sessionName + ":" + strconv.Itoa(window)
}

// isGone matches tmux's messages for a missing session or server.
func isGone(err error) bool {
	message := err.Error()
	return strings.Contains(message, "can't find session") ||
		strings.Contains(message, "no server running") ||
		strings.Contains(message, "error connecting to")
}
