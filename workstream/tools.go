// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workstream

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bureau-foundation/vex/lib/git"
)

// Git is the subset of git the manager uses. Every method names the
// repository directory it acts on.
type Git interface {
	IsWorkTree(ctx context.Context, repoDir string) bool
	DefaultBranch(ctx context.Context, repoDir string) string
	AddWorktree(ctx context.Context, repoDir, path, branch string) error
	RemoveWorktree(ctx context.Context, repoDir, path string) error
}

// Multiplexer is the subset of tmux the manager uses. *tmux.Server
// implements it.
type Multiplexer interface {
	NewSession(sessionName, directory string, command ...string) error
	HasSession(sessionName string) bool
	KillSession(sessionName string) error
	NewWindow(sessionName, directory, name string) (int, error)
	SendKeys(sessionName string, window int, text string) error
	KillWindow(sessionName string, window int) error
	ListWindows(sessionName string) ([]int, error)
}

// HookRunner runs one register hook inside a new worktree.
type HookRunner func(ctx context.Context, directory, command string) error

// ExecGit implements Git with the git CLI.
type ExecGit struct{}

func (ExecGit) IsWorkTree(ctx context.Context, repoDir string) bool {
	return git.NewRepository(repoDir).IsWorkTree(ctx)
}

func (ExecGit) DefaultBranch(ctx context.Context, repoDir string) string {
	return git.NewRepository(repoDir).DefaultBranch(ctx)
}

func (ExecGit) AddWorktree(ctx context.Context, repoDir, path, branch string) error {
	return git.NewRepository(repoDir).AddWorktree(ctx, path, branch)
}

func (ExecGit) RemoveWorktree(ctx context.Context, repoDir, path string) error {
	return git.NewRepository(repoDir).RemoveWorktree(ctx, path)
}

// ShellHook runs command with "sh -c" in directory.
func ShellHook(ctx context.Context, directory, command string) error {
	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = directory
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("hook %q: %w (%s)", command, err, strings.TrimSpace(output.String()))
	}
	return nil
}

// agentCommandLine appends prompt, single-quoted for sh, to the
// configured agent command. An empty prompt appends nothing.
func agentCommandLine(agentCommand, prompt string) string {
	base := strings.Join(strings.Fields(agentCommand), " ")
	if prompt == "" {
		return base
	}
	return base + " '" + strings.ReplaceAll(prompt, "'", `'\''`) + "'"
}
