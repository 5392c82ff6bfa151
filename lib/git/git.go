// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI. vexd uses git to
// validate registered repositories, detect their default branch, and
// add and remove one worktree per workstream. All commands target a
// specific repository directory via the -C flag, which every
// Repository method injects.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// FallbackBranch is reported by DefaultBranch when neither origin/HEAD
// nor HEAD names a branch.
const FallbackBranch = "main"

// ErrBranchNotFound is returned by AddWorktree when the branch exists
// neither locally nor on origin, even after a fetch.
var ErrBranchNotFound = errors.New("branch not found")

// Repository represents a git repository at a specific directory. All
// operations target this directory via "git -C <dir>".
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error messages
// on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// IsWorkTree reports whether the directory is inside a git work tree.
func (r *Repository) IsWorkTree(ctx context.Context) bool {
	output, err := r.Run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(output) == "true"
}

// DefaultBranch returns the branch origin/HEAD points at, else the
// currently checked-out branch, else [FallbackBranch].
func (r *Repository) DefaultBranch(ctx context.Context) string {
	if output, err := r.Run(ctx, "symbolic-ref", "--short", "refs/remotes/origin/HEAD"); err == nil {
		if branch, found := strings.CutPrefix(strings.TrimSpace(output), "origin/"); found && branch != "" {
			return branch
		}
	}
	if output, err := r.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		branch := strings.TrimSpace(output)
		if branch != "" && branch != "HEAD" {
			return branch
		}
	}
	return FallbackBranch
}

// LocalBranchExists reports whether refs/heads/<branch> exists.
func (r *Repository) LocalBranchExists(ctx context.Context, branch string) bool {
	_, err := r.Run(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// RemoteBranchExists reports whether origin/<branch> exists.
func (r *Repository) RemoteBranchExists(ctx context.Context, branch string) bool {
	_, err := r.Run(ctx, "rev-parse", "--verify", "--quiet", "refs/remotes/origin/"+branch)
	return err == nil
}

// FetchOrigin runs "git fetch origin".
func (r *Repository) FetchOrigin(ctx context.Context) error {
	_, err := r.Run(ctx, "fetch", "origin")
	return err
}

// AddWorktree checks branch out into a new worktree at path. A local
// branch is checked out directly; otherwise a tracking branch is
// created from origin/<branch>, fetching once if origin does not have
// it yet.
func (r *Repository) AddWorktree(ctx context.Context, path, branch string) error {
	if r.LocalBranchExists(ctx, branch) {
		_, err := r.Run(ctx, "worktree", "add", path, branch)
		return err
	}
	if !r.RemoteBranchExists(ctx, branch) {
		// Repositories without an origin fail here too; the lookup
		// below then reports the branch as missing.
		_ = r.FetchOrigin(ctx)
		if !r.RemoteBranchExists(ctx, branch) {
			return fmt.Errorf("%w: %q is not a local branch or on origin", ErrBranchNotFound, branch)
		}
	}
	_, err := r.Run(ctx, "worktree", "add", "--track", "-b", branch, path, "origin/"+branch)
	return err
}

// RemoveWorktree force-removes the worktree at path.
func (r *Repository) RemoveWorktree(ctx context.Context, path string) error {
	_, err := r.Run(ctx, "worktree", "remove", "--force", path)
	return err
}
