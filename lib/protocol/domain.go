// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

// Repository is a git repository registered with the daemon.
type Repository struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Path          string       `json:"path"`
	DefaultBranch string       `json:"default_branch"`
	RegisteredAt  int64        `json:"registered_at"`
	Workstreams   []Workstream `json:"workstreams"`
}

// WorkstreamStatus is the coarse state of a workstream.
type WorkstreamStatus string

const (
	WorkstreamIdle    WorkstreamStatus = "Idle"
	WorkstreamRunning WorkstreamStatus = "Running"
	WorkstreamStopped WorkstreamStatus = "Stopped"
)

// Workstream is a branch checked out in its own worktree with a
// dedicated tmux session named "vex-<id>".
type Workstream struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	RepoID       string           `json:"repo_id"`
	Branch       string           `json:"branch"`
	WorktreePath string           `json:"worktree_path"`
	TmuxSession  string           `json:"tmux_session"`
	Status       WorkstreamStatus `json:"status"`
	Agents       []Agent          `json:"agents"`
	CreatedAt    int64            `json:"created_at"`
}

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentRunning AgentStatus = "Running"
	AgentExited  AgentStatus = "Exited"
	AgentFailed  AgentStatus = "Failed"
)

// Agent is an agent process running in one tmux window.
type Agent struct {
	ID           string      `json:"id"`
	WorkstreamID string      `json:"workstream_id"`
	TmuxWindow   int         `json:"tmux_window"`
	Prompt       string      `json:"prompt"`
	Status       AgentStatus `json:"status"`
	ExitCode     *int        `json:"exit_code,omitempty"`
	SpawnedAt    int64       `json:"spawned_at"`
	ExitedAt     *int64      `json:"exited_at,omitempty"`
}
