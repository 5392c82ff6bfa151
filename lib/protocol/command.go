// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

// Command is a request from a client. The concrete type is one of the
// variant structs in this file.
type Command interface {
	commandType() string
}

// Status asks for daemon uptime, live session count, and version.
type Status struct{}

// Whoami asks which identity the session is running as.
type Whoami struct{}

// PairCreate issues a new pairing token. Local transport only.
type PairCreate struct {
	Label *string `json:"label,omitempty"`
	// ExpireSecs is the token lifetime from issuance. Nil means the
	// token never expires.
	ExpireSecs *uint64 `json:"expire_secs,omitempty"`
}

// PairList lists token metadata. Local transport only.
type PairList struct{}

// PairRevoke revokes one token by id. Local transport only.
type PairRevoke struct {
	ID string `json:"id"`
}

// PairRevokeAll revokes every currently valid token. Local transport
// only.
type PairRevokeAll struct{}

// RepoRegister registers a git repository on the daemon host. Local
// transport only.
type RepoRegister struct {
	Path string `json:"path"`
}

// RepoList lists registered repositories.
type RepoList struct{}

// RepoUnregister forgets a repository. Worktrees already created for
// it are left on disk.
type RepoUnregister struct {
	RepoID string `json:"repo_id"`
}

// WorkstreamCreate creates a worktree plus tmux session for a branch.
// A nil Branch means the repository's default branch; a nil Name means
// the branch name.
type WorkstreamCreate struct {
	RepoID string  `json:"repo_id"`
	Name   *string `json:"name,omitempty"`
	Branch *string `json:"branch,omitempty"`
}

// WorkstreamList lists workstreams grouped by repository. A nil RepoID
// means every repository.
type WorkstreamList struct {
	RepoID *string `json:"repo_id,omitempty"`
}

// WorkstreamDelete tears down a workstream's agents, tmux session, and
// worktree.
type WorkstreamDelete struct {
	WorkstreamID string `json:"workstream_id"`
}

// AgentSpawn starts the configured agent command with a prompt in a new
// window of the workstream's tmux session.
type AgentSpawn struct {
	WorkstreamID string `json:"workstream_id"`
	Prompt       string `json:"prompt"`
}

// AgentKill stops an agent by closing its tmux window.
type AgentKill struct {
	AgentID string `json:"agent_id"`
}

// AgentList lists the agents of one workstream.
type AgentList struct {
	WorkstreamID string `json:"workstream_id"`
}

func (Status) commandType() string           { return "Status" }
func (Whoami) commandType() string           { return "Whoami" }
func (PairCreate) commandType() string       { return "PairCreate" }
func (PairList) commandType() string         { return "PairList" }
func (PairRevoke) commandType() string       { return "PairRevoke" }
func (PairRevokeAll) commandType() string    { return "PairRevokeAll" }
func (RepoRegister) commandType() string     { return "RepoRegister" }
func (RepoList) commandType() string         { return "RepoList" }
func (RepoUnregister) commandType() string   { return "RepoUnregister" }
func (WorkstreamCreate) commandType() string { return "WorkstreamCreate" }
func (WorkstreamList) commandType() string   { return "WorkstreamList" }
func (WorkstreamDelete) commandType() string { return "WorkstreamDelete" }
func (AgentSpawn) commandType() string       { return "AgentSpawn" }
func (AgentKill) commandType() string        { return "AgentKill" }
func (AgentList) commandType() string        { return "AgentList" }

// CommandName returns the wire name of a command's variant, for logs.
func CommandName(command Command) string {
	return command.commandType()
}
