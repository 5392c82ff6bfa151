// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bureau-foundation/vex/lib/clock"
	"github.com/bureau-foundation/vex/lib/config"
	"github.com/bureau-foundation/vex/lib/protocol"
	"github.com/bureau-foundation/vex/lib/statefile"
)

var (
	// ErrNotFound is returned for an unknown repository, workstream, or
	// agent id.
	ErrNotFound = errors.New("not found")

	// ErrLocalOnly is returned for a command that only the local
	// transport may issue.
	ErrLocalOnly = errors.New("only allowed over the local socket")
)

// SessionPrefix starts every workstream's tmux session name.
const SessionPrefix = "vex-"

// Options configures a Manager.
type Options struct {
	// RegistryPath is the CBOR registry file. Empty keeps the registry
	// in memory only.
	RegistryPath string

	// WorktreesDir holds one worktree per workstream, named by id.
	WorktreesDir string

	// AgentCommand is typed into an agent's window, followed by the
	// quoted prompt.
	AgentCommand string

	// Hooks run in each new worktree before its tmux session starts.
	Hooks []config.Hook

	Git     Git
	Tmux    Multiplexer
	RunHook HookRunner
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Manager owns the repository registry and carries out domain commands.
type Manager struct {
	path         string
	worktreesDir string
	agentCommand string
	hooks        []config.Hook

	git     Git
	tmux    Multiplexer
	runHook HookRunner
	clock   clock.Clock
	logger  *slog.Logger

	mu    sync.Mutex
	state registry
}

// New loads the registry (if RegistryPath is set) and returns a
// Manager. Git and RunHook default to the git CLI and sh -c; Tmux is
// required.
func New(options Options) (*Manager, error) {
	if options.Tmux == nil {
		return nil, errors.New("workstream: Tmux is required")
	}
	m := &Manager{
		path:         options.RegistryPath,
		worktreesDir: options.WorktreesDir,
		agentCommand: options.AgentCommand,
		hooks:        options.Hooks,
		git:          options.Git,
		tmux:         options.Tmux,
		runHook:      options.RunHook,
		clock:        options.Clock,
		logger:       options.Logger,
	}
	if m.git == nil {
		m.git = ExecGit{}
	}
	if m.runHook == nil {
		m.runHook = ShellHook
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.agentCommand == "" {
		m.agentCommand = config.DefaultAgentCommand
	}

	if m.path != "" {
		var file registryFile
		found, err := statefile.ReadCBOR(m.path, &file)
		if err != nil {
			return nil, fmt.Errorf("loading repository registry: %w", err)
		}
		if found {
			if file.Version != registryFileVersion {
				return nil, fmt.Errorf("repository registry %s: unsupported version %d", m.path, file.Version)
			}
			m.state.repos = file.Repos
		}
		for _, repo := range m.state.repos {
			for _, workstream := range repo.Workstreams {
				if _, err := os.Stat(workstream.WorktreePath); err != nil {
					m.logger.Warn("worktree missing", "workstream", workstream.ID, "path", workstream.WorktreePath)
				}
			}
		}
	}
	return m, nil
}

// persist writes the registry. Callers hold m.mu.
func (m *Manager) persist() error {
	if m.path == "" {
		return nil
	}
	file := registryFile{Version: registryFileVersion, Repos: m.state.repos}
	if err := statefile.WriteCBOR(m.path, file); err != nil {
		return fmt.Errorf("saving repository registry: %w", err)
	}
	return nil
}

// persistOrLog is for mutations that already happened outside the
// process (a killed window, a removed worktree) and cannot be undone.
func (m *Manager) persistOrLog() {
	if err := m.persist(); err != nil {
		m.logger.Error("persisting repository registry", "error", err)
	}
}

// Register adds the git work tree at path.
func (m *Manager) Register(ctx context.Context, path string) (protocol.Repository, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return protocol.Repository{}, fmt.Errorf("resolving %s: %w", path, err)
	}
	if _, err := os.Stat(absolute); err != nil {
		return protocol.Repository{}, fmt.Errorf("path does not exist: %s", absolute)
	}
	if !m.git.IsWorkTree(ctx, absolute) {
		return protocol.Repository{}, fmt.Errorf("not a git repository: %s", absolute)
	}

	m.mu.Lock()
	registered := m.state.repoByPath(absolute) != nil
	m.mu.Unlock()
	if registered {
		return protocol.Repository{}, fmt.Errorf("repository already registered: %s", absolute)
	}

	defaultBranch := m.git.DefaultBranch(ctx, absolute)
	id, err := newID("repo")
	if err != nil {
		return protocol.Repository{}, err
	}
	repo := protocol.Repository{
		ID:            id,
		Name:          filepath.Base(absolute),
		Path:          absolute,
		DefaultBranch: defaultBranch,
		RegisteredAt:  m.clock.Now().Unix(),
		Workstreams:   []protocol.Workstream{},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.repoByPath(absolute) != nil {
		return protocol.Repository{}, fmt.Errorf("repository already registered: %s", absolute)
	}
	m.state.repos = append(m.state.repos, repo)
	if err := m.persist(); err != nil {
		m.state.repos = m.state.repos[:len(m.state.repos)-1]
		return protocol.Repository{}, err
	}
	m.logger.Info("registered repository", "repo", id, "name", repo.Name, "path", absolute)
	return repo, nil
}

// Repos returns every registered repository.
func (m *Manager) Repos() []protocol.Repository {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRepos(m.state.repos)
}

// Unregister forgets a repository. Its worktrees and tmux sessions are
// left running.
func (m *Manager) Unregister(repoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.repos {
		if m.state.repos[i].ID == repoID {
			m.state.repos = append(m.state.repos[:i:i], m.state.repos[i+1:]...)
			m.persistOrLog()
			m.logger.Info("unregistered repository", "repo", repoID)
			return nil
		}
	}
	return fmt.Errorf("repository %s: %w", repoID, ErrNotFound)
}

// Workstreams returns repositories with their workstreams. A non-nil
// repoID restricts the result to that repository; an unknown id yields
// an empty list.
func (m *Manager) Workstreams(repoID *string) []protocol.Repository {
	m.mu.Lock()
	defer m.mu.Unlock()
	if repoID == nil {
		return cloneRepos(m.state.repos)
	}
	repo := m.state.repoByID(*repoID)
	if repo == nil {
		return []protocol.Repository{}
	}
	return cloneRepos([]protocol.Repository{*repo})
}

// CreateWorkstream checks a branch out into a new worktree, runs the
// register hooks there, and starts the workstream's tmux session. A nil
// branch means the repository's default branch; a nil name means the
// branch name. Any failure after the worktree exists removes it again.
func (m *Manager) CreateWorkstream(ctx context.Context, repoID string, name, branch *string) (protocol.Workstream, error) {
	m.mu.Lock()
	repo := m.state.repoByID(repoID)
	if repo == nil {
		m.mu.Unlock()
		return protocol.Workstream{}, fmt.Errorf("repository %s: %w", repoID, ErrNotFound)
	}
	resolvedBranch := repo.DefaultBranch
	if branch != nil && *branch != "" {
		resolvedBranch = *branch
	}
	resolvedName := resolvedBranch
	if name != nil && *name != "" {
		resolvedName = *name
	}
	if hasWorkstreamNamed(repo, resolvedName) {
		m.mu.Unlock()
		return protocol.Workstream{}, fmt.Errorf("workstream %q already exists in %s", resolvedName, repo.Name)
	}
	repoPath := repo.Path
	m.mu.Unlock()

	id, err := newID("ws")
	if err != nil {
		return protocol.Workstream{}, err
	}
	worktreePath := filepath.Join(m.worktreesDir, id)
	sessionName := SessionPrefix + id
	logger := m.logger.With("workstream", id, "repo", repoID)

	if err := os.MkdirAll(m.worktreesDir, 0700); err != nil {
		return protocol.Workstream{}, fmt.Errorf("creating worktrees directory: %w", err)
	}
	if err := m.git.AddWorktree(ctx, repoPath, worktreePath, resolvedBranch); err != nil {
		return protocol.Workstream{}, fmt.Errorf("adding worktree: %w", err)
	}
	rollbackWorktree := func() {
		if err := m.git.RemoveWorktree(context.WithoutCancel(ctx), repoPath, worktreePath); err != nil {
			logger.Warn("removing worktree during rollback", "error", err)
		}
	}

	for _, hook := range m.hooks {
		if err := m.runHook(ctx, worktreePath, hook.Run); err != nil {
			logger.Warn("register hook failed, rolling back worktree", "hook", hook.Run, "error", err)
			rollbackWorktree()
			return protocol.Workstream{}, err
		}
	}

	if err := m.tmux.NewSession(sessionName, worktreePath); err != nil {
		rollbackWorktree()
		return protocol.Workstream{}, err
	}
	rollbackSession := func() {
		if err := m.tmux.KillSession(sessionName); err != nil {
			logger.Warn("killing tmux session during rollback", "error", err)
		}
	}

	workstream := protocol.Workstream{
		ID:           id,
		Name:         resolvedName,
		RepoID:       repoID,
		Branch:       resolvedBranch,
		WorktreePath: worktreePath,
		TmuxSession:  sessionName,
		Status:       protocol.WorkstreamIdle,
		Agents:       []protocol.Agent{},
		CreatedAt:    m.clock.Now().Unix(),
	}

	if err := m.insertWorkstream(repoID, workstream); err != nil {
		rollbackSession()
		rollbackWorktree()
		return protocol.Workstream{}, err
	}
	logger.Info("created workstream", "name", resolvedName, "branch", resolvedBranch)
	return cloneWorkstream(workstream), nil
}

// insertWorkstream adds a fully set-up workstream to its repository,
// rechecking what CreateWorkstream checked before releasing the lock.
func (m *Manager) insertWorkstream(repoID string, workstream protocol.Workstream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo := m.state.repoByID(repoID)
	if repo == nil {
		return fmt.Errorf("repository %s: %w", repoID, ErrNotFound)
	}
	if hasWorkstreamNamed(repo, workstream.Name) {
		return fmt.Errorf("workstream %q already exists in %s", workstream.Name, repo.Name)
	}
	repo.Workstreams = append(repo.Workstreams, workstream)
	if err := m.persist(); err != nil {
		repo.Workstreams = repo.Workstreams[:len(repo.Workstreams)-1]
		return err
	}
	return nil
}

func hasWorkstreamNamed(repo *protocol.Repository, name string) bool {
	for _, workstream := range repo.Workstreams {
		if workstream.Name == name {
			return true
		}
	}
	return false
}

// DeleteWorkstream closes the workstream's running agent windows, kills
// its tmux session, removes its worktree, and forgets it. Teardown
// failures are logged; the registry entry is removed regardless.
func (m *Manager) DeleteWorkstream(ctx context.Context, workstreamID string) error {
	m.mu.Lock()
	repo, found := m.state.workstream(workstreamID)
	if found == nil {
		m.mu.Unlock()
		return fmt.Errorf("workstream %s: %w", workstreamID, ErrNotFound)
	}
	repoPath := repo.Path
	workstream := cloneWorkstream(*found)
	m.mu.Unlock()

	logger := m.logger.With("workstream", workstreamID)
	for _, agent := range workstream.Agents {
		if agent.Status != protocol.AgentRunning {
			continue
		}
		if err := m.tmux.KillWindow(workstream.TmuxSession, agent.TmuxWindow); err != nil {
			logger.Warn("killing agent window", "agent", agent.ID, "error", err)
		}
	}
	if err := m.tmux.KillSession(workstream.TmuxSession); err != nil {
		logger.Warn("killing tmux session", "error", err)
	}
	if err := m.git.RemoveWorktree(ctx, repoPath, workstream.WorktreePath); err != nil {
		logger.Warn("removing worktree", "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.removeWorkstream(workstreamID)
	m.persistOrLog()
	logger.Info("deleted workstream")
	return nil
}

// SpawnAgent opens a window in the workstream's tmux session and types
// the agent command with prompt into it.
func (m *Manager) SpawnAgent(ctx context.Context, workstreamID, prompt string) (protocol.Agent, error) {
	m.mu.Lock()
	_, workstream := m.state.workstream(workstreamID)
	if workstream == nil {
		m.mu.Unlock()
		return protocol.Agent{}, fmt.Errorf("workstream %s: %w", workstreamID, ErrNotFound)
	}
	sessionName := workstream.TmuxSession
	worktreePath := workstream.WorktreePath
	m.mu.Unlock()

	if !m.tmux.HasSession(sessionName) {
		return protocol.Agent{}, fmt.Errorf("tmux session %s is not running", sessionName)
	}
	id, err := newID("agent")
	if err != nil {
		return protocol.Agent{}, err
	}
	window, err := m.tmux.NewWindow(sessionName, worktreePath, id)
	if err != nil {
		return protocol.Agent{}, err
	}
	if err := m.tmux.SendKeys(sessionName, window, agentCommandLine(m.agentCommand, prompt)); err != nil {
		if killErr := m.tmux.KillWindow(sessionName, window); killErr != nil {
			m.logger.Warn("closing agent window after failed start", "error", killErr)
		}
		return protocol.Agent{}, err
	}

	agent := protocol.Agent{
		ID:           id,
		WorkstreamID: workstreamID,
		TmuxWindow:   window,
		Prompt:       prompt,
		Status:       protocol.AgentRunning,
		SpawnedAt:    m.clock.Now().Unix(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, workstream = m.state.workstream(workstreamID)
	if workstream == nil {
		// Deleted while the window was opening; the session is gone.
		return protocol.Agent{}, fmt.Errorf("workstream %s: %w", workstreamID, ErrNotFound)
	}
	workstream.Agents = append(workstream.Agents, agent)
	workstream.Status = protocol.WorkstreamRunning
	m.persistOrLog()
	m.logger.Info("spawned agent", "agent", id, "workstream", workstreamID, "window", window)
	return agent, nil
}

// KillAgent closes the agent's window and marks it exited.
func (m *Manager) KillAgent(ctx context.Context, agentID string) error {
	m.mu.Lock()
	workstream, agent := m.state.agent(agentID)
	if agent == nil {
		m.mu.Unlock()
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	sessionName := workstream.TmuxSession
	window := agent.TmuxWindow
	m.mu.Unlock()

	if err := m.tmux.KillWindow(sessionName, window); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	workstream, agent = m.state.agent(agentID)
	if agent == nil {
		return nil
	}
	m.markExited(agent)
	refreshStatus(workstream)
	m.persistOrLog()
	m.logger.Info("killed agent", "agent", agentID)
	return nil
}

// Agents returns the agents of one workstream.
func (m *Manager) Agents(workstreamID string) ([]protocol.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, workstream := m.state.workstream(workstreamID)
	if workstream == nil {
		return nil, fmt.Errorf("workstream %s: %w", workstreamID, ErrNotFound)
	}
	return cloneWorkstream(*workstream).Agents, nil
}

// markExited records a running agent's exit. Callers hold m.mu.
func (m *Manager) markExited(agent *protocol.Agent) {
	if agent.Status != protocol.AgentRunning {
		return
	}
	exitedAt := m.clock.Now().Unix()
	agent.Status = protocol.AgentExited
	agent.ExitedAt = &exitedAt
}
