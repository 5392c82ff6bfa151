// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vex/cmd/vex/cli"
	"github.com/bureau-foundation/vex/lib/protocol"
)

// request sends command to the single connection params select and
// prints the response with render, or as JSON.
func (a *app) request(ctx context.Context, params *ConnectionParams, command protocol.Command, render func(protocol.Response) (string, error)) error {
	vex, _, err := openClient(params.Timeout)
	if err != nil {
		return err
	}
	response, err := vex.Do(ctx, params.Connection, command)
	if err != nil {
		return err
	}
	if done, err := params.EmitJSON(a.stdout, response); done {
		return err
	}
	text, err := render(response)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, text)
	return nil
}

func (a *app) repoCommand() *cli.Command {
	return &cli.Command{
		Name:    "repo",
		Summary: "Manage registered repositories",
		Subcommands: []*cli.Command{
			a.repoRegisterCommand(),
			a.repoListCommand(),
			a.repoUnregisterCommand(),
		},
	}
}

func (a *app) repoRegisterCommand() *cli.Command {
	var params ConnectionParams
	return &cli.Command{
		Name:        "register",
		Summary:     "Register a git repository with the daemon",
		Description: "Register a repository by its path on the daemon host. Only allowed over\nthe local socket.",
		Usage:       "vex repo register <path> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("register", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.ExactArgs(args, 1, "vex repo register <path>"); err != nil {
				return err
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return a.request(ctx, &params, protocol.RepoRegister{Path: path}, func(response protocol.Response) (string, error) {
				registered, ok := response.(protocol.RepoRegistered)
				if !ok {
					return "", unexpected(response)
				}
				return fmt.Sprintf("Registered %s as %s (default branch %s).",
					registered.Repo.Name, registered.Repo.ID, registered.Repo.DefaultBranch), nil
			})
		},
	}
}

func (a *app) repoListCommand() *cli.Command {
	var params TargetParams
	return &cli.Command{
		Name:    "list",
		Summary: "List registered repositories",
		Usage:   "vex repo list [--connection name | --all] [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.MaxArgs(args, 0, "vex repo list [flags]"); err != nil {
				return err
			}
			return a.fanOut(ctx, &params, protocol.RepoList{}, func(response protocol.Response) (string, error) {
				repos, ok := response.(protocol.Repos)
				if !ok {
					return "", unexpected(response)
				}
				return formatRepos(repos.Repos), nil
			})
		},
	}
}

func formatRepos(repos []protocol.Repository) string {
	if len(repos) == 0 {
		return "No registered repositories."
	}
	var builder strings.Builder
	tw := tabwriter.NewWriter(&builder, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBRANCH\tWORKSTREAMS\tPATH")
	for _, repo := range repos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", repo.ID, repo.Name, repo.DefaultBranch, len(repo.Workstreams), repo.Path)
	}
	tw.Flush()
	return builder.String()
}

func (a *app) repoUnregisterCommand() *cli.Command {
	var params ConnectionParams
	return &cli.Command{
		Name:    "unregister",
		Summary: "Forget a registered repository",
		Usage:   "vex repo unregister <repo-id> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("unregister", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.ExactArgs(args, 1, "vex repo unregister <repo-id>"); err != nil {
				return err
			}
			return a.request(ctx, &params, protocol.RepoUnregister{RepoID: args[0]}, func(response protocol.Response) (string, error) {
				if _, ok := response.(protocol.RepoUnregistered); !ok {
					return "", unexpected(response)
				}
				return fmt.Sprintf("Unregistered %s.", args[0]), nil
			})
		},
	}
}

func (a *app) workstreamCommand() *cli.Command {
	return &cli.Command{
		Name:    "workstream",
		Summary: "Manage workstreams",
		Subcommands: []*cli.Command{
			a.workstreamCreateCommand(),
			a.workstreamListCommand(),
			a.workstreamDeleteCommand(),
		},
	}
}

type workstreamCreateParams struct {
	ConnectionParams
	Name   string `flag:"name" desc:"workstream name (default: generated)"`
	Branch string `flag:"branch" desc:"branch to check out (default: derived from the name)"`
}

func (a *app) workstreamCreateCommand() *cli.Command {
	var params workstreamCreateParams
	return &cli.Command{
		Name:    "create",
		Summary: "Create a workstream in a repository",
		Usage:   "vex workstream create <repo-id> [--name name] [--branch branch] [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("create", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.ExactArgs(args, 1, "vex workstream create <repo-id>"); err != nil {
				return err
			}
			command := protocol.WorkstreamCreate{RepoID: args[0]}
			if params.Name != "" {
				command.Name = &params.Name
			}
			if params.Branch != "" {
				command.Branch = &params.Branch
			}
			return a.request(ctx, &params.ConnectionParams, command, func(response protocol.Response) (string, error) {
				created, ok := response.(protocol.WorkstreamCreated)
				if !ok {
					return "", unexpected(response)
				}
				workstream := created.Workstream
				return fmt.Sprintf("Created workstream %s (%s) on branch %s.\n  worktree: %s\n  tmux:     %s",
					workstream.Name, workstream.ID, workstream.Branch, workstream.WorktreePath, workstream.TmuxSession), nil
			})
		},
	}
}

type workstreamListParams struct {
	TargetParams
	Repo string `flag:"repo" desc:"only list workstreams of this repository"`
}

func (a *app) workstreamListCommand() *cli.Command {
	var params workstreamListParams
	return &cli.Command{
		Name:    "list",
		Summary: "List workstreams grouped by repository",
		Usage:   "vex workstream list [--repo repo-id] [--connection name | --all] [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.MaxArgs(args, 0, "vex workstream list [flags]"); err != nil {
				return err
			}
			var command protocol.WorkstreamList
			if params.Repo != "" {
				command.RepoID = &params.Repo
			}
			return a.fanOut(ctx, &params.TargetParams, command, func(response protocol.Response) (string, error) {
				workstreams, ok := response.(protocol.Workstreams)
				if !ok {
					return "", unexpected(response)
				}
				return formatWorkstreams(workstreams.Repos), nil
			})
		},
	}
}

func formatWorkstreams(repos []protocol.Repository) string {
	var builder strings.Builder
	for _, repo := range repos {
		fmt.Fprintf(&builder, "%s (%s)\n", repo.Name, repo.ID)
		if len(repo.Workstreams) == 0 {
			builder.WriteString("  no workstreams\n")
			continue
		}
		for _, workstream := range repo.Workstreams {
			fmt.Fprintf(&builder, "  %s  %s  %s  %s  agents: %d\n",
				workstream.ID, workstream.Name, workstream.Branch, workstream.Status, len(workstream.Agents))
		}
	}
	if builder.Len() == 0 {
		return "No workstreams."
	}
	return builder.String()
}

func (a *app) workstreamDeleteCommand() *cli.Command {
	var params ConnectionParams
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete a workstream with its worktree and tmux session",
		Usage:   "vex workstream delete <workstream-id> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("delete", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.ExactArgs(args, 1, "vex workstream delete <workstream-id>"); err != nil {
				return err
			}
			return a.request(ctx, &params, protocol.WorkstreamDelete{WorkstreamID: args[0]}, func(response protocol.Response) (string, error) {
				if _, ok := response.(protocol.WorkstreamDeleted); !ok {
					return "", unexpected(response)
				}
				return fmt.Sprintf("Deleted workstream %s.", args[0]), nil
			})
		},
	}
}

func (a *app) agentCommand() *cli.Command {
	return &cli.Command{
		Name:    "agent",
		Summary: "Manage agents running in workstreams",
		Subcommands: []*cli.Command{
			a.agentSpawnCommand(),
			a.agentKillCommand(),
			a.agentListCommand(),
		},
	}
}

func (a *app) agentSpawnCommand() *cli.Command {
	var params ConnectionParams
	return &cli.Command{
		Name:    "spawn",
		Summary: "Start an agent in a workstream",
		Usage:   "vex agent spawn <workstream-id> <prompt...> [flags]",
		Examples: []cli.Example{
			{Description: "Ask an agent to fix the tests", Command: "vex agent spawn ws-1a2b \"make the tests pass\""},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("spawn", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("expected a workstream ID and a prompt\n\nUsage: vex agent spawn <workstream-id> <prompt...>")
			}
			command := protocol.AgentSpawn{WorkstreamID: args[0], Prompt: strings.Join(args[1:], " ")}
			return a.request(ctx, &params, command, func(response protocol.Response) (string, error) {
				spawned, ok := response.(protocol.AgentSpawned)
				if !ok {
					return "", unexpected(response)
				}
				return fmt.Sprintf("Spawned agent %s in tmux window %d.", spawned.Agent.ID, spawned.Agent.TmuxWindow), nil
			})
		},
	}
}

func (a *app) agentKillCommand() *cli.Command {
	var params ConnectionParams
	return &cli.Command{
		Name:    "kill",
		Summary: "Stop an agent",
		Usage:   "vex agent kill <agent-id> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("kill", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.ExactArgs(args, 1, "vex agent kill <agent-id>"); err != nil {
				return err
			}
			return a.request(ctx, &params, protocol.AgentKill{AgentID: args[0]}, func(response protocol.Response) (string, error) {
				if _, ok := response.(protocol.AgentKilled); !ok {
					return "", unexpected(response)
				}
				return fmt.Sprintf("Killed agent %s.", args[0]), nil
			})
		},
	}
}

func (a *app) agentListCommand() *cli.Command {
	var params ConnectionParams
	return &cli.Command{
		Name:    "list",
		Summary: "List the agents of a workstream",
		Usage:   "vex agent list <workstream-id> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.ExactArgs(args, 1, "vex agent list <workstream-id>"); err != nil {
				return err
			}
			return a.request(ctx, &params, protocol.AgentList{WorkstreamID: args[0]}, func(response protocol.Response) (string, error) {
				agents, ok := response.(protocol.Agents)
				if !ok {
					return "", unexpected(response)
				}
				return formatAgents(agents.Agents), nil
			})
		},
	}
}

func formatAgents(agents []protocol.Agent) string {
	if len(agents) == 0 {
		return "No agents."
	}
	var builder strings.Builder
	tw := tabwriter.NewWriter(&builder, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWINDOW\tSTATUS\tPROMPT")
	for _, agent := range agents {
		status := string(agent.Status)
		if agent.ExitCode != nil {
			status = fmt.Sprintf("%s (%d)", status, *agent.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", agent.ID, agent.TmuxWindow, status, agent.Prompt)
	}
	tw.Flush()
	return strings.TrimRight(builder.String(), "\n")
}
