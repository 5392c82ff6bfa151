// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/vex/lib/protocol"
)

// Handle carries out one domain command for a session. local reports
// whether the session arrived over the local socket. Administrative
// commands are not domain commands and are answered with Internal.
func (m *Manager) Handle(ctx context.Context, command protocol.Command, local bool) protocol.Response {
	response, err := m.handle(ctx, command, local)
	if err != nil {
		return errorResponse(err)
	}
	return response
}

func (m *Manager) handle(ctx context.Context, command protocol.Command, local bool) (protocol.Response, error) {
	switch command := command.(type) {
	case protocol.RepoRegister:
		if !local {
			return nil, ErrLocalOnly
		}
		repo, err := m.Register(ctx, command.Path)
		if err != nil {
			return nil, err
		}
		return protocol.RepoRegistered{Repo: repo}, nil

	case protocol.RepoList:
		return protocol.Repos{Repos: m.Repos()}, nil

	case protocol.RepoUnregister:
		if err := m.Unregister(command.RepoID); err != nil {
			return nil, err
		}
		return protocol.RepoUnregistered{}, nil

	case protocol.WorkstreamCreate:
		workstream, err := m.CreateWorkstream(ctx, command.RepoID, command.Name, command.Branch)
		if err != nil {
			return nil, err
		}
		return protocol.WorkstreamCreated{Workstream: workstream}, nil

	case protocol.WorkstreamList:
		return protocol.Workstreams{Repos: m.Workstreams(command.RepoID)}, nil

	case protocol.WorkstreamDelete:
		if err := m.DeleteWorkstream(ctx, command.WorkstreamID); err != nil {
			return nil, err
		}
		return protocol.WorkstreamDeleted{}, nil

	case protocol.AgentSpawn:
		agent, err := m.SpawnAgent(ctx, command.WorkstreamID, command.Prompt)
		if err != nil {
			return nil, err
		}
		return protocol.AgentSpawned{Agent: agent}, nil

	case protocol.AgentKill:
		if err := m.KillAgent(ctx, command.AgentID); err != nil {
			return nil, err
		}
		return protocol.AgentKilled{}, nil

	case protocol.AgentList:
		agents, err := m.Agents(command.WorkstreamID)
		if err != nil {
			return nil, err
		}
		return protocol.Agents{Agents: agents}, nil

	default:
		return nil, fmt.Errorf("%s is not a workstream command", protocol.CommandName(command))
	}
}

func errorResponse(err error) protocol.Error {
	switch {
	case errors.Is(err, ErrNotFound):
		return protocol.NewError(protocol.CodeNotFound)
	case errors.Is(err, ErrLocalOnly):
		return protocol.NewError(protocol.CodeLocalOnly)
	default:
		return protocol.Internal(err.Error())
	}
}
