// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workstream

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/bureau-foundation/vex/lib/protocol"
)

const registryFileVersion = 1

type registryFile struct {
	Version int                   `cbor:"version"`
	Repos   []protocol.Repository `cbor:"repos"`
}

// registry is the in-memory state. Callers hold Manager.mu.
type registry struct {
	repos []protocol.Repository
}

func (r *registry) repoByID(id string) *protocol.Repository {
	for i := range r.repos {
		if r.repos[i].ID == id {
			return &r.repos[i]
		}
	}
	return nil
}

func (r *registry) repoByPath(path string) *protocol.Repository {
	for i := range r.repos {
		if r.repos[i].Path == path {
			return &r.repos[i]
		}
	}
	return nil
}

func (r *registry) workstream(id string) (*protocol.Repository, *protocol.Workstream) {
	for i := range r.repos {
		for j := range r.repos[i].Workstreams {
			if r.repos[i].Workstreams[j].ID == id {
				return &r.repos[i], &r.repos[i].Workstreams[j]
			}
		}
	}
	return nil, nil
}

func (r *registry) agent(id string) (*protocol.Workstream, *protocol.Agent) {
	for i := range r.repos {
		for j := range r.repos[i].Workstreams {
			workstream := &r.repos[i].Workstreams[j]
			for k := range workstream.Agents {
				if workstream.Agents[k].ID == id {
					return workstream, &workstream.Agents[k]
				}
			}
		}
	}
	return nil, nil
}

func (r *registry) removeWorkstream(id string) {
	for i := range r.repos {
		r.repos[i].Workstreams = slices.DeleteFunc(r.repos[i].Workstreams, func(w protocol.Workstream) bool {
			return w.ID == id
		})
	}
}

// refreshStatus derives a live workstream's status from its agents.
func refreshStatus(workstream *protocol.Workstream) {
	if workstream.Status == protocol.WorkstreamStopped {
		return
	}
	workstream.Status = protocol.WorkstreamIdle
	for _, agent := range workstream.Agents {
		if agent.Status == protocol.AgentRunning {
			workstream.Status = protocol.WorkstreamRunning
			return
		}
	}
}

// cloneRepos deep-copies repositories so callers never alias the
// registry's slices.
func cloneRepos(repos []protocol.Repository) []protocol.Repository {
	out := make([]protocol.Repository, len(repos))
	for i, repo := range repos {
		out[i] = repo
		out[i].Workstreams = make([]protocol.Workstream, len(repo.Workstreams))
		for j, workstream := range repo.Workstreams {
			out[i].Workstreams[j] = cloneWorkstream(workstream)
		}
	}
	return out
}

func cloneWorkstream(workstream protocol.Workstream) protocol.Workstream {
	workstream.Agents = slices.Clone(workstream.Agents)
	if workstream.Agents == nil {
		workstream.Agents = []protocol.Agent{}
	}
	return workstream
}

// newID returns prefix_ followed by six random hex characters.
func newID(prefix string) (string, error) {
	var buffer [3]byte
	if _, err := rand.Read(buffer[:]); err != nil {
		return "", fmt.Errorf("generating %s id: %w", prefix, err)
	}
	return prefix + "_" + hex.EncodeToString(buffer[:]), nil
}
