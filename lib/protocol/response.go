// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "fmt"

// Response is the daemon's answer to a Command (or, for [Pong] and
// [Error], to an [AuthToken]).
type Response interface {
	responseType() string
}

// Pong acknowledges a successful credential frame.
type Pong struct{}

// OK is a generic success with no payload. It answers [PairRevoke].
type OK struct{}

// DaemonStatus answers [Status].
type DaemonStatus struct {
	UptimeSecs       uint64 `json:"uptime_secs"`
	ConnectedClients uint32 `json:"connected_clients"`
	Version          string `json:"version"`
}

// ClientInfo answers [Whoami]. TokenID is nil on the local transport.
type ClientInfo struct {
	TokenID *string `json:"token_id,omitempty"`
	IsLocal bool    `json:"is_local"`
}

// Pair answers [PairCreate]. It is the only message that ever carries a
// token secret.
type Pair struct {
	TokenID     string `json:"token_id"`
	TokenSecret string `json:"token_secret"`
	// Host is the daemon's advertised TCP address, if configured, for
	// embedding in a QR code next to the pairing string.
	Host *string `json:"host,omitempty"`
}

// PairingString returns the "<id>:<secret>" form shown to the operator.
func (p Pair) PairingString() string {
	return p.TokenID + ":" + p.TokenSecret
}

// PairedClient is token metadata. Timestamps are Unix seconds.
type PairedClient struct {
	TokenID   string  `json:"token_id"`
	Label     *string `json:"label,omitempty"`
	CreatedAt int64   `json:"created_at"`
	ExpiresAt *int64  `json:"expires_at,omitempty"`
	LastSeen  *int64  `json:"last_seen,omitempty"`
	Revoked   bool    `json:"revoked"`
}

// PairedClients answers [PairList].
type PairedClients struct {
	Clients []PairedClient `json:"clients"`
}

// Revoked answers [PairRevokeAll].
type Revoked struct {
	Count uint32 `json:"count"`
}

// RepoRegistered answers [RepoRegister].
type RepoRegistered struct {
	Repo Repository `json:"repo"`
}

// Repos answers [RepoList].
type Repos struct {
	Repos []Repository `json:"repos"`
}

// RepoUnregistered answers [RepoUnregister].
type RepoUnregistered struct{}

// WorkstreamCreated answers [WorkstreamCreate].
type WorkstreamCreated struct {
	Workstream Workstream `json:"workstream"`
}

// Workstreams answers [WorkstreamList]: repositories with their
// workstreams and agents.
type Workstreams struct {
	Repos []Repository `json:"repos"`
}

// WorkstreamDeleted answers [WorkstreamDelete].
type WorkstreamDeleted struct{}

// AgentSpawned answers [AgentSpawn].
type AgentSpawned struct {
	Agent Agent `json:"agent"`
}

// AgentKilled answers [AgentKill].
type AgentKilled struct{}

// Agents answers [AgentList].
type Agents struct {
	Agents []Agent `json:"agents"`
}

// ErrorCode classifies an [Error].
type ErrorCode string

const (
	// CodeUnauthorized: the credential was unknown, wrong, revoked, or
	// expired. The daemon closes the connection after sending it.
	CodeUnauthorized ErrorCode = "Unauthorized"

	// CodeLocalOnly: the command is restricted to the local transport.
	CodeLocalOnly ErrorCode = "LocalOnly"

	// CodeNotFound: the referenced token, repository, workstream, or
	// agent does not exist.
	CodeNotFound ErrorCode = "NotFound"

	// CodeInternal: the daemon failed to carry out a valid request.
	// Message says why.
	CodeInternal ErrorCode = "Internal"
)

// Error is a failed request. It also satisfies the error interface so
// clients can return it directly.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message *string   `json:"message,omitempty"`
}

func (e Error) Error() string {
	if e.Message != nil && *e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, *e.Message)
	}
	return string(e.Code)
}

// NewError returns an Error with code and no message.
func NewError(code ErrorCode) Error {
	return Error{Code: code}
}

// Internal returns an Internal error carrying message.
func Internal(message string) Error {
	return Error{Code: CodeInternal, Message: &message}
}

func (Pong) responseType() string              { return "Pong" }
func (OK) responseType() string                { return "Ok" }
func (DaemonStatus) responseType() string      { return "DaemonStatus" }
func (ClientInfo) responseType() string        { return "ClientInfo" }
func (Pair) responseType() string              { return "Pair" }
func (PairedClient) responseType() string      { return "PairedClient" }
func (PairedClients) responseType() string     { return "PairedClients" }
func (Revoked) responseType() string           { return "Revoked" }
func (Error) responseType() string             { return "Error" }
func (RepoRegistered) responseType() string    { return "RepoRegistered" }
func (Repos) responseType() string             { return "RepoList" }
func (RepoUnregistered) responseType() string  { return "RepoUnregistered" }
func (WorkstreamCreated) responseType() string { return "WorkstreamCreated" }
func (Workstreams) responseType() string       { return "WorkstreamList" }
func (WorkstreamDeleted) responseType() string { return "WorkstreamDeleted" }
func (AgentSpawned) responseType() string      { return "AgentSpawned" }
func (AgentKilled) responseType() string       { return "AgentKilled" }
func (Agents) responseType() string            { return "AgentList" }

// ResponseName returns the wire name of a response's variant, for logs.
func ResponseName(response Response) string {
	return response.responseType()
}
