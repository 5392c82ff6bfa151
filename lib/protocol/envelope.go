// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"reflect"

	"github.com/bureau-foundation/vex/lib/codec"
	"github.com/bureau-foundation/vex/lib/frame"
)

// envelope is the tagged form of a Command or Response.
type envelope struct {
	Type string           `cbor:"type"`
	Data codec.RawMessage `cbor:"data,omitempty"`
}

// EncodeCommand serializes a command into a frame body.
func EncodeCommand(command Command) ([]byte, error) {
	return encodeTagged(command.commandType(), command)
}

// EncodeResponse serializes a response into a frame body.
func EncodeResponse(response Response) ([]byte, error) {
	return encodeTagged(response.responseType(), response)
}

func encodeTagged(tag string, variant any) ([]byte, error) {
	message := envelope{Type: tag}
	if reflect.TypeOf(variant).NumField() > 0 {
		data, err := codec.Marshal(variant)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", tag, err)
		}
		message.Data = data
	}
	body, err := codec.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", tag, err)
	}
	return body, nil
}

func decodeEnvelope(body []byte) (envelope, error) {
	var message envelope
	if err := codec.Unmarshal(body, &message); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", frame.ErrMalformed, err)
	}
	if message.Type == "" {
		return envelope{}, fmt.Errorf("%w: missing message type", frame.ErrMalformed)
	}
	return message, nil
}

// DecodeCommand parses a frame body as a Command.
func DecodeCommand(body []byte) (Command, error) {
	message, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	switch message.Type {
	case "Status":
		return decodeVariant[Command, Status](message)
	case "Whoami":
		return decodeVariant[Command, Whoami](message)
	case "PairCreate":
		return decodeVariant[Command, PairCreate](message)
	case "PairList":
		return decodeVariant[Command, PairList](message)
	case "PairRevoke":
		return decodeVariant[Command, PairRevoke](message)
	case "PairRevokeAll":
		return decodeVariant[Command, PairRevokeAll](message)
	case "RepoRegister":
		return decodeVariant[Command, RepoRegister](message)
	case "RepoList":
		return decodeVariant[Command, RepoList](message)
	case "RepoUnregister":
		return decodeVariant[Command, RepoUnregister](message)
	case "WorkstreamCreate":
		return decodeVariant[Command, WorkstreamCreate](message)
	case "WorkstreamList":
		return decodeVariant[Command, WorkstreamList](message)
	case "WorkstreamDelete":
		return decodeVariant[Command, WorkstreamDelete](message)
	case "AgentSpawn":
		return decodeVariant[Command, AgentSpawn](message)
	case "AgentKill":
		return decodeVariant[Command, AgentKill](message)
	case "AgentList":
		return decodeVariant[Command, AgentList](message)
	default:
		return nil, fmt.Errorf("%w: unknown command %q", frame.ErrMalformed, message.Type)
	}
}

// DecodeResponse parses a frame body as a Response.
func DecodeResponse(body []byte) (Response, error) {
	message, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	switch message.Type {
	case "Pong":
		return decodeVariant[Response, Pong](message)
	case "Ok":
		return decodeVariant[Response, OK](message)
	case "DaemonStatus":
		return decodeVariant[Response, DaemonStatus](message)
	case "ClientInfo":
		return decodeVariant[Response, ClientInfo](message)
	case "Pair":
		return decodeVariant[Response, Pair](message)
	case "PairedClient":
		return decodeVariant[Response, PairedClient](message)
	case "PairedClients":
		return decodeVariant[Response, PairedClients](message)
	case "Revoked":
		return decodeVariant[Response, Revoked](message)
	case "Error":
		return decodeVariant[Response, Error](message)
	case "RepoRegistered":
		return decodeVariant[Response, RepoRegistered](message)
	case "RepoList":
		return decodeVariant[Response, Repos](message)
	case "RepoUnregistered":
		return decodeVariant[Response, RepoUnregistered](message)
	case "WorkstreamCreated":
		return decodeVariant[Response, WorkstreamCreated](message)
	case "WorkstreamList":
		return decodeVariant[Response, Workstreams](message)
	case "WorkstreamDeleted":
		return decodeVariant[Response, WorkstreamDeleted](message)
	case "AgentSpawned":
		return decodeVariant[Response, AgentSpawned](message)
	case "AgentKilled":
		return decodeVariant[Response, AgentKilled](message)
	case "AgentList":
		return decodeVariant[Response, Agents](message)
	default:
		return nil, fmt.Errorf("%w: unknown response %q", frame.ErrMalformed, message.Type)
	}
}

// decodeVariant decodes the envelope's data into variant type V and
// returns it as the family interface F. A variant with fields requires
// "data"; a variant without fields ignores it.
func decodeVariant[F any, V any](message envelope) (F, error) {
	var variant V
	var zero F
	if reflect.TypeOf(variant).NumField() > 0 {
		if len(message.Data) == 0 {
			return zero, fmt.Errorf("%w: %s without data", frame.ErrMalformed, message.Type)
		}
		if err := codec.Unmarshal(message.Data, &variant); err != nil {
			return zero, fmt.Errorf("%w: %s data: %v", frame.ErrMalformed, message.Type, err)
		}
	}
	family, ok := any(variant).(F)
	if !ok {
		panic(fmt.Sprintf("protocol: %T does not implement %T", variant, zero))
	}
	return family, nil
}
