// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"io"

	"github.com/bureau-foundation/vex/lib/frame"
)

// Stream sends and receives typed messages over a framed byte stream.
// Deadlines are the caller's business: set them on the underlying
// connection. A Stream is used by one goroutine at a time; the protocol
// is strictly request/response so there is never a reason to share.
type Stream struct {
	writer io.Writer
	reader *frame.Reader
}

// NewStream wraps a connection.
func NewStream(conn io.ReadWriter) *Stream {
	return &Stream{writer: conn, reader: frame.NewReader(conn)}
}

// SendCommand writes one Command frame.
func (s *Stream) SendCommand(command Command) error {
	body, err := EncodeCommand(command)
	if err != nil {
		return err
	}
	return frame.Write(s.writer, body)
}

// SendResponse writes one Response frame.
func (s *Stream) SendResponse(response Response) error {
	body, err := EncodeResponse(response)
	if err != nil {
		return err
	}
	return frame.Write(s.writer, body)
}

// SendAuthToken writes the credential frame.
func (s *Stream) SendAuthToken(token AuthToken) error {
	body, err := EncodeAuthToken(token)
	if err != nil {
		return err
	}
	return frame.Write(s.writer, body)
}

// ReceiveCommand reads one Command frame. io.EOF means the peer closed
// the connection between requests.
func (s *Stream) ReceiveCommand() (Command, error) {
	body, err := s.reader.Next()
	if err != nil {
		return nil, err
	}
	return DecodeCommand(body)
}

// ReceiveResponse reads one Response frame.
func (s *Stream) ReceiveResponse() (Response, error) {
	body, err := s.reader.Next()
	if err != nil {
		return nil, err
	}
	return DecodeResponse(body)
}

// ReceiveAuthToken reads the credential frame.
func (s *Stream) ReceiveAuthToken() (AuthToken, error) {
	body, err := s.reader.Next()
	if err != nil {
		return AuthToken{}, err
	}
	return DecodeAuthToken(body)
}
