// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package frame implements the length-delimited framing shared by every
// vex transport. A frame is a 4-byte big-endian unsigned body length
// followed by exactly that many body bytes:
//
//	[uint32 length, big-endian] [body]
//
// The body is opaque to this package; lib/protocol puts CBOR in it.
//
// Decoding is an accumulate-then-yield loop. [Decoder] buffers bytes in
// whatever chunks the transport delivers and yields a body only once
// the full 4+length bytes are present. Bytes past the end of a frame
// stay buffered for the next one. [Reader] drives a Decoder from an
// io.Reader for blocking use on a connection.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLength is the size of the length prefix.
const HeaderLength = 4

// MaxFrameSize bounds the body length a peer may announce. Any command
// or response is orders of magnitude smaller; the limit exists so a
// hostile length prefix cannot make the receiver allocate gigabytes.
const MaxFrameSize = 16 * 1024 * 1024

// ErrMalformed is returned (wrapped) for a length prefix above
// MaxFrameSize and, by lib/protocol, for a body that does not decode
// as a valid message.
var ErrMalformed = errors.New("malformed frame")

// Encode returns the framed form of body.
func Encode(body []byte) ([]byte, error) {
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("%w: body length %d exceeds maximum %d", ErrMalformed, len(body), MaxFrameSize)
	}
	framed := make([]byte, HeaderLength+len(body))
	binary.BigEndian.PutUint32(framed[:HeaderLength], uint32(len(body)))
	copy(framed[HeaderLength:], body)
	return framed, nil
}

// Write frames body and writes it to w with a single Write call, so
// concurrent writers on a connection never interleave a header with
// another frame's body.
func Write(w io.Writer, body []byte) error {
	framed, err := Encode(body)
	if err != nil {
		return err
	}
	if _, err := w.Write(framed); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Decoder accumulates stream bytes and splits them into frame bodies.
// The zero value is ready to use. A Decoder is not safe for concurrent
// use.
type Decoder struct {
	buffer []byte
}

// Feed appends stream bytes to the decoder's buffer.
func (d *Decoder) Feed(data []byte) {
	d.buffer = append(d.buffer, data...)
}

// Buffered returns the number of bytes held but not yet yielded.
func (d *Decoder) Buffered() int {
	return len(d.buffer)
}

// Next yields the next complete frame body. ok is false when more bytes
// are needed. A length prefix above MaxFrameSize is reported as soon as
// the header is complete, without waiting for the body; after that the
// stream cannot be resynchronized and the caller must drop it.
func (d *Decoder) Next() (body []byte, ok bool, err error) {
	if len(d.buffer) < HeaderLength {
		return nil, false, nil
	}
	length := binary.BigEndian.Uint32(d.buffer[:HeaderLength])
	if length > MaxFrameSize {
		return nil, false, fmt.Errorf("%w: length %d exceeds maximum %d", ErrMalformed, length, MaxFrameSize)
	}
	total := HeaderLength + int(length)
	if len(d.buffer) < total {
		return nil, false, nil
	}

	body = make([]byte, length)
	copy(body, d.buffer[HeaderLength:total])

	remaining := copy(d.buffer, d.buffer[total:])
	d.buffer = d.buffer[:remaining]
	return body, true, nil
}

// readChunkSize is the size of each Read issued by Reader.
const readChunkSize = 32 * 1024

// Reader reads frame bodies from a byte stream.
type Reader struct {
	source  io.Reader
	decoder Decoder
	chunk   []byte
	err     error
}

// NewReader returns a Reader that decodes frames from source.
func NewReader(source io.Reader) *Reader {
	return &Reader{source: source, chunk: make([]byte, readChunkSize)}
}

// Next blocks until a complete frame body is available. It returns
// io.EOF when the stream ends cleanly between frames and
// io.ErrUnexpectedEOF when it ends inside one.
func (r *Reader) Next() ([]byte, error) {
	for {
		body, ok, err := r.decoder.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			return body, nil
		}
		if r.err != nil {
			if errors.Is(r.err, io.EOF) {
				if r.decoder.Buffered() == 0 {
					return nil, io.EOF
				}
				return nil, fmt.Errorf("read frame: %d trailing bytes: %w", r.decoder.Buffered(), io.ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("read frame: %w", r.err)
		}

		n, err := r.source.Read(r.chunk)
		r.decoder.Feed(r.chunk[:n])
		if err != nil {
			r.err = err
		}
	}
}
