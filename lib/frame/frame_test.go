// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

// chunkedReader delivers its data in fixed-size pieces, the way a
// socket may deliver a frame split across segments.
type chunkedReader struct {
	data      []byte
	chunkSize int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := min(c.chunkSize, len(p), len(c.data))
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func TestEncodeLayout(t *testing.T) {
	framed, err := Encode([]byte("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}
	if !bytes.Equal(framed, want) {
		t.Errorf("Encode = %x, want %x", framed, want)
	}
}

func TestEncodeEmptyBody(t *testing.T) {
	framed, err := Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var decoder Decoder
	decoder.Feed(framed)
	body, ok, err := decoder.Next()
	if err != nil || !ok {
		t.Fatalf("Next = (%v, %v), want complete empty frame", ok, err)
	}
	if len(body) != 0 {
		t.Errorf("body = %x, want empty", body)
	}
}

func TestEncodeRejectsOversizedBody(t *testing.T) {
	_, err := Encode(make([]byte, MaxFrameSize+1))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Encode error = %v, want ErrMalformed", err)
	}
}

func TestDecoderSplitAtEveryBoundary(t *testing.T) {
	bodies := [][]byte{
		[]byte("first"),
		{},
		bytes.Repeat([]byte{0xAB}, 300),
		[]byte("last"),
	}
	var stream []byte
	for _, body := range bodies {
		framed, err := Encode(body)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		stream = append(stream, framed...)
	}

	for split := 0; split <= len(stream); split++ {
		var decoder Decoder
		var got [][]byte
		for _, part := range [][]byte{stream[:split], stream[split:]} {
			decoder.Feed(part)
			for {
				body, ok, err := decoder.Next()
				if err != nil {
					t.Fatalf("split %d: Next: %v", split, err)
				}
				if !ok {
					break
				}
				got = append(got, body)
			}
		}
		if len(got) != len(bodies) {
			t.Fatalf("split %d: decoded %d frames, want %d", split, len(got), len(bodies))
		}
		for i := range bodies {
			if !bytes.Equal(got[i], bodies[i]) {
				t.Errorf("split %d: frame %d = %x, want %x", split, i, got[i], bodies[i])
			}
		}
		if decoder.Buffered() != 0 {
			t.Errorf("split %d: %d bytes left buffered", split, decoder.Buffered())
		}
	}
}

func TestDecoderKeepsSurplusBytes(t *testing.T) {
	first, _ := Encode([]byte("one"))
	second, _ := Encode([]byte("two"))

	var decoder Decoder
	decoder.Feed(append(first, second[:3]...))

	body, ok, err := decoder.Next()
	if err != nil || !ok || string(body) != "one" {
		t.Fatalf("first Next = (%q, %v, %v), want (one, true, nil)", body, ok, err)
	}
	if _, ok, _ := decoder.Next(); ok {
		t.Fatal("second frame yielded before its bytes arrived")
	}
	if decoder.Buffered() != 3 {
		t.Fatalf("Buffered = %d, want 3 surplus bytes kept", decoder.Buffered())
	}

	decoder.Feed(second[3:])
	body, ok, err = decoder.Next()
	if err != nil || !ok || string(body) != "two" {
		t.Fatalf("second Next = (%q, %v, %v), want (two, true, nil)", body, ok, err)
	}
}

func TestDecoderRejectsHostileLength(t *testing.T) {
	var header [HeaderLength]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)

	var decoder Decoder
	decoder.Feed(header[:])
	_, ok, err := decoder.Next()
	if ok {
		t.Fatal("Next yielded a frame for an oversized length")
	}
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Next error = %v, want ErrMalformed", err)
	}
}

func TestDecoderBodyIsCopied(t *testing.T) {
	first, _ := Encode([]byte("aaaa"))
	second, _ := Encode([]byte("bbbb"))

	var decoder Decoder
	decoder.Feed(append(first, second...))
	body, _, _ := decoder.Next()
	if _, _, err := decoder.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(body) != "aaaa" {
		t.Errorf("first body changed to %q after the buffer was compacted", body)
	}
}

func TestReaderOneByteChunks(t *testing.T) {
	var stream bytes.Buffer
	for _, text := range []string{"alpha", "beta", "gamma"} {
		if err := Write(&stream, []byte(text)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	reader := NewReader(&chunkedReader{data: stream.Bytes(), chunkSize: 1})
	for _, want := range []string{"alpha", "beta", "gamma"} {
		body, err := reader.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if string(body) != want {
			t.Errorf("body = %q, want %q", body, want)
		}
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("Next at end = %v, want io.EOF", err)
	}
}

func TestReaderTruncatedFrame(t *testing.T) {
	framed, _ := Encode([]byte("truncated"))
	reader := NewReader(bytes.NewReader(framed[:len(framed)-2]))

	_, err := reader.Next()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Next error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReaderFrameAndEOFInSameRead(t *testing.T) {
	framed, _ := Encode([]byte("tail"))
	reader := NewReader(&eofWithDataReader{data: framed})

	body, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(body) != "tail" {
		t.Errorf("body = %q, want tail", body)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("Next at end = %v, want io.EOF", err)
	}
}

// eofWithDataReader returns all of its data together with io.EOF, which
// io.Reader permits.
type eofWithDataReader struct {
	data []byte
}

func (e *eofWithDataReader) Read(p []byte) (int, error) {
	n := copy(p, e.data)
	e.data = e.data[n:]
	return n, io.EOF
}
