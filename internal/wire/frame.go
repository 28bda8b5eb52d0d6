// Package wire implements the request/response protocol spoken between graph
// store processes: one length-prefixed request frame and one length-prefixed
// response frame per TCP connection.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// DefaultMaxFrameSize bounds a single frame unless configured otherwise.
const DefaultMaxFrameSize = 64 << 20

const headerSize = 4

// initialBodyBuffer caps the up-front allocation for a frame body; the buffer
// grows only as bytes actually arrive.
const initialBodyBuffer = 64 << 10

// WriteFrame writes a big-endian uint32 length followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return protocolErr(fmt.Sprintf("frame of %d bytes exceeds header range", len(payload)), nil)
	}
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. Truncated frames and frames above max are
// reported as *ProtocolError; other read failures are returned unchanged.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, protocolErr("truncated frame header", err)
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if uint64(n) > uint64(max) {
		return nil, protocolErr(fmt.Sprintf("frame of %d bytes exceeds limit %d", n, max), nil)
	}
	var body bytes.Buffer
	body.Grow(int(min(n, initialBodyBuffer)))
	if _, err := io.CopyN(&body, r, int64(n)); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, protocolErr(fmt.Sprintf("truncated frame body, got %d of %d bytes", body.Len(), n), io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return body.Bytes(), nil
}
