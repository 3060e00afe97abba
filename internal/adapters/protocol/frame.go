package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// LengthPrefixLen is the size of the little-endian frame length.
	LengthPrefixLen = 8
	// DefaultMaxFrameBytes caps a single frame payload.
	DefaultMaxFrameBytes = 8 * 1024 * 1024
)

// ReadFrame reads one length-prefixed frame. A clean EOF before the prefix
// is returned as io.EOF so callers can tell a closed stream from a torn one.
func ReadFrame(r io.Reader, maxBytes int) ([]byte, error) {
	var prefix [LengthPrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint64(prefix[:])
	if maxBytes > 0 && n > uint64(maxBytes) {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, n, maxBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload with its length prefix in a single write.
func WriteFrame(w io.Writer, payload []byte, maxBytes int) error {
	if maxBytes > 0 && len(payload) > maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, len(payload), maxBytes)
	}
	buf := make([]byte, LengthPrefixLen+len(payload))
	binary.LittleEndian.PutUint64(buf[:LengthPrefixLen], uint64(len(payload)))
	copy(buf[LengthPrefixLen:], payload)
	_, err := w.Write(buf)
	return err
}
