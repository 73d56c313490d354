package net

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire format: [2 bytes LE: total length, header included][payload]. The
// payload always begins with its 2-byte little-endian opcode.
const (
	frameHeaderLen = 2
	opcodeLen      = 2
	maxPayloadLen  = 0xFFFF - frameHeaderLen
)

// ReadFrame reads one frame from r and returns its payload, opcode first.
// A frame too short to carry an opcode is a protocol error.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	payloadLen := int(binary.LittleEndian.Uint16(header[:])) - frameHeaderLen
	if payloadLen < opcodeLen {
		return nil, fmt.Errorf("frame too short: %d byte payload", payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", payloadLen, err)
	}
	return payload, nil
}

// WriteFrame frames and writes one payload to w. A payload whose length
// cannot be prefixed in two bytes is rejected, never truncated.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > maxPayloadLen {
		return fmt.Errorf("payload too large: %d bytes", len(data))
	}

	var header [frameHeaderLen]byte
	binary.LittleEndian.PutUint16(header[:], uint16(len(data)+frameHeaderLen))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}
