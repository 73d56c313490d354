package net

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0xAA, 0xBB, 0xCC}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %x, want %x", got, payload)
	}
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	for _, totalLen := range []uint16{0, 1, 2, 3} {
		var buf bytes.Buffer
		var header [2]byte
		binary.LittleEndian.PutUint16(header[:], totalLen)
		buf.Write(header[:])
		buf.Write(make([]byte, 8))

		if _, err := ReadFrame(&buf); err == nil {
			t.Fatalf("total length %d accepted", totalLen)
		}
	}
}

func TestWriteFrameRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, maxPayloadLen+1)); err == nil {
		t.Fatal("oversize payload accepted")
	}
	if buf.Len() != 0 {
		t.Fatalf("partial frame written: %d bytes", buf.Len())
	}

	if err := WriteFrame(&buf, make([]byte, maxPayloadLen)); err != nil {
		t.Fatalf("maximum payload rejected: %v", err)
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	var header [2]byte
	binary.LittleEndian.PutUint16(header[:], 10) // promises 8 payload bytes
	buf.Write(header[:])
	buf.Write([]byte{0x01, 0x02}) // delivers 2

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("truncated frame accepted")
	}
}
