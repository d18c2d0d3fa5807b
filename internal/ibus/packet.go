package ibus

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// HeaderSize is the source and length bytes that precede the counted
	// part of a frame.
	HeaderSize = 2
	// MinLength is the smallest usable length field: destination and
	// checksum with no payload.
	MinLength = 2
	// MaxFrameSize is the largest frame a one byte length field can describe.
	MaxFrameSize = HeaderSize + 0xFF
	// MaxPayloadSize is the largest payload that fits in a frame.
	MaxPayloadSize = 0xFF - MinLength
)

// Packet is one checksum-validated bus frame:
//
//	[source][length][destination][payload ... ][xor]
//
// Length counts everything after itself. Packets own their byte slices and
// must be treated as read-only by consumers.
type Packet struct {
	Source      byte
	Length      byte
	Destination byte
	Payload     []byte
	Checksum    byte
	// Raw is the complete frame from source through checksum.
	Raw []byte
}

// NewPacket validates raw as a single complete frame and returns the decoded
// Packet. raw is copied.
func NewPacket(raw []byte) (Packet, error) {
	if len(raw) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: have %d byte(s)", ErrIncompleteFrame, len(raw))
	}
	length := raw[1]
	if length < MinLength {
		return Packet{}, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	size := HeaderSize + int(length)
	if len(raw) < size {
		return Packet{}, fmt.Errorf("%w: want %d byte(s), have %d", ErrIncompleteFrame, size, len(raw))
	}
	if len(raw) > size {
		return Packet{}, fmt.Errorf("%w: length %d does not cover %d byte(s)", ErrInvalidLength, length, len(raw))
	}
	if !ValidChecksum(raw[:size-1], raw[size-1]) {
		return Packet{}, fmt.Errorf("%w: got %#02x, want %#02x", ErrChecksumMismatch, raw[size-1], Checksum(raw[:size-1]))
	}
	return packetFromFrame(raw), nil
}

// packetFromFrame builds a Packet from an already validated frame.
func packetFromFrame(frame []byte) Packet {
	b := make([]byte, len(frame))
	copy(b, frame)
	return Packet{
		Source:      b[0],
		Length:      b[1],
		Destination: b[2],
		Payload:     b[3 : len(b)-1],
		Checksum:    b[len(b)-1],
		Raw:         b,
	}
}

// Hex returns the raw frame as lowercase hex.
func (p Packet) Hex() string {
	return hex.EncodeToString(p.Raw)
}

func (p Packet) String() string {
	return fmt.Sprintf("%02x -> %02x [% x] (xor %02x)", p.Source, p.Destination, p.Payload, p.Checksum)
}

// Encode builds a frame from source to destination carrying payload, filling
// in the length and checksum bytes.
func Encode(source, destination byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d byte(s) (max %d)", len(payload), MaxPayloadSize)
	}
	frame := make([]byte, 0, HeaderSize+MinLength+len(payload))
	frame = append(frame, source, byte(len(payload)+MinLength), destination)
	frame = append(frame, payload...)
	return append(frame, Checksum(frame)), nil
}

// ParseHex decodes a hex string such as "68 05 18 01 02 03 75" or
// "680518010203 75". Whitespace and an optional 0x prefix are ignored.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return nil, fmt.Errorf("empty hex string")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}
