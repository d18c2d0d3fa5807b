// Package testutil provides shared bus frame fixtures for tests.
//
// Packages that sit above internal/ibus use these instead of hand writing
// frames and checksums in every test file.
package testutil

import (
	"testing"

	"github.com/banshee-data/ibus-bridge/internal/ibus"
)

// ExampleFrame returns a fresh copy of a well-formed frame: source 0x68,
// destination 0x18, payload 01 02 03, checksum 0x75.
func ExampleFrame() []byte {
	return []byte{0x68, 0x05, 0x18, 0x01, 0x02, 0x03, 0x75}
}

// MustEncode builds a frame and fails the test if the payload does not fit.
func MustEncode(t *testing.T, source, destination byte, payload []byte) []byte {
	t.Helper()
	frame, err := ibus.Encode(source, destination, payload)
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	return frame
}

// Corrupt returns a copy of frame with every bit of its checksum flipped.
func Corrupt(frame []byte) []byte {
	b := append([]byte(nil), frame...)
	if len(b) > 0 {
		b[len(b)-1] ^= 0xFF
	}
	return b
}

// Concat joins frames into one stream.
func Concat(frames ...[]byte) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}
