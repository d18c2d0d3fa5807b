package ibus

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corrupt(frame []byte) []byte {
	b := append([]byte(nil), frame...)
	b[len(b)-1] ^= 0xFF
	return b
}

func mustEncode(t *testing.T, src, dst byte, payload []byte) []byte {
	t.Helper()
	frame, err := Encode(src, dst, payload)
	require.NoError(t, err)
	return frame
}

func TestParser_SingleFrame(t *testing.T) {
	p := NewParser()

	packets, err := p.Feed(exampleFrame)
	require.NoError(t, err)
	if diff := cmp.Diff([]Packet{examplePacket()}, packets); diff != "" {
		t.Errorf("Feed() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, p.Buffered())
}

func TestParser_EmptyFeed(t *testing.T) {
	p := NewParser()

	packets, err := p.Feed(nil)
	assert.NoError(t, err)
	assert.Empty(t, packets)

	packets, err = p.Feed([]byte{})
	assert.NoError(t, err)
	assert.Empty(t, packets)
	assert.Equal(t, Stats{}, p.Stats())
}

func TestParser_SplitFrame(t *testing.T) {
	for split := 1; split < len(exampleFrame); split++ {
		p := NewParser()

		first, err := p.Feed(exampleFrame[:split])
		require.NoError(t, err)
		assert.Empty(t, first, "split at %d", split)
		assert.Equal(t, split, p.Buffered())

		second, err := p.Feed(exampleFrame[split:])
		require.NoError(t, err)
		if diff := cmp.Diff([]Packet{examplePacket()}, second); diff != "" {
			t.Errorf("split at %d mismatch (-want +got):\n%s", split, diff)
		}
		assert.Equal(t, 0, p.Buffered())
	}
}

func TestParser_ByteByByte(t *testing.T) {
	payload := make([]byte, MaxPayloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	frame := mustEncode(t, 0x3F, 0xD0, payload)
	require.Len(t, frame, MaxFrameSize)

	p := NewParser()
	for i, b := range frame {
		packets, err := p.Feed([]byte{b})
		require.NoError(t, err)
		if i < len(frame)-1 {
			require.Empty(t, packets, "byte %d", i)
			continue
		}
		require.Len(t, packets, 1)
		assert.Equal(t, frame, packets[0].Raw)
		assert.Equal(t, payload, packets[0].Payload)
	}
	assert.Equal(t, 0, p.Buffered())
}

func TestParser_MultipleFramesInOneChunk(t *testing.T) {
	a := mustEncode(t, 0x50, 0x68, []byte{0x3B, 0x01})
	b := mustEncode(t, 0x68, 0x3B, []byte{0x32, 0x10})
	c := mustEncode(t, 0x80, 0xBF, nil)

	p := NewParser()
	packets, err := p.Feed(bytes.Join([][]byte{a, b, c}, nil))
	require.NoError(t, err)
	require.Len(t, packets, 3)
	assert.Equal(t, a, packets[0].Raw)
	assert.Equal(t, b, packets[1].Raw)
	assert.Equal(t, c, packets[2].Raw)
	assert.Equal(t, uint64(3), p.Stats().Packets)
}

func TestParser_CorruptedChecksumAdvancesOneByte(t *testing.T) {
	p := NewParser()

	packets, err := p.Feed(corrupt(exampleFrame))
	assert.Empty(t, packets)

	var rerr *ResyncError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, 0, rerr.Offset)
	assert.Equal(t, 1, rerr.Discarded)
	assert.Equal(t, len(exampleFrame)-1, p.Buffered())
}

func TestParser_RecoversFrameAfterCorruption(t *testing.T) {
	p := NewParser()

	input := append(corrupt(exampleFrame), exampleFrame...)
	packets, err := p.Feed(input)
	if diff := cmp.Diff([]Packet{examplePacket()}, packets); diff != "" {
		t.Errorf("Feed() mismatch (-want +got):\n%s", diff)
	}

	var rerr *ResyncError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, len(exampleFrame), rerr.Discarded)
	assert.Equal(t, 0, p.Buffered())

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Packets)
	assert.Equal(t, uint64(1), stats.Resyncs)
	assert.Equal(t, uint64(len(exampleFrame)), stats.Discarded)
}

func TestParser_RecoversAfterLeadingGarbage(t *testing.T) {
	p := NewParser()

	input := append([]byte{0x10, 0x02, 0x00, 0x00}, exampleFrame...)
	packets, err := p.Feed(input)
	require.Len(t, packets, 1)
	assert.Equal(t, exampleFrame, packets[0].Raw)

	var rerr *ResyncError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, 4, rerr.Discarded)
}

func TestParser_GarbageLengthWaitsForData(t *testing.T) {
	p := NewParser()

	// 0x68 read as a length byte claims a 106 byte frame, which has to
	// arrive before it can be rejected.
	packets, err := p.Feed(append([]byte{0xFF}, exampleFrame...))
	require.NoError(t, err)
	assert.Empty(t, packets)
	assert.Equal(t, len(exampleFrame)+1, p.Buffered())
}

func TestParser_InvalidLengthResyncs(t *testing.T) {
	for _, length := range []byte{0x00, 0x01} {
		p := NewParser()

		packets, err := p.Feed(append([]byte{0x68, length}, exampleFrame...))
		require.Len(t, packets, 1, "length %d", length)
		assert.Equal(t, exampleFrame, packets[0].Raw)
		assert.ErrorIs(t, err, ErrInvalidLength)
		assert.Equal(t, 0, p.Buffered())
	}
}

func TestParser_ValidFrameThenPartialWaits(t *testing.T) {
	next := mustEncode(t, 0x3B, 0x80, []byte{0x41, 0x01, 0x02})

	p := NewParser()
	packets, err := p.Feed(append(append([]byte(nil), exampleFrame...), next[:3]...))
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, 3, p.Buffered())

	packets, err = p.Feed(next[3:])
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, next, packets[0].Raw)
}

func TestParser_CorruptionThenSplitFrame(t *testing.T) {
	p := NewParser()

	// corrupted frame followed by the first half of a good one
	packets, err := p.Feed(append(corrupt(exampleFrame), exampleFrame[:4]...))
	assert.Empty(t, packets)
	var rerr *ResyncError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, len(exampleFrame), rerr.Discarded)
	assert.Equal(t, 4, p.Buffered())

	packets, err = p.Feed(exampleFrame[4:])
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, exampleFrame, packets[0].Raw)

	packets, err = p.Feed(bytes.Repeat(exampleFrame, 4))
	require.NoError(t, err)
	assert.Len(t, packets, 4)
	assert.Equal(t, 0, p.Buffered())
}

func TestParser_SplitFrameAfterCorruptionIsKept(t *testing.T) {
	p := NewParser()
	// 02 02 00 00 inside this frame would validate on its own
	split := []byte{0x44, 0x06, 0x02, 0x02, 0x00, 0x00, 0x11, 0x53}
	require.True(t, ValidChecksum(split[:7], split[7]))

	packets, err := p.Feed(append(corrupt(exampleFrame), split[:6]...))
	assert.Empty(t, packets)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, 6, p.Buffered())

	packets, err = p.Feed(split[6:])
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, split, packets[0].Raw)
	assert.Equal(t, byte(0x44), packets[0].Source)
	assert.Equal(t, byte(0x02), packets[0].Destination)

	packets, err = p.Feed(exampleFrame)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, exampleFrame, packets[0].Raw)
	assert.Equal(t, 0, p.Buffered())

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Packets)
	assert.Equal(t, uint64(len(exampleFrame)), stats.Discarded)
	assert.Equal(t, uint64(1), stats.Resyncs)
}

func TestParser_BufferStaysBounded(t *testing.T) {
	p := NewParser()
	frame := mustEncode(t, 0x68, 0x18, []byte{0x0A})

	chunk := bytes.Repeat(frame, 200)
	for i := 0; i < 10; i++ {
		packets, err := p.Feed(chunk)
		require.NoError(t, err)
		require.Len(t, packets, 200)
	}
	assert.Equal(t, 0, p.Buffered())
	assert.LessOrEqual(t, cap(p.buf), compactCap)
}

func TestParser_PacketsDoNotAliasBuffer(t *testing.T) {
	p := NewParser()
	packets, err := p.Feed(exampleFrame)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	// reuse of the decode buffer must not disturb emitted packets
	_, _ = p.Feed(bytes.Repeat([]byte{0xEE}, 64))
	assert.Equal(t, exampleFrame, packets[0].Raw)
}

func TestParser_Reset(t *testing.T) {
	p := NewParser()
	_, err := p.Feed(exampleFrame[:4])
	require.NoError(t, err)

	assert.Equal(t, 4, p.Reset())
	assert.Equal(t, 0, p.Buffered())
	assert.Equal(t, uint64(4), p.Stats().Discarded)

	packets, err := p.Feed(exampleFrame)
	require.NoError(t, err)
	assert.Len(t, packets, 1)
}
