package ibus

// compactCap is the buffer capacity above which a drained buffer is
// reallocated so one oversized read does not pin memory for the session.
const compactCap = 4 * MaxFrameSize

// Stats are cumulative Parser counters.
type Stats struct {
	BytesIn   uint64 // bytes passed to Feed
	Packets   uint64 // frames emitted
	Discarded uint64 // bytes dropped while resynchronising
	Resyncs   uint64 // times the parser lost frame sync
}

// Parser turns an arbitrarily chunked byte stream into validated Packets.
//
// All decoding state lives in the buffer and its read cursor. A frame split
// across Feed calls is kept until the rest of it arrives. A frame that fails
// validation is never trusted: the cursor moves one byte and decoding is
// retried from there, so a single corrupted byte cannot take the following
// frame with it.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	buf    []byte
	cursor int
	stats  Stats
}

// NewParser returns an empty Parser.
func NewParser() *Parser {
	return &Parser{buf: make([]byte, 0, MaxFrameSize)}
}

// Feed appends chunk to the buffer and returns every complete, valid frame
// now available, in stream order. When bytes had to be discarded to regain
// sync, Feed also returns a *ResyncError; the packets it returns alongside
// that error are still valid.
func (p *Parser) Feed(chunk []byte) ([]Packet, error) {
	if len(chunk) == 0 {
		return nil, nil
	}
	p.buf = append(p.buf, chunk...)
	p.stats.BytesIn += uint64(len(chunk))

	var (
		packets   []Packet
		rerr      *ResyncError
		discarded int
		// end of the candidate that opened the current resync; incomplete
		// candidates starting before it lie inside rejected bytes.
		rejectEnd int
		// first incomplete candidate skipped inside that span; it may still
		// turn out to be a real frame once more bytes arrive.
		pending = -1
		waiting bool
	)

	reject := func(reason error, span int) {
		if rerr == nil {
			rerr = &ResyncError{Offset: p.cursor, Err: reason}
		}
		if p.cursor >= rejectEnd {
			if rejectEnd == 0 {
				p.stats.Resyncs++
			}
			rejectEnd = p.cursor + span
		}
		p.cursor++
		discarded++
	}

	for len(p.buf)-p.cursor >= HeaderSize {
		length := p.buf[p.cursor+1]
		if length < MinLength {
			reject(ErrInvalidLength, HeaderSize)
			continue
		}

		size := HeaderSize + int(length)
		if len(p.buf)-p.cursor < size {
			if p.cursor >= rejectEnd {
				waiting = true
				break
			}
			if pending < 0 {
				pending = p.cursor
			}
			p.cursor++
			discarded++
			continue
		}

		frame := p.buf[p.cursor : p.cursor+size]
		if !ValidChecksum(frame[:size-1], frame[size-1]) {
			reject(ErrChecksumMismatch, size)
			continue
		}

		packets = append(packets, packetFromFrame(frame))
		p.cursor += size
		p.stats.Packets++
		rejectEnd = 0
		pending = -1
	}

	// Ran out of bytes inside a rejected span: keep the skipped candidate.
	if pending >= 0 && !waiting {
		discarded -= p.cursor - pending
		p.cursor = pending
	}
	p.compact()

	if rerr != nil {
		rerr.Discarded = discarded
		p.stats.Discarded += uint64(discarded)
		return packets, rerr
	}
	return packets, nil
}

// compact drops consumed bytes from the front of the buffer.
func (p *Parser) compact() {
	if p.cursor == 0 {
		return
	}
	rest := len(p.buf) - p.cursor
	if cap(p.buf) > compactCap && rest <= MaxFrameSize {
		b := make([]byte, rest, MaxFrameSize)
		copy(b, p.buf[p.cursor:])
		p.buf = b
	} else {
		n := copy(p.buf, p.buf[p.cursor:])
		p.buf = p.buf[:n]
	}
	p.cursor = 0
}

// Buffered returns the number of bytes held for a frame that has not fully
// arrived yet.
func (p *Parser) Buffered() int {
	return len(p.buf) - p.cursor
}

// Reset discards any buffered bytes and returns how many were dropped.
// Counters are preserved.
func (p *Parser) Reset() int {
	n := p.Buffered()
	p.buf = p.buf[:0]
	p.cursor = 0
	p.stats.Discarded += uint64(n)
	return n
}

// Stats returns a snapshot of the parser counters.
func (p *Parser) Stats() Stats {
	return p.stats
}
