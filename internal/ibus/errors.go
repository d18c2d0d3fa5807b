package ibus

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the bus pipeline. Only the channel errors are fatal
// to a reader; everything else is logged and ingestion continues.
var (
	ErrIncompleteFrame  = errors.New("incomplete frame")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrInvalidLength    = errors.New("invalid length field")
	ErrSinkForwarding   = errors.New("failed to forward packets to sink")
	ErrChannelRead      = errors.New("failed to read from serial channel")
	ErrChannelClosed    = errors.New("serial channel closed")
	ErrChannelWrite     = errors.New("failed to write to serial channel")
)

// ResyncError reports bytes dropped by a single Feed call while the parser
// searched for the next valid frame boundary.
type ResyncError struct {
	// Offset is the position of the first rejected byte relative to the
	// start of the unconsumed buffer at the beginning of the Feed call.
	Offset int
	// Discarded is the number of bytes dropped.
	Discarded int
	// Err is the reason the first candidate was rejected.
	Err error
}

func (e *ResyncError) Error() string {
	return fmt.Sprintf("resync: discarded %d byte(s) at offset %d: %v", e.Discarded, e.Offset, e.Err)
}

func (e *ResyncError) Unwrap() error { return e.Err }
