package ibus

import (
	"fmt"

	"github.com/banshee-data/ibus-bridge/internal/monitoring"
)

// Sink receives batches of decoded packets. Batches arrive in stream order,
// one per Feed call that produced packets.
type Sink interface {
	AcceptPackets(packets []Packet) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(packets []Packet) error

func (f SinkFunc) AcceptPackets(packets []Packet) error { return f(packets) }

// Dispatcher forwards packet batches to an optional Sink, isolating the
// caller from sink failures.
type Dispatcher struct {
	sink     Sink
	logf     monitoring.LogFunc
	failures uint64
}

// NewDispatcher creates a Dispatcher. A nil sink disables forwarding; a nil
// logf uses monitoring.Logf.
func NewDispatcher(sink Sink, logf monitoring.LogFunc) *Dispatcher {
	return &Dispatcher{sink: sink, logf: logf}
}

// Dispatch hands packets to the sink, including an empty batch. Errors and
// panics raised by the sink are logged and counted but never returned.
func (d *Dispatcher) Dispatch(packets []Packet) {
	if d.sink == nil {
		return
	}
	if err := d.forward(packets); err != nil {
		d.failures++
		d.log("%v", err)
	}
}

func (d *Dispatcher) forward(packets []Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sink panicked: %v", ErrSinkForwarding, r)
		}
	}()
	if err := d.sink.AcceptPackets(packets); err != nil {
		return fmt.Errorf("%w (%d packet(s)): %w", ErrSinkForwarding, len(packets), err)
	}
	return nil
}

// Failures returns how many batches the sink rejected.
func (d *Dispatcher) Failures() uint64 {
	return d.failures
}

func (d *Dispatcher) log(format string, v ...interface{}) {
	if d.logf != nil {
		d.logf(format, v...)
		return
	}
	monitoring.Logf(format, v...)
}
