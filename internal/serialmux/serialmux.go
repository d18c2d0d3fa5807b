// Serialmux owns the serial link to a bus adapter. A single reader goroutine
// turns the incoming byte stream into validated packets and hands them to a
// sink, while any number of goroutines may write frames back to the bus.
package serialmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/ibus-bridge/internal/ibus"
	"github.com/banshee-data/ibus-bridge/internal/monitoring"
)

// ErrMonitorRunning is returned when Monitor is called while another Monitor
// call is still reading from the same port.
var ErrMonitorRunning = errors.New("serial port is already being monitored")

// Options configures a SerialMux.
type Options struct {
	// MaxReadBytes bounds a single read. Defaults to DefaultMaxReadBytes.
	MaxReadBytes int
	// Debug logs every chunk read from the port in hex before decoding.
	Debug bool
	// Sink receives decoded packets. Nil disables forwarding.
	Sink ibus.Sink
	// Logf defaults to monitoring.Logf.
	Logf monitoring.LogFunc
	// OnWriteError is called after a failed write, outside the write lock.
	// It is the hook for requesting a restart of the bridge.
	OnWriteError func(error)
}

// SerialMux is a bus adapter connection backed by a serial port.
type SerialMux[T SerialPorter] struct {
	port T
	opts Options
	logf monitoring.LogFunc

	writeMu sync.Mutex

	running   atomic.Bool
	closing   bool
	closingMu sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Monitor reads from the serial port until ctx is cancelled, Close is
	// called or the port fails, forwarding decoded packets to the sink.
	Monitor(context.Context) error
	// Write writes raw bytes to the serial port.
	Write([]byte) error
	// WriteHex decodes a hex string and writes the bytes to the serial port.
	WriteHex(string) error
	// Send encodes a frame and writes it to the serial port.
	Send(source, destination byte, payload []byte) error
	// Close closes the serial port, unblocking Monitor.
	Close() error
}

var _ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)

// NewSerialMux creates a SerialMux instance on top of port.
func NewSerialMux[T SerialPorter](port T, opts Options) *SerialMux[T] {
	if opts.MaxReadBytes <= 0 {
		opts.MaxReadBytes = DefaultMaxReadBytes
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(format string, v ...interface{}) { monitoring.Logf(format, v...) }
	}
	return &SerialMux[T]{
		port: port,
		opts: opts,
		logf: logf,
	}
}

// Monitor runs the read loop. Each non-empty read is decoded and the
// resulting packets are dispatched before the next read; a read that times
// out with no data just loops. Monitor returns ctx.Err() after cancellation,
// nil after Close, and an error wrapping ibus.ErrChannelRead or
// ibus.ErrChannelClosed when the port fails. Bytes of a partially received
// frame are dropped when Monitor returns.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrMonitorRunning
	}
	defer s.running.Store(false)

	session := uuid.NewString()
	logf := monitoring.WithPrefix(s.logf, "ibus "+session[:8])
	parser := ibus.NewParser()
	dispatcher := ibus.NewDispatcher(s.opts.Sink, logf)

	// A blocked read can only be interrupted by closing the port.
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	logf("monitor started (session %s)", session)
	defer func() {
		if n := parser.Reset(); n > 0 && s.opts.Debug {
			logf("dropped %d byte(s) of an incomplete frame", n)
		}
		st := parser.Stats()
		logf("monitor stopped: %d byte(s) read, %d packet(s), %d byte(s) discarded, %d sink failure(s)",
			st.BytesIn, st.Packets, st.Discarded, dispatcher.Failures())
	}()

	buf := make([]byte, s.opts.MaxReadBytes)
	for {
		n, err := s.port.Read(buf)
		if n > 0 {
			if s.opts.Debug {
				logf("hex dump: %x", buf[:n])
			}
			packets, ferr := parser.Feed(buf[:n])
			if ferr != nil {
				logf("%v", ferr)
			}
			dispatcher.Dispatch(packets)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.isClosing() {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: %w", ibus.ErrChannelClosed, err)
			}
			return fmt.Errorf("%w: %w", ibus.ErrChannelRead, err)
		}
	}
}

// Write writes p to the serial port. Concurrent writes are serialised so the
// bytes of two frames never interleave on the wire. A failed or short write
// returns an error wrapping ibus.ErrChannelWrite and triggers OnWriteError.
func (s *SerialMux[T]) Write(p []byte) error {
	if s.isClosing() {
		return fmt.Errorf("%w: %w", ibus.ErrChannelWrite, ibus.ErrChannelClosed)
	}
	if err := s.write(p); err != nil {
		err = fmt.Errorf("%w: %w", ibus.ErrChannelWrite, err)
		s.logf("cannot write to bus: %v", err)
		if s.opts.OnWriteError != nil {
			s.opts.OnWriteError(err)
		}
		return err
	}
	return nil
}

func (s *SerialMux[T]) write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.port.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}

// WriteHex writes a frame given as a hex string, e.g. "68 05 18 01 02 03 75".
func (s *SerialMux[T]) WriteHex(h string) error {
	b, err := ibus.ParseHex(h)
	if err != nil {
		return err
	}
	return s.Write(b)
}

// Send encodes a frame from source to destination and writes it.
func (s *SerialMux[T]) Send(source, destination byte, payload []byte) error {
	frame, err := ibus.Encode(source, destination, payload)
	if err != nil {
		return err
	}
	return s.Write(frame)
}

// Close closes the serial port. It is safe to call more than once.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()
	return s.closePort()
}

func (s *SerialMux[T]) closePort() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}
