package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

var _ TimeoutSerialPorter = serial.Port(nil)

// RealSerialPortFactory opens hardware serial ports with go.bug.st/serial.
type RealSerialPortFactory struct{}

// Open opens the port at path with the mode's line settings. The read
// timeout is applied by OpenSerialMux.
func (RealSerialPortFactory) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	if mode == nil {
		mode = DefaultSerialPortMode()
	}
	sm, err := mode.serialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, sm)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}

// OpenSerialMux opens path through factory and wraps the port in a SerialMux.
func OpenSerialMux(factory SerialPortFactory, path string, portOpts PortOptions, opts Options) (*SerialMux[SerialPorter], error) {
	mode, err := portOpts.Mode()
	if err != nil {
		return nil, err
	}

	port, err := factory.Open(path, mode)
	if err != nil {
		return nil, err
	}

	// Ports without a read timeout block until data arrives or Close.
	if tp, ok := port.(TimeoutSerialPorter); ok && mode.ReadTimeout > 0 {
		if err := tp.SetReadTimeout(mode.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
		}
	}

	return NewSerialMux(port, opts), nil
}

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, portOpts PortOptions, opts Options) (*SerialMux[SerialPorter], error) {
	return OpenSerialMux(RealSerialPortFactory{}, path, portOpts, opts)
}
