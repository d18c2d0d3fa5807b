package serialmux

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestableSerialPort_ReadWrite(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte{1, 2, 3})

	buf := make([]byte, 8)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf[:n])

	// non-blocking port reports end of stream once drained
	_, err = port.Read(buf)
	assert.ErrorIs(t, err, io.EOF)

	_, err = port.Write([]byte{4, 5})
	require.NoError(t, err)
	_, err = port.Write([]byte{6})
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5, 6}, port.GetWrittenData())
	assert.Equal(t, [][]byte{{4, 5}, {6}}, port.GetWrites())
}

func TestTestableSerialPort_ReadTimeout(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	require.NoError(t, port.SetReadTimeout(10*time.Millisecond))

	start := time.Now()
	n, err := port.Read(make([]byte, 8))
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestTestableSerialPort_CloseUnblocksRead(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true

	done := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 8))
		done <- err
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, port.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errPortClosed)
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Close")
	}

	_, err := port.Write([]byte{1})
	assert.ErrorIs(t, err, errPortClosed)
}

func TestTestableSerialPort_InjectedErrors(t *testing.T) {
	port := NewTestableSerialPort()
	readErr := errors.New("framing error")
	port.SetReadError(readErr)

	_, err := port.Read(make([]byte, 8))
	assert.ErrorIs(t, err, readErr)

	port.ShortWrite = true
	n, err := port.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	port.CloseError = errors.New("busy")
	assert.EqualError(t, port.Close(), "busy")
}

func TestTestableSerialPort_Reset(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte{1})
	_, _ = port.Write([]byte{2})
	_ = port.Close()

	port.Reset()

	assert.False(t, port.IsClosed())
	assert.Empty(t, port.GetWrittenData())
	assert.Empty(t, port.GetWrites())
	assert.Zero(t, port.WriteCalls)
	assert.Zero(t, port.CloseCalls)
}
