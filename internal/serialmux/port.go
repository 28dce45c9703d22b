package serialmux

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// Ports used with the reconnecting Link should implement it so the reader
// can park promptly when the port is handed to the firmware programmer.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// ControlSerialPorter extends SerialPorter with modem-control access. The
// firmware programmer pulses DTR through this interface to reset the target
// into its bootloader.
type ControlSerialPorter interface {
	SerialPorter
	SetDTR(dtr bool) error
}

// SerialPortOpener is a function type for opening serial ports. The Link
// holds one so tests can substitute a fake port behind the reconnect loop.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)
