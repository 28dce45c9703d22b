package serialmux

import (
	"go.bug.st/serial"
)

// OpenRealPort opens a hardware serial port at the given path. The returned
// port satisfies TimeoutSerialPorter and ControlSerialPorter, which the Link
// and the firmware programmer rely on.
func OpenRealPort(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, classifyOpenError(err)
	}

	return port, nil
}
