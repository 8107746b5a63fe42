package transport

import (
	"fmt"
	"log/slog"

	"go.bug.st/serial"
)

// SerialMode is the fixed line configuration: 115200 8N1, no flow control.
var SerialMode = &serial.Mode{
	BaudRate: 115200,
	DataBits: 8,
	Parity:   serial.NoParity,
	StopBits: serial.OneStopBit,
}

// OpenSerial opens the serial line at path and wraps it as a Stream.
func OpenSerial(path string) (*Stream, error) {
	port, err := serial.Open(path, SerialMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	slog.Info("serial transport ready", "port", path, "baud", SerialMode.BaudRate)
	return NewStream("serial", port), nil
}

// SerialPorts lists the serial ports present on this machine.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
