// Package mcu implements the JSON-per-line command and telemetry protocol
// spoken by the vehicle microcontroller over the serial link.
package mcu

import (
	"encoding/json"
	"fmt"
)

// Command numbers understood by the firmware. Every command is a single JSON
// object with an integer N field plus optional D1/D2 operands.
const (
	CmdPing          = 1
	CmdStop          = 6
	CmdSetMotors     = 7
	CmdStateDump     = 101
	CmdSetWatchdog   = 102
	CmdSetStreamRate = 103
	CmdQueryVersion  = 105
)

// Command is the wire form of an MCU command.
type Command struct {
	N  int  `json:"N"`
	D1 *int `json:"D1,omitempty"`
	D2 *int `json:"D2,omitempty"`
}

// Encode renders the command as a single JSON line (without the trailing
// newline, which the serial writer appends).
func (c Command) Encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		// Command contains only ints; Marshal cannot fail in practice.
		return fmt.Sprintf(`{"N":%d}`, c.N)
	}
	return string(data)
}

func intPtr(v int) *int { return &v }

// MotorCommand builds a tank-drive command with signed left/right speeds.
func MotorCommand(d1, d2 int) Command {
	return Command{N: CmdSetMotors, D1: intPtr(d1), D2: intPtr(d2)}
}

// StopCommand builds the unconditional motor stop.
func StopCommand() Command {
	return Command{N: CmdStop}
}

// WatchdogCommand sets the firmware motor watchdog in milliseconds. A zero
// timeout disables the watchdog.
func WatchdogCommand(millis int) Command {
	return Command{N: CmdSetWatchdog, D1: intPtr(millis)}
}

// StreamRateCommand sets the telemetry stream period in milliseconds.
// Zero turns streaming off.
func StreamRateCommand(millis int) Command {
	return Command{N: CmdSetStreamRate, D1: intPtr(millis)}
}

// VersionCommand asks the firmware to report its version string.
func VersionCommand() Command {
	return Command{N: CmdQueryVersion}
}

// PingCommand builds a liveness probe.
func PingCommand() Command {
	return Command{N: CmdPing}
}

// StateDumpCommand asks the firmware for a full state report.
func StateDumpCommand() Command {
	return Command{N: CmdStateDump}
}
