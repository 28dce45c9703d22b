package mcu

import (
	"encoding/json"
	"testing"
)

func TestRemapTelemetry(t *testing.T) {
	in := `{"t":1719000000,"d":55,"a":[0.1,0.2,9.8],"g":[0,0,0.5],"b":7.21,"fv":"1.2.0","custom":true}`
	out := RemapTelemetry(in)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &fields); err != nil {
		t.Fatalf("remapped line is not JSON: %v", err)
	}

	for _, key := range []string{"ts", "dist_f", "accel", "gyro", "battery", "fw_version", "custom"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("remapped line missing %q: %s", key, out)
		}
	}
	for _, key := range []string{"t", "d", "a", "g", "b", "fv"} {
		if _, ok := fields[key]; ok {
			t.Errorf("short key %q survived remapping: %s", key, out)
		}
	}

	// values are preserved verbatim
	if string(fields["battery"]) != "7.21" {
		t.Errorf("battery = %s, want 7.21", fields["battery"])
	}
}

func TestRemapNonObjectUnchanged(t *testing.T) {
	for _, in := range []string{"plain text", "[1,2,3]", ""} {
		if out := RemapTelemetry(in); out != in {
			t.Errorf("RemapTelemetry(%q) = %q, want unchanged", in, out)
		}
	}
}

func TestCommandEncodings(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{MotorCommand(120, -120), `{"N":7,"D1":120,"D2":-120}`},
		{StopCommand(), `{"N":6}`},
		{WatchdogCommand(1000), `{"N":102,"D1":1000}`},
		{WatchdogCommand(0), `{"N":102,"D1":0}`},
		{StreamRateCommand(200), `{"N":103,"D1":200}`},
		{StreamRateCommand(0), `{"N":103,"D1":0}`},
		{VersionCommand(), `{"N":105}`},
		{PingCommand(), `{"N":1}`},
		{StateDumpCommand(), `{"N":101}`},
	}
	for _, tc := range tests {
		if got := tc.cmd.Encode(); got != tc.want {
			t.Errorf("Encode() = %s, want %s", got, tc.want)
		}
	}
}

func TestShouldSurface(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{`{"estop":1}`, true},
		{`{"watchdog_trip":1}`, true},
		{`{"cmd_ack":7}`, true},
		{`{"ok":1}`, true},
		{`{"tank_l":10}`, true},
		{`{"ts":1,"dist_f":30}`, false},
		{`not json`, false},
	}
	for _, tc := range tests {
		if got := shouldSurface(tc.line); got != tc.want {
			t.Errorf("shouldSurface(%s) = %t, want %t", tc.line, got, tc.want)
		}
	}
}
