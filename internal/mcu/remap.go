package mcu

import (
	"encoding/json"
)

// keyRemap translates the firmware's single-letter telemetry keys (a wire
// size optimisation) into the human-readable names every downstream consumer
// sees. Unknown keys pass through unchanged.
var keyRemap = map[string]string{
	"t":  "ts",
	"d":  "dist_f",
	"ir": "ir",
	"a":  "accel",
	"g":  "gyro",
	"m":  "mag",
	"tp": "temp",
	"b":  "battery",
	"mv": "mpu_valid",
	"fv": "fw_version",
	"e":  "error",
	"ok": "ok",
}

// RemapTelemetry rewrites a telemetry JSON line with readable key names.
// Returns the input unchanged if it is not a JSON object.
func RemapTelemetry(line string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return line
	}

	out := make(map[string]json.RawMessage, len(fields))
	for key, value := range fields {
		if mapped, ok := keyRemap[key]; ok {
			key = mapped
		}
		out[key] = value
	}

	data, err := json.Marshal(out)
	if err != nil {
		return line
	}
	return string(data)
}
