package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polly.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Empty()
	if got := cfg.GetSerialBaudRate(); got != 115200 {
		t.Errorf("baud = %d", got)
	}
	if got := cfg.GetCellSizeMeters(); got != 0.10 {
		t.Errorf("cell size = %v", got)
	}
	if got := cfg.GetMinRangeMeters(); got != 0.10 {
		t.Errorf("min range = %v", got)
	}
	if got := cfg.GetMaxRangeMeters(); got != 0.80 {
		t.Errorf("max range = %v", got)
	}
	if got := cfg.GetListenAddr(); got != ":8080" {
		t.Errorf("listen = %q", got)
	}
	if got := cfg.GetFlashSizeBytes(); got != 32*1024 {
		t.Errorf("flash size = %d", got)
	}
	if got := cfg.GetAVRSignature(); got != [3]byte{0x1E, 0x95, 0x0F} {
		t.Errorf("signature = %x", got)
	}
	// nil receiver also yields defaults
	var nilCfg *RuntimeConfig
	if got := nilCfg.GetWatchdogMillis(); got != 1000 {
		t.Errorf("nil config watchdog = %d", got)
	}
}

func TestPartialConfig(t *testing.T) {
	path := writeConfig(t, `{"serial_device": "/dev/ttyACM0", "drive_speed": 200}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GetSerialDevice() != "/dev/ttyACM0" {
		t.Errorf("device = %q", cfg.GetSerialDevice())
	}
	if cfg.GetDriveSpeed() != 200 {
		t.Errorf("drive speed = %d", cfg.GetDriveSpeed())
	}
	// unset fields keep defaults
	if cfg.GetTurnSpeed() != 130 {
		t.Errorf("turn speed = %d", cfg.GetTurnSpeed())
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative baud", `{"serial_baud_rate": -1}`},
		{"zero cell size", `{"cell_size_meters": 0}`},
		{"inverted range band", `{"min_range_meters": 0.9, "max_range_meters": 0.5}`},
		{"speed out of range", `{"drive_speed": 500}`},
		{"short signature", `{"avr_signature": "1e95"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestNonJSONExtensionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polly.yaml")
	os.WriteFile(path, []byte("{}"), 0644)
	if _, err := Load(path); err == nil {
		t.Error("non-.json config accepted")
	}
}

func TestCustomSignature(t *testing.T) {
	path := writeConfig(t, `{"avr_signature": "1e9801", "flash_size_bytes": 262144}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.GetAVRSignature(); got != [3]byte{0x1E, 0x98, 0x01} {
		t.Errorf("signature = %x", got)
	}
	if cfg.GetFlashSizeBytes() != 262144 {
		t.Errorf("flash = %d", cfg.GetFlashSizeBytes())
	}
}
