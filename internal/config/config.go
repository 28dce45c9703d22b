package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RuntimeConfig represents the root configuration for the robot runtime.
// All fields are pointers so that partial config files are safe: omitted
// fields fall back to the Get* defaults below.
type RuntimeConfig struct {
	// Transport params
	SerialDevice   *string `json:"serial_device,omitempty"`
	SerialBaudRate *int    `json:"serial_baud_rate,omitempty"`
	ListenAddr     *string `json:"listen_addr,omitempty"`

	// MCU bridge params
	WatchdogMillis     *int `json:"watchdog_millis,omitempty"`
	StreamPeriodMillis *int `json:"stream_period_millis,omitempty"`

	// Mapping params
	CellSizeMeters    *float64 `json:"cell_size_meters,omitempty"`
	MinRangeMeters    *float64 `json:"min_range_meters,omitempty"`
	MaxRangeMeters    *float64 `json:"max_range_meters,omitempty"`
	MaxSpeedMps       *float64 `json:"max_speed_mps,omitempty"`
	RawLogLimit       *int     `json:"raw_log_limit,omitempty"`
	SnapshotDir       *string  `json:"snapshot_dir,omitempty"`
	DatasetDir        *string  `json:"dataset_dir,omitempty"`
	DatabasePath      *string  `json:"database_path,omitempty"`

	// Motion params
	DriveSpeed      *int     `json:"drive_speed,omitempty"`
	TurnSpeed       *int     `json:"turn_speed,omitempty"`
	ObstacleNearCm  *int     `json:"obstacle_near_cm,omitempty"`
	RobotHalfWidthM *float64 `json:"robot_half_width_m,omitempty"`

	// Firmware params
	AVRSignature  *string `json:"avr_signature,omitempty"`  // hex, e.g. "1e950f"
	FlashSizeByte *int    `json:"flash_size_bytes,omitempty"`
}

// Empty returns a RuntimeConfig with all fields unset.
func Empty() *RuntimeConfig {
	return &RuntimeConfig{}
}

// Load reads a RuntimeConfig from a JSON file. The file must have a .json
// extension and be under 1MB. Fields omitted from the JSON retain their
// defaults, so partial configs are safe.
func Load(path string) (*RuntimeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that any set fields carry sane values.
func (c *RuntimeConfig) Validate() error {
	if c.SerialBaudRate != nil && *c.SerialBaudRate <= 0 {
		return fmt.Errorf("serial_baud_rate must be positive, got %d", *c.SerialBaudRate)
	}
	if c.CellSizeMeters != nil && *c.CellSizeMeters <= 0 {
		return fmt.Errorf("cell_size_meters must be positive, got %f", *c.CellSizeMeters)
	}
	if c.MinRangeMeters != nil && c.MaxRangeMeters != nil && *c.MinRangeMeters >= *c.MaxRangeMeters {
		return fmt.Errorf("min_range_meters %f must be below max_range_meters %f",
			*c.MinRangeMeters, *c.MaxRangeMeters)
	}
	if c.MaxSpeedMps != nil && *c.MaxSpeedMps <= 0 {
		return fmt.Errorf("max_speed_mps must be positive, got %f", *c.MaxSpeedMps)
	}
	if c.RawLogLimit != nil && *c.RawLogLimit < 0 {
		return fmt.Errorf("raw_log_limit must not be negative, got %d", *c.RawLogLimit)
	}
	if c.DriveSpeed != nil && (*c.DriveSpeed < -255 || *c.DriveSpeed > 255) {
		return fmt.Errorf("drive_speed must be within [-255, 255], got %d", *c.DriveSpeed)
	}
	if c.TurnSpeed != nil && (*c.TurnSpeed < -255 || *c.TurnSpeed > 255) {
		return fmt.Errorf("turn_speed must be within [-255, 255], got %d", *c.TurnSpeed)
	}
	if c.AVRSignature != nil && len(*c.AVRSignature) != 6 {
		return fmt.Errorf("avr_signature must be 3 hex bytes, got %q", *c.AVRSignature)
	}
	if c.FlashSizeByte != nil && *c.FlashSizeByte <= 0 {
		return fmt.Errorf("flash_size_bytes must be positive, got %d", *c.FlashSizeByte)
	}
	return nil
}

// Accessors with fallback defaults. The defaults describe the stock vehicle:
// a phone on an Arduino tank chassis with an HC-SR04 ultrasonic sensor.

func (c *RuntimeConfig) GetSerialDevice() string {
	if c != nil && c.SerialDevice != nil {
		return *c.SerialDevice
	}
	return "/dev/ttyUSB0"
}

func (c *RuntimeConfig) GetSerialBaudRate() int {
	if c != nil && c.SerialBaudRate != nil {
		return *c.SerialBaudRate
	}
	return 115200
}

func (c *RuntimeConfig) GetListenAddr() string {
	if c != nil && c.ListenAddr != nil {
		return *c.ListenAddr
	}
	return ":8080"
}

func (c *RuntimeConfig) GetWatchdogMillis() int {
	if c != nil && c.WatchdogMillis != nil {
		return *c.WatchdogMillis
	}
	return 1000
}

func (c *RuntimeConfig) GetStreamPeriodMillis() int {
	if c != nil && c.StreamPeriodMillis != nil {
		return *c.StreamPeriodMillis
	}
	return 200
}

func (c *RuntimeConfig) GetCellSizeMeters() float64 {
	if c != nil && c.CellSizeMeters != nil {
		return *c.CellSizeMeters
	}
	return 0.10
}

func (c *RuntimeConfig) GetMinRangeMeters() float64 {
	if c != nil && c.MinRangeMeters != nil {
		return *c.MinRangeMeters
	}
	return 0.10
}

func (c *RuntimeConfig) GetMaxRangeMeters() float64 {
	if c != nil && c.MaxRangeMeters != nil {
		return *c.MaxRangeMeters
	}
	return 0.80
}

func (c *RuntimeConfig) GetMaxSpeedMps() float64 {
	if c != nil && c.MaxSpeedMps != nil {
		return *c.MaxSpeedMps
	}
	return 1.0
}

func (c *RuntimeConfig) GetRawLogLimit() int {
	if c != nil && c.RawLogLimit != nil {
		return *c.RawLogLimit
	}
	return 5000
}

func (c *RuntimeConfig) GetSnapshotDir() string {
	if c != nil && c.SnapshotDir != nil {
		return *c.SnapshotDir
	}
	return "maps"
}

func (c *RuntimeConfig) GetDatasetDir() string {
	if c != nil && c.DatasetDir != nil {
		return *c.DatasetDir
	}
	return "datasets"
}

func (c *RuntimeConfig) GetDatabasePath() string {
	if c != nil && c.DatabasePath != nil {
		return *c.DatabasePath
	}
	return "polly.db"
}

func (c *RuntimeConfig) GetDriveSpeed() int {
	if c != nil && c.DriveSpeed != nil {
		return *c.DriveSpeed
	}
	return 150
}

func (c *RuntimeConfig) GetTurnSpeed() int {
	if c != nil && c.TurnSpeed != nil {
		return *c.TurnSpeed
	}
	return 130
}

func (c *RuntimeConfig) GetObstacleNearCm() int {
	if c != nil && c.ObstacleNearCm != nil {
		return *c.ObstacleNearCm
	}
	return 20
}

func (c *RuntimeConfig) GetRobotHalfWidthM() float64 {
	if c != nil && c.RobotHalfWidthM != nil {
		return *c.RobotHalfWidthM
	}
	return 0.09
}

// GetAVRSignature returns the expected three-byte device signature. The
// default is the ATmega328P found on Uno-class boards.
func (c *RuntimeConfig) GetAVRSignature() [3]byte {
	sig := "1e950f"
	if c != nil && c.AVRSignature != nil {
		sig = *c.AVRSignature
	}
	var out [3]byte
	fmt.Sscanf(sig, "%02x%02x%02x", &out[0], &out[1], &out[2])
	return out
}

// GetFlashSizeBytes returns the target part's flash capacity. Firmware images
// larger than this are rejected rather than truncated.
func (c *RuntimeConfig) GetFlashSizeBytes() int {
	if c != nil && c.FlashSizeByte != nil {
		return *c.FlashSizeByte
	}
	return 32 * 1024
}
