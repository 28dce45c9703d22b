// Package recorder writes visual-inertial dataset sessions to disk in the
// cam0/imu0/poses layout consumed by offline SLAM tooling.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JocelynWordSmith/polly/internal/fsutil"
	"github.com/JocelynWordSmith/polly/internal/mapping"
	"github.com/JocelynWordSmith/polly/internal/monitoring"
)

const (
	imuHeader  = "#timestamp_ns,wx,wy,wz,ax,ay,az\n"
	poseHeader = "#timestamp_ns,tx,ty,tz,qx,qy,qz,qw\n"
)

// Metadata is the session manifest written on Stop.
type Metadata struct {
	SessionID  string `json:"session_id"`
	StartedNs  int64  `json:"started_ns"`
	StoppedNs  int64  `json:"stopped_ns"`
	FrameCount int    `json:"frame_count"`
	IMUCount   int    `json:"imu_count"`
	PoseCount  int    `json:"pose_count"`
}

// Recorder writes one dataset session at a time. All Record* calls are
// no-ops while no session is active, so producers never need to check.
type Recorder struct {
	fs      fsutil.FileSystem
	baseDir string

	mu     sync.Mutex
	active bool
	dir    string
	meta   Metadata
	imu    io.WriteCloser
	poses  io.WriteCloser
}

// NewRecorder creates a Recorder rooted at baseDir.
func NewRecorder(fs fsutil.FileSystem, baseDir string) *Recorder {
	return &Recorder{fs: fs, baseDir: baseDir}
}

// Active reports whether a session is running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start opens a new timestamped session directory and returns its path.
func (r *Recorder) Start(now time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return "", fmt.Errorf("recording already active")
	}

	dir := filepath.Join(r.baseDir, "dataset_"+now.Format("20060102_150405"))
	if err := r.fs.MkdirAll(filepath.Join(dir, "cam0"), 0755); err != nil {
		return "", fmt.Errorf("failed to create dataset directory: %w", err)
	}

	imu, err := r.fs.Create(filepath.Join(dir, "imu0.csv"))
	if err != nil {
		return "", fmt.Errorf("failed to create imu0.csv: %w", err)
	}
	if _, err := io.WriteString(imu, imuHeader); err != nil {
		imu.Close()
		return "", err
	}

	poses, err := r.fs.Create(filepath.Join(dir, "poses.csv"))
	if err != nil {
		imu.Close()
		return "", fmt.Errorf("failed to create poses.csv: %w", err)
	}
	if _, err := io.WriteString(poses, poseHeader); err != nil {
		imu.Close()
		poses.Close()
		return "", err
	}

	r.active = true
	r.dir = dir
	r.imu = imu
	r.poses = poses
	r.meta = Metadata{
		SessionID: uuid.NewString(),
		StartedNs: now.UnixNano(),
	}
	monitoring.Logf("recorder: session started at %s", dir)
	return dir, nil
}

// Stop closes the session and writes metadata.json.
func (r *Recorder) Stop(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return fmt.Errorf("no recording active")
	}
	r.active = false
	r.imu.Close()
	r.poses.Close()

	r.meta.StoppedNs = now.UnixNano()
	data, err := json.MarshalIndent(r.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := r.fs.WriteFile(filepath.Join(r.dir, "metadata.json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	monitoring.Logf("recorder: session stopped, %d frames / %d imu / %d poses",
		r.meta.FrameCount, r.meta.IMUCount, r.meta.PoseCount)
	return nil
}

// RecordFrame writes one camera JPEG named by its nanosecond timestamp.
func (r *Recorder) RecordFrame(tsNs int64, jpeg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	path := filepath.Join(r.dir, "cam0", fmt.Sprintf("%d.jpg", tsNs))
	if err := r.fs.WriteFile(path, jpeg, 0644); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	r.meta.FrameCount++
	return nil
}

// RecordIMU appends one gyro+accel sample.
func (r *Recorder) RecordIMU(tsNs int64, wx, wy, wz, ax, ay, az float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	_, err := fmt.Fprintf(r.imu, "%d,%.9f,%.9f,%.9f,%.9f,%.9f,%.9f\n", tsNs, wx, wy, wz, ax, ay, az)
	if err != nil {
		return fmt.Errorf("failed to append imu sample: %w", err)
	}
	r.meta.IMUCount++
	return nil
}

// RecordPose appends one pose sample.
func (r *Recorder) RecordPose(p mapping.Pose) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	_, err := fmt.Fprintf(r.poses, "%d,%.6f,%.6f,%.6f,%.9f,%.9f,%.9f,%.9f\n",
		p.TimestampNs, p.TX, p.TY, p.TZ, p.QX, p.QY, p.QZ, p.QW)
	if err != nil {
		return fmt.Errorf("failed to append pose: %w", err)
	}
	r.meta.PoseCount++
	return nil
}
