package recorder

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/JocelynWordSmith/polly/internal/fsutil"
	"github.com/JocelynWordSmith/polly/internal/mapping"
)

var sessionStart = time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC)

func TestSessionLayout(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	r := NewRecorder(fs, "datasets")

	dir, err := r.Start(sessionStart)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if dir != "datasets/dataset_20240310_091500" {
		t.Errorf("session dir = %s", dir)
	}
	if !r.Active() {
		t.Error("recorder not active after Start")
	}

	if err := r.RecordFrame(1000, []byte{0xFF, 0xD8}); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordIMU(1000, 0.01, 0.02, 0.03, 0, 0, 9.81); err != nil {
		t.Fatal(err)
	}
	pose := mapping.Pose{TimestampNs: 1000, TX: 1, TY: 2, TZ: 3, QW: 1}
	if err := r.RecordPose(pose); err != nil {
		t.Fatal(err)
	}

	if err := r.Stop(sessionStart.Add(time.Minute)); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.Active() {
		t.Error("recorder still active after Stop")
	}

	// camera frame named by timestamp
	if !fs.Exists(dir + "/cam0/1000.jpg") {
		t.Error("camera frame missing")
	}

	imu, err := fs.ReadFile(dir + "/imu0.csv")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(imu)), "\n")
	if lines[0] != "#timestamp_ns,wx,wy,wz,ax,ay,az" {
		t.Errorf("imu header = %q", lines[0])
	}
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "1000,0.010000000") {
		t.Errorf("imu rows = %v", lines[1:])
	}

	poses, err := fs.ReadFile(dir + "/poses.csv")
	if err != nil {
		t.Fatal(err)
	}
	lines = strings.Split(strings.TrimSpace(string(poses)), "\n")
	if lines[0] != "#timestamp_ns,tx,ty,tz,qx,qy,qz,qw" {
		t.Errorf("pose header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1000,1.000000,2.000000,3.000000") {
		t.Errorf("pose row = %q", lines[1])
	}

	metaData, err := fs.ReadFile(dir + "/metadata.json")
	if err != nil {
		t.Fatal(err)
	}
	var meta Metadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.FrameCount != 1 || meta.IMUCount != 1 || meta.PoseCount != 1 {
		t.Errorf("metadata counts = %+v", meta)
	}
	if meta.SessionID == "" {
		t.Error("metadata has no session id")
	}
}

func TestRecordWhileInactiveIsNoop(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	r := NewRecorder(fs, "datasets")

	if err := r.RecordFrame(1, []byte{1}); err != nil {
		t.Errorf("inactive RecordFrame: %v", err)
	}
	if err := r.RecordIMU(1, 0, 0, 0, 0, 0, 0); err != nil {
		t.Errorf("inactive RecordIMU: %v", err)
	}
}

func TestDoubleStartRejected(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	r := NewRecorder(fs, "datasets")
	if _, err := r.Start(sessionStart); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Start(sessionStart.Add(time.Second)); err == nil {
		t.Error("second Start accepted")
	}
}

func TestStopWithoutStart(t *testing.T) {
	r := NewRecorder(fsutil.NewMemoryFileSystem(), "datasets")
	if err := r.Stop(sessionStart); err == nil {
		t.Error("Stop without Start accepted")
	}
}
