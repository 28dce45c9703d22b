package mapping

import (
	"math"
	"sync"

	"github.com/JocelynWordSmith/polly/internal/monitoring"
)

const (
	// Velocity gate: the vehicle tops out well under 1 m/s, so faster
	// implied motion means the pose source glitched.
	maxSpeedMps          = 1.0
	rejectsBeforeRebase = 5

	// Scan profiles and matching.
	minScanReadings   = 10
	minScanMatches    = 8
	maxHeadingDiffRad = 15 * math.Pi / 180
	maxMatchSpreadM   = 0.40
	minCorrectionM    = 0.01

	// RawLogLimit bounds the diagnostic raw-reading log.
	RawLogLimit = 5000
)

// Mapper owns the grid and fuses the pose and range streams into it. A range
// update always uses the latest pose; there is no back-dated fusion.
type Mapper struct {
	// OnCorrection, when set, is invoked after every applied drift
	// correction with the step and the resulting total offset.
	OnCorrection func(dx, dz, totalDx, totalDz float64)

	mu sync.Mutex

	grid *Grid

	pose     Pose
	havePose bool

	driftX, driftZ float64

	lastAccX, lastAccZ float64
	lastAccTs          int64
	haveBaseline       bool
	consecRejects      int

	recording bool
	scanBuf   []ScanReading
	reference *ScanProfile
	profiles  []ScanProfile

	rawLog []RawReading

	updateCount     int
	rejectedCount   int
	correctionCount int
	rebaseCount     int
}

// NewMapper creates a Mapper with a fresh grid.
func NewMapper() *Mapper {
	return &Mapper{grid: NewGrid()}
}

// Grid returns the mapper's grid.
func (m *Mapper) Grid() *Grid {
	return m.grid
}

// OnPose stores a new pose sample with the drift offset applied, and extends
// the robot trail.
func (m *Mapper) OnPose(p Pose) {
	m.mu.Lock()
	p.TX += m.driftX
	p.TZ += m.driftZ
	m.pose = p
	m.havePose = true
	m.mu.Unlock()

	m.grid.RecordTrailPoint(p.TX, p.TZ)
}

// Pose returns the latest drift-corrected pose and whether one has arrived.
func (m *Mapper) Pose() (Pose, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pose, m.havePose
}

// OnRange fuses an ultrasonic reading in centimetres at the current pose's
// heading. A sentinel value of -1 ("no reading yet") is ignored.
func (m *Mapper) OnRange(distCm int) {
	if distCm < 0 {
		return
	}

	m.mu.Lock()
	if !m.havePose {
		m.mu.Unlock()
		return
	}
	pose := m.pose
	heading := pose.Heading()

	// Velocity gate: reject updates implying impossible motion since the
	// last accepted one. After enough consecutive rejects the pose source
	// has probably re-initialised, so adopt the new position as baseline.
	accepted := true
	if m.haveBaseline {
		dt := float64(pose.TimestampNs-m.lastAccTs) / 1e9
		if dt > 0 {
			speed := math.Hypot(pose.TX-m.lastAccX, pose.TZ-m.lastAccZ) / dt
			if speed > maxSpeedMps {
				accepted = false
				m.consecRejects++
				if m.consecRejects >= rejectsBeforeRebase {
					// The pose source has probably re-initialised: adopt the
					// new position as baseline so the next update passes.
					m.consecRejects = 0
					m.rebaseCount++
					m.lastAccX = pose.TX
					m.lastAccZ = pose.TZ
					m.lastAccTs = pose.TimestampNs
					monitoring.Logf("mapper: velocity gate rebased to (%.2f, %.2f) after %d rejects",
						pose.TX, pose.TZ, rejectsBeforeRebase)
				}
			}
		}
	}

	if accepted {
		m.consecRejects = 0
		m.lastAccX = pose.TX
		m.lastAccZ = pose.TZ
		m.lastAccTs = pose.TimestampNs
		m.haveBaseline = true
	}
	m.mu.Unlock()

	inBand := false
	if accepted {
		inBand = m.grid.Update(pose.TX, pose.TZ, heading, float64(distCm)/100)
	}

	m.mu.Lock()
	if accepted && inBand {
		m.updateCount++
	} else {
		m.rejectedCount++
	}

	if m.recording && accepted && inBand {
		hitX, hitZ := m.grid.LastHit()
		m.scanBuf = append(m.scanBuf, ScanReading{
			Heading: heading,
			RangeM:  float64(distCm) / 100,
			HitX:    hitX,
			HitZ:    hitZ,
		})
	}

	m.rawLog = append(m.rawLog, RawReading{
		X:        pose.TX,
		Z:        pose.TZ,
		Heading:  heading,
		DistCm:   distCm,
		Accepted: accepted && inBand,
		PoseTs:   pose.TimestampNs,
	})
	if len(m.rawLog) > RawLogLimit {
		m.rawLog = m.rawLog[len(m.rawLog)-RawLogLimit:]
	}
	m.mu.Unlock()
}

// StartScanRecording begins collecting accepted readings into a profile.
func (m *Mapper) StartScanRecording() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recording = true
	m.scanBuf = nil
}

// StopScanRecording finishes the current profile. Profiles with fewer than
// minScanReadings readings are discarded. The first saved profile becomes
// the reference; later ones are matched against it for drift correction.
func (m *Mapper) StopScanRecording() {
	m.mu.Lock()
	recording := m.recording
	m.recording = false
	buf := m.scanBuf
	m.scanBuf = nil
	m.mu.Unlock()

	if !recording || len(buf) < minScanReadings {
		return
	}

	profile := ScanProfile{Readings: buf}
	m.mu.Lock()
	m.profiles = append(m.profiles, profile)
	if m.reference == nil {
		m.reference = &profile
		m.mu.Unlock()
		monitoring.Logf("mapper: reference scan saved (%d readings)", len(buf))
		return
	}
	ref := m.reference
	m.mu.Unlock()

	m.matchScan(ref, &profile)
}

// DriftOffset returns the current drift correction vector.
func (m *Mapper) DriftOffset() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.driftX, m.driftZ
}

// Counters returns (updates, rejected, corrections, rebases).
func (m *Mapper) Counters() (int, int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCount, m.rejectedCount, m.correctionCount, m.rebaseCount
}

// RawLog returns a copy of the bounded raw-reading log.
func (m *Mapper) RawLog() []RawReading {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RawReading, len(m.rawLog))
	copy(out, m.rawLog)
	return out
}

// Clear wipes the grid, the trail, the profiles and the drift offset.
func (m *Mapper) Clear() {
	m.grid.Clear()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driftX, m.driftZ = 0, 0
	m.reference = nil
	m.profiles = nil
	m.haveBaseline = false
	m.consecRejects = 0
	m.rawLog = nil
	m.updateCount = 0
	m.rejectedCount = 0
	m.correctionCount = 0
}
