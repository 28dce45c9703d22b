// Package mapping owns the occupancy grid and the mapper that fuses poses
// and ultrasonic ranges into it, including pose drift correction from
// rotation-in-place scan profiles.
package mapping

import (
	"math"
)

// Pose is a 6-DOF pose sample from the external pose source. Immutable.
type Pose struct {
	TimestampNs int64
	TX, TY, TZ  float64
	QX, QY, QZ, QW float64
}

// Heading returns the ground-plane heading: the body-forward axis rotated by
// the pose quaternion, projected onto the (X,Z) plane, as atan2(fwdZ, fwdX).
func (p Pose) Heading() float64 {
	// Body-forward is -Z in the pose source's convention (camera axis).
	fx, _, fz := rotate(p.QX, p.QY, p.QZ, p.QW, 0, 0, -1)
	return math.Atan2(fz, fx)
}

// rotate applies the unit quaternion (x,y,z,w) to the vector v.
func rotate(x, y, z, w, vx, vy, vz float64) (float64, float64, float64) {
	// t = 2 * (q_vec × v)
	tx := 2 * (y*vz - z*vy)
	ty := 2 * (z*vx - x*vz)
	tz := 2 * (x*vy - y*vx)
	// v' = v + w*t + q_vec × t
	rx := vx + w*tx + (y*tz - z*ty)
	ry := vy + w*ty + (z*tx - x*tz)
	rz := vz + w*tz + (x*ty - y*tx)
	return rx, ry, rz
}

// Cell is a grid cell index pair.
type Cell struct {
	IX int `json:"ix"`
	IZ int `json:"iz"`
}

// Point is a ground-plane position in metres.
type Point struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// ScanReading is one accepted reading collected during a rotation-in-place
// scan: the heading it was taken at, the measured range, and the world-frame
// hit point.
type ScanReading struct {
	Heading float64
	RangeM  float64
	HitX    float64
	HitZ    float64
}

// ScanProfile is an ordered set of readings from one roughly-360° rotation.
// The first completed profile becomes the reference later profiles are
// matched against.
type ScanProfile struct {
	Readings []ScanReading
}

// RawReading is one entry of the bounded diagnostic log of every range
// update the mapper saw, accepted or not.
type RawReading struct {
	X        float64
	Z        float64
	Heading  float64
	DistCm   int
	Accepted bool
	PoseTs   int64
}

// angleDiff returns the signed difference a-b normalised to [-π, π].
func angleDiff(a, b float64) float64 {
	d := math.Mod(a-b, 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	}
	if d < -math.Pi {
		d += 2 * math.Pi
	}
	return d
}
