// Package robot is the supervisor: it owns every bridge as a child, runs the
// reconnect watchdogs, arbitrates drive modes, and services remote commands.
// The presentation layer sees only read-only Status snapshots.
package robot

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/JocelynWordSmith/polly/internal/config"
	"github.com/JocelynWordSmith/polly/internal/db"
	"github.com/JocelynWordSmith/polly/internal/hub"
	"github.com/JocelynWordSmith/polly/internal/mapping"
	"github.com/JocelynWordSmith/polly/internal/mcu"
	"github.com/JocelynWordSmith/polly/internal/monitoring"
	"github.com/JocelynWordSmith/polly/internal/motion"
	"github.com/JocelynWordSmith/polly/internal/recorder"
	"github.com/JocelynWordSmith/polly/internal/serialmux"
	"github.com/JocelynWordSmith/polly/internal/thermal"
)

// thermalRetryDelay spaces automatic thermal reopen attempts.
const thermalRetryDelay = 3 * time.Second

// imuMinInterval caps the /imu fan-out at 200 Hz.
const imuMinInterval = 5 * time.Millisecond

// ThermalOpener opens the thermal camera's bulk endpoints. Supplied by the
// platform layer; nil disables the thermal bridge.
type ThermalOpener func() (*thermal.Device, error)

// Runtime is the long-lived supervisor owning every bridge.
type Runtime struct {
	cfg  *config.RuntimeConfig
	ring *monitoring.LogRing

	link   *serialmux.Link
	bridge *mcu.Bridge
	mapper *mapping.Mapper
	hub    *hub.Hub
	rec    *recorder.Recorder
	events *db.DB

	openThermal ThermalOpener
	flirRetry   chan struct{}

	mu            sync.Mutex
	runCtx        context.Context
	mappingOn     bool
	flirConnected bool
	uploading     bool
	wanderCancel  context.CancelFunc
	exploreCancel context.CancelFunc
	explore       *motion.Explore
	lastIMU       time.Time
}

// New assembles a Runtime from its children. events may be nil to run
// without the sqlite event log; openThermal may be nil when no thermal
// camera is fitted.
func New(cfg *config.RuntimeConfig, link *serialmux.Link, bridge *mcu.Bridge,
	rec *recorder.Recorder, events *db.DB, openThermal ThermalOpener) *Runtime {

	rt := &Runtime{
		cfg:         cfg,
		ring:        monitoring.NewLogRing(),
		link:        link,
		bridge:      bridge,
		mapper:      mapping.NewMapper(),
		rec:         rec,
		events:      events,
		openThermal: openThermal,
		flirRetry:   make(chan struct{}, 1),
	}
	rt.hub = hub.New(rt, rt)
	bridge.SetLogRing(rt.ring)

	if events != nil {
		rt.mapper.OnCorrection = func(dx, dz, totalDx, totalDz float64) {
			if err := events.RecordDriftCorrection(dx, dz, totalDx, totalDz); err != nil {
				monitoring.Logf("db: failed to record drift correction: %v", err)
			}
		}
	}
	return rt
}

// Hub returns the wire hub for HTTP wiring.
func (rt *Runtime) Hub() *hub.Hub { return rt.hub }

// LogRing returns the human-facing log ring.
func (rt *Runtime) LogRing() *monitoring.LogRing { return rt.ring }

// Mapper returns the mapper, for tests and debug surfaces.
func (rt *Runtime) Mapper() *mapping.Mapper { return rt.mapper }

// Run starts every bridge task and blocks until the context is cancelled.
func (rt *Runtime) Run(ctx context.Context) error {
	rt.mu.Lock()
	rt.runCtx = ctx
	rt.mu.Unlock()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rt.link.Monitor(ctx); err != nil && err != context.Canceled {
			monitoring.Logf("serial monitor terminated: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rt.bridge.Run(ctx); err != nil && err != context.Canceled {
			monitoring.Logf("mcu bridge terminated: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.pumpTelemetry(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.watchLinkState(ctx)
	}()

	if rt.openThermal != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.runThermal(ctx)
		}()
	}

	<-ctx.Done()
	rt.stopModes()
	wg.Wait()
	return ctx.Err()
}

// pumpTelemetry forwards remapped MCU lines to the hub and feeds ranges to
// the mapper while mapping is active.
func (rt *Runtime) pumpTelemetry(ctx context.Context) {
	id, lines := rt.bridge.Subscribe()
	defer rt.bridge.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			rt.hub.BroadcastText(hub.EndpointArduino, line)

			if rt.MappingActive() {
				var t mcu.Telemetry
				if err := json.Unmarshal([]byte(line), &t); err == nil && t.DistCm != nil {
					rt.mapper.OnRange(*t.DistCm)
				}
			}
		}
	}
}

// watchLinkState mirrors serial connection transitions into the log ring and
// the event database.
func (rt *Runtime) watchLinkState(ctx context.Context) {
	id, states := rt.link.SubscribeState()
	defer rt.link.UnsubscribeState(id)

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			if state.Connected {
				rt.ring.Publish("arduino connected")
			} else {
				rt.ring.Publish("arduino disconnected (%s): %s", state.Kind, state.Message)
			}
			if rt.events != nil {
				if err := rt.events.RecordConnectionEvent("arduino", state.Connected, state.Kind.String(), state.Message); err != nil {
					monitoring.Logf("db: failed to record connection event: %v", err)
				}
			}
		}
	}
}

// runThermal opens the thermal device and pumps frames to /flir, reopening
// on failure after a delay or on a retry_flir command.
func (rt *Runtime) runThermal(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		device, err := rt.openThermal()
		if err != nil {
			rt.setFlirConnected(false, err.Error())
			select {
			case <-time.After(thermalRetryDelay):
			case <-rt.flirRetry:
			case <-ctx.Done():
				return
			}
			continue
		}

		device.OnFrame = func(frame thermal.Frame) {
			rt.hub.BroadcastBinary(hub.EndpointFlir, hub.EncodeThermalFrame(frame))
		}
		rt.setFlirConnected(true, "")
		runErr := device.Run(ctx)
		rt.setFlirConnected(false, errString(runErr))

		select {
		case <-time.After(thermalRetryDelay):
		case <-rt.flirRetry:
		case <-ctx.Done():
			return
		}
	}
}

func (rt *Runtime) setFlirConnected(connected bool, message string) {
	rt.mu.Lock()
	rt.flirConnected = connected
	rt.mu.Unlock()
	if connected {
		rt.ring.Publish("flir connected")
	} else {
		rt.ring.Publish("flir disconnected: %s", message)
	}
	if rt.events != nil {
		if err := rt.events.RecordConnectionEvent("flir", connected, "", message); err != nil {
			monitoring.Logf("db: failed to record connection event: %v", err)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// OnPose feeds a pose sample from the external pose source.
func (rt *Runtime) OnPose(p mapping.Pose) {
	rt.mapper.OnPose(p)
	if err := rt.rec.RecordPose(p); err != nil {
		monitoring.Logf("recorder: %v", err)
	}
}

// OnIMU feeds a phone IMU sample: fan out to /imu (capped at 200 Hz) and
// append to the active dataset.
func (rt *Runtime) OnIMU(tsNs int64, wx, wy, wz, ax, ay, az float64) {
	if err := rt.rec.RecordIMU(tsNs, wx, wy, wz, ax, ay, az); err != nil {
		monitoring.Logf("recorder: %v", err)
	}

	rt.mu.Lock()
	now := time.Now()
	throttled := now.Sub(rt.lastIMU) < imuMinInterval
	if !throttled {
		rt.lastIMU = now
	}
	rt.mu.Unlock()
	if throttled {
		return
	}

	line, _ := json.Marshal(map[string]any{
		"ts": tsNs,
		"ax": ax, "ay": ay, "az": az,
		"gx": wx, "gy": wy, "gz": wz,
	})
	rt.hub.BroadcastText(hub.EndpointIMU, string(line))
}

// OnCameraFrame feeds a camera JPEG: fan out to /camera and append to the
// active dataset.
func (rt *Runtime) OnCameraFrame(tsNs int64, jpeg []byte) {
	rt.hub.BroadcastBinary(hub.EndpointCamera, jpeg)
	if err := rt.rec.RecordFrame(tsNs, jpeg); err != nil {
		monitoring.Logf("recorder: %v", err)
	}
}

// MappingActive reports whether range fusion is running.
func (rt *Runtime) MappingActive() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.mappingOn
}
