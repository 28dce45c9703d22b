package robot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JocelynWordSmith/polly/internal/firmware"
	"github.com/JocelynWordSmith/polly/internal/mapping"
	"github.com/JocelynWordSmith/polly/internal/mcu"
	"github.com/JocelynWordSmith/polly/internal/monitoring"
	"github.com/JocelynWordSmith/polly/internal/motion"
)

// remoteCommand is the named-command envelope arriving on /control.
type remoteCommand struct {
	Cmd string `json:"cmd"`
}

// RouteArduino forwards a raw control line straight to the MCU.
func (rt *Runtime) RouteArduino(line string) {
	rt.bridge.SendRaw(line)
}

// Dispatch runs one named remote command and returns the JSON response:
// the command echoed back plus ok or error. get_status additionally carries
// the full status snapshot.
func (rt *Runtime) Dispatch(raw []byte) []byte {
	var cmd remoteCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return marshalReply(map[string]any{"error": "invalid JSON: " + err.Error()})
	}

	reply, err := rt.runCommand(cmd.Cmd)
	if rt.events != nil {
		if dbErr := rt.events.RecordRemoteCommand(cmd.Cmd, err == nil, errString(err)); dbErr != nil {
			monitoring.Logf("db: failed to record remote command: %v", dbErr)
		}
	}
	if err != nil {
		return marshalReply(map[string]any{"cmd": cmd.Cmd, "error": err.Error()})
	}
	if reply == nil {
		reply = map[string]any{}
	}
	reply["cmd"] = cmd.Cmd
	reply["ok"] = true
	return marshalReply(reply)
}

func marshalReply(reply map[string]any) []byte {
	data, _ := json.Marshal(reply)
	return data
}

func (rt *Runtime) runCommand(name string) (map[string]any, error) {
	switch name {
	case "start_map":
		rt.setMapping(true)
		return nil, nil
	case "stop_map":
		rt.setMapping(false)
		path, err := rt.saveSnapshot()
		if err != nil {
			return nil, err
		}
		return map[string]any{"snapshot": path}, nil
	case "start_wander":
		return nil, rt.startWander()
	case "stop_wander":
		rt.stopWander()
		return nil, nil
	case "start_explore":
		return nil, rt.startExplore()
	case "stop_explore":
		rt.stopExplore()
		return nil, nil
	case "start_recording":
		dir, err := rt.rec.Start(time.Now())
		if err != nil {
			return nil, err
		}
		return map[string]any{"dataset": dir}, nil
	case "stop_recording":
		return nil, rt.rec.Stop(time.Now())
	case "retry_arduino":
		rt.link.Retry()
		return nil, nil
	case "retry_flir":
		select {
		case rt.flirRetry <- struct{}{}:
		default:
		}
		return nil, nil
	case "stop":
		rt.stopModes()
		rt.bridge.Send(mcu.StopCommand())
		return nil, nil
	case "get_status":
		return rt.Status().asMap(), nil
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
}

func (rt *Runtime) setMapping(on bool) {
	rt.mu.Lock()
	changed := rt.mappingOn != on
	rt.mappingOn = on
	rt.mu.Unlock()
	if !changed {
		return
	}
	rt.ring.Publish("mapping %s", onOff(on))
	rt.recordMode("map", on)
}

// saveSnapshot serialises the current map to a timestamped file.
func (rt *Runtime) saveSnapshot() (string, error) {
	path, err := mapping.WriteSnapshot(rt.mapper.Snapshot(), rt.cfg.GetSnapshotDir(), time.Now())
	if err != nil {
		return "", err
	}
	rt.ring.Publish("map snapshot written to %s", path)
	return path, nil
}

// startWander launches the wander controller; mutually exclusive with
// explore. Mapping is switched on so the controller has a grid to consult.
func (rt *Runtime) startWander() error {
	rt.mu.Lock()
	if rt.wanderCancel != nil {
		rt.mu.Unlock()
		return fmt.Errorf("wander already running")
	}
	if rt.exploreCancel != nil {
		rt.mu.Unlock()
		rt.stopExplore()
		rt.mu.Lock()
	}
	runCtx := rt.runCtx
	if runCtx == nil {
		rt.mu.Unlock()
		return fmt.Errorf("runtime not started")
	}
	ctx, cancel := context.WithCancel(runCtx)
	rt.wanderCancel = cancel
	rt.mu.Unlock()

	rt.setMapping(true)
	rt.recordMode("wander", true)
	controller := motion.NewWander(rt.driveAdapter(), rt.mapper, rt.motionParams())
	go func() {
		controller.Run(ctx)
		rt.mu.Lock()
		rt.wanderCancel = nil
		rt.mu.Unlock()
		rt.ring.Publish("wander stopped")
	}()
	rt.ring.Publish("wander started")
	return nil
}

func (rt *Runtime) stopWander() {
	rt.mu.Lock()
	cancel := rt.wanderCancel
	rt.mu.Unlock()
	if cancel != nil {
		cancel()
		rt.recordMode("wander", false)
	}
}

// startExplore launches the frontier-driven controller; mutually exclusive
// with wander.
func (rt *Runtime) startExplore() error {
	rt.mu.Lock()
	if rt.exploreCancel != nil {
		rt.mu.Unlock()
		return fmt.Errorf("explore already running")
	}
	if rt.wanderCancel != nil {
		rt.mu.Unlock()
		rt.stopWander()
		rt.mu.Lock()
	}
	runCtx := rt.runCtx
	if runCtx == nil {
		rt.mu.Unlock()
		return fmt.Errorf("runtime not started")
	}
	ctx, cancel := context.WithCancel(runCtx)
	rt.exploreCancel = cancel
	controller := motion.NewExplore(rt.driveAdapter(), rt.mapper, rt.motionParams())
	rt.explore = controller
	rt.mu.Unlock()

	rt.setMapping(true)
	rt.recordMode("explore", true)
	go func() {
		controller.Run(ctx)
		rt.mu.Lock()
		rt.exploreCancel = nil
		rt.mu.Unlock()
		rt.ring.Publish("explore stopped (complete=%t)", controller.Complete())
	}()
	rt.ring.Publish("explore started")
	return nil
}

func (rt *Runtime) stopExplore() {
	rt.mu.Lock()
	cancel := rt.exploreCancel
	rt.mu.Unlock()
	if cancel != nil {
		cancel()
		rt.recordMode("explore", false)
	}
}

// stopModes cancels both controllers and stops the motors.
func (rt *Runtime) stopModes() {
	rt.stopWander()
	rt.stopExplore()
}

func (rt *Runtime) recordMode(mode string, enabled bool) {
	if rt.events == nil {
		return
	}
	if err := rt.events.RecordModeEvent(mode, enabled); err != nil {
		monitoring.Logf("db: failed to record mode event: %v", err)
	}
}

func (rt *Runtime) motionParams() motion.Params {
	return motion.Params{
		DriveSpeed: rt.cfg.GetDriveSpeed(),
		TurnSpeed:  rt.cfg.GetTurnSpeed(),
	}
}

// StartUpload implements the hub's firmware intake: it runs the upload on
// its own task and streams progress events back as JSON lines.
func (rt *Runtime) StartUpload(hexText string, progress func(eventJSON string)) {
	rt.mu.Lock()
	if rt.uploading {
		rt.mu.Unlock()
		event, _ := json.Marshal(firmware.Progress{Done: true, Success: false, Message: "upload already in progress"})
		progress(string(event))
		return
	}
	rt.uploading = true
	runCtx := rt.runCtx
	rt.mu.Unlock()

	if runCtx == nil {
		runCtx = context.Background()
	}

	// Motion must not fight the bootloader for the port.
	rt.stopModes()

	go func() {
		defer func() {
			rt.mu.Lock()
			rt.uploading = false
			rt.mu.Unlock()
		}()

		onProgress := func(ev firmware.Progress) {
			event, _ := json.Marshal(ev)
			progress(string(event))
		}
		err := firmware.Upload(runCtx, rt.link, rt.bridge, hexText,
			rt.cfg.GetAVRSignature(), rt.cfg.GetFlashSizeBytes(), onProgress)
		if err != nil {
			monitoring.Logf("firmware upload failed: %v", err)
			rt.ring.Publish("firmware upload failed: %v", err)
			return
		}
		rt.ring.Publish("firmware upload complete")
	}()
}

// driveAdapter bridges the motion controllers' Drive interface onto the MCU
// bridge.
func (rt *Runtime) driveAdapter() motion.Drive {
	return &bridgeDrive{bridge: rt.bridge}
}

type bridgeDrive struct {
	bridge *mcu.Bridge
}

func (d *bridgeDrive) Motors(d1, d2 int) {
	d.bridge.Send(mcu.MotorCommand(d1, d2))
}

func (d *bridgeDrive) Stop() {
	d.bridge.Send(mcu.StopCommand())
}

func (d *bridgeDrive) DistanceCm() int {
	return d.bridge.LastDistanceCm()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
