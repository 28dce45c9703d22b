package mcu

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/JocelynWordSmith/polly/internal/monitoring"
	"github.com/JocelynWordSmith/polly/internal/serialmux"
)

// logPolicyKeys mark telemetry lines worth surfacing to the human log:
// acknowledgements, errors and anything touching the drive train.
var logPolicyKeys = []string{"tank", "cmd", "ok", "error", "estop", "watchdog", "speed", "safety"}

// Telemetry is the decoded subset of a telemetry line the bridge tracks for
// local consumers. The full remapped line still reaches subscribers verbatim.
type Telemetry struct {
	Timestamp int64     `json:"ts"`
	DistCm    *int      `json:"dist_f"`
	IR        []int     `json:"ir"`
	Accel     []float64 `json:"accel"`
	Gyro      []float64 `json:"gyro"`
	Battery   *float64  `json:"battery"`
	MPUValid  *bool     `json:"mpu_valid"`
	FwVersion *string   `json:"fw_version"`
}

// Bridge sits between the serial link and everything else: it remaps
// telemetry keys, fans out remapped lines, tracks the latest readings, and
// drives the boot sequence whenever the link (re)connects.
type Bridge struct {
	link *serialmux.Link
	ring *monitoring.LogRing

	WatchdogMillis     int
	StreamPeriodMillis int

	subscriberMu sync.Mutex
	subscribers  map[string]chan string

	mu         sync.Mutex
	lastDistCm int
	fwVersion  string
}

// NewBridge creates a Bridge over the given link. Run must be started for
// telemetry to flow.
func NewBridge(link *serialmux.Link, ring *monitoring.LogRing) *Bridge {
	return &Bridge{
		link:               link,
		ring:               ring,
		WatchdogMillis:     1000,
		StreamPeriodMillis: 200,
		subscribers:        make(map[string]chan string),
		lastDistCm:         -1,
	}
}

// SetLogRing attaches the human-facing log ring the bridge surfaces policy
// lines to. Must be called before Run.
func (b *Bridge) SetLogRing(ring *monitoring.LogRing) {
	b.ring = ring
}

// Subscribe creates a channel receiving remapped telemetry lines.
func (b *Bridge) Subscribe() (string, chan string) {
	id, ch := newSubscriber()
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a telemetry subscriber.
func (b *Bridge) Unsubscribe(id string) {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Run consumes serial lines and connection transitions until the context is
// cancelled. On connect it configures the watchdog and telemetry stream; on
// cancellation it best-effort disables streaming.
func (b *Bridge) Run(ctx context.Context) error {
	lineID, lines := b.link.Subscribe()
	defer b.link.Unsubscribe(lineID)
	stateID, states := b.link.SubscribeState()
	defer b.link.UnsubscribeState(stateID)

	for {
		select {
		case <-ctx.Done():
			if b.link.Connected() {
				b.Send(StreamRateCommand(0))
			}
			return ctx.Err()

		case state, ok := <-states:
			if !ok {
				return nil
			}
			if state.Connected {
				b.bootSequence()
			}

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			b.handleLine(line)
		}
	}
}

// bootSequence configures a freshly connected MCU: motor watchdog on,
// telemetry streaming on, firmware version queried.
func (b *Bridge) bootSequence() {
	b.Send(WatchdogCommand(b.WatchdogMillis))
	b.Send(StreamRateCommand(b.StreamPeriodMillis))
	b.Send(VersionCommand())
	monitoring.Logf("mcu: boot sequence sent (watchdog=%dms stream=%dms)", b.WatchdogMillis, b.StreamPeriodMillis)
}

// Send enqueues a command on the serial link.
func (b *Bridge) Send(cmd Command) {
	b.link.Enqueue(cmd.Encode())
}

// SendRaw enqueues a pre-encoded JSON command line, used by the control
// endpoint's arduino passthrough.
func (b *Bridge) SendRaw(line string) {
	b.link.Enqueue(line)
}

// Quiesce silences the MCU ahead of firmware programming: telemetry stream
// off, watchdog off so the bootloader isn't interrupted by a motor timeout.
func (b *Bridge) Quiesce() {
	b.Send(StreamRateCommand(0))
	b.Send(WatchdogCommand(0))
}

// Resume restores streaming after firmware programming.
func (b *Bridge) Resume() {
	b.bootSequence()
}

// LastDistanceCm returns the most recent forward ultrasonic reading in
// centimetres, or -1 before the first reading arrives.
func (b *Bridge) LastDistanceCm() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastDistCm
}

// FirmwareVersion returns the version string reported by the MCU, or "".
func (b *Bridge) FirmwareVersion() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fwVersion
}

// Connected reports whether the underlying serial link is up.
func (b *Bridge) Connected() bool {
	return b.link.Connected()
}

func (b *Bridge) handleLine(line string) {
	remapped := RemapTelemetry(line)

	var t Telemetry
	if err := json.Unmarshal([]byte(remapped), &t); err == nil {
		b.mu.Lock()
		if t.DistCm != nil {
			b.lastDistCm = *t.DistCm
		}
		if t.FwVersion != nil {
			b.fwVersion = *t.FwVersion
		}
		b.mu.Unlock()
	}

	if b.ring != nil && shouldSurface(remapped) {
		b.ring.Publish("mcu: %s", remapped)
	}

	b.subscriberMu.Lock()
	for _, ch := range b.subscribers {
		select {
		case ch <- remapped:
		default:
		}
	}
	b.subscriberMu.Unlock()
}

// shouldSurface reports whether a remapped telemetry line matches the
// human-log policy keys.
func shouldSurface(line string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return false
	}
	for key := range fields {
		lower := strings.ToLower(key)
		for _, policy := range logPolicyKeys {
			if strings.Contains(lower, policy) {
				return true
			}
		}
	}
	return false
}
