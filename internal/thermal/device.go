package thermal

import (
	"context"
	"io"
	"time"

	"github.com/JocelynWordSmith/polly/internal/monitoring"
)

// BulkEndpoint is one USB bulk-in endpoint. The platform layer supplies
// implementations; reads should return (0, nil) on timeout like a serial
// port with a read deadline.
type BulkEndpoint interface {
	io.Reader
}

// auxPollInterval is the drain cadence for the auxiliary endpoints. The
// camera stalls the frame endpoint when these back up.
const auxPollInterval = 50 * time.Millisecond

// Device pumps the imager's bulk endpoints and emits parsed frames.
type Device struct {
	Frames BulkEndpoint
	Aux    []BulkEndpoint

	// OnFrame receives every emitted frame. Called from the read task.
	OnFrame func(Frame)

	parser *Parser
}

// NewDevice creates a Device over the given endpoints.
func NewDevice(frames BulkEndpoint, aux ...BulkEndpoint) *Device {
	return &Device{
		Frames: frames,
		Aux:    aux,
		parser: NewParser(),
	}
}

// Stats returns parser counters for status reporting.
func (d *Device) Stats() (parsed, suppressed, rejected int) {
	return d.parser.FramesParsed, d.parser.FramesSuppressed, d.parser.FramesRejected
}

// Run reads the frame endpoint until error or cancellation, draining the
// auxiliary endpoints in a second task.
func (d *Device) Run(ctx context.Context) error {
	drainCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.drainAux(drainCtx)

	buf := make([]byte, 16384)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := d.Frames.Read(buf)
		if err != nil {
			monitoring.Logf("thermal: frame endpoint read failed: %v", err)
			return err
		}
		if n == 0 {
			continue
		}
		for _, frame := range d.parser.Push(buf[:n]) {
			if d.OnFrame != nil {
				d.OnFrame(frame)
			}
		}
	}
}

// drainAux polls the auxiliary endpoints; their content is discarded.
func (d *Device) drainAux(ctx context.Context) {
	if len(d.Aux) == 0 {
		return
	}
	buf := make([]byte, 4096)
	ticker := time.NewTicker(auxPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ep := range d.Aux {
				ep.Read(buf)
			}
		}
	}
}
