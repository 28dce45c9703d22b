package firmware

import (
	"context"
	"fmt"
	"time"

	"github.com/JocelynWordSmith/polly/internal/serialmux"
)

// STK500v1 protocol bytes, as spoken by the optiboot-class bootloaders.
const (
	stkGetSync       = 0x30
	stkEnterProgmode = 0x50
	stkLeaveProgmode = 0x51
	stkLoadAddress   = 0x55
	stkProgPage      = 0x64
	stkReadSign      = 0x75
	stkInsync        = 0x14
	stkOK            = 0x10
	crcEOP           = 0x20
	memtypeFlash     = 'F'
)

// Progress is one discrete programming event. Phase events carry a percent;
// the terminal event has Done set with the outcome.
type Progress struct {
	Phase   string `json:"phase,omitempty"`
	Percent int    `json:"percent"`
	Done    bool   `json:"done,omitempty"`
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// Programmer drives an STK500v1 bootloader over an exclusively held serial
// port.
type Programmer struct {
	Port      serialmux.SerialPorter
	Signature [3]byte

	// OnProgress, when set, receives phase and per-page events. Per-page
	// events are throttled so percent advances by at least 2 between
	// consecutive calls.
	OnProgress func(Progress)

	// Tunables; the zero value takes the protocol defaults below.
	SyncAttempts int
	ByteTimeout  time.Duration
	ResetWait    time.Duration
	PageDelay    time.Duration
	RebootWait   time.Duration
	PulseWidth   time.Duration
}

func (p *Programmer) defaults() {
	if p.SyncAttempts == 0 {
		p.SyncAttempts = 10
	}
	if p.ByteTimeout == 0 {
		p.ByteTimeout = 500 * time.Millisecond
	}
	if p.ResetWait == 0 {
		p.ResetWait = 200 * time.Millisecond
	}
	if p.PageDelay == 0 {
		p.PageDelay = 5 * time.Millisecond
	}
	if p.RebootWait == 0 {
		p.RebootWait = 2 * time.Second
	}
	if p.PulseWidth == 0 {
		p.PulseWidth = 50 * time.Millisecond
	}
}

func (p *Programmer) emit(ev Progress) {
	if p.OnProgress != nil {
		p.OnProgress(ev)
	}
}

// Program resets the target into its bootloader, verifies the device
// signature and writes every page of the image. On success the target has
// been asked to leave programming mode; on error Program returns at once
// without sending that request.
func (p *Programmer) Program(ctx context.Context, img *Image) error {
	p.defaults()

	if tp, ok := p.Port.(serialmux.TimeoutSerialPorter); ok {
		tp.SetReadTimeout(p.ByteTimeout)
	}

	p.emit(Progress{Phase: "reset", Percent: 0})
	if err := p.resetTarget(ctx); err != nil {
		return err
	}

	p.emit(Progress{Phase: "sync", Percent: 2})
	if err := p.sync(ctx); err != nil {
		return err
	}

	p.emit(Progress{Phase: "progmode", Percent: 5})
	if err := p.command(ctx, []byte{stkEnterProgmode, crcEOP}, 0); err != nil {
		return fmt.Errorf("enter progmode: %w", err)
	}

	if err := p.verifySignature(ctx); err != nil {
		return err
	}

	p.emit(Progress{Phase: "program", Percent: 8})
	lastPercent := 8
	for i, page := range img.Pages {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.programPage(ctx, page); err != nil {
			return fmt.Errorf("page 0x%04x: %w", page.Address, err)
		}

		percent := 8 + (i+1)*90/len(img.Pages)
		if percent >= lastPercent+2 || i == len(img.Pages)-1 {
			lastPercent = percent
			p.emit(Progress{Phase: "program", Percent: percent})
		}
		p.sleep(ctx, p.PageDelay)
	}

	p.emit(Progress{Phase: "finish", Percent: 99})
	if err := p.command(ctx, []byte{stkLeaveProgmode, crcEOP}, 0); err != nil {
		return fmt.Errorf("leave progmode: %w", err)
	}
	p.sleep(ctx, p.RebootWait)
	return nil
}

// resetTarget pulses DTR to reset the AVR into its bootloader, then waits
// for the bootloader to come up.
func (p *Programmer) resetTarget(ctx context.Context) error {
	cp, ok := p.Port.(serialmux.ControlSerialPorter)
	if !ok {
		return fmt.Errorf("port does not support DTR control")
	}
	for _, dtr := range []bool{true, false, true} {
		if err := cp.SetDTR(dtr); err != nil {
			return fmt.Errorf("set DTR: %w", err)
		}
		p.sleep(ctx, p.PulseWidth)
	}
	if err := cp.SetDTR(false); err != nil {
		return fmt.Errorf("set DTR: %w", err)
	}
	p.sleep(ctx, p.ResetWait)
	return nil
}

// sync repeats GET_SYNC until the bootloader answers INSYNC/OK, draining
// garbage between attempts.
func (p *Programmer) sync(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < p.SyncAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.drain()
		if err := p.command(ctx, []byte{stkGetSync, crcEOP}, 0); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("no sync after %d attempts: %w", p.SyncAttempts, lastErr)
}

func (p *Programmer) verifySignature(ctx context.Context) error {
	if _, err := p.Port.Write([]byte{stkReadSign, crcEOP}); err != nil {
		return fmt.Errorf("read signature: %w", err)
	}
	reply, err := p.readBytes(ctx, 5)
	if err != nil {
		return fmt.Errorf("read signature: %w", err)
	}
	if reply[0] != stkInsync || reply[4] != stkOK {
		return fmt.Errorf("read signature: framing %02x..%02x", reply[0], reply[4])
	}
	got := [3]byte{reply[1], reply[2], reply[3]}
	if got != p.Signature {
		return fmt.Errorf("signature mismatch: device %02x%02x%02x, expected %02x%02x%02x",
			got[0], got[1], got[2], p.Signature[0], p.Signature[1], p.Signature[2])
	}
	return nil
}

func (p *Programmer) programPage(ctx context.Context, page Page) error {
	// LOAD_ADDRESS takes a little-endian word (2-byte) address.
	word := page.Address >> 1
	load := []byte{stkLoadAddress, byte(word & 0xFF), byte(word >> 8), crcEOP}
	if err := p.command(ctx, load, 0); err != nil {
		return fmt.Errorf("load address: %w", err)
	}

	frame := make([]byte, 0, 5+len(page.Data))
	frame = append(frame, stkProgPage, byte(len(page.Data)>>8), byte(len(page.Data)&0xFF), memtypeFlash)
	frame = append(frame, page.Data...)
	frame = append(frame, crcEOP)
	if err := p.command(ctx, frame, 0); err != nil {
		return fmt.Errorf("prog page: %w", err)
	}
	return nil
}

// command writes a frame and expects INSYNC, extra payload bytes, then OK.
func (p *Programmer) command(ctx context.Context, frame []byte, payload int) error {
	if _, err := p.Port.Write(frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	reply, err := p.readBytes(ctx, 2+payload)
	if err != nil {
		return err
	}
	if reply[0] != stkInsync {
		return fmt.Errorf("expected INSYNC (0x14), got 0x%02x", reply[0])
	}
	if reply[len(reply)-1] != stkOK {
		return fmt.Errorf("expected OK (0x10), got 0x%02x", reply[len(reply)-1])
	}
	return nil
}

// readBytes reads exactly n bytes, bounded by ByteTimeout per byte.
func (p *Programmer) readBytes(ctx context.Context, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, 1)
	deadline := time.Now().Add(p.ByteTimeout)
	for len(out) < n {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		got, err := p.Port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		if got == 0 {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timeout waiting for %d bytes (got %d)", n, len(out))
			}
			continue
		}
		out = append(out, buf[0])
		deadline = time.Now().Add(p.ByteTimeout)
	}
	return out, nil
}

// drain discards any pending bytes, e.g. telemetry emitted before the reset.
func (p *Programmer) drain() {
	if tp, ok := p.Port.(serialmux.TimeoutSerialPorter); ok {
		tp.SetReadTimeout(20 * time.Millisecond)
		defer tp.SetReadTimeout(p.ByteTimeout)
	}
	buf := make([]byte, 256)
	for {
		n, err := p.Port.Read(buf)
		if err != nil || n == 0 {
			return
		}
	}
}

func (p *Programmer) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
