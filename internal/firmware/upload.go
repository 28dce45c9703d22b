package firmware

import (
	"context"
	"fmt"
	"time"

	"github.com/JocelynWordSmith/polly/internal/mcu"
	"github.com/JocelynWordSmith/polly/internal/monitoring"
	"github.com/JocelynWordSmith/polly/internal/serialmux"
)

// Upload runs the full firmware-update sequence: parse the hex payload,
// quiesce the MCU bridge, take exclusive ownership of the serial port,
// program every page, and hand the port back. The bridge is resumed on every
// exit path; a parse failure aborts before the bridge is disturbed at all.
func Upload(ctx context.Context, link *serialmux.Link, bridge *mcu.Bridge, hexText string,
	signature [3]byte, flashSize int, onProgress func(Progress)) error {

	emit := func(ev Progress) {
		if onProgress != nil {
			onProgress(ev)
		}
	}

	img, err := ParseHex(hexText, flashSize)
	if err != nil {
		emit(Progress{Done: true, Success: false, Message: err.Error()})
		return fmt.Errorf("parse hex: %w", err)
	}
	monitoring.Logf("firmware: parsed image, %d pages / %d bytes", len(img.Pages), img.ByteCount)

	// Silence stream and watchdog, then give the writer a moment to flush
	// those commands before the port is paused.
	bridge.Quiesce()
	settle(ctx, 300*time.Millisecond)

	port, err := link.Acquire()
	if err != nil {
		bridge.Resume()
		emit(Progress{Done: true, Success: false, Message: err.Error()})
		return err
	}
	defer func() {
		link.Release()
		bridge.Resume()
	}()
	settle(ctx, 250*time.Millisecond)

	prog := &Programmer{
		Port:       port,
		Signature:  signature,
		OnProgress: onProgress,
	}
	if err := prog.Program(ctx, img); err != nil {
		emit(Progress{Done: true, Success: false, Message: err.Error()})
		return fmt.Errorf("program: %w", err)
	}

	emit(Progress{Done: true, Success: true, Message: fmt.Sprintf("programmed %d pages", len(img.Pages))})
	monitoring.Logf("firmware: upload complete, %d pages", len(img.Pages))
	return nil
}

func settle(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
