// Package serialmux provides the framed line-oriented transport to the robot
// microcontroller. A Link owns the serial port, dispatches whole telemetry
// lines to subscribers, drains a bounded command queue, and reconnects at a
// fixed cadence when the device detaches. The port can be temporarily handed
// to the firmware programmer with Acquire/Release; the reader and writer park
// rather than terminate, so normal operation resumes without reopening.
package serialmux

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JocelynWordSmith/polly/internal/monitoring"
)

// WriteQueueCapacity bounds the pending command queue. On overflow the oldest
// pending command is dropped: drive commands are idempotent, so keeping the
// most recent intent is the right policy.
const WriteQueueCapacity = 64

// readTimeout is the poll interval for port reads. Short enough that the
// reader parks promptly when the port is acquired for programming.
const readTimeout = 200 * time.Millisecond

// ConnState describes a connection-state transition surfaced to subscribers.
type ConnState struct {
	Connected bool
	Kind      ErrorKind
	Message   string
	Attempts  int
}

// Link is a reconnecting serial transport with line fan-out.
type Link struct {
	device string
	opts   PortOptions
	open   SerialPortOpener

	// Tunables. Tests shrink these; production uses the defaults from NewLink.
	ReconnectDelay time.Duration // wait after detach before reopening
	RetryInterval  time.Duration // spacing between failed open attempts
	MaxRetries     int           // auto-retry budget before going dormant
	BootQuiescence time.Duration // settle window after open (device may be in bootloader)

	writeQ chan string

	mu        sync.Mutex
	port      SerialPorter
	connected bool
	pauseGate chan struct{} // non-nil while paused; closed on resume
	lastState ConnState

	retryKick chan struct{}

	subscriberMu sync.Mutex
	subscribers  map[string]chan string

	stateMu   sync.Mutex
	stateSubs map[string]chan ConnState
}

// NewLink creates a Link for the named device. Monitor must be started for
// any I/O to happen.
func NewLink(device string, opts PortOptions) *Link {
	return &Link{
		device:         device,
		opts:           opts,
		open:           OpenRealPort,
		ReconnectDelay: 2 * time.Second,
		RetryInterval:  3 * time.Second,
		MaxRetries:     3,
		BootQuiescence: 2500 * time.Millisecond,
		writeQ:         make(chan string, WriteQueueCapacity),
		retryKick:      make(chan struct{}, 1),
		subscribers:    make(map[string]chan string),
		stateSubs:      make(map[string]chan ConnState),
	}
}

// NewLinkWithOpener creates a Link with a custom port opener, for tests.
func NewLinkWithOpener(device string, opts PortOptions, open SerialPortOpener) *Link {
	l := NewLink(device, opts)
	l.open = open
	return l
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new channel for receiving line events from the serial
// port. The returned ID identifies the channel when unsubscribing.
func (l *Link) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	l.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a line subscriber.
func (l *Link) Unsubscribe(id string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if ch, ok := l.subscribers[id]; ok {
		close(ch)
		delete(l.subscribers, id)
	}
}

// SubscribeState creates a channel carrying connection-state transitions.
// The current state is delivered immediately.
func (l *Link) SubscribeState() (string, chan ConnState) {
	id := randomID()
	ch := make(chan ConnState, 8)
	l.stateMu.Lock()
	l.stateSubs[id] = ch
	l.stateMu.Unlock()

	l.mu.Lock()
	ch <- l.lastState
	l.mu.Unlock()
	return id, ch
}

// UnsubscribeState removes a state subscriber.
func (l *Link) UnsubscribeState(id string) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if ch, ok := l.stateSubs[id]; ok {
		close(ch)
		delete(l.stateSubs, id)
	}
}

// Connected reports whether the port is currently open and pumping.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Enqueue appends a command for the writer task. On overflow the oldest
// pending command is dropped to make room.
func (l *Link) Enqueue(command string) {
	for {
		select {
		case l.writeQ <- command:
			return
		default:
			select {
			case dropped := <-l.writeQ:
				monitoring.Logf("serial write queue full, dropped oldest command %q", strings.TrimSpace(dropped))
			default:
			}
		}
	}
}

// Retry resets the retry budget. A dormant link reopens at once; during the
// wait between failed attempts the attempt count restarts from zero. While
// the link is connected one pending request is held and takes effect at the
// next failed open.
func (l *Link) Retry() {
	select {
	case l.retryKick <- struct{}{}:
	default:
	}
}

// Acquire pauses the reader and writer tasks and returns the raw port for
// exclusive use by the firmware programmer. The caller must Release.
func (l *Link) Acquire() (SerialPorter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil || !l.connected {
		return nil, &LinkError{Kind: KindIoError, Err: errors.New("serial link not connected")}
	}
	if l.pauseGate == nil {
		l.pauseGate = make(chan struct{})
	}
	return l.port, nil
}

// Release resumes the reader and writer tasks after Acquire, restoring the
// pump's read timeout in case the programmer changed it.
func (l *Link) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pauseGate != nil {
		close(l.pauseGate)
		l.pauseGate = nil
		if tp, ok := l.port.(TimeoutSerialPorter); ok {
			tp.SetReadTimeout(readTimeout)
		}
	}
}

// waitResumed parks the calling task while the port is acquired elsewhere.
func (l *Link) waitResumed(ctx context.Context) {
	l.mu.Lock()
	gate := l.pauseGate
	l.mu.Unlock()
	if gate == nil {
		return
	}
	select {
	case <-gate:
	case <-ctx.Done():
	}
}

// Monitor opens the port and runs the reader and writer tasks, reconnecting
// on detach until the retry budget is exhausted, then going dormant until
// Retry is called. Returns when the context is cancelled.
func (l *Link) Monitor(ctx context.Context) error {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		port, err := l.open(l.device, l.opts)
		if err != nil {
			attempts++
			kind := KindOpenFailed
			var linkErr *LinkError
			if errors.As(err, &linkErr) {
				kind = linkErr.Kind
			}
			l.publishState(ConnState{Kind: kind, Message: err.Error(), Attempts: attempts})

			if attempts >= l.MaxRetries {
				l.publishState(ConnState{
					Kind:     KindRetryExhausted,
					Message:  fmt.Sprintf("gave up after %d attempts: %v", attempts, err),
					Attempts: attempts,
				})
				select {
				case <-l.retryKick:
					attempts = 0
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			select {
			case <-time.After(l.RetryInterval):
			case <-l.retryKick:
				attempts = 0
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		attempts = 0
		l.quiesce(ctx, port)

		l.mu.Lock()
		l.port = port
		l.connected = true
		l.mu.Unlock()
		l.publishState(ConnState{Connected: true})

		pumpErr := l.pump(ctx, port)

		l.mu.Lock()
		l.port = nil
		l.connected = false
		if l.pauseGate != nil {
			close(l.pauseGate)
			l.pauseGate = nil
		}
		l.mu.Unlock()
		port.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := "device detached"
		if pumpErr != nil {
			msg = pumpErr.Error()
		}
		l.publishState(ConnState{Kind: KindIoError, Message: msg})

		select {
		case <-time.After(l.ReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// quiesce waits out the bootloader window after open and drains any bytes
// buffered by the OS before normal operation begins.
func (l *Link) quiesce(ctx context.Context, port SerialPorter) {
	select {
	case <-time.After(l.BootQuiescence):
	case <-ctx.Done():
		return
	}

	tp, ok := port.(TimeoutSerialPorter)
	if !ok {
		return
	}
	if err := tp.SetReadTimeout(20 * time.Millisecond); err != nil {
		return
	}
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if err != nil || n == 0 {
			break
		}
	}
}

// pump runs the reader and writer tasks until an I/O error or cancellation.
func (l *Link) pump(ctx context.Context, port SerialPorter) error {
	if tp, ok := port.(TimeoutSerialPorter); ok {
		tp.SetReadTimeout(readTimeout)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	// reader task: assemble whole lines, strip CR, fan out
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 256)
		var acc []byte
		for {
			if pumpCtx.Err() != nil {
				return
			}
			l.waitResumed(pumpCtx)
			n, err := port.Read(buf)
			if err != nil {
				select {
				case errCh <- fmt.Errorf("serial read: %w", err):
				default:
				}
				return
			}
			if n == 0 {
				continue // read timeout tick
			}
			acc = append(acc, buf[:n]...)
			for {
				idx := bytes.IndexByte(acc, '\n')
				if idx < 0 {
					break
				}
				line := strings.TrimRight(string(acc[:idx]), "\r")
				acc = acc[idx+1:]
				if line == "" {
					continue
				}
				l.dispatch(line)
			}
		}
	}()

	// writer task: drain the command queue in enqueue order
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-pumpCtx.Done():
				return
			case command := <-l.writeQ:
				l.waitResumed(pumpCtx)
				if pumpCtx.Err() != nil {
					return
				}
				if !strings.HasSuffix(command, "\n") {
					command += "\n"
				}
				if _, err := port.Write([]byte(command)); err != nil {
					select {
					case errCh <- fmt.Errorf("serial write: %w", err):
					default:
					}
					return
				}
			}
		}
	}()

	var pumpErr error
	select {
	case pumpErr = <-errCh:
	case <-ctx.Done():
		pumpErr = ctx.Err()
	}
	cancel()
	// unblock a parked reader/writer so wg.Wait cannot hang
	l.Release()
	wg.Wait()
	return pumpErr
}

func (l *Link) dispatch(line string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	for _, ch := range l.subscribers {
		select {
		case ch <- line:
		default:
			// skip a full subscriber rather than block the reader
		}
	}
}

func (l *Link) publishState(state ConnState) {
	l.mu.Lock()
	l.lastState = state
	l.mu.Unlock()

	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	for _, ch := range l.stateSubs {
		select {
		case ch <- state:
		default:
		}
	}
}
