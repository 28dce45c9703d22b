package serialmux

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fastLink builds a Link over the given opener with test-friendly timing.
func fastLink(opener SerialPortOpener) *Link {
	l := NewLinkWithOpener("/dev/ttyTEST", PortOptions{}, opener)
	l.ReconnectDelay = 10 * time.Millisecond
	l.RetryInterval = 10 * time.Millisecond
	l.BootQuiescence = 5 * time.Millisecond
	return l
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestLinkDispatchesWholeLines(t *testing.T) {
	port := NewMockPort()
	link := fastLink(func(string, PortOptions) (SerialPorter, error) { return port, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Monitor(ctx)

	id, lines := link.Subscribe()
	defer link.Unsubscribe(id)
	waitFor(t, time.Second, link.Connected)

	// CR-LF line endings and split writes both yield whole CR-stripped lines
	port.Feed([]byte("{\"d\":42}\r\n{\"d\":"))
	port.Feed([]byte("43}\n"))

	want := []string{`{"d":42}`, `{"d":43}`}
	for _, w := range want {
		select {
		case line := <-lines:
			if line != w {
				t.Errorf("got line %q, want %q", line, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for line %q", w)
		}
	}
}

func TestLinkWritesNewlineTerminated(t *testing.T) {
	port := NewMockPort()
	link := fastLink(func(string, PortOptions) (SerialPorter, error) { return port, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Monitor(ctx)
	waitFor(t, time.Second, link.Connected)

	link.Enqueue(`{"N":1}`)
	waitFor(t, time.Second, func() bool {
		return strings.Contains(string(port.Written()), "{\"N\":1}\n")
	})
	if strings.Contains(string(port.Written()), "\n\n") {
		t.Error("double newline written")
	}
}

// TestWriteQueueDropsOldest fills the queue beyond capacity before any port
// exists and checks the oldest commands were displaced.
func TestWriteQueueDropsOldest(t *testing.T) {
	link := NewLink("/dev/ttyTEST", PortOptions{})
	for i := 0; i < WriteQueueCapacity+8; i++ {
		link.Enqueue(string(rune('a' + i%26)))
	}
	if n := len(link.writeQ); n != WriteQueueCapacity {
		t.Fatalf("queue holds %d, want %d", n, WriteQueueCapacity)
	}
	// the head of the queue is no longer the first command enqueued
	first := <-link.writeQ
	if first == "a" {
		t.Error("oldest command survived an overflow")
	}
}

func TestLinkReconnectsAfterReadError(t *testing.T) {
	var mu sync.Mutex
	opens := 0
	opener := func(string, PortOptions) (SerialPorter, error) {
		mu.Lock()
		opens++
		mu.Unlock()
		return NewMockPort(), nil
	}
	link := fastLink(opener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Monitor(ctx)

	stateID, states := link.SubscribeState()
	defer link.UnsubscribeState(stateID)

	waitFor(t, time.Second, link.Connected)

	// detach: fail the active port
	link.mu.Lock()
	port := link.port.(*MockPort)
	link.mu.Unlock()
	port.SetReadError(errors.New("device detached"))

	sawDisconnect := false
	deadline := time.After(2 * time.Second)
	for !sawDisconnect {
		select {
		case s := <-states:
			if !s.Connected && s.Kind == KindIoError {
				sawDisconnect = true
			}
		case <-deadline:
			t.Fatal("no disconnect state observed")
		}
	}

	waitFor(t, 2*time.Second, link.Connected)
	mu.Lock()
	defer mu.Unlock()
	if opens < 2 {
		t.Errorf("port opened %d times, want at least 2", opens)
	}
}

func TestLinkRetryBudgetExhaustion(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	opener := func(string, PortOptions) (SerialPorter, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, &LinkError{Kind: KindNotFound, Err: errors.New("no such device")}
	}
	link := fastLink(opener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Monitor(ctx)

	stateID, states := link.SubscribeState()
	defer link.UnsubscribeState(stateID)

	sawExhausted := false
	deadline := time.After(2 * time.Second)
	for !sawExhausted {
		select {
		case s := <-states:
			if s.Kind == KindRetryExhausted {
				sawExhausted = true
			}
		case <-deadline:
			t.Fatal("retry budget never exhausted")
		}
	}

	mu.Lock()
	exhaustedAt := attempts
	mu.Unlock()
	if exhaustedAt != link.MaxRetries {
		t.Errorf("exhausted after %d attempts, want %d", exhaustedAt, link.MaxRetries)
	}

	// dormant until a manual retry
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	dormant := attempts
	mu.Unlock()
	if dormant != exhaustedAt {
		t.Errorf("attempts continued while dormant: %d → %d", exhaustedAt, dormant)
	}

	link.Retry()
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts > dormant
	})
}

func TestOpenErrorClassification(t *testing.T) {
	err := &LinkError{Kind: KindPermissionDenied, Err: errors.New("eacces")}
	if !strings.Contains(err.Error(), "permission_denied") {
		t.Errorf("LinkError message %q", err.Error())
	}
	var target *LinkError
	if !errors.As(error(err), &target) {
		t.Error("errors.As failed on LinkError")
	}
}

// TestAcquirePausesWriter hands the port to a pretend programmer and checks
// enqueued commands stay queued until Release.
func TestAcquirePausesWriter(t *testing.T) {
	port := NewMockPort()
	link := fastLink(func(string, PortOptions) (SerialPorter, error) { return port, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Monitor(ctx)
	waitFor(t, time.Second, link.Connected)

	acquired, err := link.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if acquired != SerialPorter(port) {
		t.Fatal("Acquire returned a different port")
	}

	link.Enqueue("held")
	time.Sleep(50 * time.Millisecond)
	if strings.Contains(string(port.Written()), "held") {
		t.Fatal("writer ran while the port was acquired")
	}

	link.Release()
	waitFor(t, time.Second, func() bool {
		return strings.Contains(string(port.Written()), "held\n")
	})
}

func TestAcquireWhileDisconnected(t *testing.T) {
	link := NewLink("/dev/ttyTEST", PortOptions{})
	if _, err := link.Acquire(); err == nil {
		t.Error("Acquire succeeded with no port")
	}
}

func TestPortOptionsNormalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if opts.BaudRate != 115200 || opts.DataBits != 8 || opts.StopBits != 1 || opts.Parity != "N" {
		t.Errorf("defaults = %+v, want 115200 8-N-1", opts)
	}

	if _, err := (PortOptions{DataBits: 4}).Normalize(); err == nil {
		t.Error("4 data bits accepted")
	}
	if _, err := (PortOptions{Parity: "bogus"}).Normalize(); err == nil {
		t.Error("bogus parity accepted")
	}
}
