package mwah

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

const waitTimeout = 2 * time.Second

// fakeClock fires timers only when Advance is called, on the calling goroutine.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []*fakeTimer
	scheduled chan time.Duration
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		scheduled: make(chan time.Duration, 100),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	c.mu.Unlock()

	select {
	case c.scheduled <- d:
	default:
	}
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward by d, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(end) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = end
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

// active returns the number of timers that are neither stopped nor fired.
func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func waitScheduled(t *testing.T, c *fakeClock) time.Duration {
	t.Helper()
	select {
	case d := <-c.scheduled:
		return d
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a timer to be scheduled")
		return 0
	}
}

// fakeTransport hands every Stream call to the test through streams.
type fakeTransport struct {
	streams    chan *fakeStream
	published  chan []byte
	publishErr error
}

type fakeStream struct {
	ctx context.Context
	h   StreamHandler
	end chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		streams:   make(chan *fakeStream, 10),
		published: make(chan []byte, 10),
	}
}

func (f *fakeTransport) Stream(ctx context.Context, h StreamHandler) error {
	s := &fakeStream{ctx: ctx, h: h, end: make(chan error, 1)}
	f.streams <- s
	select {
	case err := <-s.end:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Publish(ctx context.Context, payload []byte) error {
	f.published <- append([]byte(nil), payload...)
	return f.publishErr
}

func (f *fakeTransport) NewDecoder() Decoder {
	return NewEventStreamDecoder(nil)
}

func nextStream(t *testing.T, f *fakeTransport) *fakeStream {
	t.Helper()
	select {
	case s := <-f.streams:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a stream to open")
		return nil
	}
}

func expectNoStream(t *testing.T, f *fakeTransport) {
	t.Helper()
	select {
	case <-f.streams:
		t.Fatal("unexpected stream opened")
	case <-time.After(100 * time.Millisecond):
	}
}

// recorder counts consumer callbacks and keeps log lines.
type recorder struct {
	mu       sync.Mutex
	hearts   int
	statuses []bool
	presence int
	logs     []string
}

func (r *recorder) attach(c *RoomConnection) {
	c.OnHeartReceived(func() {
		r.mu.Lock()
		r.hearts++
		r.mu.Unlock()
	})
	c.OnStatusReceived(func(dnd bool) {
		r.mu.Lock()
		r.statuses = append(r.statuses, dnd)
		r.mu.Unlock()
	})
	c.OnPresenceReceived(func() {
		r.mu.Lock()
		r.presence++
		r.mu.Unlock()
	})
	c.OnLog(func(msg string) {
		r.mu.Lock()
		r.logs = append(r.logs, msg)
		r.mu.Unlock()
	})
}

func (r *recorder) heartCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hearts
}

func (r *recorder) hasLog(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.logs {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func waitForLog(t *testing.T, r *recorder, substr string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if r.hasLog(substr) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log containing %q", substr)
}

// putEvent frames one relay update as event-stream bytes.
func putEvent(sender, body string) []byte {
	return []byte(fmt.Sprintf("event: put\ndata: {\"path\":\"/%s\",\"data\":%s}\n\n", sender, body))
}

func heartBody(id string) string {
	return fmt.Sprintf(`{"type":"heart","id":%q}`, id)
}
