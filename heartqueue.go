package mwah

import (
	"sync"
	"time"
)

// HeartQueue defaults.
const (
	DefaultDrainInterval = 250 * time.Millisecond
	DefaultMaxQueueSize  = 50
)

// HeartQueueOptions configures a HeartQueue.
type HeartQueueOptions struct {
	DrainInterval time.Duration
	MaxQueueSize  int
	Clock         Clock
}

func (o *HeartQueueOptions) defaults() {
	if o.DrainInterval <= 0 {
		o.DrainInterval = DefaultDrainInterval
	}
	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = DefaultMaxQueueSize
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
}

// HeartQueue smooths bursts of incoming hearts into a steady cadence. The
// first heart after an idle period is delivered immediately; the rest of the
// burst drains one per interval. Hearts beyond MaxQueueSize are dropped.
//
// onDrain runs with the queue locked and must not call back into the queue.
type HeartQueue struct {
	mu       sync.Mutex
	pending  int
	timer    Timer
	epoch    uint64
	interval time.Duration
	maxSize  int
	clock    Clock
	onDrain  func()
}

// NewHeartQueue creates a queue that calls onDrain once per delivered heart.
func NewHeartQueue(onDrain func(), opts *HeartQueueOptions) *HeartQueue {
	var o HeartQueueOptions
	if opts != nil {
		o = *opts
	}
	o.defaults()
	return &HeartQueue{
		interval: o.DrainInterval,
		maxSize:  o.MaxQueueSize,
		clock:    o.Clock,
		onDrain:  onDrain,
	}
}

// Enqueue adds one heart. It returns false if the queue is full.
func (q *HeartQueue) Enqueue() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending >= q.maxSize {
		return false
	}
	q.pending++

	if q.timer == nil {
		q.drainOneLocked()
		q.scheduleLocked()
	}
	return true
}

// CancelAll discards pending hearts and stops draining. No delivery happens
// after it returns.
func (q *HeartQueue) CancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = 0
	q.epoch++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// Pending returns the number of hearts waiting to be delivered.
func (q *HeartQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Draining reports whether the periodic drain is running.
func (q *HeartQueue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.timer != nil
}

func (q *HeartQueue) tick(epoch uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if epoch != q.epoch || q.timer == nil {
		return
	}
	if q.pending == 0 {
		q.timer = nil
		return
	}
	q.drainOneLocked()
	q.scheduleLocked()
}

func (q *HeartQueue) drainOneLocked() {
	q.pending--
	if q.onDrain != nil {
		q.onDrain()
	}
}

func (q *HeartQueue) scheduleLocked() {
	epoch := q.epoch
	q.timer = q.clock.AfterFunc(q.interval, func() { q.tick(epoch) })
}
