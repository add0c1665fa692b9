package mwah

import (
	"sync"
	"time"
)

// WakeSource signals that the machine resumed from sleep.
type WakeSource interface {
	// Subscribe registers fn and returns a function that unregisters it.
	Subscribe(fn func()) (unsubscribe func())
}

// Sleep detector defaults.
const (
	DefaultWakePollInterval = 5 * time.Second
	DefaultWakeThreshold    = 10 * time.Second
)

// SleepDetector is a WakeSource that polls the wall clock and treats a gap
// longer than interval+threshold between polls as a resume from sleep.
// Polling runs only while there is at least one subscriber.
type SleepDetector struct {
	interval  time.Duration
	threshold time.Duration

	mu     sync.Mutex
	subs   map[int]func()
	nextID int
	last   time.Time
	stop   chan struct{}
}

// NewSleepDetector creates a detector. Zero values select the defaults.
func NewSleepDetector(interval, threshold time.Duration) *SleepDetector {
	if interval <= 0 {
		interval = DefaultWakePollInterval
	}
	if threshold <= 0 {
		threshold = DefaultWakeThreshold
	}
	return &SleepDetector{
		interval:  interval,
		threshold: threshold,
		subs:      make(map[int]func()),
	}
}

// Subscribe implements WakeSource.
func (s *SleepDetector) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	if s.stop == nil {
		s.stop = make(chan struct{})
		s.last = wallNow()
		go s.poll(s.stop)
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			if len(s.subs) == 0 && s.stop != nil {
				close(s.stop)
				s.stop = nil
			}
		})
	}
}

func (s *SleepDetector) poll(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.observe(wallNow())
		}
	}
}

// observe records a poll at now and notifies subscribers if the gap since the
// previous poll means the process was suspended.
func (s *SleepDetector) observe(now time.Time) {
	s.mu.Lock()
	gap := now.Sub(s.last)
	s.last = now
	var notify []func()
	if gap > s.interval+s.threshold {
		notify = make([]func(), 0, len(s.subs))
		for _, fn := range s.subs {
			notify = append(notify, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
}

// wallNow strips the monotonic reading so that time spent suspended counts.
func wallNow() time.Time {
	return time.Now().Round(0)
}
