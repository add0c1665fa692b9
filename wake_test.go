package mwah

import (
	"testing"
	"time"
)

func TestSleepDetector(t *testing.T) {
	t.Run("gap triggers subscribers", func(t *testing.T) {
		s := NewSleepDetector(time.Hour, time.Hour)
		woke := 0
		unsub := s.Subscribe(func() { woke++ })
		defer unsub()

		base := s.last
		s.observe(base.Add(time.Hour))
		if woke != 0 {
			t.Fatal("regular poll should not signal a wake")
		}
		s.observe(base.Add(4 * time.Hour))
		if woke != 1 {
			t.Fatalf("expected 1 wake, got %d", woke)
		}
	})

	t.Run("unsubscribe stops delivery and polling", func(t *testing.T) {
		s := NewSleepDetector(time.Hour, time.Hour)
		woke := 0
		unsub := s.Subscribe(func() { woke++ })
		unsub()
		unsub()

		s.observe(s.last.Add(24 * time.Hour))
		if woke != 0 {
			t.Errorf("unsubscribed handler ran")
		}
		if s.stop != nil {
			t.Error("expected poller to stop with no subscribers")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		s := NewSleepDetector(0, 0)
		if s.interval != DefaultWakePollInterval || s.threshold != DefaultWakeThreshold {
			t.Errorf("unexpected defaults: %s %s", s.interval, s.threshold)
		}
	})
}
