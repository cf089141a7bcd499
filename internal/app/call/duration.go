package call

import (
	"fmt"
	"sync"
	"time"
)

// FormatDuration renders elapsed call time as zero-padded MM:SS. The minutes
// field grows without bound past 99.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	seconds := int(d/time.Second) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// durationTracker fires tick once per interval for as long as the session is
// connected. Created on entering Connected, stopped and discarded on leaving.
type durationTracker struct {
	stop chan struct{}
	once sync.Once
}

func startDurationTracker(interval time.Duration, tick func()) *durationTracker {
	t := &durationTracker{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
	return t
}

func (t *durationTracker) Stop() {
	t.once.Do(func() { close(t.stop) })
}
