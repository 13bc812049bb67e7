package daemon

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"time"
)

// WatchInterval is how often the watcher copies the signal flag.
var WatchInterval = 200 * time.Millisecond

// Shutdown is the process-wide stop request every daemon loop samples.
type Shutdown struct {
	requested atomic.Bool
}

func (s *Shutdown) Request()        { s.requested.Store(true) }
func (s *Shutdown) Requested() bool { return s.requested.Load() }

// Sleep waits d in steps of at most one second and returns false early when
// shutdown is requested.
func (s *Shutdown) Sleep(d time.Duration) bool {
	const tick = time.Second
	for d > 0 {
		if s.Requested() {
			return false
		}
		step := min(d, tick)
		time.Sleep(step)
		d -= step
	}
	return !s.Requested()
}

// WatchSignals routes the daemon signals into sd. The receiving goroutine
// only sets a flag; a watcher copies the flag (and ctx cancellation) into sd
// every WatchInterval. The returned func stops both.
func WatchSignals(ctx context.Context, sd *Shutdown) func() {
	var caught atomic.Bool
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, daemonSignals()...)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ch:
				caught.Store(true)
			case <-done:
				return
			}
		}
	}()
	go func() {
		t := time.NewTicker(WatchInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if caught.Load() || ctx.Err() != nil {
					sd.Request()
				}
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
