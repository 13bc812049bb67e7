package process

import "time"

// WaitGone polls Alive(pid) every step until the process disappears or
// timeout elapses. A non-nil abort is sampled on every step and ends the wait
// early. It reports whether the process is gone.
func WaitGone(pid int, timeout, step time.Duration, abort func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !Alive(pid) {
			return true
		}
		if abort != nil && abort() {
			return false
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(step)
	}
}
