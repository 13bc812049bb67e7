package detector

import (
	"fmt"
	"os"
	"time"

	"github.com/loykin/botminter/internal/process"
)

// StartSlack absorbs the gap between spawning a process and recording its
// start time, plus the one-second resolution of the kernel's start time.
const StartSlack = 2 * time.Second

// PIDDetector detects by a PID number. When RecordedAt is set, a process that
// started after RecordedAt+StartSlack holds a recycled PID and is not ours.
type PIDDetector struct {
	PID        int
	RecordedAt time.Time
}

func (d PIDDetector) Alive() (bool, error) {
	if !process.Alive(d.PID) {
		return false, nil
	}
	if d.RecordedAt.IsZero() {
		return true, nil
	}
	started := process.StartTime(d.PID)
	if !started.IsZero() && started.After(d.RecordedAt.Add(StartSlack)) {
		return false, nil
	}
	return true, nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }

// PIDFileDetector detects a process through a plain decimal PID file.
// A missing file means not running; an unparsable one is an error.
type PIDFileDetector struct {
	PIDFile    string
	RecordedAt time.Time
}

// PID reads the file. The error satisfies os.IsNotExist when it is absent.
func (d PIDFileDetector) PID() (int, error) { return process.ReadPIDFile(d.PIDFile) }

func (d PIDFileDetector) Alive() (bool, error) {
	pid, err := d.PID()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return PIDDetector{PID: pid, RecordedAt: d.RecordedAt}.Alive()
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }
