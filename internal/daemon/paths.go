// Package daemon runs the unattended event loop of a team and controls its
// background process.
package daemon

import (
	"fmt"
	"path/filepath"
)

// Paths names every file a team's daemon uses under the config dir.
type Paths struct {
	Dir  string
	Team string
}

func NewPaths(dir, team string) Paths { return Paths{Dir: dir, Team: team} }

func (p Paths) PIDFile() string    { return filepath.Join(p.Dir, fmt.Sprintf("daemon-%s.pid", p.Team)) }
func (p Paths) RecordFile() string { return filepath.Join(p.Dir, fmt.Sprintf("daemon-%s.json", p.Team)) }
func (p Paths) CursorFile() string {
	return filepath.Join(p.Dir, fmt.Sprintf("daemon-%s-poll.json", p.Team))
}
func (p Paths) LockFile() string { return filepath.Join(p.Dir, fmt.Sprintf("daemon-%s.lock", p.Team)) }

func (p Paths) LogDir() string { return filepath.Join(p.Dir, "logs") }

func (p Paths) DaemonLog() string {
	return filepath.Join(p.LogDir(), fmt.Sprintf("daemon-%s.log", p.Team))
}

func (p Paths) MemberLog(member string) string {
	return filepath.Join(p.LogDir(), fmt.Sprintf("member-%s-%s.log", p.Team, member))
}
