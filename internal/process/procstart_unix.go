//go:build !windows

package process

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// StartTime returns when pid started, truncated to seconds, or the zero time
// when it cannot be determined.
func StartTime(pid int) time.Time {
	if pid <= 0 {
		return time.Time{}
	}
	if runtime.GOOS == "linux" {
		if sec := procStartLinux(pid); sec > 0 {
			return time.Unix(sec, 0)
		}
	}
	// Darwin/BSD, and Linux without a readable /proc
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return time.Time{}
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).Truncate(time.Second)
}

// procStartLinux combines field 22 of /proc/<pid>/stat (clock ticks since
// boot) with btime from /proc/stat.
func procStartLinux(pid int) int64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	ticks, ok := parseStartTicks(string(b))
	if !ok {
		return 0
	}
	btime := bootTime()
	if btime == 0 {
		return 0
	}
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return btime + ticks/clk
}

// parseStartTicks extracts starttime from a stat line. The comm field may
// contain spaces, so fields are counted from its closing parenthesis.
func parseStartTicks(line string) (int64, bool) {
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return 0, false
	}
	fields := strings.Fields(line[end+2:])
	// fields[0] is field 3 (state); starttime is field 22
	if len(fields) < 20 {
		return 0, false
	}
	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil || ticks <= 0 {
		return 0, false
	}
	return ticks, true
}

func bootTime() int64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
			bt, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return 0
			}
			return bt
		}
	}
	return 0
}
