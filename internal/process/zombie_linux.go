package process

import (
	"bytes"
	"os"
	"strconv"
)

// isZombie reads /proc/<pid>/status; an unreadable file is not a zombie.
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
