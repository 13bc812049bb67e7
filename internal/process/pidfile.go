package process

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/loykin/botminter/internal/fileutil"
)

var ErrInvalidPIDFile = errors.New("invalid pid file")

// WritePIDFile stores pid as plain decimal text, owner-only.
func WritePIDFile(path string, pid int) error {
	return fileutil.AtomicWriteFile(path, []byte(strconv.Itoa(pid)), 0o600)
}

// ReadPIDFile parses a file written by WritePIDFile. A missing file returns
// an error satisfying os.IsNotExist; unparsable content wraps ErrInvalidPIDFile.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w %s: %q", ErrInvalidPIDFile, path, s)
	}
	return pid, nil
}
