package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/jacquesio/jacques/internal/errs"
)

// acquirePIDFile claims path for this process. A file holding a live PID
// means another daemon owns it; an absent file, a dead PID, or garbage is
// replaced.
func acquirePIDFile(path string) error {
	const op = "cli.acquirePIDFile"

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if pid, ok := parsePID(data); ok && pid != os.Getpid() && pidAlive(pid) {
			return errs.Newf(errs.Conflict, op, "another instance is running (pid %d, %s)", pid, path)
		}
	case !os.IsNotExist(err):
		return errs.Wrap(errs.IO, op, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.IO, op, err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return errs.Wrap(errs.IO, op, err)
	}
	return nil
}

// releasePIDFile removes the pid file, unless someone else has since
// overwritten it with their own pid.
func releasePIDFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if pid, ok := parsePID(data); ok && pid != os.Getpid() {
		return
	}
	os.Remove(path)
}

func parsePID(data []byte) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid, err == nil && pid > 0
}

func pidAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}
