package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/jacquesio/jacques/internal/errs"
)

const lockFileName = ".extract.lock"

// projectLock is a per-project advisory lock: one extractor per catalog
// directory at a time. The lock file holds the owner pid; a lock whose owner
// is gone counts as stale and is reclaimed.
type projectLock struct {
	path string
}

func acquireLock(dir string) (*projectLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.IO, "catalog.acquireLock", err)
	}
	path := filepath.Join(dir, lockFileName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &projectLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, errs.Wrap(errs.IO, "catalog.acquireLock", err)
		}
		if ownerAlive(path) {
			return nil, errs.Newf(errs.Conflict, "catalog.acquireLock",
				"catalog locked by a live process (%s)", path)
		}
		os.Remove(path)
	}
	return nil, errs.New(errs.Conflict, "catalog.acquireLock", "could not reclaim stale lock")
}

func ownerAlive(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return true
	}
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}

func (l *projectLock) release() {
	os.Remove(l.path)
}
