// Package hklock implements the housekeeping lock (§4.5): a pid+host record
// at a well-known repository-relative path, giving exactly one housekeeper
// process mutual exclusion across hosts sharing a filesystem.
package hklock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/objstore/housekeeper/utils"
)

// staleAfter is the deadlock-recovery ceiling: a lock record older than this
// is reclaimable regardless of whether its owning process is still alive.
const staleAfter = 12 * time.Hour

// maxHostFieldLen bounds the host field read back from a lock record, so a
// corrupted or adversarial file can't make the lock record unreasonably
// large in memory.
const maxHostFieldLen = 255

// Holder describes the owner recorded in an existing lock file.
type Holder struct {
	PID  int
	Host string
}

// Lock is the housekeeping lock at a single repository-relative path.
type Lock struct {
	path string
}

// New returns a Lock for the pid file at path (e.g. "<gitdir>/gc.pid").
func New(path string) *Lock { return &Lock{path: path} }

// Acquire attempts to take the lock. With force, any existing record is
// overwritten unconditionally. Otherwise a non-stale foreign holder blocks
// acquisition; its record is returned so the caller can report it.
func (l *Lock) Acquire(force bool) (acquired bool, holder *Holder, err error) {
	if !force {
		h, stale, err := l.readHolder()
		if err != nil {
			return false, nil, err
		}
		if h != nil && !stale {
			return false, h, nil
		}
	}

	host, err := os.Hostname()
	if err != nil {
		return false, nil, fmt.Errorf("resolve hostname: %w", err)
	}
	record := fmt.Sprintf("%d %s\n", os.Getpid(), host)
	if err := utils.AtomicWriteFile(l.path, []byte(record), 0o644); err != nil { //nolint:gosec,mnd // world-readable lock record
		return false, nil, fmt.Errorf("write lock %s: %w", l.path, err)
	}
	return true, nil, nil
}

// Release removes the lock file. Idempotent: removing an already-absent
// lock is not an error, matching "registered as a process-scoped temp so
// normal exit, atexit, and signal handlers unlink it" (§4.5) where the file
// may already be gone.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// readHolder reports the current holder of path, if any, and whether that
// holder is considered stale (either by mtime age, or because the recorded
// pid is not alive on the recorded host).
func (l *Lock) readHolder() (holder *Holder, stale bool, err error) {
	info, statErr := os.Stat(l.path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("stat lock %s: %w", l.path, statErr)
	}

	data, err := os.ReadFile(l.path) //nolint:gosec // repository-local lock path
	if err != nil {
		return nil, false, fmt.Errorf("read lock %s: %w", l.path, err)
	}

	h, parseErr := parseHolder(string(data))
	if parseErr != nil {
		return nil, true, nil // unparsable content is reclaimable, not fatal
	}

	if time.Since(info.ModTime()) > staleAfter {
		return h, true, nil
	}

	myHost, err := os.Hostname()
	if err != nil {
		return h, false, fmt.Errorf("resolve hostname: %w", err)
	}
	if h.Host != myHost {
		// Different host sharing this filesystem: liveness can't be checked
		// remotely, so a non-stale foreign-host record is always live.
		return h, false, nil
	}
	return h, !utils.IsProcessAlive(h.PID), nil
}

func parseHolder(s string) (*Holder, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return nil, fmt.Errorf("malformed lock record %q", s)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("parse pid in lock record: %w", err)
	}
	host := fields[1]
	if len(host) > maxHostFieldLen {
		host = host[:maxHostFieldLen]
	}
	return &Holder{PID: pid, Host: host}, nil
}
