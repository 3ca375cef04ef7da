package utils

import "syscall"

// IsProcessAlive returns true if a process with the given PID currently exists.
// Uses kill(pid, 0) — no signal is sent, only existence is checked. A
// permission error (EPERM) still means the process exists, just owned by
// someone else — which is exactly the "live foreign lock" case the
// housekeeping lock cares about.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
