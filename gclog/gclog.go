// Package gclog implements the log-capture manager (§4.6): redirecting a
// detached gc run's stderr into a lockfile that becomes the persistent
// failure marker on exit, with a previous-failure gate for the next auto run.
package gclog

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/objstore/housekeeper/repo"
	"github.com/objstore/housekeeper/utils"
)

// PreviousFailureBlocks inspects an existing gc.log at path. A non-empty log
// blocks the next auto run unless its mtime predates the expiry horizon, in
// which case it's stale and ignorable. An I/O error here must propagate to
// the caller, which maps it to exit 128 per §7 item 8.
func PreviousFailureBlocks(path string, expiry repo.Expiry, now time.Time) (blocks bool, contents string, err error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("stat %s: %w", path, statErr)
	}
	if info.Size() == 0 {
		return false, "", nil
	}
	if expiry.Before(info.ModTime()) {
		return false, "", nil // log predates the horizon; ignorable
	}
	data, err := os.ReadFile(path) //nolint:gosec // repository-local log path
	if err != nil {
		return false, "", fmt.Errorf("read %s: %w", path, err)
	}
	return true, string(data), nil
}

// Capture holds an in-progress redirected-stderr capture for one detached
// run.
type Capture struct {
	pending *utils.PendingFile
	logPath string
}

// BeginCapture opens a pending gc.log for this run's stderr.
func BeginCapture(logPath string) (*Capture, error) {
	pending, err := utils.NewPendingFile(logPath)
	if err != nil {
		return nil, err
	}
	return &Capture{pending: pending, logPath: logPath}, nil
}

// Writer returns the file stderr should be redirected into.
func (c *Capture) Writer() *os.File { return c.pending.File() }

// Finalize commits the captured log iff it received any output, otherwise
// discards the temp file and removes any stale gc.log left from a previous
// run — the log-idempotence invariant (§8): a silent run leaves no gc.log.
func (c *Capture) Finalize() error {
	info, err := c.pending.File().Stat()
	if err != nil {
		return fmt.Errorf("stat captured log: %w", err)
	}
	if info.Size() > 0 {
		return c.pending.Commit(0o644) //nolint:mnd // world-readable failure log
	}
	if err := c.pending.Discard(); err != nil {
		return err
	}
	if err := os.Remove(c.logPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale %s: %w", c.logPath, err)
	}
	return nil
}

// FinalizeOnSignal installs a handler for sigs that finalizes the capture
// then re-raises the signal so the process's default disposition still
// applies, per the design notes' "write, close, rename, unlink, raise" rule:
// no further work is done between finalize and re-raise. Call the returned
// stop function once the run completes normally so the handler doesn't fire
// on unrelated post-run signals.
func (c *Capture) FinalizeOnSignal(sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	stopped := make(chan struct{})

	go func() {
		select {
		case sig := <-ch:
			_ = c.Finalize() //nolint:errcheck // best-effort on a signal path
			signal.Stop(ch)
			if s, ok := sig.(syscall.Signal); ok {
				_ = syscall.Kill(os.Getpid(), s) //nolint:errcheck // re-raise, default disposition takes over
			}
		case <-stopped:
			signal.Stop(ch)
		}
	}()

	return func() { close(stopped) }
}
