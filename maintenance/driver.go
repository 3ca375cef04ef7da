package maintenance

import (
	"context"
	"fmt"
	"strings"

	"github.com/projecteru2/core/log"

	"github.com/objstore/housekeeper/lock"
	"github.com/objstore/housekeeper/progress"
)

// RunOptions carries the "maintenance run" command's flags (§6).
type RunOptions struct {
	Auto  bool
	Quiet bool
	// Tasks is the --task selection list, in the order given. Empty means
	// "run every enabled task in registration order".
	Tasks []string
}

// EventPhase distinguishes the events a Driver emits per task: Started then
// Finished for a task that runs, or a single Skipped for one that does not.
type EventPhase int

const (
	PhaseTaskStarted EventPhase = iota
	PhaseTaskSkipped
	PhaseTaskFinished
)

// Event is the progress.Tracker payload a Driver emits around each task.
type Event struct {
	Task  string
	Phase EventPhase
	Err   error // set only for PhaseTaskFinished
}

// Driver runs a Registry's tasks against one per-run lock.
type Driver struct {
	registry *Registry
	runLock  lock.Locker
	tracker  progress.Tracker
}

// NewDriver builds a Driver using runLock as the per-run mutual-exclusion
// lock (typically a flock.Lock at "<object-store>/maintenance").
func NewDriver(registry *Registry, runLock lock.Locker) *Driver {
	return &Driver{registry: registry, runLock: runLock, tracker: progress.Nop}
}

// WithTracker attaches a progress.Tracker that receives an Event around
// every task's evaluation and execution.
func (d *Driver) WithTracker(t progress.Tracker) *Driver {
	if t != nil {
		d.tracker = t
	}
	return d
}

// Run selects tasks per opts, acquires the maintenance lock, and executes
// them sequentially, stopping at the first failure.
func (d *Driver) Run(ctx context.Context, opts RunOptions) error {
	ok, err := d.runLock.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("acquire maintenance lock: %w", err)
	}
	if !ok {
		if opts.Auto || opts.Quiet {
			return nil
		}
		return fmt.Errorf("another maintenance run is already in progress")
	}
	defer func() {
		if err := d.runLock.Unlock(ctx); err != nil {
			log.WithFunc("maintenance.Driver.Run").Warnf(ctx, "release maintenance lock: %v", err)
		}
	}()

	selected, err := d.selectTasks(opts.Tasks)
	if err != nil {
		return err
	}

	for _, t := range selected {
		if opts.Auto {
			if t.Auto == nil {
				// No auto-condition means the task is not auto-enabled at
				// all (e.g. fetch, §4.8): under --auto it is always
				// skipped, never run unconditionally.
				d.tracker.OnEvent(Event{Task: t.Name, Phase: PhaseTaskSkipped})
				continue
			}
			should, err := t.Auto(ctx)
			if err != nil {
				return fmt.Errorf("evaluate auto-condition for task %q: %w", t.Name, err)
			}
			if !should {
				d.tracker.OnEvent(Event{Task: t.Name, Phase: PhaseTaskSkipped})
				continue
			}
		}
		d.tracker.OnEvent(Event{Task: t.Name, Phase: PhaseTaskStarted})
		err := t.Execute(ctx)
		d.tracker.OnEvent(Event{Task: t.Name, Phase: PhaseTaskFinished, Err: err})
		if err != nil {
			return fmt.Errorf("task %q failed: %w", t.Name, err)
		}
	}
	return nil
}

// selectTasks implements §4.9's selection rules: no --task means every
// enabled task in registration order; explicit --task names must each exist
// and appear at most once, running in the order given.
func (d *Driver) selectTasks(names []string) ([]*Task, error) {
	if len(names) == 0 {
		return d.registry.Enabled(), nil
	}

	seen := make(map[string]struct{}, len(names))
	out := make([]*Task, 0, len(names))
	for _, name := range names {
		t, ok := d.registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown maintenance task %q", name)
		}
		key := strings.ToLower(t.Name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("task %q selected more than once", name)
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}
