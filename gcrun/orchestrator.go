// Package gcrun implements the GC orchestrator (§4.7 cmd_gc): the fixed
// pipeline run by the "gc" command and, in turn, by the maintenance driver's
// "gc" task.
package gcrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/objstore/housekeeper/hklock"
	"github.com/objstore/housekeeper/repo"
	"github.com/objstore/housekeeper/worker"
)

const (
	defaultReflogExpire            = "90.day.ago"
	defaultReflogExpireUnreachable = "30.day.ago"
	defaultAggressiveWindow        = 250
	defaultAggressiveDepth         = 50
)

// RunOptions carries the gc command's flags (§6).
type RunOptions struct {
	Auto            bool
	Force           bool
	Aggressive      bool
	Quiet           bool
	Prune           repo.Expiry // IsNever() skips the prune step entirely
	KeepLargestPack bool
	// Detached marks this invocation as the forked child of an --auto run;
	// step 11 (unlink residual gc.log) only applies to non-detached runs.
	Detached bool
	// Repack, when set, is the exact repack shape a prior need_to_gc (§4.4)
	// decision already computed (all-vs-incremental, keep-pack list,
	// --no-write-bitmap-index). It overrides the flag-derived computation in
	// repackAndPrune; only the CLI-only Quiet bit is still merged in.
	Repack *worker.RepackOptions
}

// Orchestrator runs the gc pipeline against one repository.
type Orchestrator struct {
	Repo    *repo.Repository
	Invoker *worker.Invoker
	lock    *hklock.Lock
}

// New builds an Orchestrator for r, using the documented gc.pid lock path.
func New(r *repo.Repository, invoker *worker.Invoker) *Orchestrator {
	return &Orchestrator{Repo: r, Invoker: invoker, lock: hklock.New(r.GitPath("gc.pid"))}
}

// Run executes the fixed pipeline: pre-repack, repack+prune (unless
// preciousObjects), worktree prune, rerere gc, pack-garbage sweep, optional
// commit-graph write. Any subordinate failure is fatal per §7 item 4.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) error {
	logger := log.WithFunc("gcrun.Run")

	acquired, holder, err := o.lock.Acquire(opts.Force)
	if err != nil {
		return fmt.Errorf("acquire housekeeping lock: %w", err)
	}
	if !acquired {
		if opts.Auto {
			logger.Infof(ctx, "another gc is running on %s (pid %d), skipping auto run", holder.Host, holder.PID)
			return nil
		}
		return fmt.Errorf("gc is already running on host %s (pid %d); use --force to override", holder.Host, holder.PID)
	}
	defer func() {
		if err := o.lock.Release(); err != nil {
			logger.Warnf(ctx, "release housekeeping lock: %v", err)
		}
	}()

	if err := o.preRepack(ctx); err != nil {
		return fmt.Errorf("failed to run pre-repack phase: %w", err)
	}

	if !o.Repo.Config.Bool("core.preciousobjects", false) {
		if err := o.repackAndPrune(ctx, opts); err != nil {
			return err
		}
	}

	if _, err := o.Invoker.Run(ctx, worker.WorktreePruneArgs(o.worktreePruneExpire())...); err != nil {
		return fmt.Errorf("failed to run git worktree prune: %w", err)
	}

	if _, err := o.Invoker.Run(ctx, worker.RerereGCArgs()...); err != nil {
		return fmt.Errorf("failed to run git rerere gc: %w", err)
	}

	if err := o.sweepPackGarbage(ctx); err != nil {
		return fmt.Errorf("failed to sweep pack garbage: %w", err)
	}

	if o.Repo.Config.Bool("gc.writecommitgraph", false) {
		if _, err := o.Invoker.Run(ctx, worker.CommitGraphWriteArgs(opts.Quiet || opts.Auto)...); err != nil {
			return fmt.Errorf("failed to run git commit-graph write: %w", err)
		}
	}

	if opts.Auto {
		o.warnIfStillLoose(ctx)
	}

	if !opts.Detached {
		if err := os.Remove(o.Repo.GitPath("gc.log")); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove residual gc.log: %w", err)
		}
	}

	return nil
}

// preRepack runs pack-refs and reflog expire, each independently skippable.
// Idempotent: safe to call again across a detach boundary since each step's
// own skip condition is re-evaluated from current repository state.
func (o *Orchestrator) preRepack(ctx context.Context) error {
	if o.packRefsEnabled() {
		if _, err := o.Invoker.Run(ctx, worker.PackRefsArgs()...); err != nil {
			return fmt.Errorf("failed to run git pack-refs: %w", err)
		}
	}

	if !o.reflogExpirySkipped() {
		if _, err := o.Invoker.Run(ctx, worker.ReflogExpireArgs()...); err != nil {
			return fmt.Errorf("failed to run git reflog expire: %w", err)
		}
	}
	return nil
}

// packRefsEnabled reads gc.packrefs, treating the "notbare" string as "skip
// in bare repositories" and any other non-boolean value as enabled.
func (o *Orchestrator) packRefsEnabled() bool {
	enabled, raw, isBool := o.Repo.Config.RawBoolOrString("gc.packrefs", true)
	if isBool {
		return enabled
	}
	if raw == "notbare" {
		return !o.Repo.IsBare()
	}
	return true
}

// reflogExpirySkipped reports whether both reflog-expiry knobs resolve to
// "never", in which case the whole step is skipped.
func (o *Orchestrator) reflogExpirySkipped() bool {
	now := time.Now()
	expire, err := o.Repo.Config.Expiry("gc.reflogexpire", mustExpiry(defaultReflogExpire, now), now)
	if err != nil {
		return false
	}
	unreachable, err := o.Repo.Config.Expiry("gc.reflogexpireunreachable", mustExpiry(defaultReflogExpireUnreachable, now), now)
	if err != nil {
		return false
	}
	return expire.IsNever() && unreachable.IsNever()
}

func mustExpiry(s string, now time.Time) repo.Expiry {
	e, err := repo.ParseExpiry(s, now)
	if err != nil {
		panic(err) // s is one of our own constants; a parse failure is a programming error
	}
	return e
}

// repackAndPrune invokes repack, then prune when a prune expiry is set.
func (o *Orchestrator) repackAndPrune(ctx context.Context, opts RunOptions) error {
	repackOpts, err := o.resolveRepackOptions(opts)
	if err != nil {
		return err
	}

	if _, err := o.Invoker.Run(ctx, worker.RepackArgs(repackOpts)...); err != nil {
		return fmt.Errorf("failed to run git repack: %w", err)
	}

	if opts.Prune.IsNever() {
		return nil
	}
	excludePromisor := o.Repo.Config.AnyTrue(".promisor")
	if _, err := o.Invoker.Run(ctx, worker.PruneArgs(opts.Prune.String(), true, excludePromisor)...); err != nil {
		return fmt.Errorf("failed to run git prune: %w", err)
	}
	return nil
}

// resolveRepackOptions prefers a precomputed need_to_gc decision (opts.Repack)
// over deriving options from the gc command's own flags; Quiet always comes
// from opts since it is never part of an autotrigger decision.
func (o *Orchestrator) resolveRepackOptions(opts RunOptions) (worker.RepackOptions, error) {
	if opts.Repack != nil {
		repackOpts := *opts.Repack
		repackOpts.Quiet = opts.Quiet
		return repackOpts, nil
	}

	repackOpts := worker.RepackOptions{Aggressive: opts.Aggressive, Quiet: opts.Quiet}
	if opts.Aggressive {
		repackOpts.Window = o.Repo.Config.Int("gc.aggressivewindow", defaultAggressiveWindow)
		repackOpts.Depth = o.Repo.Config.Int("gc.aggressivedepth", defaultAggressiveDepth)
	}
	if opts.KeepLargestPack {
		packs, _, err := repo.ListPacks(o.Repo.PackDir(), repo.NoMultiPackIndex)
		if err != nil {
			return worker.RepackOptions{}, fmt.Errorf("list packs: %w", err)
		}
		for _, p := range repo.SelectBasePacks(packs, 0, true) {
			repackOpts.KeepPacks = append(repackOpts.KeepPacks, p.Name)
		}
	}
	return repackOpts, nil
}

func (o *Orchestrator) worktreePruneExpire() string {
	return o.Repo.Config.String("gc.worktreepruneexpire", "3.month.ago")
}

// sweepPackGarbage re-enumerates packs and unlinks orphaned index files
// (§4.7 step 8), observing the post-repack pack set.
func (o *Orchestrator) sweepPackGarbage(ctx context.Context) error {
	_, orphanIdx, err := repo.ListPacks(o.Repo.PackDir(), repo.NoMultiPackIndex)
	if err != nil {
		return fmt.Errorf("list packs: %w", err)
	}

	logger := log.WithFunc("gcrun.sweepPackGarbage")
	var errs []error
	for _, path := range orphanIdx {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove orphaned index %s: %w", path, err))
			continue
		}
		logger.Infof(ctx, "removed orphaned pack index: %s", path)
	}
	return errors.Join(errs...)
}

// warnIfStillLoose implements §4.7 step 10.
func (o *Orchestrator) warnIfStillLoose(ctx context.Context) {
	gcAuto := o.Repo.Config.Int("gc.auto", 6700) //nolint:mnd // git's own default
	sample := repo.SampleLooseObjectCount(o.Repo.ObjectStoreRoot())
	if repo.TooLoose(sample, gcAuto) {
		log.WithFunc("gcrun.Run").Warnf(ctx, "there are still a lot of loose objects after repacking; run gc again")
	}
}
