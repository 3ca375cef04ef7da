// Package autotrigger implements need_to_gc (§4.4): the predicate deciding
// whether an --auto invocation does any work at all, and if so, what kind of
// repack to queue.
package autotrigger

import (
	"context"
	"fmt"

	"github.com/objstore/housekeeper/memest"
	"github.com/objstore/housekeeper/repo"
	"github.com/objstore/housekeeper/worker"
)

// Decision is the outcome of NeedToGC: whether to run at all, and the repack
// shape to queue if so.
type Decision struct {
	Run    bool
	Repack worker.RepackOptions
}

// Inputs bundles the probe results NeedToGC needs, so the caller controls
// exactly when each cheap read (pack list, loose sample, RAM) happens.
type Inputs struct {
	Packs             []repo.Pack
	LooseSampleCount  int
	TotalRAM          uint64
	ApproxObjectCount int64
}

// ProbeInputs gathers the cheap read-only probes NeedToGC needs: the local
// pack list, a loose-object density sample, current total RAM, and an
// approximate packed-object count derived from each pack's index. Shared by
// every caller of NeedToGC so the probe logic isn't duplicated per command.
func ProbeInputs(r *repo.Repository) (Inputs, error) {
	packs, _, err := repo.ListPacks(r.PackDir(), repo.NoMultiPackIndex)
	if err != nil {
		return Inputs{}, fmt.Errorf("list packs: %w", err)
	}
	var approxObjects int64
	for _, p := range packs {
		approxObjects += repo.EstimatePackedObjectCount(p)
	}
	return Inputs{
		Packs:             packs,
		LooseSampleCount:  repo.SampleLooseObjectCount(r.ObjectStoreRoot()),
		TotalRAM:          repo.TotalSystemRAM(),
		ApproxObjectCount: approxObjects,
	}, nil
}

// NeedToGC implements §4.4 steps 1-5. It invokes the pre-auto-gc hook as its
// final step; a non-zero hook exit suppresses an otherwise-true decision.
func NeedToGC(ctx context.Context, r *repo.Repository, in Inputs, invoker *worker.Invoker) (Decision, error) {
	gcAuto := r.Config.Int("gc.auto", 6700) //nolint:mnd // git's own default
	if gcAuto <= 0 {
		return Decision{}, nil
	}

	autoPackLimit := r.Config.Int("gc.autoPackLimit", 50) //nolint:mnd // git's own default
	packCount := repo.LocalNonKeepCount(in.Packs)

	var decision Decision
	switch {
	case autoPackLimit > 0 && packCount > autoPackLimit:
		repackOpts, err := planAllRepack(r, in)
		if err != nil {
			return Decision{}, err
		}
		decision = Decision{Run: true, Repack: repackOpts}
	case repo.TooLoose(in.LooseSampleCount, gcAuto):
		decision = Decision{Run: true, Repack: worker.RepackOptions{NoWriteBitmapIndex: true}}
	default:
		return Decision{}, nil
	}

	ran, err := invoker.RunHook(ctx, r.GitPath(), "pre-auto-gc")
	if err != nil {
		// The hook vetoed this run: report "nothing to do", not a failure.
		return Decision{}, nil
	}
	_ = ran
	return decision, nil
}

// planAllRepack implements the "pack count exceeds limit" branch of §4.4
// step 2: choosing a keep-pack set via either the big-pack threshold or the
// memory estimator, then building the -A/-a repack options.
func planAllRepack(r *repo.Repository, in Inputs) (worker.RepackOptions, error) {
	autoPackLimit := r.Config.Int("gc.autoPackLimit", 50) //nolint:mnd // git's own default
	bigPackThreshold := r.Config.Uint64("gc.bigPackThreshold", 0)

	var keep []repo.Pack
	if bigPackThreshold > 0 {
		keep = repo.SelectBasePacks(in.Packs, bigPackThreshold, false)
		if len(keep) >= autoPackLimit {
			// The threshold itself would keep too many packs to make
			// progress; abandon it and fall back to keeping only the
			// largest pack.
			keep = repo.SelectBasePacks(in.Packs, 0, true)
		}
	} else {
		basePack := largestOf(in.Packs)
		deltaBaseCacheLimit := r.Config.Uint64("core.deltaBaseCacheLimit", memest.DefaultDeltaBaseCacheLimit)
		deltaCacheSize := r.Config.Uint64("pack.deltaCacheSize", memest.DefaultDeltaCacheSize)
		est := memest.EstimateRepack(basePack, in.ApproxObjectCount, deltaBaseCacheLimit, deltaCacheSize, in.TotalRAM)
		if est.ExceedsBudget() && basePack != nil {
			keep = []repo.Pack{*basePack}
		}
	}

	expire := r.Config.String("gc.pruneExpire", "2.weeks.ago")
	names := make([]string, len(keep))
	for i, p := range keep {
		names[i] = p.Name
	}

	if expire == "now" {
		return worker.RepackOptions{Aggressive: true, KeepPacks: names}, nil
	}
	return worker.RepackOptions{All: true, UnpackUnreachable: expire, KeepPacks: names}, nil
}

func largestOf(packs []repo.Pack) *repo.Pack {
	var best *repo.Pack
	for i := range packs {
		if best == nil || packs[i].Size > best.Size {
			best = &packs[i]
		}
	}
	return best
}
