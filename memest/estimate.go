// Package memest estimates the peak working set of a hypothetical repack
// (§4.3) and compares it against available system RAM.
package memest

import (
	"github.com/docker/go-units"

	"github.com/objstore/housekeeper/repo"
)

// Per-object bookkeeping sizes approximating git's internal structures
// (struct object_entry, struct blob, struct tree, the object hash table's
// pointer slots, and a pack revindex entry). These are deliberately rough —
// the estimator itself is a heuristic gate, not an exact accounting.
const (
	sizeofObjectEntry  = 72
	sizeofBlob         = 24
	sizeofTree         = 40
	sizeofPointer      = 8
	sizeofRevIndexEntry = 16
)

// Defaults for the two cache-size knobs the estimator folds in when the
// repository config doesn't override them (git's own core.deltaBaseCacheLimit
// and pack.deltaCacheSize defaults).
const (
	DefaultDeltaBaseCacheLimit uint64 = 96 * units.MiB
	DefaultDeltaCacheSize      uint64 = 256 * units.MiB
)

// Estimate holds the derived working-set size and the RAM it was compared
// against, for logging and test assertions.
type Estimate struct {
	WorkingSet uint64
	TotalRAM   uint64
}

// ExceedsBudget reports whether the estimate's self-imposed policy — working
// set must fit within half of system RAM — is violated. A TotalRAM of 0
// (probe failed) is treated as "unknown, proceed": never exceeded.
func (e Estimate) ExceedsBudget() bool {
	if e.TotalRAM == 0 {
		return false
	}
	return e.WorkingSet*2 > e.TotalRAM
}

// String renders both sides of the comparison using human-readable units,
// suitable for a log line explaining why a pack was or wasn't added to the
// keep list.
func (e Estimate) String() string {
	return units.HumanSize(float64(e.WorkingSet)) + " working set vs " + units.HumanSize(float64(e.TotalRAM)) + " RAM"
}

// EstimateRepack computes the §4.3 formula for a hypothetical repack whose
// largest base pack is basePack (nil if there are no packs yet) containing
// approximately objectCount objects, using deltaBaseCacheLimit and
// deltaCacheSize read from repository config.
func EstimateRepack(basePack *repo.Pack, objectCount int64, deltaBaseCacheLimit, deltaCacheSize uint64, totalRAM uint64) Estimate {
	var workingSet uint64
	if basePack != nil {
		workingSet += uint64(basePack.Size) + uint64(basePack.IndexSize) //nolint:gosec // pack sizes are non-negative
	}

	n := uint64(0)
	if objectCount > 0 {
		n = uint64(objectCount) //nolint:gosec // checked positive above
	}

	workingSet += sizeofObjectEntry * n
	workingSet += sizeofBlob * (n / 2)
	workingSet += sizeofTree * (n / 2)
	workingSet += sizeofPointer * n
	workingSet += sizeofRevIndexEntry * n
	workingSet += deltaBaseCacheLimit
	workingSet += deltaCacheSize

	return Estimate{WorkingSet: workingSet, TotalRAM: totalRAM}
}
