package repo

import (
	"os"
	"path/filepath"

	"github.com/objstore/housekeeper/utils"
)

// Pack is a read-only view of one packfile, valid for one probe cycle (re-read
// after a repack completes).
type Pack struct {
	Name                  string // base name, e.g. "pack-<fingerprint>"
	Size                  int64
	IndexSize             int64
	Local                 bool // this module never models alternates; always true
	Keep                  bool // excluded from repack (".keep" sibling present)
	MultiPackIndexCovered bool
}

// MultiPackIndexReader answers which packs a multi-pack-index currently
// covers. The real midx binary layout is out of scope for this layer (the
// multi-pack-index workers that write/verify it are opaque child processes).
// The only implementation shipped here is NoMultiPackIndex, which reports no
// pack as covered even when a multi-pack-index file exists; tests supply a
// fake.
type MultiPackIndexReader interface {
	CoveredPacks() (map[string]bool, error)
}

// noMultiPackIndex reports nothing as covered. Every caller in this module
// uses it, including the pack-files task with core.multiPackIndex enabled, so
// every local non-keep pack counts as uncovered there.
type noMultiPackIndex struct{}

func (noMultiPackIndex) CoveredPacks() (map[string]bool, error) { return nil, nil }

// NoMultiPackIndex is the MultiPackIndexReader for repositories with no midx.
var NoMultiPackIndex MultiPackIndexReader = noMultiPackIndex{}

// ListPacks enumerates the local packs in dir along with any orphaned index
// files (an .idx with no matching .pack). midx classifies which of the
// returned packs are covered.
func ListPacks(dir string, midx MultiPackIndexReader) (packs []Pack, orphanIdx []string, err error) {
	packStems := utils.ScanFileStems(dir, ".pack")
	idxStems := utils.ScanFileStems(dir, ".idx")

	packSet := make(map[string]struct{}, len(packStems))
	for _, s := range packStems {
		packSet[s] = struct{}{}
	}

	covered, err := midx.CoveredPacks()
	if err != nil {
		return nil, nil, err
	}

	for _, stem := range packStems {
		packPath := filepath.Join(dir, stem+".pack")
		idxPath := filepath.Join(dir, stem+".idx")
		keepPath := filepath.Join(dir, stem+".keep")

		info, statErr := os.Stat(packPath)
		if statErr != nil {
			continue // removed between scan and stat; skip rather than fail the whole probe
		}
		var indexSize int64
		if idxInfo, idxErr := os.Stat(idxPath); idxErr == nil {
			indexSize = idxInfo.Size()
		}
		_, keepErr := os.Stat(keepPath)

		packs = append(packs, Pack{
			Name:                  stem,
			Size:                  info.Size(),
			IndexSize:             indexSize,
			Local:                 true,
			Keep:                  keepErr == nil,
			MultiPackIndexCovered: covered[stem],
		})
	}

	for _, stem := range utils.FilterUnreferenced(idxStems, packSet) {
		orphanIdx = append(orphanIdx, filepath.Join(dir, stem+".idx"))
	}

	return packs, orphanIdx, nil
}

// LocalNonKeepCount counts packs eligible for the pack-count auto-trigger
// (§4.2): local and not individually marked keep.
func LocalNonKeepCount(packs []Pack) int {
	n := 0
	for _, p := range packs {
		if p.Local && !p.Keep {
			n++
		}
	}
	return n
}

// UncoveredByMultiPackIndex returns the local, non-keep packs midx does not
// yet cover, used by the pack-files task's auto-condition.
func UncoveredByMultiPackIndex(packs []Pack) []Pack {
	var out []Pack
	for _, p := range packs {
		if p.Local && !p.Keep && !p.MultiPackIndexCovered {
			out = append(out, p)
		}
	}
	return out
}

// SelectBasePacks implements §4.2's base-pack selection, including the
// supplemented --keep-largest-pack override: when force is set, only the
// single largest pack is ever kept, regardless of threshold.
func SelectBasePacks(packs []Pack, threshold uint64, forceLargestOnly bool) []Pack {
	largest := largestPack(packs)
	if largest == nil {
		return nil
	}
	if forceLargestOnly || threshold == 0 {
		return []Pack{*largest}
	}
	var out []Pack
	for _, p := range packs {
		if uint64(p.Size) >= threshold { //nolint:gosec // pack sizes are non-negative
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []Pack{*largest}
	}
	return out
}

func largestPack(packs []Pack) *Pack {
	var best *Pack
	for i := range packs {
		if best == nil || packs[i].Size > best.Size {
			best = &packs[i]
		}
	}
	return best
}
