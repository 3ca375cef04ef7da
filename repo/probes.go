package repo

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
)

const fanoutBuckets = 256

// looseObjectName reports whether name looks like a loose object's filename
// within a fan-out bucket directory: the remaining hex digits of a sha1
// (38) or sha256 (62) object id.
func looseObjectName(name string) bool {
	if len(name) != 38 && len(name) != 62 {
		return false
	}
	for _, c := range name {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// LooseObjectBucket deterministically picks the single fan-out bucket ("00"
// through "ff") the density probe samples for a given object store, so
// repeated probes within a run (and across otherwise-identical test fixtures)
// agree on which bucket to read.
func LooseObjectBucket(objectsDir string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(objectsDir))
	return fmt.Sprintf("%02x", h.Sum32()%fanoutBuckets)
}

// SampleLooseObjectCount counts loose objects in the single sampled bucket of
// objectsDir (§4.2 loose-object density probe). Hashes are uniformly
// distributed across buckets, so one bucket is an unbiased estimator and this
// avoids a full object-dir walk on every invocation.
func SampleLooseObjectCount(objectsDir string) int {
	bucket := LooseObjectBucket(objectsDir)
	entries, err := os.ReadDir(filepath.Join(objectsDir, bucket))
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && looseObjectName(e.Name()) {
			n++
		}
	}
	return n
}

// TooLoose reports whether a sampled per-bucket count indicates the
// repository overall exceeds gcAuto loose objects, per §4.2: the repo is
// "too loose" when the sampled count exceeds ceil(gcAuto / 256).
func TooLoose(sampled int, gcAuto int) bool {
	if gcAuto <= 0 {
		return false
	}
	threshold := (gcAuto + fanoutBuckets - 1) / fanoutBuckets
	return sampled > threshold
}

// idxHeaderAndFanout and idxEntrySize approximate a version-2 pack index's
// layout (8-byte header + 256-entry fan-out table, then one entry per
// object) closely enough to derive an approximate packed-object count
// without parsing the index contents — full index parsing is out of scope.
const (
	idxHeaderAndFanout = 8 + 256*4
	idxEntrySize       = 20 + 4 + 4 // sha1 + crc32 + 4-byte offset
)

// EstimatePackedObjectCount derives an approximate object count for pack p
// from its index size, used as the N term of the memory estimator (§4.3).
func EstimatePackedObjectCount(p Pack) int64 {
	n := (p.IndexSize - idxHeaderAndFanout) / idxEntrySize
	if n < 0 {
		return 0
	}
	return n
}

// EnumerateLooseObjects walks every fan-out bucket collecting loose object
// ids, stopping once limit is reached (limit <= 0 means unlimited). Used by
// the loose-objects maintenance task to feed pack-objects' stdin; unlike
// SampleLooseObjectCount this is a full walk, appropriate for an operation
// rather than a cheap probe.
func EnumerateLooseObjects(objectsDir string, limit int) ([]string, error) {
	buckets, err := os.ReadDir(objectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", objectsDir, err)
	}

	var oids []string
	for _, b := range buckets {
		if !b.IsDir() || len(b.Name()) != 2 {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(objectsDir, b.Name()))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !looseObjectName(e.Name()) {
				continue
			}
			oids = append(oids, b.Name()+e.Name())
			if limit > 0 && len(oids) >= limit {
				return oids, nil
			}
		}
	}
	return oids, nil
}

// TotalSystemRAM returns total physical memory in bytes, or 0 if it cannot be
// determined — per §4.2, callers then treat the memory gate as "unknown,
// proceed".
func TotalSystemRAM() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return v.Total
}

// EnumerateRefs returns every ref name under refs/ plus any names recorded in
// packed-refs, each mapped to its raw object id. Annotated-tag peeling is out
// of scope; the oid returned for a tag ref is the tag object's own id.
func (r *Repository) EnumerateRefs() (map[string]string, error) {
	refs := make(map[string]string)

	if err := filepath.WalkDir(r.GitPath("refs"), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, readErr := os.ReadFile(path) //nolint:gosec // repository-local ref path
		if readErr != nil {
			return readErr
		}
		if oid := strings.TrimSpace(string(data)); oid != "" {
			refs[refName(r.GitPath("refs"), path)] = oid
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("walk refs: %w", err)
	}

	if err := parsePackedRefs(r.GitPath("packed-refs"), refs); err != nil {
		return nil, err
	}

	return refs, nil
}

func refName(refsRoot, path string) string {
	rel, err := filepath.Rel(filepath.Dir(refsRoot), path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// parsePackedRefs merges entries from a packed-refs file into refs, without
// overriding any loose ref already present (loose refs shadow packed ones).
func parsePackedRefs(path string, refs map[string]string) error {
	f, err := os.Open(path) //nolint:gosec // repository-local path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open packed-refs: %w", err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue // '^' lines annotate the preceding entry's peeled target; out of scope
		}
		oid, name, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		if _, exists := refs[name]; !exists {
			refs[name] = oid
		}
	}
	return scanner.Err()
}
