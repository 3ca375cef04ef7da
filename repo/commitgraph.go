package repo

import (
	"bufio"
	"compress/zlib"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CommitGraph answers whether oid is already covered by the on-disk
// commit-graph file. The real chain-file binary layout is out of scope for
// this layer (the commit-graph write/verify workers that produce it are
// opaque child processes); production code conservatively reports nothing
// covered until a real reader is wired in, which only ever over-counts
// "commits not yet in the graph" — never under-counts it.
type CommitGraph interface {
	Contains(oid string) bool
}

// emptyCommitGraph is the conservative CommitGraph used when no real reader
// is available.
type emptyCommitGraph struct{}

func (emptyCommitGraph) Contains(string) bool { return false }

// EmptyCommitGraph is the CommitGraph to use until a real commit-graph file
// reader exists.
var EmptyCommitGraph CommitGraph = emptyCommitGraph{}

// CommitParents resolves a commit's direct parents. Returning an error for an
// oid that cannot be resolved as a loose commit (packed, or not a commit at
// all) is expected; the DFS probe treats it as a dead end rather than an
// abort.
type CommitParents interface {
	Parents(oid string) ([]string, error)
}

// LooseCommitParents resolves parents by inflating loose commit objects
// directly from the object store. Packed commits are out of scope (pack
// delta resolution is excluded by the on-disk pack format non-goal); probing
// one stops at the first packed ancestor it meets.
type LooseCommitParents struct {
	ObjectsDir string
}

// Parents implements CommitParents by reading and inflating a loose object.
func (l LooseCommitParents) Parents(oid string) ([]string, error) {
	if len(oid) < 3 {
		return nil, fmt.Errorf("malformed object id %q", oid)
	}
	path := filepath.Join(l.ObjectsDir, oid[:2], oid[2:])
	f, err := os.Open(path) //nolint:gosec // repository-local object path
	if err != nil {
		return nil, fmt.Errorf("open loose object %s: %w", oid, err)
	}
	defer f.Close() //nolint:errcheck

	zr, err := zlib.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("inflate loose object %s: %w", oid, err)
	}
	defer zr.Close() //nolint:errcheck

	br := bufio.NewReader(zr)
	header, err := br.ReadString(0)
	if err != nil {
		return nil, fmt.Errorf("read object header %s: %w", oid, err)
	}
	if !strings.HasPrefix(header, "commit ") {
		return nil, fmt.Errorf("object %s is not a commit", oid)
	}

	var parents []string
	for {
		line, err := br.ReadString('\n')
		line = strings.TrimSuffix(line, "\n")
		if strings.HasPrefix(line, "parent ") {
			parents = append(parents, strings.TrimPrefix(line, "parent "))
		} else if line == "" || !strings.Contains(line, " ") {
			break // blank line or non-header line ends the parent block
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read commit body %s: %w", oid, err)
		}
	}
	return parents, nil
}

// commitMarkSet is the scoped transient marker described in the design
// notes: a single-use visited set local to one DFS call, cleared simply by
// going out of scope rather than as a module-level flag requiring explicit
// release on every exit path.
type commitMarkSet struct {
	seen map[string]struct{}
}

func newCommitMarkSet() *commitMarkSet { return &commitMarkSet{seen: make(map[string]struct{})} }

// mark reports whether oid was newly marked (false if already seen).
func (s *commitMarkSet) mark(oid string) bool {
	if _, ok := s.seen[oid]; ok {
		return false
	}
	s.seen[oid] = struct{}{}
	return true
}

// CountCommitsNotInGraph implements the §4.2 commit-graph DFS probe
// (dfs_on_ref): for every ref tip, walk its parents, not the tip itself,
// counting commits not yet in graph and not yet marked, until limit is
// reached. Stops early once the counter hits limit.
func CountCommitsNotInGraph(startOIDs []string, graph CommitGraph, parents CommitParents, limit int) int {
	if limit <= 0 {
		return 0
	}

	marks := newCommitMarkSet()
	var stack []string
	for _, oid := range startOIDs {
		marks.mark(oid) // ref tips seed the visited set but are never themselves counted
		if ps, err := parents.Parents(oid); err == nil {
			stack = append(stack, ps...)
		}
	}

	count := 0
	for len(stack) > 0 && count < limit {
		oid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !marks.mark(oid) || graph.Contains(oid) {
			continue
		}
		count++
		if count >= limit {
			break
		}

		if ps, err := parents.Parents(oid); err == nil {
			stack = append(stack, ps...)
		}
	}
	return count
}

// ShouldWriteCommitGraph reports whether the sampled count reached the
// configured limit, per §4.2: "write graph" iff counter >= limit.
func ShouldWriteCommitGraph(count, limit int) bool {
	return limit > 0 && count >= limit
}
