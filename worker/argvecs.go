package worker

import "fmt"

// PackRefsArgs builds "pack-refs --all --prune".
func PackRefsArgs() []string { return []string{"pack-refs", "--all", "--prune"} }

// ReflogExpireArgs builds "reflog expire --all".
func ReflogExpireArgs() []string { return []string{"reflog", "expire", "--all"} }

// RepackOptions controls RepackArgs.
type RepackOptions struct {
	All                bool // -A: repack everything, unpacking unreachable objects per UnpackUnreachable
	Aggressive         bool // -a: repack everything, discarding unreachable objects
	UnpackUnreachable  string
	KeepPacks          []string
	Depth, Window      int
	Quiet              bool
	NoWriteBitmapIndex bool
}

// RepackArgs builds the repack invocation per §6's documented contract.
func RepackArgs(o RepackOptions) []string {
	args := []string{"repack", "-d", "-l"}
	switch {
	case o.All:
		args = append(args, "-A")
	case o.Aggressive:
		args = append(args, "-a")
	}
	if o.UnpackUnreachable != "" {
		args = append(args, "--unpack-unreachable="+o.UnpackUnreachable)
	}
	for _, p := range o.KeepPacks {
		args = append(args, "--keep-pack="+p)
	}
	if o.Aggressive {
		args = append(args, "-f")
		if o.Depth > 0 {
			args = append(args, fmt.Sprintf("--depth=%d", o.Depth))
		}
		if o.Window > 0 {
			args = append(args, fmt.Sprintf("--window=%d", o.Window))
		}
	}
	if o.Quiet {
		args = append(args, "-q")
	}
	if o.NoWriteBitmapIndex {
		args = append(args, "--no-write-bitmap-index")
	}
	return args
}

// PruneArgs builds "prune --expire <when> [--no-progress] [--exclude-promisor-objects]".
func PruneArgs(expire string, noProgress, excludePromisor bool) []string {
	args := []string{"prune", "--expire", expire}
	if noProgress {
		args = append(args, "--no-progress")
	}
	if excludePromisor {
		args = append(args, "--exclude-promisor-objects")
	}
	return args
}

// WorktreePruneArgs builds "worktree prune --expire <when>".
func WorktreePruneArgs(expire string) []string {
	return []string{"worktree", "prune", "--expire", expire}
}

// RerereGCArgs builds "rerere gc".
func RerereGCArgs() []string { return []string{"rerere", "gc"} }

// CommitGraphWriteArgs builds "commit-graph write --split --reachable [--no-progress]".
func CommitGraphWriteArgs(noProgress bool) []string {
	args := []string{"commit-graph", "write", "--split", "--reachable"}
	if noProgress {
		args = append(args, "--no-progress")
	}
	return args
}

// CommitGraphVerifyArgs builds "commit-graph verify --shallow [--no-progress]".
func CommitGraphVerifyArgs(noProgress bool) []string {
	args := []string{"commit-graph", "verify", "--shallow"}
	if noProgress {
		args = append(args, "--no-progress")
	}
	return args
}

// MultiPackIndexAction names one of the midx state-machine steps.
type MultiPackIndexAction string

const (
	MultiPackIndexWrite  MultiPackIndexAction = "write"
	MultiPackIndexVerify MultiPackIndexAction = "verify"
	MultiPackIndexExpire MultiPackIndexAction = "expire"
	MultiPackIndexRepack MultiPackIndexAction = "repack"
)

// MultiPackIndexArgs builds "multi-pack-index {write|verify|expire|repack
// --batch-size=<N>} [--no-progress]".
func MultiPackIndexArgs(action MultiPackIndexAction, batchSize int, noProgress bool) []string {
	args := []string{"multi-pack-index", string(action)}
	if action == MultiPackIndexRepack {
		args = append(args, fmt.Sprintf("--batch-size=%d", batchSize))
	}
	if noProgress {
		args = append(args, "--no-progress")
	}
	return args
}

// PackObjectsArgs builds "pack-objects <object-dir>/pack/loose [--quiet]",
// object ids are fed one-per-line on stdin by the caller via RunStdin.
func PackObjectsArgs(packDir string, quiet bool) []string {
	args := []string{"pack-objects", packDir + "/loose"}
	if quiet {
		args = append(args, "--quiet")
	}
	return args
}

// FetchArgs builds "fetch <remote> --prune --no-tags
// --refmap=+refs/heads/*:refs/hidden/<remote>/* [--quiet]".
func FetchArgs(remote string, quiet bool) []string {
	args := []string{
		"fetch", remote,
		"--prune", "--no-tags",
		fmt.Sprintf("--refmap=+refs/heads/*:refs/hidden/%s/*", remote),
	}
	if quiet {
		args = append(args, "--quiet")
	}
	return args
}

// PrunePackedArgs builds "prune-packed [--quiet]".
func PrunePackedArgs(quiet bool) []string {
	args := []string{"prune-packed"}
	if quiet {
		args = append(args, "--quiet")
	}
	return args
}
