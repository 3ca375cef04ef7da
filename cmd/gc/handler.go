package gc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/objstore/housekeeper/autotrigger"
	cmdcore "github.com/objstore/housekeeper/cmd/core"
	"github.com/objstore/housekeeper/gclog"
	"github.com/objstore/housekeeper/gcrun"
	"github.com/objstore/housekeeper/repo"
	"github.com/objstore/housekeeper/worker"
)

// autoRepackEnvVar carries a need_to_gc decision's repack shape across the
// detachSelf re-exec boundary: the parent already ran the pre-auto-gc hook
// and decided what to run, so the detached child must act on that exact
// decision rather than consulting need_to_gc (and the hook) a second time.
const autoRepackEnvVar = "HOUSEKEEPER_AUTO_REPACK"

// ioFailureExitCode is the exit status for a gc.log I/O error (§6, §7 item 8).
const ioFailureExitCode = 128

// exitCoder lets main map a handler's error to a specific process exit code
// without the handler calling os.Exit itself.
type exitCoder struct {
	err  error
	code int
}

func (e *exitCoder) Error() string { return e.err.Error() }
func (e *exitCoder) Unwrap() error { return e.err }

// ExitCode extracts the intended process exit status from err, defaulting to
// 1 for any ordinary (non-gc.log-I/O) failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if ec, ok := err.(*exitCoder); ok { //nolint:errorlint // own sentinel type, direct assertion is fine
		return ec.code
	}
	return 1
}

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) Run(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	if !cmd.Flags().Changed("quiet") {
		// Interactive terminals get progress output by default; anything else
		// (cron, a hook, a pipe) defaults to quiet, matching git's own
		// isatty-gated verbosity.
		quiet = !cmdcore.IsInteractive()
	}
	pruneFlag, _ := cmd.Flags().GetString("prune")
	aggressive, _ := cmd.Flags().GetBool("aggressive")
	auto, _ := cmd.Flags().GetBool("auto")
	force, _ := cmd.Flags().GetBool("force")
	keepLargestPack, _ := cmd.Flags().GetBool("keep-largest-pack")
	detached, _ := cmd.Flags().GetBool("detached")

	if pruneFlag == "now" {
		aggressive = true
	}

	r, err := repo.Open(cmdcore.RepoPath(conf))
	if err != nil {
		return err
	}
	now := time.Now()
	pruneExpiry, err := repo.ParseExpiry(pruneFlag, now)
	if err != nil {
		return fmt.Errorf("--prune: %w", err)
	}

	invoker := worker.New(workDir(r))
	opts := gcrun.RunOptions{
		Auto:            auto,
		Force:           force,
		Aggressive:      aggressive,
		Quiet:           quiet,
		Prune:           pruneExpiry,
		KeepLargestPack: keepLargestPack,
		Detached:        detached,
	}

	if !auto {
		return orchRun(ctx, r, invoker, opts)
	}
	return h.runAuto(ctx, r, invoker, opts)
}

// runAuto implements §4.7 step 2: consult need_to_gc, gate on a previous
// failure log, then either detach into a log-captured child or run inline
// when detaching is disabled. The detached child (opts.Detached) skips
// straight to installing log capture: need_to_gc and the previous-failure
// gate already ran in the parent before it re-exec'd, and gc.auto<=0 or a
// false decision there means detachSelf is never called at all.
func (h Handler) runAuto(ctx context.Context, r *repo.Repository, invoker *worker.Invoker, opts gcrun.RunOptions) error {
	logger := log.WithFunc("cmd.gc.runAuto")
	logPath := r.GitPath("gc.log")

	if opts.Detached {
		if raw := os.Getenv(autoRepackEnvVar); raw != "" {
			var repack worker.RepackOptions
			if err := json.Unmarshal([]byte(raw), &repack); err != nil {
				return fmt.Errorf("decode auto-repack decision: %w", err)
			}
			opts.Repack = &repack
		}
		return h.runDetached(ctx, r, invoker, opts, logPath)
	}

	in, err := autotrigger.ProbeInputs(r)
	if err != nil {
		return fmt.Errorf("probe auto-trigger inputs: %w", err)
	}
	decision, err := autotrigger.NeedToGC(ctx, r, in, invoker)
	if err != nil {
		return fmt.Errorf("need_to_gc: %w", err)
	}
	if !decision.Run {
		// gc.auto<=0, or neither heuristic tripped: exit clean, no children
		// spawned (§8 auto-trigger monotonicity, scenario 1).
		return nil
	}
	opts.Repack = &decision.Repack

	logExpiry, err := r.Config.Expiry("gc.logexpiry", mustDayAgo(), time.Now())
	if err != nil {
		return fmt.Errorf("gc.logExpiry: %w", err)
	}
	blocks, contents, err := gclog.PreviousFailureBlocks(logPath, logExpiry, time.Now())
	if err != nil {
		return &exitCoder{err: err, code: ioFailureExitCode}
	}
	if blocks {
		logger.Warnf(ctx, "skipping --auto gc: previous run left a failure log:\n%s", contents)
		return nil
	}

	if !r.Config.Bool("gc.autodetach", true) {
		return orchRun(ctx, r, invoker, opts)
	}

	return detachSelf(ctx, r, decision.Repack)
}

func (h Handler) runDetached(ctx context.Context, r *repo.Repository, invoker *worker.Invoker, opts gcrun.RunOptions, logPath string) error {
	capture, err := gclog.BeginCapture(logPath)
	if err != nil {
		return &exitCoder{err: err, code: ioFailureExitCode}
	}
	stop := capture.FinalizeOnSignal(syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	invoker.StderrTee = capture.Writer()
	runErr := orchRun(ctx, r, invoker, opts)
	if finalizeErr := capture.Finalize(); finalizeErr != nil && runErr == nil {
		return &exitCoder{err: finalizeErr, code: ioFailureExitCode}
	}
	return runErr
}

func orchRun(ctx context.Context, r *repo.Repository, invoker *worker.Invoker, opts gcrun.RunOptions) error {
	return gcrun.New(r, invoker).Run(ctx, opts)
}

// detachSelf re-executes the current binary with --detached so the parent
// (e.g. a commit hook) returns immediately. Go has no fork(2); re-exec of the
// same binary is the idiomatic substitute for a background daemonize step.
// repack carries the need_to_gc decision already made in this process, so
// the detached child acts on it instead of re-running need_to_gc (and the
// pre-auto-gc hook) a second time.
func detachSelf(ctx context.Context, r *repo.Repository, repack worker.RepackOptions) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable: %w", err)
	}
	args := append(os.Args[1:], "--detached") //nolint:gocritic // intentional append-to-copy of os.Args
	child := exec.Command(self, args...)
	child.Dir = r.WorktreePath()
	if child.Dir == "" {
		child.Dir = r.GitPath()
	}
	data, err := json.Marshal(repack)
	if err != nil {
		return fmt.Errorf("encode auto-repack decision: %w", err)
	}
	child.Env = append(os.Environ(), autoRepackEnvVar+"="+string(data)) //nolint:gocritic // intentional append-to-copy of os.Environ
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	if err := child.Start(); err != nil {
		return fmt.Errorf("detach gc: %w", err)
	}
	log.WithFunc("cmd.gc.detachSelf").Infof(ctx, "detached gc pid %d", child.Process.Pid)
	return nil
}

func workDir(r *repo.Repository) string {
	if wt := r.WorktreePath(); wt != "" {
		return wt
	}
	return r.GitPath()
}

func mustDayAgo() repo.Expiry {
	e, err := repo.ParseExpiry("1.day.ago", time.Now())
	if err != nil {
		panic(err) // hardcoded constant; a parse failure is a programming error
	}
	return e
}
