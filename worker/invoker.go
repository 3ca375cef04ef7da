// Package worker invokes the opaque subordinate commands (§6): repack,
// prune, pack-refs, reflog expire, worktree prune, rerere gc, commit-graph,
// multi-pack-index, pack-objects, fetch, prune-packed and the pre-auto-gc
// hook. Argument vectors are the documented contract with these workers;
// this package only builds them and manages the child process lifecycle,
// mirroring the teacher pack's exec.Command/cmd.Dir/buffer-capture pattern.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Invoker runs child commands rooted at a git directory.
type Invoker struct {
	Dir    string // cmd.Dir for every spawned child
	GitBin string // defaults to "git" if empty
	// StderrTee, when set, additionally receives a copy of every child's
	// stderr — used by a detached --auto gc run to feed the log-capture
	// manager (§4.6) without giving up Run's buffered Result.Stderr.
	StderrTee io.Writer
}

// New returns an Invoker rooted at dir.
func New(dir string) *Invoker { return &Invoker{Dir: dir} }

func (i *Invoker) bin() string {
	if i.GitBin != "" {
		return i.GitBin
	}
	return "git"
}

// Result captures a completed child's output.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes the child worker for args, waits, and returns its captured
// output. A non-zero exit is returned as an error wrapping the underlying
// *exec.ExitError so callers can inspect ExitCode via the returned Result.
func (i *Invoker) Run(ctx context.Context, args ...string) (Result, error) {
	return i.run(ctx, nil, args...)
}

// RunStdin is like Run but streams stdin into the child (used by
// pack-objects, which is fed loose-object ids one per line).
func (i *Invoker) RunStdin(ctx context.Context, stdin io.Reader, args ...string) (Result, error) {
	return i.run(ctx, stdin, args...)
}

func (i *Invoker) run(ctx context.Context, stdin io.Reader, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, i.bin(), args...) //nolint:gosec // fixed argv contract, §6
	cmd.Dir = i.Dir
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if i.StderrTee != nil {
		cmd.Stderr = io.MultiWriter(&stderr, i.StderrTee)
	} else {
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, fmt.Errorf("failed to run %s %s: %w (stderr: %s)",
			i.bin(), strings.Join(args, " "), err, strings.TrimSpace(res.Stderr))
	default:
		return res, fmt.Errorf("failed to start %s %s: %w", i.bin(), strings.Join(args, " "), err)
	}
}

// RunRedirectStderr is like Run but streams the child's stderr directly into
// w instead of buffering it, and returns no Result. (The detached gc run does
// not use it: it sets StderrTee and calls Run.)
func (i *Invoker) RunRedirectStderr(ctx context.Context, w io.Writer, args ...string) error {
	cmd := exec.CommandContext(ctx, i.bin(), args...) //nolint:gosec // fixed argv contract, §6
	cmd.Dir = i.Dir
	cmd.Stderr = w

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to run %s %s: %w", i.bin(), strings.Join(args, " "), err)
	}
	return nil
}

// RunHook runs a repository hook by name if it exists and is executable,
// modeled on builtin/hook.c's find_hook/run_hook_le: an absent or
// non-executable hook is treated as success, not an error.
func (i *Invoker) RunHook(ctx context.Context, gitDir, hookName string, args ...string) (ran bool, err error) {
	path := filepath.Join(gitDir, "hooks", hookName)
	info, statErr := os.Stat(path)
	if statErr != nil {
		return false, nil
	}
	if info.Mode()&0o111 == 0 {
		return false, nil
	}

	cmd := exec.CommandContext(ctx, path, args...) //nolint:gosec // repository-configured hook path
	cmd.Dir = i.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return true, fmt.Errorf("%s hook failed: %w (stderr: %s)", hookName, err, strings.TrimSpace(stderr.String()))
	}
	return true, nil
}
