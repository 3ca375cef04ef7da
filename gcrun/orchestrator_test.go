package gcrun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/objstore/housekeeper/repo"
	"github.com/objstore/housekeeper/worker"
)

func openBareRepo(t *testing.T, config string) *repo.Repository {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "objects", "pack"), 0o755); err != nil {
		t.Fatal(err)
	}
	if config != "" {
		if err := os.WriteFile(filepath.Join(dir, "config"), []byte(config), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	r, err := repo.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func writeStubGit(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub-git")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOrchestratorRunHappyPath(t *testing.T) {
	stub := writeStubGit(t, `exit 0`)
	r := openBareRepo(t, "")
	inv := &worker.Invoker{Dir: r.GitPath(), GitBin: stub}
	o := New(r, inv)

	now := time.Now()
	prune, err := repo.ParseExpiry("2.weeks.ago", now)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Run(context.Background(), RunOptions{Prune: prune}); err != nil {
		t.Fatal(err)
	}
}

func TestOrchestratorRunRemovesResidualLogWhenNotDetached(t *testing.T) {
	stub := writeStubGit(t, `exit 0`)
	r := openBareRepo(t, "")
	if err := os.WriteFile(r.GitPath("gc.log"), []byte("stale\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	inv := &worker.Invoker{Dir: r.GitPath(), GitBin: stub}
	o := New(r, inv)

	if err := o.Run(context.Background(), RunOptions{Prune: repo.NeverExpiry()}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(r.GitPath("gc.log")); !os.IsNotExist(err) {
		t.Error("a non-detached run should remove any residual gc.log on success")
	}
}

func TestOrchestratorRunPreservesLogWhenDetached(t *testing.T) {
	stub := writeStubGit(t, `exit 0`)
	r := openBareRepo(t, "")
	if err := os.WriteFile(r.GitPath("gc.log"), []byte("stale\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	inv := &worker.Invoker{Dir: r.GitPath(), GitBin: stub}
	o := New(r, inv)

	if err := o.Run(context.Background(), RunOptions{Prune: repo.NeverExpiry(), Detached: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(r.GitPath("gc.log")); err != nil {
		t.Error("a detached run must leave gc.log management to the log-capture manager, not remove it itself")
	}
}

func TestOrchestratorRunSkipsRepackWhenPreciousObjects(t *testing.T) {
	calls := filepath.Join(t.TempDir(), "calls")
	script := `echo "$@" >> ` + calls + `
exit 0`
	stub := writeStubGit(t, script)
	r := openBareRepo(t, "[core]\n\tpreciousobjects = true\n")
	inv := &worker.Invoker{Dir: r.GitPath(), GitBin: stub}
	o := New(r, inv)

	if err := o.Run(context.Background(), RunOptions{Prune: repo.NeverExpiry()}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(calls)
	if err != nil {
		t.Fatal(err)
	}
	if contains(string(data), "repack") {
		t.Errorf("preciousObjects repositories must never run repack, calls:\n%s", data)
	}
}

func TestOrchestratorRunAutoSkipsWhenLockHeld(t *testing.T) {
	stub := writeStubGit(t, `exit 0`)
	r := openBareRepo(t, "")
	host, _ := os.Hostname()
	if err := os.WriteFile(r.GitPath("gc.pid"), []byte("1 "+host+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// pid 1 existing makes the holder look alive via EPERM or success; a
	// live foreign holder under --auto is a silent no-op, never an error.
	inv := &worker.Invoker{Dir: r.GitPath(), GitBin: stub}
	o := New(r, inv)

	if err := o.Run(context.Background(), RunOptions{Auto: true, Prune: repo.NeverExpiry()}); err != nil {
		t.Errorf("auto run should silently skip when the lock is held by a live process, got %v", err)
	}
}

func TestOrchestratorRunForceOverridesHeldLock(t *testing.T) {
	stub := writeStubGit(t, `exit 0`)
	r := openBareRepo(t, "")
	host, _ := os.Hostname()
	if err := os.WriteFile(r.GitPath("gc.pid"), []byte(fmt.Sprintf("%d %s\n", os.Getpid(), host)), 0o644); err != nil {
		t.Fatal(err)
	}
	inv := &worker.Invoker{Dir: r.GitPath(), GitBin: stub}
	o := New(r, inv)

	if err := o.Run(context.Background(), RunOptions{Force: true, Prune: repo.NeverExpiry()}); err != nil {
		t.Fatal(err)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
