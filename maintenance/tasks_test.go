package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/objstore/housekeeper/repo"
	"github.com/objstore/housekeeper/worker"
)

func TestAutoPackSizeTakesSecondLargestPlusOne(t *testing.T) {
	packs := []repo.Pack{{Size: 10}, {Size: 100}, {Size: 50}}
	if got := AutoPackSize(packs); got != 51 {
		t.Errorf("AutoPackSize = %d, want 51", got)
	}
}

func TestAutoPackSizeSinglePackIsZeroPlusOne(t *testing.T) {
	packs := []repo.Pack{{Size: 100}}
	if got := AutoPackSize(packs); got != 1 {
		t.Errorf("AutoPackSize = %d, want 1 (no second pack)", got)
	}
}

func TestAutoPackSizeCapped(t *testing.T) {
	const cap64 = 2*1024*1024*1024 - 1
	packs := []repo.Pack{{Size: 1 << 40}, {Size: 1 << 40}}
	if got := AutoPackSize(packs); got != cap64 {
		t.Errorf("AutoPackSize = %d, want cap %d", got, cap64)
	}
}

func openBareRepoWithPacks(t *testing.T) *repo.Repository {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	packDir := filepath.Join(dir, "objects", "pack")
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		t.Fatal(err)
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

func TestRegisterDefaultTasksNamesAndDefaultEnabled(t *testing.T) {
	r := openBareRepoWithPacks(t)
	inv := worker.New(r.WorktreePath())
	reg := RegisterDefaultTasks(r, inv, []string{"origin"})

	for _, name := range []string{"fetch", "loose-objects", "pack-files", "gc", "commit-graph"} {
		if _, ok := reg.Lookup(name); !ok {
			t.Errorf("expected task %q to be registered", name)
		}
	}

	enabled := reg.Enabled()
	if len(enabled) != 1 || enabled[0].Name != "gc" {
		t.Errorf("Enabled() = %v, want only [gc] by default", enabled)
	}
}

func TestPackFilesTaskHappyPath(t *testing.T) {
	stub := writeStubGit(t, `exit 0`)
	r := openBareRepoWithPacks(t)
	inv := &worker.Invoker{Dir: r.WorktreePath(), GitBin: stub}
	reg := RegisterDefaultTasks(r, inv, nil)

	task, ok := reg.Lookup("pack-files")
	if !ok {
		t.Fatal("pack-files task not registered")
	}
	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("Execute = %v, want nil when every git invocation succeeds", err)
	}
}

func TestPackFilesTaskRepairsAfterVerifyFailure(t *testing.T) {
	// Counts invocations in a state file: the 2nd call (the first "verify")
	// fails once, then every later call succeeds, exercising the
	// repair-by-rewrite path.
	counterFile := filepath.Join(t.TempDir(), "count")
	script := `
count_file=` + counterFile + `
n=0
if [ -f "$count_file" ]; then n=$(cat "$count_file"); fi
n=$((n+1))
echo $n > "$count_file"
if [ "$n" = "2" ]; then exit 1; fi
exit 0
`
	stub := writeStubGit(t, script)
	r := openBareRepoWithPacks(t)
	inv := &worker.Invoker{Dir: r.WorktreePath(), GitBin: stub}
	reg := RegisterDefaultTasks(r, inv, nil)

	task, ok := reg.Lookup("pack-files")
	if !ok {
		t.Fatal("pack-files task not registered")
	}
	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("Execute = %v, want nil: a single verify failure should be repaired by rewrite", err)
	}
}

func TestFetchTaskToleratesPerRemoteFailure(t *testing.T) {
	stub := writeStubGit(t, `exit 1`)
	inv := &worker.Invoker{Dir: t.TempDir(), GitBin: stub}
	reg := RegisterDefaultTasks(openBareRepoWithPacks(t), inv, []string{"origin", "fork"})

	task, ok := reg.Lookup("fetch")
	if !ok {
		t.Fatal("fetch task not registered")
	}
	if err := task.Execute(context.Background()); err != nil {
		t.Errorf("fetch task must tolerate every remote failing, got %v", err)
	}
}
