package autotrigger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/objstore/housekeeper/repo"
	"github.com/objstore/housekeeper/worker"
)

func openBareRepo(t *testing.T, config string) *repo.Repository {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
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

func TestNeedToGCDisabledByGCAuto(t *testing.T) {
	r := openBareRepo(t, "[gc]\n\tauto = 0\n")
	inv := worker.New(t.TempDir())
	decision, err := NeedToGC(context.Background(), r, Inputs{}, inv)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Run {
		t.Error("gc.auto <= 0 must disable the check entirely")
	}
}

func TestNeedToGCNeitherConditionMet(t *testing.T) {
	r := openBareRepo(t, "")
	inv := worker.New(t.TempDir())
	in := Inputs{
		Packs:            []repo.Pack{{Name: "a", Local: true}},
		LooseSampleCount: 0,
	}
	decision, err := NeedToGC(context.Background(), r, in, inv)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Run {
		t.Error("neither pack-count nor looseness threshold exceeded: should not run")
	}
}

func TestNeedToGCPackCountExceedsLimit(t *testing.T) {
	r := openBareRepo(t, "[gc]\n\tautoPackLimit = 2\n")
	inv := worker.New(t.TempDir())
	packs := []repo.Pack{
		{Name: "a", Local: true, Size: 10},
		{Name: "b", Local: true, Size: 100},
		{Name: "c", Local: true, Size: 20},
	}
	decision, err := NeedToGC(context.Background(), r, Inputs{Packs: packs}, inv)
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Run {
		t.Fatal("packCount 3 > autoPackLimit 2 should trigger a run")
	}
	if !decision.Repack.All && !decision.Repack.Aggressive {
		t.Error("exceeding pack count should plan an All or Aggressive repack")
	}
}

func TestNeedToGCLooseDensityExceedsThreshold(t *testing.T) {
	r := openBareRepo(t, "[gc]\n\tauto = 6700\n")
	inv := worker.New(t.TempDir())
	in := Inputs{LooseSampleCount: 30} // threshold ceil(6700/256) = 27
	decision, err := NeedToGC(context.Background(), r, in, inv)
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Run {
		t.Fatal("loose object density above threshold should trigger a run")
	}
	if !decision.Repack.NoWriteBitmapIndex {
		t.Error("loose-density trigger should plan the lightweight NoWriteBitmapIndex repack")
	}
}

func TestNeedToGCPruneExpireNowForcesAggressive(t *testing.T) {
	r := openBareRepo(t, "[gc]\n\tautoPackLimit = 1\n\tpruneExpire = now\n")
	inv := worker.New(t.TempDir())
	packs := []repo.Pack{{Name: "a", Local: true, Size: 10}, {Name: "b", Local: true, Size: 20}}
	decision, err := NeedToGC(context.Background(), r, Inputs{Packs: packs}, inv)
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Repack.Aggressive {
		t.Error("pruneExpire=now should plan an aggressive repack")
	}
}

func TestNeedToGCHookFailureSuppressesRun(t *testing.T) {
	r := openBareRepo(t, "[gc]\n\tautoPackLimit = 1\n")
	hooksDir := r.GitPath("hooks")
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		t.Fatal(err)
	}
	hookPath := filepath.Join(hooksDir, "pre-auto-gc")
	if err := os.WriteFile(hookPath, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	inv := worker.New(t.TempDir())
	packs := []repo.Pack{{Name: "a", Local: true}, {Name: "b", Local: true}}
	decision, err := NeedToGC(context.Background(), r, Inputs{Packs: packs}, inv)
	if err != nil {
		t.Fatalf("a failing pre-auto-gc hook suppresses the run, it is not an error: %v", err)
	}
	if decision.Run {
		t.Fatal("a failing pre-auto-gc hook must suppress an otherwise-true decision")
	}
}
