package gclog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/objstore/housekeeper/repo"
)

func TestPreviousFailureBlocksMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.log")
	blocks, _, err := PreviousFailureBlocks(path, repo.NeverExpiry(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if blocks {
		t.Error("a missing gc.log must never block")
	}
}

func TestPreviousFailureBlocksEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	blocks, _, err := PreviousFailureBlocks(path, repo.NeverExpiry(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if blocks {
		t.Error("an empty gc.log must never block")
	}
}

func TestPreviousFailureBlocksNonEmptyWithinHorizon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.log")
	if err := os.WriteFile(path, []byte("error: something failed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	expiry, err := repo.ParseExpiry("1.day.ago", now)
	if err != nil {
		t.Fatal(err)
	}
	blocks, contents, err := PreviousFailureBlocks(path, expiry, now)
	if err != nil {
		t.Fatal(err)
	}
	if !blocks {
		t.Fatal("a recent non-empty gc.log should block the next auto run")
	}
	if contents != "error: something failed\n" {
		t.Errorf("contents = %q", contents)
	}
}

func TestPreviousFailureBlocksStaleLogIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.log")
	if err := os.WriteFile(path, []byte("error: old failure\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	expiry, err := repo.ParseExpiry("1.day.ago", now)
	if err != nil {
		t.Fatal(err)
	}
	blocks, _, err := PreviousFailureBlocks(path, expiry, now)
	if err != nil {
		t.Fatal(err)
	}
	if blocks {
		t.Error("a gc.log older than the expiry horizon should be ignorable, not blocking")
	}
}

func TestFinalizeCommitsWhenCaptureWroteOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "gc.log")
	capture, err := BeginCapture(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := capture.Writer().WriteString("boom\n"); err != nil {
		t.Fatal(err)
	}
	if err := capture.Finalize(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "boom\n" {
		t.Errorf("committed log = %q", data)
	}
}

func TestFinalizeDiscardsAndRemovesStaleLogWhenSilent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "gc.log")
	// Simulate a stale gc.log left behind from a previous failed run.
	if err := os.WriteFile(logPath, []byte("stale failure\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	capture, err := BeginCapture(logPath)
	if err != nil {
		t.Fatal(err)
	}
	// No output written this run: it was silent/successful.
	if err := capture.Finalize(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Errorf("a silent run must remove any stale gc.log, stat err = %v", err)
	}
}
