package hklock

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireFreshPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.pid")
	l := New(path)
	ok, holder, err := l.Acquire(false)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || holder != nil {
		t.Fatalf("Acquire on fresh path = (%v, %v), want (true, nil)", ok, holder)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	host, _ := os.Hostname()
	want := fmt.Sprintf("%d %s\n", os.Getpid(), host)
	if string(data) != want {
		t.Errorf("lock record = %q, want %q", data, want)
	}
}

func TestAcquireBlockedByLiveForeignHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.pid")
	host, _ := os.Hostname()
	// Our own test process pid is guaranteed alive, standing in for a live
	// foreign holder on the same host.
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d %s\n", os.Getpid(), host)), 0o644); err != nil {
		t.Fatal(err)
	}
	l := New(path)
	ok, holder, err := l.Acquire(false)
	if err != nil {
		t.Fatal(err)
	}
	if ok || holder == nil || holder.PID != os.Getpid() {
		t.Fatalf("Acquire = (%v, %v), want blocked by live holder", ok, holder)
	}
}

func TestAcquireStaleByDeadPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.pid")
	host, _ := os.Hostname()
	const deadPID = 999999
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d %s\n", deadPID, host)), 0o644); err != nil {
		t.Fatal(err)
	}
	l := New(path)
	ok, _, err := l.Acquire(false)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("a record pointing at a dead pid on our own host should be reclaimable")
	}
}

func TestAcquireStaleByAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.pid")
	host, _ := os.Hostname()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d %s\n", os.Getpid(), host)), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-(staleAfter + time.Hour))
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	l := New(path)
	ok, _, err := l.Acquire(false)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("a lock record older than staleAfter should be reclaimable regardless of liveness")
	}
}

func TestAcquireDifferentHostAlwaysLive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.pid")
	if err := os.WriteFile(path, []byte("999999 some-other-host-entirely\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := New(path)
	ok, holder, err := l.Acquire(false)
	if err != nil {
		t.Fatal(err)
	}
	if ok || holder == nil || holder.Host != "some-other-host-entirely" {
		t.Fatalf("Acquire = (%v, %v), want blocked: a foreign host's liveness can't be checked locally", ok, holder)
	}
}

func TestAcquireForceOverwritesLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.pid")
	host, _ := os.Hostname()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d %s\n", os.Getpid(), host)), 0o644); err != nil {
		t.Fatal(err)
	}
	l := New(path)
	ok, _, err := l.Acquire(true)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("force should unconditionally acquire regardless of an existing live holder")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.pid")
	l := New(path)
	if _, _, err := l.Acquire(false); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("releasing an already-absent lock should not error, got %v", err)
	}
}
