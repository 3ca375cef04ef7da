package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// AtomicWriteFile writes data to a file atomically using temp + fsync + rename.
// This prevents partial writes from being visible to readers.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		// On any error the temp file is cleaned up.
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()
	defer tmp.Close() //nolint:errcheck

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp to target: %w", err)
	}
	if err = SyncParentDir(dir); err != nil {
		return fmt.Errorf("sync parent dir: %w", err)
	}
	return nil
}

// AtomicWriteJSON marshals v to JSON and writes it atomically.
func AtomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	data = append(data, '\n')
	return AtomicWriteFile(path, data, 0o644)
}

// PendingFile is a generic hold-for-update primitive: a temp file is created
// immediately and kept open so a caller can stream writes into it over an
// extended window (e.g. capturing a detached run's stderr), then decide at
// the end whether to Commit (atomic rename into place) or Discard.
type PendingFile struct {
	target string
	tmp    *os.File
}

// NewPendingFile creates a temp file alongside target and returns a handle
// open for writing.
func NewPendingFile(target string) (*PendingFile, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file for %s: %w", target, err)
	}
	return &PendingFile{target: target, tmp: tmp}, nil
}

// File returns the open temp file for writing.
func (p *PendingFile) File() *os.File { return p.tmp }

// Commit fsyncs, chmods, closes, and atomically renames the temp file into
// place, then fsyncs the parent directory.
func (p *PendingFile) Commit(perm os.FileMode) error {
	if err := p.tmp.Sync(); err != nil {
		return fmt.Errorf("sync pending file: %w", err)
	}
	if err := p.tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod pending file: %w", err)
	}
	name := p.tmp.Name()
	if err := p.tmp.Close(); err != nil {
		return fmt.Errorf("close pending file: %w", err)
	}
	if err := os.Rename(name, p.target); err != nil {
		return fmt.Errorf("commit pending file to %s: %w", p.target, err)
	}
	return SyncParentDir(filepath.Dir(p.target))
}

// Discard closes and removes the temp file without committing it.
func (p *PendingFile) Discard() error {
	name := p.tmp.Name()
	_ = p.tmp.Close() //nolint:errcheck
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard pending file: %w", err)
	}
	return nil
}

// SyncParentDir fsyncs the directory containing the file to ensure the directory entry is persisted.
func SyncParentDir(dir string) error {
	parent, err := os.Open(dir) //nolint:gosec // directory is derived from the caller's target path
	if err != nil {
		return err
	}
	defer parent.Close() //nolint:errcheck

	if err := parent.Sync(); err != nil &&
		!errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTSUP) && !errors.Is(err, syscall.EBADF) {
		return err
	}
	return nil
}
