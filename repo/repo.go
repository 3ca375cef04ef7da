// Package repo models a single on-disk content-addressed object store: path
// resolution, configuration, pack enumeration and the cheap read-only probes
// the auto-trigger and memory-estimator layers depend on.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
)

// Repository is an opaque handle on one object store. Bare repositories have
// an empty workTree and gitDir is the repository directory itself;
// worktree-backed repositories have a non-empty workTree distinct from gitDir.
type Repository struct {
	gitDir   string
	workTree string // empty for a bare repository
	Config   *Config
}

// Open resolves path to a repository handle and loads its config. path may
// name a worktree (containing a .git file or directory) or a bare object
// store directly (containing HEAD and objects/).
func Open(path string) (*Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve repository path %s: %w", path, err)
	}

	gitDir, workTree, err := discover(abs)
	if err != nil {
		return nil, err
	}

	cfg, err := LoadConfig(filepath.Join(gitDir, "config"))
	if err != nil {
		return nil, err
	}

	return &Repository{gitDir: gitDir, workTree: workTree, Config: cfg}, nil
}

// discover locates the git directory for path, following the ".git file
// points elsewhere" convention used by worktrees and submodules.
func discover(path string) (gitDir, workTree string, err error) {
	dotGit := filepath.Join(path, ".git")
	info, statErr := os.Stat(dotGit)
	switch {
	case statErr == nil && info.IsDir():
		return dotGit, path, nil
	case statErr == nil:
		target, err := readGitFile(dotGit)
		if err != nil {
			return "", "", err
		}
		return target, path, nil
	}

	if isGitDir(path) {
		return path, "", nil
	}

	return "", "", fmt.Errorf("not a repository: %s", path)
}

// readGitFile resolves a ".git" file of the form "gitdir: <path>", used by
// worktrees and submodules to point at their real git directory.
func readGitFile(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied repository path
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	const prefix = "gitdir: "
	s := string(data)
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", fmt.Errorf("malformed git link file %s", path)
	}
	target := s[len(prefix):]
	for len(target) > 0 && (target[len(target)-1] == '\n' || target[len(target)-1] == '\r') {
		target = target[:len(target)-1]
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return target, nil
}

// isGitDir reports whether dir looks like a bare (or already-resolved) git
// directory: it has a HEAD file and an objects subdirectory.
func isGitDir(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "HEAD")); err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, "objects"))
	return err == nil && info.IsDir()
}

// IsBare reports whether this repository has no associated working tree.
func (r *Repository) IsBare() bool { return r.workTree == "" }

// GitPath joins elem onto the git directory root, mirroring git_path(name).
func (r *Repository) GitPath(elem ...string) string {
	return filepath.Join(append([]string{r.gitDir}, elem...)...)
}

// WorktreePath returns the working tree root, or "" for a bare repository.
func (r *Repository) WorktreePath() string { return r.workTree }

// ObjectStoreRoot returns the root of the loose/pack object store.
func (r *Repository) ObjectStoreRoot() string { return r.GitPath("objects") }

// PackDir returns the directory holding pack files and their indexes.
func (r *Repository) PackDir() string { return filepath.Join(r.ObjectStoreRoot(), "pack") }

// MultiPackIndexPath returns the well-known location of the multi-pack-index.
func (r *Repository) MultiPackIndexPath() string {
	return filepath.Join(r.PackDir(), "multi-pack-index")
}
