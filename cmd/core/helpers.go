// Package core holds helpers shared by every command group: config access,
// context derivation, repository path resolution and TTY detection.
package core

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/objstore/housekeeper/config"
)

// BaseHandler provides shared config access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return CommandContext(cmd), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return conf, nil
}

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// RepoPath resolves the --repo-path flag/config value against the working
// directory: empty means "discover from cwd".
func RepoPath(conf *config.Config) string {
	if conf.RepoPath != "" {
		return conf.RepoPath
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// IsInteractive reports whether stderr is attached to a terminal, used to
// pick the default for --quiet-style progress output when the flag wasn't
// given explicitly.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
