package config

import (
	coretypes "github.com/projecteru2/core/types"
)

// Config holds process-level housekeeper configuration: where to find the
// repository and how to log. Repository tunables (gc.auto, gc.pruneExpire,
// ...) are a separate, lower layer read directly from the repository's own
// config file — see the repo package's Config type.
type Config struct {
	// RepoPath is the repository working directory or bare gitdir.
	// Empty means "discover from the current working directory".
	RepoPath string `mapstructure:"repo_path"`
	// Log configuration, reusing eru core's ServerLogConfig shape.
	Log coretypes.ServerLogConfig `mapstructure:"log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    50, //nolint:mnd
			MaxAge:     28, //nolint:mnd
			MaxBackups: 3,  //nolint:mnd
		},
	}
}
