// Package cmd wires the cobra command tree: a "gc" command and a
// "maintenance run" subcommand over a shared process config.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdcore "github.com/objstore/housekeeper/cmd/core"
	cmdgc "github.com/objstore/housekeeper/cmd/gc"
	cmdmaintenance "github.com/objstore/housekeeper/cmd/maintenance"
	"github.com/objstore/housekeeper/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "housekeeper",
		Short:        "Object-storage housekeeping engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmdcore.CommandContext(cmd))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("repo-path", "", "repository working directory or bare gitdir (default: discover from cwd)")

	_ = viper.BindPFlag("repo_path", cmd.PersistentFlags().Lookup("repo-path"))

	viper.SetEnvPrefix("HOUSEKEEP")
	viper.AutomaticEnv()

	confProvider := func() *config.Config { return conf }
	base := cmdcore.BaseHandler{ConfProvider: confProvider}

	cmd.AddCommand(cmdgc.Command(cmdgc.Handler{BaseHandler: base}))
	cmd.AddCommand(cmdmaintenance.Command(cmdmaintenance.Handler{BaseHandler: base}))

	return cmd
}()

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

func initConfig(ctx context.Context) error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		// No config file is OK; a corrupt/unreadable one is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	return log.SetupLog(ctx, conf.Log, "")
}
