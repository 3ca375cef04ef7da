package maintenance

import (
	"context"
	"path/filepath"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/objstore/housekeeper/cmd/core"
	"github.com/objstore/housekeeper/lock/flock"
	"github.com/objstore/housekeeper/maintenance"
	"github.com/objstore/housekeeper/progress"
	"github.com/objstore/housekeeper/repo"
	"github.com/objstore/housekeeper/worker"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) Run(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}

	auto, _ := cmd.Flags().GetBool("auto")
	quiet, _ := cmd.Flags().GetBool("quiet")
	tasks, _ := cmd.Flags().GetStringArray("task")

	r, err := repo.Open(cmdcore.RepoPath(conf))
	if err != nil {
		return err
	}

	invoker := worker.New(workDir(r))
	registry := maintenance.RegisterDefaultTasks(r, invoker, r.Config.RemoteNames())
	runLock := flock.New(filepath.Join(r.ObjectStoreRoot(), "maintenance"))
	driver := maintenance.NewDriver(registry, runLock).WithTracker(logTracker(ctx))

	return driver.Run(ctx, maintenance.RunOptions{
		Auto:  auto,
		Quiet: quiet,
		Tasks: tasks,
	})
}

// logTracker adapts the maintenance driver's per-task events onto the
// structured logger, ignoring ctx cancellation since logging is best-effort.
func logTracker(ctx context.Context) progress.Tracker {
	logger := log.WithFunc("cmd.maintenance.Run")
	return progress.NewTracker(func(e maintenance.Event) {
		switch e.Phase {
		case maintenance.PhaseTaskStarted:
			logger.Infof(ctx, "task %q starting", e.Task)
		case maintenance.PhaseTaskSkipped:
			logger.Infof(ctx, "task %q skipped (auto-condition false)", e.Task)
		case maintenance.PhaseTaskFinished:
			if e.Err != nil {
				logger.Warnf(ctx, "task %q failed: %v", e.Task, e.Err)
			} else {
				logger.Infof(ctx, "task %q finished", e.Task)
			}
		}
	})
}

func workDir(r *repo.Repository) string {
	if wt := r.WorktreePath(); wt != "" {
		return wt
	}
	return r.GitPath()
}
