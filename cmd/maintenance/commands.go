package maintenance

import "github.com/spf13/cobra"

// Actions is the set of maintenance subcommands' entry points.
type Actions interface {
	Run(cmd *cobra.Command, args []string) error
}

// Command builds the "maintenance" command group (§6 CLI — maintenance run).
func Command(h Actions) *cobra.Command {
	root := &cobra.Command{
		Use:   "maintenance",
		Short: "Run background housekeeping tasks",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the selected (or enabled) maintenance tasks once",
		Args:  cobra.NoArgs,
		RunE:  h.Run,
	}
	run.Flags().Bool("auto", false, "only run tasks whose auto-condition recommends it")
	run.Flags().Bool("quiet", false, "treat a busy lock as a silent no-op")
	run.Flags().StringArray("task", nil, "run only this task (repeatable; unknown or duplicate name is an error)")

	root.AddCommand(run)
	return root
}
