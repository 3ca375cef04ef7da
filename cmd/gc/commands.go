package gc

import "github.com/spf13/cobra"

// Actions is the set of gc subcommands' entry points.
type Actions interface {
	Run(cmd *cobra.Command, args []string) error
}

// Command builds the "gc" command (§6 CLI — gc).
func Command(h Actions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Clean up unreachable objects and repack the object store",
		Args:  cobra.NoArgs,
		RunE:  h.Run,
	}

	cmd.Flags().Bool("quiet", false, "suppress progress output")
	cmd.Flags().String("prune", "2.weeks.ago", "prune objects older than <date> (\"now\" implies --aggressive)")
	cmd.Flags().Lookup("prune").NoOptDefVal = "now"
	cmd.Flags().Bool("aggressive", false, "spend more time optimizing the pack")
	cmd.Flags().Bool("auto", false, "only run if housekeeping heuristics recommend it")
	cmd.Flags().Bool("force", false, "override a held housekeeping lock")
	cmd.Flags().Bool("keep-largest-pack", false, "exclude the largest pack from repacking")
	cmd.Flags().Bool("detached", false, "internal: this run is the detached child of an --auto invocation")
	_ = cmd.Flags().MarkHidden("detached")

	return cmd
}
