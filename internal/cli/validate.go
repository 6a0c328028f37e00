package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tabula/internal/labels"
	"github.com/mesh-intelligence/tabula/internal/workflow"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <labels.yaml>",
		Short: "Check a label file against the cell ontology",
		Long: `Validate reports every ontology class in the label file that is not an
exact name in the configured vocabulary. Nothing is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vocab, err := a.vocabulary()
			if err != nil {
				return err
			}
			f, err := labels.Load(args[0])
			if err != nil {
				return err
			}
			// Validation needs no store.
			wf := workflow.New(nil, a.cfg, workflow.WithLogger(a.log), workflow.WithMetrics(a.metrics))
			if err := wf.Validate(f, vocab); err != nil {
				return fmt.Errorf("validate %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if a.flags.jsonMode {
				return printJSON(out, map[string]any{"valid": true, "clusters": len(f.Clusters)})
			}
			fmt.Fprintf(out, "%s: %d clusters, all labels valid\n", args[0], len(f.Clusters))
			return nil
		},
	}
}
