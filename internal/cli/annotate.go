package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tabula/internal/labels"
	"github.com/mesh-intelligence/tabula/internal/tabular"
	"github.com/mesh-intelligence/tabula/internal/workflow"
)

func newAnnotateCmd(a *app) *cobra.Command {
	var assignmentsPath string
	cmd := &cobra.Command{
		Use:   "annotate <labels.yaml>",
		Short: "Label a clustering pass and store it",
		Long: `Annotate attaches the cluster assignments of one pass, applies the
label file's cluster map and stores the result as the pass named in the file.
A label file with a parent is a subcluster pass: its labels are merged into
the parent pass and every pass above it in the same write.

Example:
  tabula annotate labels/top.yaml --assignments clusters/top.csv
  tabula annotate labels/endocrine.yaml --assignments clusters/endocrine.csv`,
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
			assignments, err := tabular.ReadAssignmentsFile(assignmentsPath)
			if err != nil {
				return err
			}

			wf, done, err := a.openWorkflow(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			res, err := wf.Annotate(workflow.AnnotateInput{
				Labels:      f,
				Assignments: assignments,
				Vocabulary:  vocab,
			})
			if err != nil {
				return fmt.Errorf("annotate %s/%s: %w", f.Tissue, f.Pass, err)
			}

			out := cmd.OutOrStdout()
			if a.flags.jsonMode {
				return printJSON(out, map[string]any{
					"pass":   res.Pass,
					"cells":  res.Table.Len(),
					"merged": res.Merged,
				})
			}
			fmt.Fprintf(out, "annotated %s/%s: %d cells (pass %s)\n", res.Pass.Tissue, res.Pass.Name, res.Table.Len(), res.Pass.PassID)
			for _, p := range res.Merged {
				fmt.Fprintf(out, "  merged into %s\n", p.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&assignmentsPath, "assignments", "", "cell_id,cluster table from the clustering toolkit")
	_ = cmd.MarkFlagRequired("assignments")
	return cmd
}
