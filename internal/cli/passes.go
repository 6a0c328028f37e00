package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

func newPassesCmd(a *app) *cobra.Command {
	var tissue string
	cmd := &cobra.Command{
		Use:   "passes",
		Short: "List the stored passes of a tissue",
		Long:  "Passes lists the stored passes of --tissue, or of every ingested tissue when --tissue is omitted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, done, err := a.openWorkflow(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			passes, err := wf.Passes(tissue)
			if err != nil {
				return sysErr(err)
			}

			out := cmd.OutOrStdout()
			if a.flags.jsonMode {
				if passes == nil {
					passes = []types.Pass{}
				}
				return printJSON(out, passes)
			}
			names := make(map[string]string, len(passes))
			for _, p := range passes {
				names[p.PassID] = p.Name
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TISSUE\tNAME\tPARENT\tCREATED\tID")
			for _, p := range passes {
				parent := "-"
				if p.ParentID != nil {
					parent = names[*p.ParentID]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Tissue, p.Name, parent, p.CreatedAt.Format(time.RFC3339), p.PassID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&tissue, "tissue", "", "tissue name (default: every tissue)")
	return cmd
}
