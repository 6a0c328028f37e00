package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tabula/internal/workflow"
)

func newIngestCmd(a *app) *cobra.Command {
	var in workflow.IngestInput
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a tissue's count matrix and plate metadata",
		Long: `Ingest reads a gene-by-cell count matrix and the plate metadata table,
joins every cell to its plate, applies the quality thresholds from config.yaml
and replaces the tissue's stored cells. Passes of the tissue are dropped.

Example:
  tabula ingest --tissue Pancreas --matrix Pancreas-counts.csv --plates metadata_FACS.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, done, err := a.openWorkflow(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			res, err := wf.Ingest(in)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", in.Tissue, err)
			}

			out := cmd.OutOrStdout()
			if a.flags.jsonMode {
				return printJSON(out, map[string]any{
					"tissue":        in.Tissue,
					"cells":         res.Table.Len(),
					"genes":         res.Matrix.NumGenes(),
					"dropped_cells": res.DroppedCells,
					"dropped_genes": res.DroppedGenes,
				})
			}
			fmt.Fprintf(out, "ingested %s: %d cells, %d genes (dropped %d cells, %d genes)\n",
				in.Tissue, res.Table.Len(), res.Matrix.NumGenes(), len(res.DroppedCells), res.DroppedGenes)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Tissue, "tissue", "", "tissue name")
	cmd.Flags().StringVar(&in.MatrixPath, "matrix", "", "raw count matrix (CSV or TSV)")
	cmd.Flags().StringVar(&in.PlatesPath, "plates", "", "plate metadata table (CSV or TSV)")
	cmd.Flags().StringVar(&in.MatrixOut, "matrix-out", "", "write the filtered, cell-sorted matrix here")
	_ = cmd.MarkFlagRequired("tissue")
	_ = cmd.MarkFlagRequired("matrix")
	_ = cmd.MarkFlagRequired("plates")
	return cmd
}
