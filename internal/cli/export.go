package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tabula/internal/tabular"
	"github.com/mesh-intelligence/tabula/internal/workflow"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		in            workflow.ExportInput
		embeddingPath string
		outPath       string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an annotated pass as CSV",
		Long: `Export writes one row per cell of a stored pass with the columns
cell, plate.barcode, cell_ontology_class, cell_ontology_id, free_annotation,
tSNE_1 and tSNE_2. Coordinates come from the --embedding table; without it
the tSNE columns are empty. With --publish the CSV is also uploaded to the
artifact store configured in config.yaml.

Example:
  tabula export --tissue Pancreas --embedding tsne.csv --out Pancreas_annotation.csv
  tabula export --tissue Pancreas --embedding tsne.csv --publish`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if embeddingPath != "" {
				emb, err := tabular.ReadEmbeddingFile(embeddingPath)
				if err != nil {
					return err
				}
				in.Embedding = emb
			}

			wf, done, err := a.openWorkflow(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			closeOut := func() error { return nil }
			if outPath != "" || !in.Publish {
				var w io.Writer
				w, closeOut, err = createOutput(outPath, cmd.OutOrStdout())
				if err != nil {
					return err
				}
				in.Out = w
			}

			info, err := wf.Export(cmd.Context(), in)
			if cerr := closeOut(); err == nil && cerr != nil {
				return sysErr(cerr)
			}
			if err != nil {
				return fmt.Errorf("export %s/%s: %w", in.Tissue, in.Pass, err)
			}
			if info != nil {
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), info)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "published %s (%d bytes)\n", info.Location, info.Size)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Tissue, "tissue", "", "tissue name")
	cmd.Flags().StringVar(&in.Pass, "pass", types.TopPass, "pass to export")
	cmd.Flags().StringVar(&embeddingPath, "embedding", "", "cell_id,x,y table of embedding coordinates")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default: stdout unless --publish)")
	cmd.Flags().BoolVar(&in.Publish, "publish", false, "upload to the configured artifact store")
	cmd.Flags().StringVar(&in.Key, "key", "", "artifact key (default: <tissue>/<pass>.csv)")
	_ = cmd.MarkFlagRequired("tissue")
	return cmd
}
