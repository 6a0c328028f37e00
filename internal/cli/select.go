package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tabula/internal/labels"
	"github.com/mesh-intelligence/tabula/internal/tabular"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

func newSelectCmd(a *app) *cobra.Command {
	var (
		tissue   string
		pass     string
		clusters  []int
		outPath   string
		labelsOut string
		subPass   string
	)
	cmd := &cobra.Command{
		Use:   "select",
		Short: "List the cells of chosen clusters of a pass",
		Long: `Select writes the ids of the cells in the given clusters of a stored
pass, one per line under a cell_id header. The list is the population to
recluster for a subcluster pass. With --labels-out a label file for that
pass is written too, with every selected cluster left undetermined.

Example:
  tabula select --tissue Pancreas --clusters 1,4 --out endocrine-cells.csv
  tabula select --tissue Pancreas --clusters 1,4 --out endocrine-cells.csv \
      --labels-out labels/endocrine.yaml --name endocrine`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if labelsOut != "" && subPass == "" {
				return errors.New("--labels-out needs --name for the subcluster pass")
			}
			wf, done, err := a.openWorkflow(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			ids, err := wf.Select(tissue, pass, clusters)
			if err != nil {
				return fmt.Errorf("select %s/%s: %w", tissue, pass, err)
			}
			if labelsOut != "" {
				if err := writeScaffold(labelsOut, labels.Scaffold(tissue, subPass, pass, clusters)); err != nil {
					return err
				}
			}
			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), ids)
			}
			w, closeOut, err := createOutput(outPath, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := tabular.WriteCellIDs(w, ids); err != nil {
				closeOut()
				return sysErr(err)
			}
			return sysErr(closeOut())
		},
	}
	cmd.Flags().StringVar(&tissue, "tissue", "", "tissue name")
	cmd.Flags().StringVar(&pass, "pass", types.TopPass, "pass to select from")
	cmd.Flags().IntSliceVar(&clusters, "clusters", nil, "cluster ids to select")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default: stdout)")
	cmd.Flags().StringVar(&labelsOut, "labels-out", "", "also write a label file scaffold for the subcluster pass")
	cmd.Flags().StringVar(&subPass, "name", "", "subcluster pass name used in the scaffold")
	_ = cmd.MarkFlagRequired("tissue")
	_ = cmd.MarkFlagRequired("clusters")
	return cmd
}

func writeScaffold(path string, f *labels.File) error {
	out, err := os.Create(path)
	if err != nil {
		return sysErr(fmt.Errorf("create %s: %w", path, err))
	}
	if err := labels.Write(out, f); err != nil {
		out.Close()
		return sysErr(fmt.Errorf("write %s: %w", path, err))
	}
	return sysErr(out.Close())
}
