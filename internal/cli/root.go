// Package cli implements the tabula command-line interface.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mesh-intelligence/tabula/internal/metrics"
	"github.com/mesh-intelligence/tabula/internal/paths"
	"github.com/mesh-intelligence/tabula/internal/workflow"
	"github.com/mesh-intelligence/tabula/pkg/tabula"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	ontology  string
	jsonMode  bool
	verbose   bool
}

// app is the state shared by the commands of one invocation.
type app struct {
	flags     rootFlags
	configDir string
	cfg       types.Config
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func newApp() *app {
	return &app{log: zap.NewNop(), metrics: metrics.New()}
}

// NewRootCmd creates the top-level "tabula" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tabula",
		Short: "Annotate plate-based single-cell tissue atlases",
		Long: `tabula ingests raw count matrices and plate metadata, takes cluster
assignments from an external toolkit, validates analyst labels against a
cell ontology, propagates them onto cells, merges subcluster passes into
their parents, and exports the annotated table as CSV.`,
		Version:           tabula.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir or $TABULA_CONFIG_DIR)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/.tabula-db)")
	root.PersistentFlags().StringVar(&a.flags.ontology, "ontology", "", "cell ontology file, OBO or CSV (overrides config)")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVarP(&a.flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newIngestCmd(a))
	root.AddCommand(newSelectCmd(a))
	root.AddCommand(newValidateCmd(a))
	root.AddCommand(newAnnotateCmd(a))
	root.AddCommand(newPassesCmd(a))
	root.AddCommand(newExportCmd(a))
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	a := newApp()
	err := a.rootCmd().Execute()
	if ferr := a.flushMetrics(); ferr != nil && err == nil {
		err = sysErr(ferr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "tabula:", err)
	}
	os.Exit(exitCode(err))
}

// setup builds the logger and loads configuration before any command runs.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	zcfg := zap.NewProductionConfig()
	if a.flags.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := zcfg.Build()
	if err != nil {
		return sysErr(fmt.Errorf("initialize logger: %w", err))
	}
	a.log = log.With(zap.String("command", cmd.Name()))

	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return sysErr(fmt.Errorf("resolve config dir: %w", err))
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return sysErr(err)
	}
	fileDataDir, err := configDataDir(configDir)
	if err != nil {
		return sysErr(err)
	}
	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, fileDataDir)
	if err != nil {
		return sysErr(fmt.Errorf("resolve data dir: %w", err))
	}

	a.configDir = configDir
	a.cfg = configFromViper(v, configDir, dataDir)
	if a.flags.ontology != "" {
		a.cfg.Ontology = a.flags.ontology
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", configDir, err)
	}
	a.log.Debug("configuration loaded",
		zap.String("config_dir", configDir),
		zap.String("data_dir", dataDir),
		zap.String("backend", a.cfg.Backend))
	return nil
}

// flushMetrics writes the run metrics when a metrics file is configured.
func (a *app) flushMetrics() error {
	if a.cfg.MetricsFile == "" {
		return nil
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// sysError marks failures of the environment (I/O, storage) as opposed to
// bad input.
type sysError struct{ err error }

func (e *sysError) Error() string { return e.err.Error() }
func (e *sysError) Unwrap() error { return e.err }

func sysErr(err error) error {
	if err == nil {
		return nil
	}
	return &sysError{err: err}
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var se *sysError
	if errors.As(err, &se) || errors.Is(err, workflow.ErrStore) {
		return exitSysError
	}
	return exitUserError
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
