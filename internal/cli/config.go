package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/tabula/internal/paths"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	envPrefix = "TABULA"
)

// Config keys.
const (
	cfgKeyBackend      = "backend"
	cfgKeyOntology     = "ontology"
	cfgKeySpikeIn      = "matrix.spike_in_prefix"
	cfgKeyRibo         = "matrix.ribo_prefixes"
	cfgKeyMinGenes     = "qc.min_genes"
	cfgKeyMinReads     = "qc.min_reads"
	cfgKeyMinCells     = "qc.min_cells"
	cfgKeyArtifact     = "artifact.driver"
	cfgKeyArtifactRoot = "artifact.root"
	cfgKeyS3Bucket     = "artifact.s3.bucket"
	cfgKeyS3Region     = "artifact.s3.region"
	cfgKeyS3Endpoint   = "artifact.s3.endpoint"
	cfgKeyS3PathStyle  = "artifact.s3.path_style"
	cfgKeyMetricsFile  = "metrics_file"
)

// Defaults for a fresh config.yaml.
const (
	defaultMinGenes = 500
	defaultMinReads = 50000
	defaultMinCells = 3
)

// configFile is the structure written to config.yaml by init.
type configFile struct {
	Backend  string             `yaml:"backend"`
	DataDir  string             `yaml:"data_dir,omitempty"`
	Ontology string             `yaml:"ontology,omitempty"`
	Matrix   types.MatrixConfig `yaml:"matrix"`
	QC       types.QCConfig     `yaml:"qc"`
}

func defaultConfigFile(dataDir string) configFile {
	return configFile{
		Backend: types.BackendSQLite,
		DataDir: dataDir,
		Matrix: types.MatrixConfig{
			SpikeInPrefix: types.DefaultSpikeInPrefix,
			RiboPrefixes:  append([]string(nil), types.DefaultRiboPrefixes...),
		},
		QC: types.QCConfig{
			MinGenes: defaultMinGenes,
			MinReads: defaultMinReads,
			MinCells: defaultMinCells,
		},
	}
}

// loadConfig reads config.yaml from configDir with Viper, creating the
// directory and a default file on first run. Keys can be overridden by
// TABULA_* environment variables, e.g. TABULA_QC_MIN_GENES.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := writeConfigIfMissing(filepath.Join(configDir, configFileExt), ""); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeySpikeIn, types.DefaultSpikeInPrefix)
	v.SetDefault(cfgKeyRibo, types.DefaultRiboPrefixes)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// configDataDir returns data_dir as written in config.yaml. Viper is not used
// here because TABULA_DATA_DIR would shadow the file value, and the file
// takes precedence over the environment for this key.
func configDataDir(configDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(configDir, configFileExt))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return "", fmt.Errorf("parse config: %w", err)
	}
	return cf.DataDir, nil
}

// configFromViper assembles a Config. Relative input paths are resolved
// against the configuration directory.
func configFromViper(v *viper.Viper, configDir, dataDir string) types.Config {
	return types.Config{
		Backend:  v.GetString(cfgKeyBackend),
		DataDir:  dataDir,
		Ontology: paths.ResolveInput(configDir, v.GetString(cfgKeyOntology)),
		Matrix: types.MatrixConfig{
			SpikeInPrefix: v.GetString(cfgKeySpikeIn),
			RiboPrefixes:  v.GetStringSlice(cfgKeyRibo),
		},
		QC: types.QCConfig{
			MinGenes: v.GetInt(cfgKeyMinGenes),
			MinReads: v.GetInt64(cfgKeyMinReads),
			MinCells: v.GetInt(cfgKeyMinCells),
		},
		Artifact: types.ArtifactConfig{
			Driver: v.GetString(cfgKeyArtifact),
			Root:   artifactRoot(v, configDir),
			S3: types.S3Config{
				Bucket:    v.GetString(cfgKeyS3Bucket),
				Region:    v.GetString(cfgKeyS3Region),
				Endpoint:  v.GetString(cfgKeyS3Endpoint),
				PathStyle: v.GetBool(cfgKeyS3PathStyle),
			},
		},
		MetricsFile: paths.ResolveInput(configDir, v.GetString(cfgKeyMetricsFile)),
	}
}

// artifactRoot resolves the fs root against configDir; for s3 it is a key
// prefix and is kept as written.
func artifactRoot(v *viper.Viper, configDir string) string {
	root := v.GetString(cfgKeyArtifactRoot)
	if v.GetString(cfgKeyArtifact) == types.ArtifactFilesystem {
		return paths.ResolveInput(configDir, root)
	}
	return root
}

// writeConfigIfMissing creates config.yaml with default values if the file
// does not exist. An existing file is left untouched.
func writeConfigIfMissing(path, dataDir string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	cfg := defaultConfigFile(dataDir)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := "# tabula configuration\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}
