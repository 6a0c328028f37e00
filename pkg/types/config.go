package types

import "errors"

// Config holds backend selection and the analysis parameters shared by the
// tabula commands.
type Config struct {
	Backend  string         `json:"backend" yaml:"backend"`
	DataDir  string         `json:"data_dir" yaml:"data_dir"`
	Ontology string         `json:"ontology" yaml:"ontology"` // Path to an OBO or CSV vocabulary.
	Matrix   MatrixConfig   `json:"matrix" yaml:"matrix"`
	QC       QCConfig       `json:"qc" yaml:"qc"`
	Artifact ArtifactConfig `json:"artifact" yaml:"artifact"`
	// MetricsFile, when set, receives a Prometheus text dump after each run.
	MetricsFile string `json:"metrics_file" yaml:"metrics_file"`
}

// MatrixConfig controls how count matrices are interpreted.
type MatrixConfig struct {
	SpikeInPrefix string   `json:"spike_in_prefix" yaml:"spike_in_prefix"`
	RiboPrefixes  []string `json:"ribo_prefixes" yaml:"ribo_prefixes"`
}

// QCConfig holds the quality filter thresholds. Zero disables a threshold.
type QCConfig struct {
	MinGenes int   `json:"min_genes" yaml:"min_genes"`
	MinReads int64 `json:"min_reads" yaml:"min_reads"`
	MinCells int   `json:"min_cells" yaml:"min_cells"`
}

// ArtifactConfig selects where exports are published besides the local file.
type ArtifactConfig struct {
	Driver string   `json:"driver" yaml:"driver"` // "", fs, memory or s3.
	Root   string   `json:"root" yaml:"root"`     // fs directory, or s3 key prefix.
	S3     S3Config `json:"s3" yaml:"s3"`
}

// S3Config addresses an S3 or MinIO bucket.
type S3Config struct {
	Bucket    string `json:"bucket" yaml:"bucket"`
	Region    string `json:"region" yaml:"region"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	PathStyle bool   `json:"path_style" yaml:"path_style"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// Artifact drivers.
const (
	ArtifactNone       = ""
	ArtifactFilesystem = "fs"
	ArtifactMemory     = "memory"
	ArtifactS3         = "s3"
)

// Defaults applied when a config leaves the field empty.
const (
	DefaultSpikeInPrefix = "ERCC-"
)

// DefaultRiboPrefixes are the mouse ribosomal protein gene prefixes.
var DefaultRiboPrefixes = []string{"Rpl", "Rps"}

// Config validation errors.
var (
	ErrBackendEmpty          = errors.New("backend must not be empty")
	ErrBackendUnknown        = errors.New("unknown backend")
	ErrArtifactDriverUnknown = errors.New("unknown artifact driver")
	ErrArtifactBucketEmpty   = errors.New("s3 artifact driver needs a bucket")
	ErrThresholdInvalid      = errors.New("qc thresholds must not be negative")
)

var knownBackends = map[string]bool{
	BackendSQLite: true,
}

var knownArtifactDrivers = map[string]bool{
	ArtifactNone:       true,
	ArtifactFilesystem: true,
	ArtifactMemory:     true,
	ArtifactS3:         true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if !knownArtifactDrivers[c.Artifact.Driver] {
		return ErrArtifactDriverUnknown
	}
	if c.Artifact.Driver == ArtifactS3 && c.Artifact.S3.Bucket == "" {
		return ErrArtifactBucketEmpty
	}
	if c.QC.MinGenes < 0 || c.QC.MinReads < 0 || c.QC.MinCells < 0 {
		return ErrThresholdInvalid
	}
	return nil
}

// GetSpikeInPrefix returns the configured spike-in prefix or the default.
func (m MatrixConfig) GetSpikeInPrefix() string {
	if m.SpikeInPrefix == "" {
		return DefaultSpikeInPrefix
	}
	return m.SpikeInPrefix
}

// GetRiboPrefixes returns the configured ribosomal prefixes or the defaults.
func (m MatrixConfig) GetRiboPrefixes() []string {
	if len(m.RiboPrefixes) == 0 {
		return append([]string(nil), DefaultRiboPrefixes...)
	}
	return append([]string(nil), m.RiboPrefixes...)
}
