// Package config holds the plates configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/plates/internal/convert"
)

var ErrInvalid = errors.New("invalid config")

// Config holds all plates configuration.
type Config struct {
	// Data directory holding the manifest, images and prepared arrays.
	DataDir string `yaml:"data_dir"`

	Dataset   DatasetConfig   `yaml:"dataset"`
	Image     convert.Config  `yaml:"image"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Model     ModelConfig     `yaml:"model"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Workers bounds parallel image decodes and normalization; 0 uses GOMAXPROCS.
	Workers int `yaml:"workers"`
}

// DatasetConfig locates the manifest and the images it references. Relative
// paths are resolved against DataDir.
type DatasetConfig struct {
	Manifest  string `yaml:"manifest"`
	ImagesDir string `yaml:"images_dir"`
}

// ArtifactsConfig names the small artifacts written next to the arrays.
type ArtifactsConfig struct {
	Normalization string `yaml:"normalization"`
	LabelMap      string `yaml:"label_map"`
	Report        string `yaml:"report"`
}

// ModelConfig configures the ONNX model used for inference.
type ModelConfig struct {
	Path          string `yaml:"path"`
	MetadataPath  string `yaml:"metadata_path"`
	SharedLibrary string `yaml:"shared_library"`
}

// ServerConfig configures the prediction service.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		Dataset: DatasetConfig{
			Manifest:  "plates/plates.csv",
			ImagesDir: "plates",
		},
		Image: convert.Config{
			Channels: 3,
			Height:   128,
			Width:    224,
			Policy:   convert.Strict,
		},
		Artifacts: ArtifactsConfig{
			Normalization: "norm.json",
			LabelMap:      "labels.json",
			Report:        "report.json",
		},
		Model: ModelConfig{
			Path:         "models/model.onnx",
			MetadataPath: "models/model_metadata.json",
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if dir := os.Getenv("PLATES_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if w := os.Getenv("PLATES_WORKERS"); w != "" {
		n, err := strconv.Atoi(w)
		if err != nil {
			return fmt.Errorf("%w: PLATES_WORKERS: %v", ErrInvalid, err)
		}
		c.Workers = n
	}
	if lib := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY"); lib != "" {
		c.Model.SharedLibrary = lib
	}
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is empty", ErrInvalid)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrInvalid)
	}
	if err := c.Image.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Path resolves p against the data directory unless it is absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// ManifestPath returns the manifest location.
func (c *Config) ManifestPath() string { return c.Path(c.Dataset.Manifest) }

// ImagesDir returns the directory manifest file paths are relative to.
func (c *Config) ImagesDir() string { return c.Path(c.Dataset.ImagesDir) }

// NormalizationPath returns the normalization artifact location.
func (c *Config) NormalizationPath() string { return c.Path(c.Artifacts.Normalization) }

// LabelMapPath returns the label map artifact location.
func (c *Config) LabelMapPath() string { return c.Path(c.Artifacts.LabelMap) }

// ReportPath returns the preparation report location.
func (c *Config) ReportPath() string { return c.Path(c.Artifacts.Report) }
