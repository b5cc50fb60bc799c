package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.yaml"

// PluginSection selects one plugin variant by name and carries its
// free-form options.
type PluginSection struct {
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// PipelineConfig is the root configuration of a batching run. Pointer fields
// are optional; the Get* methods supply defaults for anything omitted.
type PipelineConfig struct {
	// Batching
	BatchSize *int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Prefetch  *int `json:"prefetch,omitempty" yaml:"prefetch,omitempty"`
	Workers   *int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Malformed record policy
	MaxSkipFraction        *float64 `json:"max_skip_fraction,omitempty" yaml:"max_skip_fraction,omitempty"`
	MinRecordsForSkipCheck *int     `json:"min_records_for_skip_check,omitempty" yaml:"min_records_for_skip_check,omitempty"`

	// Keys redirects namespaced logical keys to stored field names.
	Keys map[string]string `json:"keys,omitempty" yaml:"keys,omitempty"`

	// Plugins
	View        *PluginSection `json:"view,omitempty" yaml:"view,omitempty"`
	Orientation *PluginSection `json:"orientation,omitempty" yaml:"orientation,omitempty"`
	Projection  *PluginSection `json:"projection,omitempty" yaml:"projection,omitempty"`
	Example     *PluginSection `json:"example,omitempty" yaml:"example,omitempty"`
	Label       *PluginSection `json:"label,omitempty" yaml:"label,omitempty"`

	// Outputs
	StreamListenAddr *string `json:"stream_listen_addr,omitempty" yaml:"stream_listen_addr,omitempty"`
	DatabasePath     *string `json:"database_path,omitempty" yaml:"database_path,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a config with every field set to its default.
func DefaultPipelineConfig() *PipelineConfig {
	c := EmptyPipelineConfig()
	return &PipelineConfig{
		BatchSize:              ptrInt(c.GetBatchSize()),
		Prefetch:               ptrInt(c.GetPrefetch()),
		Workers:                ptrInt(c.GetWorkers()),
		MaxSkipFraction:        ptrFloat64(c.GetMaxSkipFraction()),
		MinRecordsForSkipCheck: ptrInt(c.GetMinRecordsForSkipCheck()),
		View:                   c.GetView(),
		Orientation:            c.GetOrientation(),
		Projection:             c.GetProjection(),
		Example:                c.GetExample(),
		Label:                  c.GetLabel(),
		StreamListenAddr:       ptrString(""),
		DatabasePath:           ptrString(""),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a .json, .yaml or .yml file.
// The file must be under 1MB. Fields omitted from the file keep their
// defaults, so partial configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching upwards from the current directory. Panics if the file cannot be
// loaded; intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/mesh/pipeline/
		"../../../../" + DefaultConfigPath,    // deeper packages
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.BatchSize != nil && *c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", *c.BatchSize)
	}
	if c.Prefetch != nil && *c.Prefetch < 1 {
		return fmt.Errorf("prefetch must be at least 1, got %d", *c.Prefetch)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.MaxSkipFraction != nil {
		if *c.MaxSkipFraction < 0 || *c.MaxSkipFraction > 1 {
			return fmt.Errorf("max_skip_fraction must be between 0 and 1, got %f", *c.MaxSkipFraction)
		}
	}
	if c.MinRecordsForSkipCheck != nil && *c.MinRecordsForSkipCheck < 0 {
		return fmt.Errorf("min_records_for_skip_check must be non-negative, got %d", *c.MinRecordsForSkipCheck)
	}
	for name, s := range map[string]*PluginSection{
		"view":        c.View,
		"orientation": c.Orientation,
		"projection":  c.Projection,
		"example":     c.Example,
		"label":       c.Label,
	} {
		if s != nil && s.Type == "" {
			return fmt.Errorf("%s.type must be set", name)
		}
	}
	return nil
}

// GetBatchSize returns the batch_size value or the default.
func (c *PipelineConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 16
	}
	return *c.BatchSize
}

// GetPrefetch returns the prefetch value or the default.
func (c *PipelineConfig) GetPrefetch() int {
	if c.Prefetch == nil {
		return 4
	}
	return *c.Prefetch
}

// GetWorkers returns the workers value or the default.
func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}

// GetMaxSkipFraction returns the max_skip_fraction value or the default.
// Zero means every malformed record fails the run once the check applies.
func (c *PipelineConfig) GetMaxSkipFraction() float64 {
	if c.MaxSkipFraction == nil {
		return 0.05
	}
	return *c.MaxSkipFraction
}

// GetMinRecordsForSkipCheck returns the min_records_for_skip_check value or the default.
func (c *PipelineConfig) GetMinRecordsForSkipCheck() int {
	if c.MinRecordsForSkipCheck == nil {
		return 100
	}
	return *c.MinRecordsForSkipCheck
}

// GetKeys returns a copy of the key override map.
func (c *PipelineConfig) GetKeys() map[string]string {
	out := make(map[string]string, len(c.Keys))
	for k, v := range c.Keys {
		out[k] = v
	}
	return out
}

// GetView returns the view plugin section or the default.
func (c *PipelineConfig) GetView() *PluginSection {
	return sectionOr(c.View, "monoscopic")
}

// GetOrientation returns the orientation plugin section or the default.
func (c *PipelineConfig) GetOrientation() *PluginSection {
	return sectionOr(c.Orientation, "ground")
}

// GetProjection returns the projection plugin section or the default.
func (c *PipelineConfig) GetProjection() *PluginSection {
	return sectionOr(c.Projection, "mesh")
}

// GetExample returns the example plugin section or the default.
func (c *PipelineConfig) GetExample() *PluginSection {
	return sectionOr(c.Example, "image")
}

// GetLabel returns the label plugin section or the default.
func (c *PipelineConfig) GetLabel() *PluginSection {
	return sectionOr(c.Label, "classification")
}

// GetStreamListenAddr returns the stream_listen_addr value; empty disables streaming.
func (c *PipelineConfig) GetStreamListenAddr() string {
	if c.StreamListenAddr == nil {
		return ""
	}
	return *c.StreamListenAddr
}

// GetDatabasePath returns the database_path value; empty disables run storage.
func (c *PipelineConfig) GetDatabasePath() string {
	if c.DatabasePath == nil {
		return ""
	}
	return *c.DatabasePath
}

func sectionOr(s *PluginSection, def string) *PluginSection {
	if s == nil {
		return &PluginSection{Type: def}
	}
	return s
}
