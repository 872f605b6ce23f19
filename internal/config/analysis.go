package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/trackcount/internal/timeutil"
)

// Defaults applied by the Get* methods when a field is not set.
const (
	DefaultIntervalMinutes        = 15
	DefaultChunkSize              = 1000
	DefaultFallbackClassification = "unknown"
)

// DefaultFormat is the export format used when a data kind lists none.
const DefaultFormat = "csv"

// maxFileSize bounds configuration files.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// ExportFormats lists the active export formats per data kind. Format names
// are resolved by the export package.
type ExportFormats struct {
	Counts []string `json:"counts,omitempty" yaml:"counts,omitempty"`
	Events []string `json:"events,omitempty" yaml:"events,omitempty"`
	Tracks []string `json:"tracks,omitempty" yaml:"tracks,omitempty"`
}

// AnalysisConfig holds the settings of one counting run. Pointer fields are
// optional; the Get* methods supply defaults for anything left unset, so
// partial configs are safe.
type AnalysisConfig struct {
	// Counting
	IntervalMinutes *int    `json:"interval_minutes,omitempty" yaml:"interval_minutes,omitempty"`
	Timezone        *string `json:"timezone,omitempty" yaml:"timezone,omitempty"` // IANA name for interval boundaries

	// Filtering
	Classifications []string `json:"classifications,omitempty" yaml:"classifications,omitempty"`
	StartTime       *string  `json:"start_time,omitempty" yaml:"start_time,omitempty"` // RFC3339
	EndTime         *string  `json:"end_time,omitempty" yaml:"end_time,omitempty"`     // RFC3339, exclusive

	// Classification resolution
	KnownClassifications   []string `json:"known_classifications,omitempty" yaml:"known_classifications,omitempty"`
	FallbackClassification *string  `json:"fallback_classification,omitempty" yaml:"fallback_classification,omitempty"`

	// Export
	ExportFormats *ExportFormats `json:"export_formats,omitempty" yaml:"export_formats,omitempty"`

	// Execution
	ChunkSize *int `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	Workers   *int `json:"workers,omitempty" yaml:"workers,omitempty"` // 0 runs intersection sequentially
}

// Helper functions to create pointers
func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }

// EmptyAnalysisConfig returns an AnalysisConfig with all fields unset.
func EmptyAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{}
}

// DefaultAnalysisConfig returns a config with every optional field set to
// its default.
func DefaultAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{
		IntervalMinutes:        ptrInt(DefaultIntervalMinutes),
		FallbackClassification: ptrString(DefaultFallbackClassification),
		ExportFormats: &ExportFormats{
			Counts: []string{DefaultFormat},
			Events: []string{DefaultFormat},
			Tracks: []string{DefaultFormat},
		},
		ChunkSize: ptrInt(DefaultChunkSize),
		Workers:   ptrInt(0),
	}
}

// LoadAnalysisConfig loads an AnalysisConfig from a .json, .yaml or .yml
// file. The file must be under 1MB. The loaded config is validated.
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAnalysisConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *AnalysisConfig) Validate() error {
	if c.IntervalMinutes != nil {
		if *c.IntervalMinutes <= 0 || *c.IntervalMinutes > 24*60 {
			return fmt.Errorf("interval_minutes must be between 1 and 1440, got %d", *c.IntervalMinutes)
		}
	}

	if c.Timezone != nil && !timeutil.IsZoneValid(*c.Timezone) {
		return fmt.Errorf("invalid timezone '%s'", *c.Timezone)
	}

	if c.ChunkSize != nil && *c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", *c.ChunkSize)
	}

	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}

	if c.FallbackClassification != nil && *c.FallbackClassification == "" {
		return fmt.Errorf("fallback_classification must not be empty")
	}

	start, err := parseTime("start_time", c.StartTime)
	if err != nil {
		return err
	}
	end, err := parseTime("end_time", c.EndTime)
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("end_time %s is before start_time %s", *c.EndTime, *c.StartTime)
	}

	if c.ExportFormats != nil {
		for kind, formats := range map[string][]string{
			"counts": c.ExportFormats.Counts,
			"events": c.ExportFormats.Events,
			"tracks": c.ExportFormats.Tracks,
		} {
			for _, f := range formats {
				if f == "" {
					return fmt.Errorf("export_formats.%s contains an empty format", kind)
				}
			}
		}
	}

	return nil
}

func parseTime(field string, v *string) (time.Time, error) {
	if v == nil || *v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, *v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s '%s': %w", field, *v, err)
	}
	return t, nil
}

// GetIntervalMinutes returns the interval_minutes value or the default.
func (c *AnalysisConfig) GetIntervalMinutes() int {
	if c.IntervalMinutes == nil {
		return DefaultIntervalMinutes
	}
	return *c.IntervalMinutes
}

// GetLocation returns the location interval boundaries are laid out in, or
// nil when no timezone is configured.
func (c *AnalysisConfig) GetLocation() *time.Location {
	if c.Timezone == nil || *c.Timezone == "" {
		return nil
	}
	loc, err := timeutil.LoadZone(*c.Timezone)
	if err != nil {
		return nil
	}
	return loc
}

// GetStartTime returns the parsed start_time, or the zero time when unset.
func (c *AnalysisConfig) GetStartTime() time.Time {
	t, _ := parseTime("start_time", c.StartTime)
	return t
}

// GetEndTime returns the parsed end_time, or the zero time when unset.
func (c *AnalysisConfig) GetEndTime() time.Time {
	t, _ := parseTime("end_time", c.EndTime)
	return t
}

// GetFallbackClassification returns the fallback_classification value or the default.
func (c *AnalysisConfig) GetFallbackClassification() string {
	if c.FallbackClassification == nil || *c.FallbackClassification == "" {
		return DefaultFallbackClassification
	}
	return *c.FallbackClassification
}

// GetChunkSize returns the chunk_size value or the default.
func (c *AnalysisConfig) GetChunkSize() int {
	if c.ChunkSize == nil {
		return DefaultChunkSize
	}
	return *c.ChunkSize
}

// GetWorkers returns the workers value or the default (sequential).
func (c *AnalysisConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetCountFormats returns the export formats for count tables.
func (c *AnalysisConfig) GetCountFormats() []string {
	if c.ExportFormats == nil || len(c.ExportFormats.Counts) == 0 {
		return []string{DefaultFormat}
	}
	return c.ExportFormats.Counts
}

// GetEventFormats returns the export formats for raw events.
func (c *AnalysisConfig) GetEventFormats() []string {
	if c.ExportFormats == nil || len(c.ExportFormats.Events) == 0 {
		return []string{DefaultFormat}
	}
	return c.ExportFormats.Events
}

// GetTrackFormats returns the export formats for raw tracks.
func (c *AnalysisConfig) GetTrackFormats() []string {
	if c.ExportFormats == nil || len(c.ExportFormats.Tracks) == 0 {
		return []string{DefaultFormat}
	}
	return c.ExportFormats.Tracks
}
