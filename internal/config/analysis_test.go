package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultAnalysisConfig(t *testing.T) {
	cfg := DefaultAnalysisConfig()

	if cfg.IntervalMinutes == nil || *cfg.IntervalMinutes != 15 {
		t.Errorf("Expected IntervalMinutes 15, got %v", cfg.IntervalMinutes)
	}
	if cfg.ChunkSize == nil || *cfg.ChunkSize != 1000 {
		t.Errorf("Expected ChunkSize 1000, got %v", cfg.ChunkSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEmptyConfigGetters(t *testing.T) {
	cfg := EmptyAnalysisConfig()

	if cfg.GetIntervalMinutes() != 15 {
		t.Errorf("GetIntervalMinutes() = %d, want 15", cfg.GetIntervalMinutes())
	}
	if cfg.GetChunkSize() != 1000 {
		t.Errorf("GetChunkSize() = %d, want 1000", cfg.GetChunkSize())
	}
	if cfg.GetWorkers() != 0 {
		t.Errorf("GetWorkers() = %d, want 0", cfg.GetWorkers())
	}
	if cfg.GetFallbackClassification() != "unknown" {
		t.Errorf("GetFallbackClassification() = %q", cfg.GetFallbackClassification())
	}
	if !cfg.GetStartTime().IsZero() || !cfg.GetEndTime().IsZero() {
		t.Error("unset times should be zero")
	}
	for _, got := range [][]string{cfg.GetCountFormats(), cfg.GetEventFormats(), cfg.GetTrackFormats()} {
		if len(got) != 1 || got[0] != "csv" {
			t.Errorf("default formats = %v, want [csv]", got)
		}
	}
}

func TestLoadAnalysisConfigJSON(t *testing.T) {
	path := writeConfig(t, "analysis.json", `{
  "interval_minutes": 60,
  "classifications": ["car", "truck"],
  "start_time": "2024-05-14T08:00:00Z",
  "end_time": "2024-05-14T10:00:00Z",
  "export_formats": {"counts": ["csv", "sqlite"]},
  "chunk_size": 250,
  "workers": 4
}`)

	cfg, err := LoadAnalysisConfig(path)
	if err != nil {
		t.Fatalf("LoadAnalysisConfig failed: %v", err)
	}
	if cfg.GetIntervalMinutes() != 60 {
		t.Errorf("GetIntervalMinutes() = %d, want 60", cfg.GetIntervalMinutes())
	}
	if len(cfg.Classifications) != 2 {
		t.Errorf("Classifications = %v", cfg.Classifications)
	}
	if want := time.Date(2024, 5, 14, 8, 0, 0, 0, time.UTC); !cfg.GetStartTime().Equal(want) {
		t.Errorf("GetStartTime() = %v, want %v", cfg.GetStartTime(), want)
	}
	if got := cfg.GetCountFormats(); len(got) != 2 || got[1] != "sqlite" {
		t.Errorf("GetCountFormats() = %v", got)
	}
	// Unset kinds keep the default.
	if got := cfg.GetEventFormats(); len(got) != 1 || got[0] != "csv" {
		t.Errorf("GetEventFormats() = %v", got)
	}
	if cfg.GetChunkSize() != 250 || cfg.GetWorkers() != 4 {
		t.Errorf("chunk/workers = %d/%d", cfg.GetChunkSize(), cfg.GetWorkers())
	}
}

func TestLoadAnalysisConfigYAML(t *testing.T) {
	path := writeConfig(t, "analysis.yaml", `
interval_minutes: 30
known_classifications: [car, bicyclist, pedestrian]
fallback_classification: other
export_formats:
  tracks: [csv, protobuf]
`)

	cfg, err := LoadAnalysisConfig(path)
	if err != nil {
		t.Fatalf("LoadAnalysisConfig failed: %v", err)
	}
	if cfg.GetIntervalMinutes() != 30 {
		t.Errorf("GetIntervalMinutes() = %d, want 30", cfg.GetIntervalMinutes())
	}
	if cfg.GetFallbackClassification() != "other" {
		t.Errorf("GetFallbackClassification() = %q", cfg.GetFallbackClassification())
	}
	if len(cfg.KnownClassifications) != 3 {
		t.Errorf("KnownClassifications = %v", cfg.KnownClassifications)
	}
	if got := cfg.GetTrackFormats(); len(got) != 2 || got[1] != "protobuf" {
		t.Errorf("GetTrackFormats() = %v", got)
	}
}

func TestLoadAnalysisConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"wrong extension", "analysis.txt", `{}`, "extension"},
		{"bad json", "analysis.json", `{`, "failed to parse"},
		{"zero interval", "analysis.json", `{"interval_minutes": 0}`, "interval_minutes"},
		{"interval longer than a day", "analysis.json", `{"interval_minutes": 1441}`, "interval_minutes"},
		{"zero chunk size", "analysis.json", `{"chunk_size": 0}`, "chunk_size"},
		{"negative workers", "analysis.yml", `workers: -1`, "workers"},
		{"bad start", "analysis.json", `{"start_time": "yesterday"}`, "start_time"},
		{"end before start", "analysis.json", `{"start_time": "2024-05-14T10:00:00Z", "end_time": "2024-05-14T08:00:00Z"}`, "before"},
		{"empty fallback", "analysis.json", `{"fallback_classification": ""}`, "fallback_classification"},
		{"bad timezone", "analysis.yaml", `timezone: Mars/Olympus`, "timezone"},
		{"empty format", "analysis.json", `{"export_formats": {"counts": [""]}}`, "export_formats.counts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.content)
			_, err := LoadAnalysisConfig(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAnalysisConfigMissingFile(t *testing.T) {
	if _, err := LoadAnalysisConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestZeroWidthWindowIsValid(t *testing.T) {
	cfg := &AnalysisConfig{
		StartTime: ptrString("2024-05-14T08:00:00Z"),
		EndTime:   ptrString("2024-05-14T08:00:00Z"),
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero-width window should validate: %v", err)
	}
}

func TestGetLocation(t *testing.T) {
	if loc := EmptyAnalysisConfig().GetLocation(); loc != nil {
		t.Errorf("unset timezone should give nil location, got %v", loc)
	}
	cfg := &AnalysisConfig{Timezone: ptrString("Europe/Berlin")}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if loc := cfg.GetLocation(); loc == nil || loc.String() != "Europe/Berlin" {
		t.Errorf("GetLocation() = %v, want Europe/Berlin", loc)
	}
}
