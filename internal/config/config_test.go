package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadStreamsConfigValid(t *testing.T) {
	path := writeTempConfig(t, "streams.json", `{
		"endpoints": [
			{"name": "ogn-primary", "source": "ogn", "address": "aprs.glidernet.org:14580", "login_line": "user N0CALL pass -1"},
			{"name": "beast-local", "source": "beast", "address": "localhost:30005"}
		]
	}`)

	cfg, err := LoadStreamsConfig(path)
	if err != nil {
		t.Fatalf("LoadStreamsConfig: %v", err)
	}
	if len(cfg.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(cfg.Endpoints))
	}
	if cfg.Endpoints[1].GetRetryDelaySeconds() != 1 {
		t.Errorf("expected default retry delay 1, got %d", cfg.Endpoints[1].GetRetryDelaySeconds())
	}
	if cfg.Endpoints[1].GetMaxBackoffSeconds() != 30 {
		t.Errorf("expected default max backoff 30, got %d", cfg.Endpoints[1].GetMaxBackoffSeconds())
	}
}

func TestLoadStreamsConfigRejectsUnknownSource(t *testing.T) {
	path := writeTempConfig(t, "streams.json", `{
		"endpoints": [{"name": "x", "source": "carrier-pigeon", "address": "x:1"}]
	}`)

	if _, err := LoadStreamsConfig(path); err == nil {
		t.Fatal("expected error for unknown source, got nil")
	}
}

func TestLoadStreamsConfigRejectsMissingAddress(t *testing.T) {
	path := writeTempConfig(t, "streams.json", `{
		"endpoints": [{"name": "x", "source": "ogn"}]
	}`)

	if _, err := LoadStreamsConfig(path); err == nil {
		t.Fatal("expected error for missing address, got nil")
	}
}

func TestLoadStreamsConfigRejectsNonJSONExtension(t *testing.T) {
	path := writeTempConfig(t, "streams.txt", `{"endpoints": []}`)

	if _, err := LoadStreamsConfig(path); err == nil {
		t.Fatal("expected error for non-.json extension, got nil")
	}
}

func TestStreamsConfigEqual(t *testing.T) {
	a := &StreamsConfig{Endpoints: []StreamEndpoint{{Name: "x", Source: "ogn", Address: "a:1"}}}
	b := &StreamsConfig{Endpoints: []StreamEndpoint{{Name: "x", Source: "ogn", Address: "a:1"}}}
	c := &StreamsConfig{Endpoints: []StreamEndpoint{{Name: "x", Source: "ogn", Address: "a:2"}}}

	if !a.Equal(b) {
		t.Error("expected a.Equal(b) to be true")
	}
	if a.Equal(c) {
		t.Error("expected a.Equal(c) to be false")
	}
}

func TestPipelineConfigDefaults(t *testing.T) {
	cfg := &PipelineConfig{}
	if cfg.GetAircraftWorkers() != 80 {
		t.Errorf("expected default aircraft workers 80, got %d", cfg.GetAircraftWorkers())
	}
	if cfg.GetAircraftCapacity() != 1000 {
		t.Errorf("expected default aircraft capacity 1000, got %d", cfg.GetAircraftCapacity())
	}
	if cfg.GetReceiverStatusWorkers() != 6 {
		t.Errorf("expected default receiver status workers 6, got %d", cfg.GetReceiverStatusWorkers())
	}
	if cfg.GetReceiverPosWorkers() != 4 {
		t.Errorf("expected default receiver position workers 4, got %d", cfg.GetReceiverPosWorkers())
	}
	if cfg.GetServerWorkers() != 2 {
		t.Errorf("expected default server workers 2, got %d", cfg.GetServerWorkers())
	}
	if cfg.GetElevationWorkers() != 8 {
		t.Errorf("expected default elevation workers 8, got %d", cfg.GetElevationWorkers())
	}
	if cfg.GetQueueRolloverBytes() != 64*1024*1024 {
		t.Errorf("expected default queue rollover 64MB, got %d", cfg.GetQueueRolloverBytes())
	}
	if cfg.GetFlightTimeoutSeconds() != 3600 {
		t.Errorf("expected default flight timeout 3600, got %d", cfg.GetFlightTimeoutSeconds())
	}
	if cfg.GetReverseGeocodingEnabled() {
		t.Error("expected reverse geocoding disabled by default")
	}
}

func TestPipelineConfigOverrides(t *testing.T) {
	workers := 16
	enabled := true
	cfg := &PipelineConfig{AircraftWorkers: &workers, ReverseGeocodingEnabled: &enabled}
	if cfg.GetAircraftWorkers() != 16 {
		t.Errorf("expected overridden aircraft workers 16, got %d", cfg.GetAircraftWorkers())
	}
	if !cfg.GetReverseGeocodingEnabled() {
		t.Error("expected reverse geocoding enabled via override")
	}
}

func TestLoadPipelineConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadPipelineConfig(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("LoadPipelineConfig: %v", err)
	}
	if cfg.GetAircraftWorkers() != 80 {
		t.Errorf("expected default config on missing file, got %d workers", cfg.GetAircraftWorkers())
	}
}

func TestLoadPipelineConfigEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadPipelineConfig("")
	if err != nil {
		t.Fatalf("LoadPipelineConfig: %v", err)
	}
	if cfg.GetAircraftWorkers() != 80 {
		t.Errorf("expected default config on empty path, got %d workers", cfg.GetAircraftWorkers())
	}
}

func TestLoadPipelineConfigPartialOverride(t *testing.T) {
	path := writeTempConfig(t, "pipeline.json", `{"aircraft_workers": 120}`)
	cfg, err := LoadPipelineConfig(path)
	if err != nil {
		t.Fatalf("LoadPipelineConfig: %v", err)
	}
	if cfg.GetAircraftWorkers() != 120 {
		t.Errorf("expected aircraft workers 120, got %d", cfg.GetAircraftWorkers())
	}
	if cfg.GetServerWorkers() != 2 {
		t.Errorf("expected untouched server workers to keep default 2, got %d", cfg.GetServerWorkers())
	}
}
