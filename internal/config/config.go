// Package config loads the runtime configuration for the ingest and
// processor binaries: the hot-reloadable stream endpoint list and the
// tunable worker-pool/channel parameters, plus the handful of environment
// variables the core recognizes. Fields are pointers so a partial
// JSON document only overrides what it mentions; Get* accessors supply the
// defaults validated for this workload, the same pattern this codebase
// already uses for tunable parameters.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// maxConfigFileSize bounds how large a streams config file may be, guarding
// against a misconfigured path pointing at something enormous.
const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// StreamEndpoint describes one upstream feed the Stream Manager supervises.
type StreamEndpoint struct {
	Name              string `json:"name"`
	Source            string `json:"source"` // "ogn" | "beast" | "sbs"
	Address           string `json:"address"`
	LoginLine         string `json:"login_line,omitempty"`
	RetryDelaySeconds *int   `json:"retry_delay_seconds,omitempty"`
	MaxBackoffSeconds *int   `json:"max_backoff_seconds,omitempty"`
}

// GetRetryDelaySeconds returns the configured retry delay or the default.
func (e StreamEndpoint) GetRetryDelaySeconds() int {
	if e.RetryDelaySeconds == nil {
		return 1
	}
	return *e.RetryDelaySeconds
}

// GetMaxBackoffSeconds returns the configured backoff ceiling or the default.
func (e StreamEndpoint) GetMaxBackoffSeconds() int {
	if e.MaxBackoffSeconds == nil {
		return 30
	}
	return *e.MaxBackoffSeconds
}

// Equal reports whether two endpoint definitions are equivalent, comparing
// by value rather than by the pointer identity of their optional fields
// (which always differ across separate JSON unmarshals).
func (e StreamEndpoint) Equal(other StreamEndpoint) bool {
	return e.Name == other.Name &&
		e.Source == other.Source &&
		e.Address == other.Address &&
		e.LoginLine == other.LoginLine &&
		e.GetRetryDelaySeconds() == other.GetRetryDelaySeconds() &&
		e.GetMaxBackoffSeconds() == other.GetMaxBackoffSeconds()
}

// StreamsConfig is the hot-reloadable file listing every upstream endpoint
// the Stream Manager should run a reader against.
type StreamsConfig struct {
	Endpoints []StreamEndpoint `json:"endpoints"`
}

// LoadStreamsConfig loads and validates a StreamsConfig from a JSON file.
func LoadStreamsConfig(path string) (*StreamsConfig, error) {
	data, err := readValidatedFile(path)
	if err != nil {
		return nil, err
	}

	var cfg StreamsConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse streams config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid streams config %q: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that every endpoint has the fields the Stream Manager
// requires to dial it.
func (c *StreamsConfig) Validate() error {
	for i, e := range c.Endpoints {
		if e.Name == "" {
			return fmt.Errorf("endpoint %d: name is required", i)
		}
		if e.Address == "" {
			return fmt.Errorf("endpoint %q: address is required", e.Name)
		}
		switch e.Source {
		case "ogn", "beast", "sbs":
		default:
			return fmt.Errorf("endpoint %q: unknown source %q", e.Name, e.Source)
		}
	}
	return nil
}

// Equal reports whether two StreamsConfigs describe the same endpoints,
// used by the Stream Manager to decide whether a reloaded file actually
// changed anything worth restarting readers over.
func (c *StreamsConfig) Equal(other *StreamsConfig) bool {
	a, err1 := json.Marshal(c)
	b, err2 := json.Marshal(other)
	return err1 == nil && err2 == nil && bytes.Equal(a, b)
}

// PipelineConfig tunes the worker-pool sizes, channel capacities, and
// batch/timeout parameters for the router pools, the elevation stage, and
// the flight tracker.
// Fields omitted from the JSON document keep this workload's defaults.
type PipelineConfig struct {
	AircraftWorkers        *int `json:"aircraft_workers,omitempty"`
	AircraftCapacity       *int `json:"aircraft_capacity,omitempty"`
	ReceiverStatusWorkers  *int `json:"receiver_status_workers,omitempty"`
	ReceiverStatusCapacity *int `json:"receiver_status_capacity,omitempty"`
	ReceiverPosWorkers     *int `json:"receiver_position_workers,omitempty"`
	ReceiverPosCapacity    *int `json:"receiver_position_capacity,omitempty"`
	ServerWorkers          *int `json:"server_workers,omitempty"`
	ServerCapacity         *int `json:"server_capacity,omitempty"`

	ElevationWorkers  *int `json:"elevation_workers,omitempty"`
	ElevationTileSize *int `json:"elevation_tile_cache_size,omitempty"`
	ElevationBuffer   *int `json:"elevation_buffer,omitempty"`

	QueueMemCapacity   *int   `json:"queue_mem_capacity,omitempty"`
	QueueRolloverBytes *int64 `json:"queue_rollover_bytes,omitempty"`

	FlightTimeoutSeconds *int `json:"flight_timeout_seconds,omitempty"`

	ReverseGeocodingEnabled *bool `json:"reverse_geocoding_enabled,omitempty"`
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getInt64(p *int64, def int64) int64 {
	if p == nil {
		return def
	}
	return *p
}

func getBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// GetAircraftWorkers returns the configured worker count or the default (80).
func (c *PipelineConfig) GetAircraftWorkers() int { return getInt(c.AircraftWorkers, 80) }

// GetAircraftCapacity returns the configured channel capacity or the default (1000).
func (c *PipelineConfig) GetAircraftCapacity() int { return getInt(c.AircraftCapacity, 1000) }

// GetReceiverStatusWorkers returns the configured worker count or the default (6).
func (c *PipelineConfig) GetReceiverStatusWorkers() int { return getInt(c.ReceiverStatusWorkers, 6) }

// GetReceiverStatusCapacity returns the configured channel capacity or the default (200).
func (c *PipelineConfig) GetReceiverStatusCapacity() int {
	return getInt(c.ReceiverStatusCapacity, 200)
}

// GetReceiverPosWorkers returns the configured worker count or the default (4).
func (c *PipelineConfig) GetReceiverPosWorkers() int { return getInt(c.ReceiverPosWorkers, 4) }

// GetReceiverPosCapacity returns the configured channel capacity or the default (200).
func (c *PipelineConfig) GetReceiverPosCapacity() int { return getInt(c.ReceiverPosCapacity, 200) }

// GetServerWorkers returns the configured worker count or the default (2).
func (c *PipelineConfig) GetServerWorkers() int { return getInt(c.ServerWorkers, 2) }

// GetServerCapacity returns the configured channel capacity or the default (50).
func (c *PipelineConfig) GetServerCapacity() int { return getInt(c.ServerCapacity, 50) }

// GetElevationWorkers returns the configured AGL worker count or the default (8).
func (c *PipelineConfig) GetElevationWorkers() int { return getInt(c.ElevationWorkers, 8) }

// GetElevationTileCacheSize returns the configured DEM tile LRU size or the default.
func (c *PipelineConfig) GetElevationTileCacheSize() int { return getInt(c.ElevationTileSize, 4096) }

// GetElevationBuffer returns the configured elevation-request channel buffer or the default.
func (c *PipelineConfig) GetElevationBuffer() int { return getInt(c.ElevationBuffer, 256) }

// GetQueueMemCapacity returns the configured in-memory queue head size or the default.
func (c *PipelineConfig) GetQueueMemCapacity() int { return getInt(c.QueueMemCapacity, 1024) }

// GetQueueRolloverBytes returns the configured segment rollover threshold or the default (64MB).
func (c *PipelineConfig) GetQueueRolloverBytes() int64 {
	return getInt64(c.QueueRolloverBytes, 64*1024*1024)
}

// GetFlightTimeoutSeconds returns the configured flight-silence timeout or the default (1h).
func (c *PipelineConfig) GetFlightTimeoutSeconds() int {
	return getInt(c.FlightTimeoutSeconds, 3600)
}

// GetReverseGeocodingEnabled reports whether reverse geocoding is enabled.
// Disabled by default: it is an optional external integration.
func (c *PipelineConfig) GetReverseGeocodingEnabled() bool {
	return getBool(c.ReverseGeocodingEnabled, false)
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file. A missing
// file is not an error: the zero-value config (all defaults) is returned.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	if path == "" {
		return &PipelineConfig{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &PipelineConfig{}, nil
		}
		return nil, fmt.Errorf("config: stat pipeline config %q: %w", path, err)
	}

	data, err := readValidatedFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &PipelineConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse pipeline config %q: %w", path, err)
	}
	return cfg, nil
}

func readValidatedFile(path string) ([]byte, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return data, nil
}
