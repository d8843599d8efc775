package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hut8/soar/internal/fsutil"
	"github.com/hut8/soar/internal/timeutil"
)

// defaultPollInterval is how often the watcher rereads the streams config
// file looking for a change.
const defaultPollInterval = 5 * time.Second

// StreamsWatcher polls a streams config file for changes and invokes a
// callback with the parsed result whenever the file's bytes differ from
// the last read. Byte comparison is used instead of mtime because the
// in-memory filesystem used in tests never reports a real modification
// time.
type StreamsWatcher struct {
	fs   fsutil.FileSystem
	path string

	lastRaw []byte
	lastCfg *StreamsConfig
}

// NewStreamsWatcher constructs a watcher for the streams config at path.
func NewStreamsWatcher(fs fsutil.FileSystem, path string) *StreamsWatcher {
	return &StreamsWatcher{fs: fs, path: path}
}

// Load reads and parses the streams config unconditionally, updating the
// watcher's last-seen snapshot so a subsequent Poll only reports changes
// relative to this read.
func (w *StreamsWatcher) Load() (*StreamsConfig, error) {
	raw, cfg, err := w.readAndParse()
	if err != nil {
		return nil, err
	}
	w.lastRaw = raw
	w.lastCfg = cfg
	return cfg, nil
}

// Poll rereads the config file and returns the parsed config and true if
// its contents changed since the last Load/Poll call. A parse error on a
// reread is returned without disturbing the watcher's last-known-good
// snapshot, so a transient write-in-progress doesn't tear down the
// currently running streams.
func (w *StreamsWatcher) Poll() (*StreamsConfig, bool, error) {
	raw, cfg, err := w.readAndParse()
	if err != nil {
		return nil, false, err
	}
	if bytes.Equal(raw, w.lastRaw) {
		return w.lastCfg, false, nil
	}
	w.lastRaw = raw
	w.lastCfg = cfg
	return cfg, true, nil
}

func (w *StreamsWatcher) readAndParse() ([]byte, *StreamsConfig, error) {
	raw, err := w.fs.ReadFile(w.path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: read streams config %q: %w", w.path, err)
	}
	var cfg StreamsConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, nil, fmt.Errorf("config: parse streams config %q: %w", w.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config: invalid streams config %q: %w", w.path, err)
	}
	return raw, &cfg, nil
}

// Watch blocks, polling at the given interval, invoking onChange whenever
// the file's contents change, until ctx is cancelled. Poll errors (an
// unreadable or malformed file) are reported to onError and polling goes
// on, so a single bad edit to the config file doesn't stop future polls
// from picking up a later fix.
func (w *StreamsWatcher) Watch(ctx context.Context, clock timeutil.Clock, interval time.Duration, onChange func(*StreamsConfig), onError func(error)) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			cfg, changed, err := w.Poll()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if changed && onChange != nil {
				onChange(cfg)
			}
		}
	}
}
