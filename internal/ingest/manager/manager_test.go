package manager

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hut8/soar/internal/config"
	"github.com/hut8/soar/internal/fsutil"
	"github.com/hut8/soar/internal/ingest/reader"
	"github.com/hut8/soar/internal/timeutil"
)

type nullFramer struct{}

func (nullFramer) ReadFrame(r *bufio.Reader) ([]byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	return []byte{b}, nil
}

type countingSink struct {
	mu    sync.Mutex
	count int
}

func (s *countingSink) Push(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return nil
}

func writeConfig(t *testing.T, fs fsutil.FileSystem, path, content string) {
	t.Helper()
	if err := fs.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestManagerStartsConfiguredReaders(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	writeConfig(t, fs, "/streams.json", `{"endpoints":[
		{"name":"a","source":"ogn","address":"127.0.0.1:1"},
		{"name":"b","source":"beast","address":"127.0.0.1:2"}
	]}`)

	sinks := map[string]*countingSink{"a": {}, "b": {}}
	m := New(fs, timeutil.NewMockClock(time.Unix(0, 0)),
		func(source string) (reader.Framer, error) { return nullFramer{}, nil },
		func(name string) reader.Sink { return sinks[name] },
	)

	watcher := config.NewStreamsWatcher(fs, "/streams.json")
	cfg, err := watcher.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.reconcile(ctx, cfg)

	running := m.Running()
	if len(running) != 2 {
		t.Fatalf("expected 2 running readers, got %d: %v", len(running), running)
	}

	cancel()
	m.StopAll()
}

func TestManagerReconcileStopsRemovedEndpoint(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	sinks := map[string]*countingSink{"a": {}, "b": {}}
	m := New(fs, timeutil.NewMockClock(time.Unix(0, 0)),
		func(source string) (reader.Framer, error) { return nullFramer{}, nil },
		func(name string) reader.Sink { return sinks[name] },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.reconcile(ctx, &config.StreamsConfig{Endpoints: []config.StreamEndpoint{
		{Name: "a", Source: "ogn", Address: "127.0.0.1:1"},
		{Name: "b", Source: "beast", Address: "127.0.0.1:2"},
	}})
	if len(m.Running()) != 2 {
		t.Fatalf("expected 2 running readers, got %d", len(m.Running()))
	}

	m.reconcile(ctx, &config.StreamsConfig{Endpoints: []config.StreamEndpoint{
		{Name: "a", Source: "ogn", Address: "127.0.0.1:1"},
	}})

	running := m.Running()
	if len(running) != 1 || running[0] != "a" {
		t.Fatalf("expected only reader 'a' running, got %v", running)
	}

	m.StopAll()
}

func TestManagerStartFailurePropagatesNoReader(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	m := New(fs, timeutil.NewMockClock(time.Unix(0, 0)),
		func(source string) (reader.Framer, error) { return nil, fmt.Errorf("unknown source %q", source) },
		func(name string) reader.Sink { return &countingSink{} },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.reconcile(ctx, &config.StreamsConfig{Endpoints: []config.StreamEndpoint{
		{Name: "a", Source: "ogn", Address: "127.0.0.1:1"},
	}})

	if len(m.Running()) != 0 {
		t.Fatalf("expected no readers running after start failure, got %v", m.Running())
	}
}
