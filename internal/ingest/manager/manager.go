// Package manager supervises the set of stream readers configured for an
// ingest process, starting and stopping individual readers as the
// hot-reloadable streams config changes. It follows the same
// cancel-and-wait lifecycle
// every long-running component in this codebase uses (reader.Reader,
// agl.Stage, router.Router).
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/hut8/soar/internal/config"
	"github.com/hut8/soar/internal/fsutil"
	"github.com/hut8/soar/internal/ingest/reader"
	"github.com/hut8/soar/internal/monitoring"
	"github.com/hut8/soar/internal/timeutil"
)

// FramerFor resolves the Framer to use for a stream source tag
// ("ogn" | "beast" | "sbs"). Supplied by the caller so this package does
// not need to import every framer implementation's decode dependencies.
type FramerFor func(source string) (reader.Framer, error)

// SinkFor resolves the Sink a given named endpoint should push frames
// into. In production every endpoint shares a single persistent queue,
// but tests and multi-queue deployments may want per-endpoint sinks.
type SinkFor func(name string) reader.Sink

type managedReader struct {
	cancel context.CancelFunc
	done   chan struct{}
	cfg    config.StreamEndpoint
}

// Manager owns the lifecycle of one reader goroutine per configured
// stream endpoint, reconciling the running set against the streams
// config whenever the watcher reports a change.
type Manager struct {
	fs        fsutil.FileSystem
	clock     timeutil.Clock
	framerFor FramerFor
	sinkFor   SinkFor

	mu      sync.Mutex
	running map[string]*managedReader
}

// New constructs a Manager. framerFor and sinkFor are required; clock
// defaults to timeutil.RealClock{} when nil.
func New(fs fsutil.FileSystem, clock timeutil.Clock, framerFor FramerFor, sinkFor SinkFor) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{
		fs:        fs,
		clock:     clock,
		framerFor: framerFor,
		sinkFor:   sinkFor,
		running:   make(map[string]*managedReader),
	}
}

// Run loads the streams config at path, starts a reader per endpoint, and
// then polls for config changes at the given interval, reconciling the
// running readers against each new version until ctx is cancelled. It
// blocks until every managed reader has stopped.
func (m *Manager) Run(ctx context.Context, path string, pollInterval time.Duration) error {
	watcher := config.NewStreamsWatcher(m.fs, path)
	cfg, err := watcher.Load()
	if err != nil {
		return err
	}
	m.reconcile(ctx, cfg)

	watcher.Watch(ctx, m.clock, pollInterval,
		func(cfg *config.StreamsConfig) { m.reconcile(ctx, cfg) },
		func(err error) { monitoring.Logf("manager: config reload failed: %v", err) },
	)

	m.StopAll()
	return nil
}

// reconcile starts readers for endpoints newly present in cfg, restarts
// any endpoint whose definition changed, and stops readers for endpoints
// removed from cfg.
func (m *Manager) reconcile(ctx context.Context, cfg *config.StreamsConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]config.StreamEndpoint, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		want[e.Name] = e
	}

	for name, mr := range m.running {
		e, stillWanted := want[name]
		if !stillWanted || !e.Equal(mr.cfg) {
			monitoring.Logf("manager: stopping reader %q (removed or changed)", name)
			mr.cancel()
			<-mr.done
			delete(m.running, name)
		}
	}

	for name, e := range want {
		if _, ok := m.running[name]; ok {
			continue
		}
		if err := m.start(ctx, e); err != nil {
			monitoring.Logf("manager: failed to start reader %q: %v", name, err)
		}
	}
}

func (m *Manager) start(ctx context.Context, e config.StreamEndpoint) error {
	framer, err := m.framerFor(e.Source)
	if err != nil {
		return err
	}
	sink := m.sinkFor(e.Name)

	readerCfg := reader.Config{
		Name:       e.Name,
		Address:    e.Address,
		LoginLine:  e.LoginLine,
		RetryDelay: time.Duration(e.GetRetryDelaySeconds()) * time.Second,
		MaxBackoff: time.Duration(e.GetMaxBackoffSeconds()) * time.Second,
	}
	rdr := reader.New(readerCfg, framer, sink)

	readerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rdr.Run(readerCtx)
	}()

	m.running[e.Name] = &managedReader{cancel: cancel, done: done, cfg: e}
	monitoring.Logf("manager: started reader %q (%s %s)", e.Name, e.Source, e.Address)
	return nil
}

// StopAll cancels every currently running reader and waits for them all
// to exit.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, mr := range m.running {
		mr.cancel()
		<-mr.done
		delete(m.running, name)
	}
}

// Running returns the names of the currently running readers, for tests
// and diagnostics.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.running))
	for name := range m.running {
		names = append(names, name)
	}
	return names
}
