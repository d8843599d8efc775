// Command soar-ingest is the stateless half of the pipeline: it connects to
// configured upstream OGN/Beast/SBS endpoints, frames and timestamps each
// record, and relays it to a soar-processor process over a Unix domain
// socket, spooling to disk across restarts or an unreachable processor.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hut8/soar/internal/config"
	"github.com/hut8/soar/internal/fsutil"
	"github.com/hut8/soar/internal/ingest/bridge"
	"github.com/hut8/soar/internal/ingest/manager"
	"github.com/hut8/soar/internal/ingest/queue"
	"github.com/hut8/soar/internal/ingest/reader"
	"github.com/hut8/soar/internal/instancelock"
	"github.com/hut8/soar/internal/metrics"
	"github.com/hut8/soar/internal/monitoring"
	"github.com/hut8/soar/internal/security"
	"github.com/hut8/soar/internal/timeutil"
	"github.com/hut8/soar/internal/version"
)

// streamsConfigPollInterval is how often the Stream Manager rereads the
// hot-reloadable endpoint list for changes.
const streamsConfigPollInterval = 5 * time.Second

// shutdownDrainCap bounds how long this process waits for the queue to
// fully drain to the processor on shutdown before exiting anyway. A
// processor that is down for longer than this should not wedge a restart.
const shutdownDrainCap = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		log.Fatalf("soar-ingest: %v", err)
	}
}

func run() error {
	monitoring.Logf("soar-ingest: starting version=%s git=%s built=%s", version.Version, version.GitSHA, version.BuildTime)

	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}

	if envCfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              envCfg.SentryDSN,
			Release:          envCfg.SentryRelease,
			Environment:      envCfg.Environment,
			AttachStacktrace: true,
		}); err != nil {
			monitoring.Logf("soar-ingest: sentry init: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			defer sentry.Recover()
		}
	}

	pipelineCfg, err := config.LoadPipelineConfig(os.Getenv("PIPELINE_CONFIG_PATH"))
	if err != nil {
		return err
	}

	statePath := envCfg.FlightStatePath
	if statePath == "" {
		statePath = "."
	}
	streamsConfigPath := os.Getenv("STREAMS_CONFIG_PATH")
	if streamsConfigPath == "" {
		return fmt.Errorf("STREAMS_CONFIG_PATH is required")
	}

	lockPath := filepath.Join(statePath, "soar-ingest.lock")
	if err := security.ValidatePathWithinDirectory(lockPath, statePath); err != nil {
		return fmt.Errorf("instance lock path: %w", err)
	}
	lock, err := instancelock.Acquire(lockPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	queues, err := openSourceQueues(statePath, pipelineCfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, q := range queues {
			_ = q.Close()
		}
	}()

	endpointSource, err := loadEndpointSources(streamsConfigPath)
	if err != nil {
		return err
	}

	reg := metrics.New()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := ":" + envCfg.MetricsPort
		if err := reg.Serve(ctx, addr); err != nil {
			monitoring.Logf("soar-ingest: metrics server: %v", err)
		}
	}()

	// Senders outlive the SIGINT context: on shutdown the readers stop
	// pulling but the senders keep draining the queues until they are empty
	// or the drain cap elapses, so records already spooled are not stranded
	// until the next start.
	senderCtx, senderCancel := context.WithCancel(context.Background())
	defer senderCancel()
	for sourceName, q := range queues {
		sender := bridge.NewSender(socketPath(statePath), sourceTagFor(sourceName), time.Second)
		wg.Add(1)
		go func(q *queue.Queue) {
			defer wg.Done()
			sender.Run(senderCtx, q)
		}(q)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		reportDepth(ctx, queues, reg)
	}()

	mgr := manager.New(fsutil.OSFileSystem{}, timeutil.RealClock{},
		framerFor,
		sinkFor(queues, endpointSource),
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mgr.Run(ctx, streamsConfigPath, streamsConfigPollInterval); err != nil {
			monitoring.Logf("soar-ingest: stream manager: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("soar-ingest: shutting down, draining queues (up to %s)", shutdownDrainCap)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownDrainCap)
	defer drainCancel()
	waitForDrain(drainCtx, queues)
	senderCancel()

	wg.Wait()
	return nil
}

func socketPath(stateDir string) string {
	if v := os.Getenv("SOAR_SOCKET_PATH"); v != "" {
		return v
	}
	return filepath.Join(stateDir, "soar.sock")
}

// openSourceQueues opens one persistent queue per wire protocol. A
// bridge.Sender carries a single fixed SourceTag, so every endpoint of a
// given protocol shares that protocol's queue; this keeps the record
// itself free of a source tag while still letting the processor side
// demultiplex correctly.
func openSourceQueues(stateDir string, cfg *config.PipelineConfig) (map[string]*queue.Queue, error) {
	queues := make(map[string]*queue.Queue, 3)
	queueRoot := filepath.Join(stateDir, "queue")
	for _, name := range []string{"ogn", "beast", "sbs"} {
		dir := filepath.Join(queueRoot, name)
		if err := security.ValidatePathWithinDirectory(dir, queueRoot); err != nil {
			return nil, fmt.Errorf("queue dir: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create queue dir %s: %w", dir, err)
		}
		q, err := queue.Open(dir, cfg.GetQueueMemCapacity(), cfg.GetQueueRolloverBytes())
		if err != nil {
			return nil, fmt.Errorf("open %s queue: %w", name, err)
		}
		queues[name] = q
	}
	return queues, nil
}

func sourceTagFor(name string) bridge.SourceTag {
	switch name {
	case "ogn":
		return bridge.SourceOGN
	case "beast":
		return bridge.SourceBeast
	case "sbs":
		return bridge.SourceSBS
	default:
		return bridge.SourceUnknown
	}
}

func framerFor(source string) (reader.Framer, error) {
	switch source {
	case "ogn":
		return reader.OGNFramer{}, nil
	case "beast":
		return reader.BeastFramer{}, nil
	case "sbs":
		return reader.SBSFramer{}, nil
	default:
		return nil, fmt.Errorf("soar-ingest: unknown stream source %q", source)
	}
}

// loadEndpointSources reads the streams config once at startup to learn
// each endpoint's wire protocol, so sinkFor can route a freshly started
// reader to the matching protocol queue. A hot reload that renames an
// endpoint to a different source is picked up the next time this process
// restarts; the set of protocols this pipeline speaks does not change at
// runtime in practice.
func loadEndpointSources(path string) (map[string]string, error) {
	cfg, err := config.LoadStreamsConfig(path)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		m[e.Name] = e.Source
	}
	return m, nil
}

// sinkFor resolves the queue a given endpoint name should push frames
// into, based on the source recorded for it at startup.
func sinkFor(queues map[string]*queue.Queue, endpointSource map[string]string) manager.SinkFor {
	return func(name string) reader.Sink {
		source, ok := endpointSource[name]
		if !ok {
			monitoring.Logf("soar-ingest: endpoint %q not present at startup, defaulting to ogn queue", name)
			source = "ogn"
		}
		q, ok := queues[source]
		if !ok {
			monitoring.Logf("soar-ingest: no queue for source %q, defaulting to ogn queue", source)
			q = queues["ogn"]
		}
		return q
	}
}

func reportDepth(ctx context.Context, queues map[string]*queue.Queue, reg *metrics.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var total int64
			for _, q := range queues {
				d := q.Depth()
				total += int64(d.MemCount)
			}
			reg.QueueDepth.Set(float64(total))
		}
	}
}

func waitForDrain(ctx context.Context, queues map[string]*queue.Queue) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		empty := true
		for _, q := range queues {
			d := q.Depth()
			if d.MemCount > 0 || d.DiskFileBytes > 0 {
				empty = false
				break
			}
		}
		if empty {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
