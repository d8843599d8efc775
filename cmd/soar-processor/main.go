// Command soar-processor is the stateful half of the pipeline: it accepts
// framed records from one or more soar-ingest processes over a Unix
// domain socket, decodes each wire protocol into Fixes, and drives the
// accumulator, flight tracker, geofence engine, and AGL stage against the
// durable store.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hut8/soar/internal/accumulator"
	"github.com/hut8/soar/internal/adminhttp"
	"github.com/hut8/soar/internal/adsb"
	"github.com/hut8/soar/internal/agl"
	"github.com/hut8/soar/internal/aircraftpool"
	"github.com/hut8/soar/internal/config"
	"github.com/hut8/soar/internal/fixproc"
	"github.com/hut8/soar/internal/flighttracker"
	"github.com/hut8/soar/internal/fsutil"
	"github.com/hut8/soar/internal/geocode"
	"github.com/hut8/soar/internal/geofence"
	"github.com/hut8/soar/internal/httputil"
	"github.com/hut8/soar/internal/ingest/bridge"
	"github.com/hut8/soar/internal/instancelock"
	"github.com/hut8/soar/internal/metrics"
	"github.com/hut8/soar/internal/monitoring"
	"github.com/hut8/soar/internal/ogn"
	"github.com/hut8/soar/internal/pubsub"
	"github.com/hut8/soar/internal/router"
	"github.com/hut8/soar/internal/security"
	"github.com/hut8/soar/internal/store/sqlite"
	"github.com/hut8/soar/internal/units"
	"github.com/hut8/soar/internal/version"
	"github.com/hut8/soar/internal/workerpool"
)

// nominatimReverseURL is the public Nominatim reverse-geocoding endpoint;
// the same provider internal/geocode's doc comment names.
const nominatimReverseURL = "https://nominatim.openstreetmap.org/reverse"

func main() {
	if err := run(); err != nil {
		log.Fatalf("soar-processor: %v", err)
	}
}

func run() error {
	monitoring.Logf("soar-processor: starting version=%s git=%s built=%s", version.Version, version.GitSHA, version.BuildTime)

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
			monitoring.Logf("soar-processor: sentry init: %v", err)
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
	lockPath := filepath.Join(statePath, "soar-processor.lock")
	if err := security.ValidatePathWithinDirectory(lockPath, statePath); err != nil {
		return fmt.Errorf("instance lock path: %w", err)
	}
	lock, err := instancelock.Acquire(lockPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	db, err := sqlite.Open(envCfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	var events *pubsub.Publisher
	if envCfg.NATSURL != "" {
		events, err = pubsub.Connect(envCfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect pubsub: %w", err)
		}
		defer events.Close()
	} else {
		events = pubsub.Disabled()
	}

	reg := metrics.New()
	if err := adminhttp.Attach(reg.Mux(), db.DB, "soar-processor"); err != nil {
		monitoring.Logf("soar-processor: admin routes: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := ":" + envCfg.MetricsPort
		if err := reg.Serve(ctx, addr); err != nil {
			monitoring.Logf("soar-processor: metrics server: %v", err)
		}
	}()

	locations := newLocationResolver(db, pipelineCfg.GetReverseGeocodingEnabled())

	checkpointPath := filepath.Join(statePath, "flighttracker.checkpoint.json")
	if err := security.ValidatePathWithinDirectory(checkpointPath, statePath); err != nil {
		return fmt.Errorf("checkpoint path: %w", err)
	}
	tracker := flighttracker.New(flighttracker.Config{
		Timeout:        time.Duration(pipelineCfg.GetFlightTimeoutSeconds()) * time.Second,
		CheckpointPath: checkpointPath,
	}, db, locations, fsutil.OSFileSystem{}, events, flighttracker.Counters{
		FlightsOpened: reg.FlightsOpened,
		FlightsClosed: reg.FlightsClosed,
	})

	wg.Add(2)
	go func() { defer wg.Done(); tracker.RunTimeoutChecker(ctx) }()
	go func() { defer wg.Done(); tracker.RunCheckpointer(ctx) }()

	geofenceEngine := geofence.New(db, db, events, reg.GeofenceExits)

	elevationCh := make(chan agl.ElevationRequest, pipelineCfg.GetElevationBuffer())
	if envCfg.ElevationDataPath != "" {
		terrain := agl.NewDEMSource(envCfg.ElevationDataPath)
		stage := agl.New(agl.Config{
			Workers:       pipelineCfg.GetElevationWorkers(),
			TileCacheSize: pipelineCfg.GetElevationTileCacheSize(),
			UpdateBuffer:  pipelineCfg.GetElevationBuffer(),
		}, terrain, db, reg.ElevationBatchSize)
		wg.Add(1)
		go func() { defer wg.Done(); stage.Run(ctx, elevationCh) }()
	} else {
		// No DEM tiles configured: drain and drop so HandleFix's send
		// never blocks on a channel nothing is reading.
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-elevationCh:
				}
			}
		}()
	}

	proc := fixproc.New(db, tracker, geofenceEngine, tracker, elevationCh, events, reg.FixesEmitted)
	acc := accumulator.New()
	acc.OnNoFixWarning(func(key string, consecutive int) {
		monitoring.Logf("soar-processor: %d consecutive observations for %s produced no fix", consecutive, key)
	})
	acc.OnFixSkippedNoOnGround(func(key string) {
		reg.FixesSkippedNoOnGround.Inc()
	})

	extractor := adsb.NewExtractor()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				acc.CleanupExpired(now)
				extractor.Expire(now)
			}
		}
	}()

	rtrCfg := router.Config{
		AircraftWorkers:        pipelineCfg.GetAircraftWorkers(),
		AircraftCapacity:       pipelineCfg.GetAircraftCapacity(),
		ReceiverStatusWorkers:  pipelineCfg.GetReceiverStatusWorkers(),
		ReceiverStatusCapacity: pipelineCfg.GetReceiverStatusCapacity(),
		ReceiverPosWorkers:     pipelineCfg.GetReceiverPosWorkers(),
		ReceiverPosCapacity:    pipelineCfg.GetReceiverPosCapacity(),
		ServerWorkers:          pipelineCfg.GetServerWorkers(),
		ServerCapacity:         pipelineCfg.GetServerCapacity(),
	}
	rtr := router.New(rtrCfg, db, db)
	rawOGN := make(chan router.RawPacket, rtrCfg.AircraftCapacity)

	wg.Add(1)
	go func() { defer wg.Done(); rtr.Run(ctx, rawOGN) }()

	aircraftPool := aircraftpool.New(pipelineCfg.GetAircraftWorkers(), acc, proc)
	wg.Add(1)
	go func() { defer wg.Done(); aircraftPool.Run(ctx, rtr.AircraftPosition) }()

	receiverStatusPool := workerpool.New(rtrCfg.ReceiverStatusWorkers, func(ctx context.Context, cp router.ClassifiedPacket) {
		handleReceiverStatus(ctx, db, cp)
	})
	wg.Add(1)
	go func() { defer wg.Done(); receiverStatusPool.Run(ctx, rtr.ReceiverStatus) }()

	receiverPosPool := workerpool.New(rtrCfg.ReceiverPosWorkers, func(ctx context.Context, cp router.ClassifiedPacket) {
		handleReceiverPosition(ctx, db, cp)
	})
	wg.Add(1)
	go func() { defer wg.Done(); receiverPosPool.Run(ctx, rtr.ReceiverPosition) }()

	serverPool := workerpool.New(rtrCfg.ServerWorkers, func(_ context.Context, cp router.ClassifiedPacket) {
		monitoring.Logf("soar-processor: server message: %s", cp.Raw.Text)
	})
	wg.Add(1)
	go func() { defer wg.Done(); serverPool.Run(ctx, rtr.ServerStatus) }()

	handler := buildEnvelopeHandler(rawOGN, extractor, acc, proc, reg)
	listener := bridge.NewListener(socketPath(statePath), handler)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Run(ctx); err != nil {
			monitoring.Logf("soar-processor: listener: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("soar-processor: shutting down")
	wg.Wait()
	return nil
}

func socketPath(stateDir string) string {
	if v := os.Getenv("SOAR_SOCKET_PATH"); v != "" {
		return v
	}
	return filepath.Join(stateDir, "soar.sock")
}

// buildEnvelopeHandler dispatches a decoded bridge.Envelope to the parser
// matching its source tag, then feeds the resulting Observation into the
// shared accumulator/fixproc pipeline. OGN lines are not parsed here: they
// go to the router via rawOGN, and aircraftpool later feeds the decoded
// positions into the same accumulator through fixproc.AccumulatorSink.
func buildEnvelopeHandler(
	rawOGN chan<- router.RawPacket,
	extractor *adsb.Extractor,
	acc *accumulator.Accumulator,
	proc *fixproc.Processor,
	reg *metrics.Registry,
) bridge.Handler {
	return func(ctx context.Context, env bridge.Envelope) {
		receivedAt := time.UnixMicro(env.TimestampMicros).UTC()

		switch env.SourceTag {
		case bridge.SourceOGN:
			reg.FramesIngested.WithLabelValues("ogn").Inc()
			select {
			case rawOGN <- router.RawPacket{Text: string(env.Payload), ReceivedAt: receivedAt}:
			case <-ctx.Done():
			}

		case bridge.SourceBeast:
			reg.FramesIngested.WithLabelValues("beast").Inc()
			icaoHex, obs, ok := extractor.Extract(env.Payload, receivedAt)
			if !ok {
				reg.FramesInvalid.WithLabelValues("beast").Inc()
				return
			}
			fixproc.AccumulatorSink(ctx, acc, proc, icaoHex, obs)

		case bridge.SourceSBS:
			reg.FramesIngested.WithLabelValues("sbs").Inc()
			msg, err := accumulator.ParseSBS(string(env.Payload))
			if err != nil {
				reg.FramesInvalid.WithLabelValues("sbs").Inc()
				return
			}
			obs := accumulator.ExtractSBS(msg, receivedAt)
			fixproc.AccumulatorSink(ctx, acc, proc, msg.HexIdent, obs)

		default:
			reg.FramesInvalid.WithLabelValues("unknown").Inc()
		}
	}
}

// handleReceiverStatus persists a receiver's self-reported status beacon
// (the free-text body following the ">" status indicator).
func handleReceiverStatus(ctx context.Context, db *sqlite.DB, cp router.ClassifiedPacket) {
	parsed, ok := router.ParseAPRSLine(cp.Raw.Text)
	if !ok {
		return
	}
	status := parsed.Body
	if len(status) > 0 && status[0] == '>' {
		status = status[1:]
	}
	if err := db.UpdateReceiverStatus(ctx, cp.Context.ReceiverID, status); err != nil {
		monitoring.Logf("soar-processor: update receiver status: %v", err)
	}
}

// handleReceiverPosition persists a receiver's self-reported position
// beacon, reusing the OGN position-comment parser to pull altitude.
func handleReceiverPosition(ctx context.Context, db *sqlite.DB, cp router.ClassifiedPacket) {
	parsed, ok := router.ParseAPRSLine(cp.Raw.Text)
	if !ok {
		return
	}
	pos, ok := ogn.ParsePosition(parsed.Body)
	if !ok {
		return
	}
	cm := ogn.ParseComment(pos.Comment)

	altM := 0.0
	if cm.AltitudeFeet != nil {
		altM = units.FeetToMeters(float64(*cm.AltitudeFeet))
	}
	if err := db.UpdateReceiverPosition(ctx, cp.Context.ReceiverID, pos.Latitude, pos.Longitude, altM); err != nil {
		monitoring.Logf("soar-processor: update receiver position: %v", err)
	}
}

// newLocationResolver composes flighttracker.LocationResolver from the
// store's direct airport/location lookups and, when enabled, an external
// reverse-geocoding provider falling back to the store.
func newLocationResolver(db *sqlite.DB, reverseGeocodingEnabled bool) flighttracker.LocationResolver {
	if !reverseGeocodingEnabled {
		return db
	}
	client := geocode.New(httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Second}), nominatimReverseURL, true, db)
	return locationResolver{db: db, reverse: client}
}

type locationResolver struct {
	db      *sqlite.DB
	reverse interface {
		ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
	}
}

func (l locationResolver) NearestAirport(lat, lon float64) (string, bool) {
	return l.db.NearestAirport(lat, lon)
}

func (l locationResolver) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	return l.reverse.ReverseGeocode(ctx, lat, lon)
}
