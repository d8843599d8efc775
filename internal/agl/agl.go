// Package agl computes height-above-ground-level for fixes by looking up
// terrain elevation from a digital elevation model, and batches the
// resulting updates for efficient storage.
package agl

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hut8/soar/internal/monitoring"
	"github.com/hut8/soar/internal/workerpool"
)

// BatchObserver records the size of each flushed batch. Whatever metrics
// backend the process runs supplies the implementation at startup; nil
// means sizes are not recorded.
type BatchObserver interface {
	Observe(float64)
}

// defaultWorkers is the number of elevation-lookup workers, matching the
// tuning already validated for this workload.
const defaultWorkers = 8

// batchMaxSize and batchMaxWait bound the batch writer's dual flush
// trigger: whichever happens first.
const (
	batchMaxSize = 100
	batchMaxWait = 5 * time.Second
)

// ElevationRequest is one fix awaiting a terrain lookup.
type ElevationRequest struct {
	FixID         string
	Latitude      float64
	Longitude     float64
	AltitudeMSLFt int
}

// ElevationUpdate is the computed AGL result for one fix.
type ElevationUpdate struct {
	FixID         string
	AltitudeAGLFt int
}

// TerrainSource looks up ground elevation in feet MSL for a coordinate,
// typically backed by on-disk DEM tiles.
type TerrainSource interface {
	ElevationFeet(lat, lon float64) (int, error)
}

// BatchWriter persists a coalesced batch of AGL updates in one call.
type BatchWriter interface {
	WriteBatch(ctx context.Context, updates []ElevationUpdate) error
}

// tileCache is a fixed-capacity LRU over TerrainSource lookups keyed by a
// coarse grid cell, so repeated fixes over the same tile don't each pay
// for a fresh DEM read.
type tileCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

type tileCacheEntry struct {
	key   string
	value int
}

func newTileCache(capacity int) *tileCache {
	return &tileCache{capacity: capacity, ll: list.New(), index: make(map[string]*list.Element)}
}

func tileKey(lat, lon float64) string {
	// 0.01 degree cells are roughly 1km, coarse enough to cut DEM reads
	// substantially while staying well within any reasonable terrain
	// gradient for AGL purposes.
	round := func(v float64) int64 { return int64(v * 100) }
	return fmt.Sprintf("%d,%d", round(lat), round(lon))
}

func (c *tileCache) get(key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return 0, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*tileCacheEntry).value, true
}

func (c *tileCache) put(key string, value int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		el.Value.(*tileCacheEntry).value = value
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&tileCacheEntry{key: key, value: value})
	c.index[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.(*tileCacheEntry).key)
		}
	}
}

// Stage wires together the elevation worker pool and the batch writer: it
// reads ElevationRequests, resolves AGL via a cached TerrainSource lookup,
// and forwards results to an internal channel that the batch writer
// drains.
type Stage struct {
	terrain    TerrainSource
	writer     BatchWriter
	cache      *tileCache
	workers    int
	batchSizes BatchObserver

	updates chan ElevationUpdate
}

// Config tunes the AGL stage.
type Config struct {
	Workers       int
	TileCacheSize int
	UpdateBuffer  int
}

// New constructs a Stage. Zero Config fields fall back to defaults.
// batchSizes may be nil to skip recording flush sizes (e.g. in tests).
func New(cfg Config, terrain TerrainSource, writer BatchWriter, batchSizes BatchObserver) *Stage {
	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.TileCacheSize == 0 {
		cfg.TileCacheSize = 4096
	}
	if cfg.UpdateBuffer == 0 {
		cfg.UpdateBuffer = 256
	}
	return &Stage{
		terrain:    terrain,
		writer:     writer,
		cache:      newTileCache(cfg.TileCacheSize),
		workers:    cfg.Workers,
		batchSizes: batchSizes,
		updates:    make(chan ElevationUpdate, cfg.UpdateBuffer),
	}
}

// Run drives both the elevation worker pool (reading from requests) and
// the batch writer (reading from the Stage's internal updates channel)
// until requests closes and the batch writer drains, or ctx is done.
func (s *Stage) Run(ctx context.Context, requests <-chan ElevationRequest) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runBatchWriter(ctx)
	}()

	pool := workerpool.New(s.workers, func(ctx context.Context, req ElevationRequest) {
		s.handleRequest(ctx, req)
	})
	pool.Run(ctx, requests)

	close(s.updates)
	wg.Wait()
}

func (s *Stage) handleRequest(ctx context.Context, req ElevationRequest) {
	key := tileKey(req.Latitude, req.Longitude)

	terrainFt, ok := s.cache.get(key)
	if !ok {
		var err error
		terrainFt, err = s.terrain.ElevationFeet(req.Latitude, req.Longitude)
		if err != nil {
			return
		}
		s.cache.put(key, terrainFt)
	}

	update := ElevationUpdate{FixID: req.FixID, AltitudeAGLFt: req.AltitudeMSLFt - terrainFt}
	select {
	case s.updates <- update:
	case <-ctx.Done():
	}
}

func (s *Stage) runBatchWriter(ctx context.Context) {
	batch := make([]ElevationUpdate, 0, batchMaxSize)
	timer := time.NewTimer(batchMaxWait)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if s.batchSizes != nil {
			s.batchSizes.Observe(float64(len(batch)))
		}
		if err := s.writer.WriteBatch(ctx, batch); err != nil {
			monitoring.Logf("agl: write elevation batch: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case u, ok := <-s.updates:
			if !ok {
				flush()
				return
			}
			batch = append(batch, u)
			if len(batch) >= batchMaxSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(batchMaxWait)
			}
		case <-timer.C:
			flush()
			timer.Reset(batchMaxWait)
		}
	}
}
