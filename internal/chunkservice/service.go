// Package chunkservice serves generated chunks with optional caching.
//
// The generator is the source of truth. The cache only ever holds what the
// generator produced for the same seed, algorithm and generator version,
// so a cached chunk is always identical to a fresh one.
package chunkservice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"

	"github.com/sweepworld/server/internal/database"
	"github.com/sweepworld/server/internal/gridmap"
	"github.com/sweepworld/server/internal/minegen"
	"github.com/sweepworld/server/internal/performance"
)

// Profiler metric names
const (
	MetricGenerate   = "chunk_generate"
	MetricGetChunk   = "chunk_get"
	MetricGetChunks  = "chunk_get_batch"
	CounterCacheHit  = "chunk_cache_hit"
	CounterCacheMiss = "chunk_cache_miss"
	CounterDeduped   = "chunk_inflight_shared"
)

// ErrNoCache is returned by ClearCache when the service runs without a cache.
var ErrNoCache = errors.New("chunk cache is disabled")

// Service produces chunks for one generator.
type Service struct {
	generator *minegen.Generator
	cache     database.ChunkCache
	profiler  *performance.Profiler
	workers   int

	mu       sync.Mutex
	inflight map[gridmap.ChunkCoord]*call
}

// call is one in-progress generation shared by concurrent requests.
type call struct {
	done  chan struct{}
	chunk minegen.Chunk
}

// Options configures a Service. Zero values are valid.
type Options struct {
	Cache    database.ChunkCache
	Profiler *performance.Profiler
	Workers  int
}

// WorldInfo describes the world being served.
type WorldInfo struct {
	Seed             uint32 `json:"seed"`
	ChunkSize        int    `json:"chunk_size"`
	Algorithm        string `json:"algorithm"`
	GeneratorVersion int    `json:"generator_version"`
}

// CellInfo describes one absolute cell.
type CellInfo struct {
	X              int64                  `json:"x"`
	Y              int64                  `json:"y"`
	Chunk          gridmap.ChunkCoord     `json:"chunk"`
	LocalX         int                    `json:"local_x"`
	LocalY         int                    `json:"local_y"`
	Classification minegen.Classification `json:"classification"`
	NeighborCount  uint8                  `json:"neighbor_count"`
}

// New creates a service around generator.
func New(generator *minegen.Generator, opts Options) *Service {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Service{
		generator: generator,
		cache:     opts.Cache,
		profiler:  opts.Profiler,
		workers:   workers,
		inflight:  make(map[gridmap.ChunkCoord]*call),
	}
}

// Generator returns the underlying generator.
func (s *Service) Generator() *minegen.Generator {
	return s.generator
}

// WorldInfo returns the seed and generator identity.
func (s *Service) WorldInfo() WorldInfo {
	return WorldInfo{
		Seed:             s.generator.Seed(),
		ChunkSize:        minegen.ChunkSize,
		Algorithm:        s.generator.Algorithm(),
		GeneratorVersion: minegen.GeneratorVersion,
	}
}

// GetChunk returns one chunk, from the cache when possible.
func (s *Service) GetChunk(ctx context.Context, coord gridmap.ChunkCoord) (minegen.Chunk, error) {
	op := s.profiler.Start(MetricGetChunk)
	defer op.End()

	key := database.KeyFor(s.generator, coord.X, coord.Y)
	if s.cache != nil {
		chunk, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Printf("[Cache] Failed to read chunk %s, generating: %v", coord, err)
		} else if ok {
			s.profiler.Incr(CounterCacheHit)
			return chunk, nil
		}
		s.profiler.Incr(CounterCacheMiss)
	}

	chunk, fresh, err := s.generate(ctx, coord)
	if err != nil {
		return minegen.Chunk{}, err
	}
	if fresh && s.cache != nil {
		if err := s.cache.Put(ctx, key, chunk); err != nil {
			log.Printf("[Cache] Failed to store chunk %s: %v", coord, err)
		}
	}
	return chunk, nil
}

// ClearCache empties the chunk cache and returns the number of chunks removed.
func (s *Service) ClearCache(ctx context.Context) (int64, error) {
	if s.cache == nil {
		return 0, ErrNoCache
	}
	n, err := s.cache.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear chunk cache: %w", err)
	}
	log.Printf("[Cache] Cleared %d chunks", n)
	return n, nil
}

// GetChunks returns chunks in the order requested. Cache misses are
// generated on a bounded pool of workers.
func (s *Service) GetChunks(ctx context.Context, coords []gridmap.ChunkCoord) ([]minegen.Chunk, error) {
	op := s.profiler.Start(MetricGetChunks)
	defer op.End()

	result := make([]minegen.Chunk, len(coords))
	missing := make([]int, 0, len(coords))

	if s.cache != nil {
		keys := make([]database.ChunkKey, len(coords))
		for i, c := range coords {
			keys[i] = database.KeyFor(s.generator, c.X, c.Y)
		}
		cached, err := s.cache.GetMany(ctx, keys)
		if err != nil {
			log.Printf("[Cache] Failed to read %d chunks, generating: %v", len(coords), err)
			cached = nil
		}
		for i, key := range keys {
			if chunk, ok := cached[key]; ok {
				result[i] = chunk
				continue
			}
			missing = append(missing, i)
		}
		s.profiler.Add(CounterCacheHit, int64(len(coords)-len(missing)))
		s.profiler.Add(CounterCacheMiss, int64(len(missing)))
	} else {
		for i := range coords {
			missing = append(missing, i)
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	fresh := make([]bool, len(coords))
	errs := make([]error, len(coords))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < min(s.workers, len(missing)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				result[i], fresh[i], errs[i] = s.generate(ctx, coords[i])
			}
		}()
	}

dispatch:
	for _, i := range missing {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, i := range missing {
		if errs[i] != nil {
			return nil, errs[i]
		}
	}

	if s.cache != nil {
		store := make(map[database.ChunkKey]minegen.Chunk)
		for _, i := range missing {
			if fresh[i] {
				store[database.KeyFor(s.generator, coords[i].X, coords[i].Y)] = result[i]
			}
		}
		if err := s.cache.PutMany(ctx, store); err != nil {
			log.Printf("[Cache] Failed to store %d chunks: %v", len(store), err)
		}
	}

	return result, nil
}

// generate runs the generator, sharing the result with concurrent requests
// for the same chunk. fresh is true for the caller that did the work.
func (s *Service) generate(ctx context.Context, coord gridmap.ChunkCoord) (chunk minegen.Chunk, fresh bool, err error) {
	s.mu.Lock()
	if c, ok := s.inflight[coord]; ok {
		s.mu.Unlock()
		s.profiler.Incr(CounterDeduped)
		select {
		case <-c.done:
			return c.chunk, false, nil
		case <-ctx.Done():
			return minegen.Chunk{}, false, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	s.inflight[coord] = c
	s.mu.Unlock()

	op := s.profiler.Start(MetricGenerate)
	c.chunk = s.generator.Generate(coord.X, coord.Y)
	op.End()

	s.mu.Lock()
	delete(s.inflight, coord)
	s.mu.Unlock()
	close(c.done)

	return c.chunk, true, nil
}

// Cell returns the final classification and neighbour count of one cell.
func (s *Service) Cell(x, y int64) (CellInfo, error) {
	coord, lx, ly, err := gridmap.CellToChunk(x, y)
	if err != nil {
		return CellInfo{}, err
	}
	class, count := s.generator.Cell(x, y)
	return CellInfo{
		X:              x,
		Y:              y,
		Chunk:          coord,
		LocalX:         lx,
		LocalY:         ly,
		Classification: class,
		NeighborCount:  count,
	}, nil
}
