package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"voxeltrace/internal/cache"
	"voxeltrace/internal/config"
	"voxeltrace/internal/metrics"
	"voxeltrace/internal/trace"
	"voxeltrace/internal/world"
)

// FrameInput is what the caller supplies for one frame.
type FrameInput struct {
	Camera Camera
	// Now drives the eviction policy. Zero uses the renderer's clock.
	Now time.Time
}

// FrameStats summarises one frame.
type FrameStats struct {
	Frame        uint64        `json:"frame"`
	Candidates   int           `json:"candidates"`
	Loaded       int           `json:"loaded"`
	LoadFailures int           `json:"loadFailures"`
	Resident     int           `json:"resident"`
	Eviction     cache.Report  `json:"eviction"`
	Rays         int           `json:"rays"`
	Hits         int           `json:"hits"`
	Trace        trace.Stats   `json:"trace"`
	Duration     time.Duration `json:"durationNs"`
}

// Options configures a Renderer. Config and Generator are required.
type Options struct {
	Config    *config.Config
	Generator world.Generator
	Metrics   *metrics.Collector
	// Logger is shared by the renderer, evictor and engine. Nil gives each
	// component its own prefixed logger.
	Logger *log.Logger
	// Now is the clock used for chunk ages and eviction. Nil uses time.Now.
	Now func() time.Time
}

// Renderer drives the per-frame pipeline: touch the chunks around the
// camera, load missing ones, run eviction, snapshot, and trace.
type Renderer struct {
	cfg     *config.Config
	gen     world.Generator
	store   *cache.Store
	evictor *cache.Evictor
	engine  *trace.Engine
	metrics *metrics.Collector
	logger  *log.Logger
	tracer  oteltrace.Tracer
	session uuid.UUID
	now     func() time.Time

	tracePool pond.Pool
	loadPool  pond.Pool

	frame atomic.Uint64

	mu   sync.RWMutex
	last FrameStats
}

func New(opts Options) (*Renderer, error) {
	if opts.Config == nil {
		return nil, errors.New("renderer requires a config")
	}
	if opts.Generator == nil {
		return nil, errors.New("renderer requires a generator")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	cfg := opts.Config
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	session := uuid.New()
	logger := opts.Logger
	if logger == nil {
		prefix := fmt.Sprintf("[render %s] ", session.String()[:8])
		logger = log.New(log.Writer(), prefix, log.LstdFlags|log.Lmicroseconds)
	}

	workers := cfg.Render.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	loadWorkers := cfg.Render.LoadWorkers
	if loadWorkers <= 0 {
		loadWorkers = 1
	}

	store := cache.NewStore(now)
	return &Renderer{
		cfg:       cfg,
		gen:       opts.Generator,
		store:     store,
		evictor:   cache.NewEvictor(cfg.Cache, float64(cfg.World.ChunkSize), store, opts.Logger),
		engine:    trace.NewEngine(cfg.World.MaxLevels, opts.Logger),
		metrics:   opts.Metrics,
		logger:    logger,
		tracer:    otel.Tracer("voxeltrace/render"),
		session:   session,
		now:       now,
		tracePool: pond.NewPool(workers),
		loadPool:  pond.NewPool(loadWorkers),
	}, nil
}

// Close waits for in-flight work and stops the worker pools.
func (r *Renderer) Close() {
	r.tracePool.StopAndWait()
	r.loadPool.StopAndWait()
}

func (r *Renderer) Store() *cache.Store         { return r.store }
func (r *Renderer) Evictor() *cache.Evictor     { return r.evictor }
func (r *Renderer) Engine() *trace.Engine       { return r.engine }
func (r *Renderer) Session() uuid.UUID          { return r.session }
func (r *Renderer) Config() *config.Config      { return r.cfg }
func (r *Renderer) Metrics() *metrics.Collector { return r.metrics }

// Faults lists the chunks the engine has stopped traversing.
func (r *Renderer) Faults() []trace.Fault {
	return r.engine.Faults()
}

// ChunkEntry reports the residency record for coord.
func (r *Renderer) ChunkEntry(coord world.ChunkCoord) (cache.Entry, bool) {
	return r.store.Entry(coord)
}

// Frames reports how many frames have started.
func (r *Renderer) Frames() uint64 {
	return r.frame.Load()
}

// LastStats returns the statistics of the most recent completed frame.
func (r *Renderer) LastStats() FrameStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Frame renders one frame for in.Camera.
func (r *Renderer) Frame(ctx context.Context, in FrameInput) (*Image, FrameStats, error) {
	started := time.Now()
	now := in.Now
	if now.IsZero() {
		now = r.now()
	}
	frame := r.frame.Add(1)

	ctx, span := r.tracer.Start(ctx, "render.Frame",
		oteltrace.WithAttributes(
			attribute.Int64("frame", int64(frame)),
			attribute.String("session", r.session.String()),
		),
	)
	defer span.End()

	stats := FrameStats{Frame: frame}
	chunkSize := float64(r.cfg.World.ChunkSize)
	candidates := CandidateChunks(in.Camera.Position, chunkSize, r.cfg.Render.ViewRadius)
	stats.Candidates = len(candidates)

	r.store.TouchAll(candidates, frame)

	loaded, failed, err := r.load(ctx, candidates)
	stats.Loaded, stats.LoadFailures = loaded, failed
	r.metrics.ObserveLoads(loaded, failed)
	if err != nil {
		span.RecordError(err)
		return nil, stats, err
	}

	stats.Eviction = r.evictor.Tick(in.Camera.Position, frame, now)
	r.metrics.ObserveEviction(stats.Eviction)
	if stats.Eviction.Evicted > 0 {
		r.engine.PruneFaults(r.store.Generation)
	}

	snap := r.store.Snapshot(candidates)
	img, traceStats, hits, err := r.trace(ctx, in.Camera, snap)
	if err != nil {
		span.RecordError(err)
		return nil, stats, err
	}

	stats.Rays = in.Camera.Width * in.Camera.Height
	stats.Hits = hits
	stats.Trace = traceStats
	stats.Resident = r.store.Len()
	stats.Duration = time.Since(started)

	r.metrics.SetResident(stats.Resident)
	r.metrics.ObserveFrame(stats.Duration, stats.Rays, stats.Hits, stats.Trace)
	span.SetAttributes(
		attribute.Int("loaded", stats.Loaded),
		attribute.Int("evicted", stats.Eviction.Evicted),
		attribute.Int("hits", stats.Hits),
	)

	r.mu.Lock()
	r.last = stats
	r.mu.Unlock()
	return img, stats, nil
}

// load generates missing candidates, nearest first, up to the per-frame
// budget. A chunk is inserted only once its generation has finished.
func (r *Renderer) load(ctx context.Context, candidates []world.ChunkCoord) (loaded, failed int, err error) {
	missing := r.store.Missing(candidates)
	if limit := r.cfg.Render.MaxLoadsPerFrame; limit > 0 && len(missing) > limit {
		missing = missing[:limit]
	}
	if len(missing) == 0 {
		return 0, 0, nil
	}

	type result struct {
		chunk *world.VoxelChunk
		err   error
	}
	results := make([]result, len(missing))
	group := r.loadPool.NewGroup()
	for i, coord := range missing {
		group.Submit(func() {
			if err := ctx.Err(); err != nil {
				results[i] = result{err: err}
				return
			}
			chunk, err := r.gen.Generate(ctx, coord)
			if err == nil && (chunk == nil || chunk.Coord != coord) {
				err = fmt.Errorf("generator returned the wrong chunk for %v", coord)
			}
			results[i] = result{chunk: chunk, err: err}
		})
	}
	if err := group.Wait(); err != nil {
		return 0, 0, fmt.Errorf("load chunks: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	for i, res := range results {
		if res.err != nil {
			failed++
			r.logger.Printf("load chunk %v: %v", missing[i], res.err)
			continue
		}
		r.store.Insert(res.chunk)
		loaded++
	}
	return loaded, failed, nil
}

// trace casts one primary ray per pixel, one pool task per tile.
func (r *Renderer) trace(ctx context.Context, cam Camera, snap cache.Snapshot) (*Image, trace.Stats, int, error) {
	img := NewImage(cam.Width, cam.Height)
	tile := r.cfg.Render.TileSize
	maxDist := r.cfg.Traversal.MaxRenderDistance
	forward, right, up := cam.Basis()

	var (
		mu    sync.Mutex
		total trace.Stats
		hits  int
	)
	group := r.tracePool.NewGroup()
	for ty := 0; ty < cam.Height; ty += tile {
		for tx := 0; tx < cam.Width; tx += tile {
			group.Submit(func() {
				if ctx.Err() != nil {
					return
				}
				var local trace.Stats
				localHits := 0
				for y := ty; y < ty+tile && y < cam.Height; y++ {
					for x := tx; x < tx+tile && x < cam.Width; x++ {
						ray := cam.rayFromBasis(forward, right, up, x, y, maxDist)
						hit, st := r.engine.IntersectScene(ray, snap.Chunks)
						img.Hits[y*cam.Width+x] = hit
						local.Add(st)
						if hit.Ok() {
							localHits++
						}
					}
				}
				mu.Lock()
				total.Add(local)
				hits += localHits
				mu.Unlock()
			})
		}
	}
	if err := group.Wait(); err != nil {
		return nil, total, 0, fmt.Errorf("trace frame: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, total, 0, err
	}
	return img, total, hits, nil
}
