package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log"
	"math"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/alitto/pond/v2"

	"voxeltrace/internal/cache"
	"voxeltrace/internal/config"
	"voxeltrace/internal/geom"
	"voxeltrace/internal/render"
	"voxeltrace/internal/terrain"
	"voxeltrace/internal/trace"
	"voxeltrace/internal/world"
)

func main() {
	var (
		totalRays   = flag.Int("rays", 200000, "number of random rays to cast")
		concurrency = flag.Int("concurrency", runtime.NumCPU(), "number of concurrent workers")
		radius      = flag.Int("radius", 3, "chunk radius of the generated world around the origin")
		chunkSize   = flag.Int("chunkSize", 32, "chunk edge length in voxels")
		frames      = flag.Int("frames", 120, "frames to render while flying the camera along +x")
		speed       = flag.Float64("speed", 8, "camera speed in world units per frame")
		seed        = flag.Int64("seed", 1337, "random seed for ray selection and terrain")
		pngPath     = flag.String("png", "", "write the final frame as a grayscale PNG")
		softLimit   = flag.Int("soft", 2000, "resident chunk soft limit for the fly-through")
		hardLimit   = flag.Int("hard", 2500, "resident chunk hard limit for the fly-through")
		verbose     = flag.Bool("v", false, "log eviction passes")
	)
	flag.Parse()

	if *totalRays <= 0 || *concurrency <= 0 || *radius < 0 {
		fmt.Fprintln(os.Stderr, "rays and concurrency must be positive, radius non-negative")
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.World.ChunkSize = *chunkSize
	cfg.Terrain.Seed = *seed
	cfg.Render.Workers = *concurrency
	cfg.Cache.SoftLimit = *softLimit
	cfg.Cache.HardLimit = *hardLimit
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid settings: %v\n", err)
		os.Exit(1)
	}

	gen := terrain.NewNoiseGenerator(cfg.Terrain, cfg.World.ChunkSize, cfg.World.MaxLevels)
	logger := log.New(io.Discard, "", 0)
	if *verbose {
		logger = log.New(os.Stderr, "[raybench] ", log.LstdFlags|log.Lmicroseconds)
	}

	store := cache.NewStore(nil)
	buildStart := time.Now()
	for _, coord := range world.ChunksWithin(world.ChunkCoord{}, *radius) {
		chunk, err := gen.Generate(context.Background(), coord)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate %v: %v\n", coord, err)
			os.Exit(1)
		}
		store.Insert(chunk)
	}
	buildDuration := time.Since(buildStart)

	stats, hits, castDuration := castRandomRays(store, cfg, *totalRays, *concurrency, *seed, logger)

	fmt.Println("== SVDAG Ray Traversal Profile ==")
	fmt.Printf("World: %d chunks of %d^3 voxels (built in %s)\n", store.Len(), cfg.World.ChunkSize, buildDuration)
	fmt.Printf("Rays: %d, Concurrency: %d\n", *totalRays, *concurrency)
	fmt.Printf("Hits: %d (%.2f%%)\n", hits, 100*float64(hits)/float64(*totalRays))
	fmt.Printf("Wall clock duration: %s (%.0f rays/s)\n", castDuration, float64(*totalRays)/castDuration.Seconds())
	fmt.Printf("Average chunks tested: %.2f, entered: %.2f\n",
		float64(stats.ChunksTested)/float64(*totalRays), float64(stats.ChunksEntered)/float64(*totalRays))
	fmt.Printf("Average nodes visited: %.2f\n", float64(stats.NodesVisited)/float64(*totalRays))
	fmt.Printf("Leaves discarded before entry: %d\n", stats.LeavesDiscarded)
	fmt.Printf("Traversal faults: %d\n", stats.Faults)

	if *frames > 0 {
		if err := flyThrough(cfg, gen, *frames, *speed, *pngPath, logger); err != nil {
			fmt.Fprintf(os.Stderr, "fly-through: %v\n", err)
			os.Exit(1)
		}
	}
}

// castRandomRays shoots rays from random points above the terrain in random
// downward-biased directions.
func castRandomRays(store *cache.Store, cfg *config.Config, count, workers int, seed int64, logger *log.Logger) (trace.Stats, int, time.Duration) {
	engine := trace.NewEngine(cfg.World.MaxLevels, logger)
	snap := store.SnapshotAll()
	extent := float64(cfg.World.ChunkSize)

	rng := rand.New(rand.NewSource(seed))
	rays := make([]geom.Ray, count)
	for i := range rays {
		origin := geom.Vec3{
			(rng.Float64()*2 - 1) * extent * 2,
			cfg.Terrain.BaseHeight + cfg.Terrain.Amplitude + rng.Float64()*extent,
			(rng.Float64()*2 - 1) * extent * 2,
		}
		dir := geom.Vec3{rng.NormFloat64(), -math.Abs(rng.NormFloat64()), rng.NormFloat64()}
		rays[i] = geom.NewRay(origin, dir, cfg.Traversal.MaxRenderDistance)
	}

	var (
		mu   sync.Mutex
		sum  trace.Stats
		hits int
	)
	pool := pond.NewPool(workers)
	defer pool.StopAndWait()

	start := time.Now()
	batch := (count + workers - 1) / workers
	group := pool.NewGroup()
	for lo := 0; lo < count; lo += batch {
		hi := min(lo+batch, count)
		group.Submit(func() {
			var local trace.Stats
			localHits := 0
			for _, ray := range rays[lo:hi] {
				hit, st := engine.IntersectScene(ray, snap.Chunks)
				local.Add(st)
				if hit.Ok() {
					localHits++
				}
			}
			mu.Lock()
			sum.Add(local)
			hits += localHits
			mu.Unlock()
		})
	}
	_ = group.Wait()
	return sum, hits, time.Since(start)
}

// flyThrough renders frames with the full streaming pipeline so chunk loads
// and eviction are exercised.
func flyThrough(cfg *config.Config, gen world.Generator, frames int, speed float64, pngPath string, logger *log.Logger) error {
	r, err := render.New(render.Options{Config: cfg, Generator: gen, Logger: logger})
	if err != nil {
		return err
	}
	defer r.Close()

	var (
		img       *render.Image
		last      render.FrameStats
		loaded    int
		evicted   int
		degraded  int
		emergency int
		elapsed   time.Duration
	)
	height := cfg.Terrain.BaseHeight + cfg.Terrain.Amplitude + 16
	for i := 0; i < frames; i++ {
		pos := geom.Vec3{float64(i) * speed, height, 0}
		cam := render.NewCamera(cfg.Render, pos, 0, -0.35)
		img, last, err = r.Frame(context.Background(), render.FrameInput{Camera: cam})
		if err != nil {
			return err
		}
		loaded += last.Loaded
		evicted += last.Eviction.Evicted
		elapsed += last.Duration
		if last.Eviction.Degraded {
			degraded++
		}
		if last.Eviction.Trigger == cache.TriggerEmergency {
			emergency++
		}
	}

	fmt.Println("== Streaming Fly-through ==")
	fmt.Printf("Frames: %d at %dx%d, session %s\n", frames, cfg.Render.Width, cfg.Render.Height, r.Session())
	fmt.Printf("Average frame time: %s\n", elapsed/time.Duration(frames))
	fmt.Printf("Chunks loaded: %d, evicted: %d, resident: %d\n", loaded, evicted, last.Resident)
	fmt.Printf("Emergency passes: %d, degraded passes: %d\n", emergency, degraded)
	fmt.Printf("Final frame coverage: %.2f%%\n", 100*img.Coverage())

	if pngPath == "" {
		return nil
	}
	f, err := os.Create(pngPath)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img.Gray()); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	fmt.Printf("Final frame written to %s\n", pngPath)
	return nil
}
