package trace

import (
	"errors"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"voxeltrace/internal/cache"
	"voxeltrace/internal/geom"
	"voxeltrace/internal/world"
)

// Fault records a chunk that failed traversal. A fault is tied to one
// residency generation; a reloaded chunk is traced again.
type Fault struct {
	Coord      world.ChunkCoord
	Generation uint64
	Reason     string
	At         time.Time
}

type faultKey struct {
	coord      world.ChunkCoord
	generation uint64
}

// Engine intersects rays with a set of resident chunks. It is safe for
// concurrent use; chunk data is only read.
type Engine struct {
	maxLevels int
	logger    *log.Logger

	mu     sync.RWMutex
	faults map[faultKey]Fault
}

func NewEngine(maxLevels int, logger *log.Logger) *Engine {
	if maxLevels <= 0 || maxLevels > world.MaxLevelsLimit {
		maxLevels = world.MaxLevelsLimit
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[trace] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Engine{
		maxLevels: maxLevels,
		logger:    logger,
		faults:    make(map[faultKey]Fault),
	}
}

// MaxLevels returns the depth bound applied to every chunk.
func (e *Engine) MaxLevels() int {
	return e.maxLevels
}

type interval struct {
	res    cache.Resident
	tEnter geom.WorldT
	tExit  geom.WorldT
}

// IntersectScene returns the nearest hit of ray across chunks. Chunks are
// visited in order of entry distance and the search stops once no remaining
// chunk can beat the best hit. The result does not depend on the order of
// chunks.
func (e *Engine) IntersectScene(ray geom.Ray, chunks []cache.Resident) (Hit, Stats) {
	var stats Stats
	maxDist := ray.MaxDist
	if maxDist <= 0 {
		maxDist = geom.WorldT(math.MaxFloat64)
	}

	candidates := make([]interval, 0, len(chunks))
	for _, res := range chunks {
		if res.Chunk == nil {
			continue
		}
		stats.ChunksTested++
		tEnter, tExit, ok := IntersectChunkBounds(ray, res.Chunk)
		if !ok || tEnter > maxDist {
			continue
		}
		candidates = append(candidates, interval{res: res, tEnter: tEnter, tExit: tExit})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].tEnter < candidates[j].tEnter })

	best := NoHit
	for _, c := range candidates {
		if best.Ok() && c.tEnter > best.T {
			break
		}
		if e.faulted(c.res) {
			stats.FaultSkips++
			continue
		}

		tStart := c.tEnter
		if tStart < 0 {
			tStart = 0
		}
		tMax := c.tExit
		if maxDist < tMax {
			tMax = maxDist
		}
		if best.Ok() && best.T < tMax {
			tMax = best.T
		}
		if tStart > tMax {
			continue
		}

		stats.ChunksEntered++
		hit, st, err := TraverseChunk(ray, c.res.Chunk, tStart, tMax, e.maxLevels)
		stats.Add(st)
		if err != nil {
			e.recordFault(c.res, err)
			stats.Faults++
			continue
		}
		if closer(hit, best) {
			best = hit
		}
	}
	return best, stats
}

func (e *Engine) faulted(res cache.Resident) bool {
	e.mu.RLock()
	_, ok := e.faults[faultKey{coord: res.Chunk.Coord, generation: res.Generation}]
	e.mu.RUnlock()
	return ok
}

func (e *Engine) recordFault(res cache.Resident, err error) {
	key := faultKey{coord: res.Chunk.Coord, generation: res.Generation}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.faults[key]; ok {
		return
	}
	reason := err.Error()
	var me *world.MalformedError
	if errors.As(err, &me) {
		reason = me.Reason
	}
	e.faults[key] = Fault{Coord: key.coord, Generation: key.generation, Reason: reason, At: time.Now()}
	e.logger.Printf("chunk %v generation %d skipped: %v", key.coord, key.generation, err)
}

// PruneFaults forgets faults whose chunk generation is no longer resident,
// as reported by resident, and returns how many were removed. A fault is
// kept only while the exact generation it was recorded for stays loaded.
func (e *Engine) PruneFaults(resident func(world.ChunkCoord) (uint64, bool)) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for key := range e.faults {
		if gen, ok := resident(key.coord); ok && gen == key.generation {
			continue
		}
		delete(e.faults, key)
		removed++
	}
	return removed
}

// Faults lists every recorded fault ordered by chunk coordinate.
func (e *Engine) Faults() []Fault {
	e.mu.RLock()
	out := make([]Fault, 0, len(e.faults))
	for _, f := range e.faults {
		out = append(out, f)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Coord != out[j].Coord {
			return out[i].Coord.Less(out[j].Coord)
		}
		return out[i].Generation < out[j].Generation
	})
	return out
}
