package cache

import (
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"voxeltrace/internal/config"
	"voxeltrace/internal/geom"
	"voxeltrace/internal/world"
)

// Score weights. They sum to one so a fully saturated entry scores 1.
const (
	TimeWeight     = 0.6
	DistanceWeight = 0.3
	ContentWeight  = 0.1
)

// Trigger names the path that ran an eviction pass.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerProactive
	TriggerEmergency
)

func (t Trigger) String() string {
	switch t {
	case TriggerProactive:
		return "proactive"
	case TriggerEmergency:
		return "emergency"
	default:
		return "none"
	}
}

// ContentScorer rates an entry's content in [0,1]; higher means cheaper to
// lose.
type ContentScorer func(e *Entry) float64

// ConstantContent scores every entry the same.
func ConstantContent(v float64) ContentScorer {
	return func(*Entry) float64 { return v }
}

// Report summarises one eviction pass.
type Report struct {
	Trigger    Trigger
	SizeBefore int
	SizeAfter  int
	Target     int
	Evicted    int
	// Protected counts entries skipped because they were near the camera,
	// too young, or touched this frame.
	Protected int
	// Degraded is set when the target was unreachable without evicting
	// protected entries.
	Degraded bool
	// Limited is set when the per-run eviction budget stopped the pass early.
	Limited bool
	// Cooldown is set when a proactive pass was skipped because the previous
	// one ran too recently.
	Cooldown bool
}

// Evictor keeps a Store between its soft and hard limits.
type Evictor struct {
	cfg       config.CacheConfig
	chunkSize float64
	store     *Store
	content   ContentScorer
	logger    *log.Logger

	mu            sync.Mutex
	lastProactive time.Time
	lastCheck     time.Time
	// draining keeps emergency passes running on later ticks until the
	// emergency target is reached or protected entries block it.
	draining bool
}

// NewEvictor builds an evictor for store. chunkSize converts camera positions
// into chunk coordinates. A nil logger uses the default logger's output.
func NewEvictor(cfg config.CacheConfig, chunkSize float64, store *Store, logger *log.Logger) *Evictor {
	if logger == nil {
		logger = log.New(log.Writer(), "[evict] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Evictor{
		cfg:       cfg,
		chunkSize: chunkSize,
		store:     store,
		content:   ConstantContent(0.5),
		logger:    logger,
	}
}

// SetContentScorer replaces the content factor. Nil restores the constant
// default.
func (e *Evictor) SetContentScorer(fn ContentScorer) {
	if fn == nil {
		fn = ConstantContent(0.5)
	}
	e.mu.Lock()
	e.content = fn
	e.mu.Unlock()
}

// Score returns the eviction score of entry for a camera in chunk cam.
// Higher scores are evicted first.
func (e *Evictor) Score(entry *Entry, coord, cam world.ChunkCoord, now time.Time) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scoreLocked(entry, coord, cam, now)
}

func (e *Evictor) scoreLocked(entry *Entry, coord, cam world.ChunkCoord, now time.Time) float64 {
	idle := now.Sub(entry.LastSeenAt).Seconds() / e.cfg.MaxIdle.Duration().Seconds()
	dist := coord.Distance(cam) / e.cfg.MaxDistance
	content := e.content(entry)
	return TimeWeight*clamp01(idle) + DistanceWeight*clamp01(dist) + ContentWeight*clamp01(content)
}

// Tick runs the eviction policy once for the current frame. The emergency
// path takes precedence and, once triggered, keeps running on every tick
// until the emergency target is reached. A proactive pass is considered at
// most once per trim interval.
func (e *Evictor) Tick(camera geom.Vec3, frame uint64, now time.Time) Report {
	e.store.AdvanceFrame(frame)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.draining || e.store.Len() > e.cfg.HardLimit {
		return e.emergencyLocked(camera, now)
	}
	if e.lastCheck.IsZero() || now.Sub(e.lastCheck) >= e.cfg.TrimInterval.Duration() {
		e.lastCheck = now
		return e.proactiveLocked(camera, now)
	}
	size := e.store.Len()
	return Report{SizeBefore: size, SizeAfter: size}
}

// ProactiveTrim evicts down to the trim target once the store is above its
// soft limit, unless the previous proactive pass is within the cooldown.
func (e *Evictor) ProactiveTrim(camera geom.Vec3, now time.Time) Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proactiveLocked(camera, now)
}

// EmergencyEvict evicts toward the emergency target once the store is above
// its hard limit. It ignores the cooldown, and its budget always covers the
// overshoot above the hard limit. When the budget stops it short of the
// target, later calls and ticks continue the pass.
func (e *Evictor) EmergencyEvict(camera geom.Vec3, now time.Time) Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emergencyLocked(camera, now)
}

func (e *Evictor) proactiveLocked(camera geom.Vec3, now time.Time) Report {
	size := e.store.Len()
	if size <= e.cfg.SoftLimit {
		return Report{SizeBefore: size, SizeAfter: size}
	}
	if !e.lastProactive.IsZero() && now.Sub(e.lastProactive) < e.cfg.Cooldown.Duration() {
		return Report{Trigger: TriggerProactive, SizeBefore: size, SizeAfter: size, Cooldown: true}
	}
	e.lastProactive = now
	target := int(math.Floor(float64(e.cfg.SoftLimit) * e.cfg.TrimTargetRatio))
	return e.evict(TriggerProactive, camera, now, target, e.cfg.MaxEvictionsPerRun)
}

func (e *Evictor) emergencyLocked(camera geom.Vec3, now time.Time) Report {
	size := e.store.Len()
	target := int(math.Floor(float64(e.cfg.SoftLimit) * e.cfg.EmergencyTargetRatio))
	if size <= target || (size <= e.cfg.HardLimit && !e.draining) {
		e.draining = false
		return Report{SizeBefore: size, SizeAfter: size}
	}
	budget := e.cfg.MaxEvictionsPerRun
	if over := size - e.cfg.HardLimit; over > budget {
		budget = over
	}
	report := e.evict(TriggerEmergency, camera, now, target, budget)
	e.draining = !report.Degraded && report.SizeAfter > target
	return report
}

type candidate struct {
	coord world.ChunkCoord
	entry *Entry
	score float64
}

func (e *Evictor) evict(trigger Trigger, camera geom.Vec3, now time.Time, target, budget int) Report {
	cam := world.ChunkAt(camera, e.chunkSize)
	minAge := e.cfg.MinChunkAge.Duration()

	s := e.store
	s.mu.Lock()
	defer s.mu.Unlock()

	report := Report{Trigger: trigger, SizeBefore: len(s.entries), Target: target}
	need := len(s.entries) - target
	if need <= 0 {
		report.SizeAfter = len(s.entries)
		return report
	}

	candidates := make([]candidate, 0, len(s.entries))
	for coord, entry := range s.entries {
		if e.protected(coord, entry, cam, s.frame, now, minAge) {
			report.Protected++
			continue
		}
		candidates = append(candidates, candidate{coord: coord, entry: entry, score: e.scoreLocked(entry, coord, cam, now)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.entry.InsertedAt.Equal(b.entry.InsertedAt) {
			return a.entry.InsertedAt.Before(b.entry.InsertedAt)
		}
		return a.coord.Less(b.coord)
	})

	n := need
	if n > budget {
		n = budget
		report.Limited = true
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	for _, c := range candidates[:n] {
		delete(s.entries, c.coord)
	}

	report.Evicted = n
	report.SizeAfter = len(s.entries)
	report.Degraded = len(candidates) < need
	if report.Degraded {
		e.logger.Printf("%s eviction degraded: %d entries left, target %d, %d protected", trigger, report.SizeAfter, target, report.Protected)
	}
	return report
}

func (e *Evictor) protected(coord world.ChunkCoord, entry *Entry, cam world.ChunkCoord, frame uint64, now time.Time, minAge time.Duration) bool {
	if coord.Chebyshev(cam) <= e.cfg.ProtectionRadius {
		return true
	}
	if now.Sub(entry.InsertedAt) < minAge {
		return true
	}
	return frame > 0 && entry.LastSeenFrame == frame
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
