package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxeltrace/internal/cache"
	"voxeltrace/internal/trace"
)

// Collector records render session metrics. It exports them to a Prometheus
// registry and mirrors the headline counters for Snapshot. All methods are
// safe on a nil receiver.
type Collector struct {
	registry *prometheus.Registry

	residentChunks prometheus.Gauge
	evictions      *prometheus.CounterVec
	degraded       *prometheus.CounterVec
	cooldownSkips  prometheus.Counter
	frames         prometheus.Counter
	rays           prometheus.Counter
	hits           prometheus.Counter
	faults         prometheus.Counter
	chunkLoads     *prometheus.CounterVec
	frameDuration  prometheus.Histogram

	frameCount    atomic.Int64
	rayCount      atomic.Int64
	hitCount      atomic.Int64
	faultCount    atomic.Int64
	evictionCount atomic.Int64
	degradedCount atomic.Int64
	loadCount     atomic.Int64
	loadFailures  atomic.Int64
	resident      atomic.Int64
	lastFrameTime atomic.Int64
}

// Snapshot is a point-in-time copy of the headline counters.
type Snapshot struct {
	Frames        int64         `json:"frames"`
	Rays          int64         `json:"rays"`
	Hits          int64         `json:"hits"`
	Faults        int64         `json:"faults"`
	Evictions     int64         `json:"evictions"`
	DegradedRuns  int64         `json:"degradedRuns"`
	ChunkLoads    int64         `json:"chunkLoads"`
	LoadFailures  int64         `json:"loadFailures"`
	Resident      int64         `json:"resident"`
	LastFrameTime time.Duration `json:"lastFrameTimeNs"`
}

// New registers the collector's metrics on reg. A nil registry creates a
// private one.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		residentChunks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxeltrace_resident_chunks",
			Help: "Chunks currently resident in the chunk store",
		}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxeltrace_evictions_total",
			Help: "Chunks evicted from the store, by trigger",
		}, []string{"trigger"}),
		degraded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxeltrace_eviction_degraded_total",
			Help: "Eviction passes that could not reach their target because the remaining entries were protected",
		}, []string{"trigger"}),
		cooldownSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxeltrace_eviction_cooldown_skips_total",
			Help: "Proactive trims skipped because of the cooldown",
		}),
		frames: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxeltrace_frames_total",
			Help: "Frames rendered",
		}),
		rays: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxeltrace_rays_total",
			Help: "Primary rays traced",
		}),
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxeltrace_ray_hits_total",
			Help: "Primary rays that hit a surface",
		}),
		faults: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxeltrace_traversal_faults_total",
			Help: "Chunk traversals aborted because of malformed chunk data",
		}),
		chunkLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxeltrace_chunk_loads_total",
			Help: "Chunk generation attempts, by result",
		}, []string{"result"}),
		frameDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxeltrace_frame_duration_seconds",
			Help:    "Wall time to produce one frame",
			Buckets: []float64{0.001, 0.004, 0.008, 0.016, 0.033, 0.066, 0.1, 0.25, 1},
		}),
	}
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetResident records the current store size.
func (c *Collector) SetResident(n int) {
	if c == nil {
		return
	}
	c.residentChunks.Set(float64(n))
	c.resident.Store(int64(n))
}

// ObserveEviction records the outcome of one eviction pass.
func (c *Collector) ObserveEviction(r cache.Report) {
	if c == nil || r.Trigger == cache.TriggerNone {
		return
	}
	label := r.Trigger.String()
	if r.Evicted > 0 {
		c.evictions.WithLabelValues(label).Add(float64(r.Evicted))
		c.evictionCount.Add(int64(r.Evicted))
	}
	if r.Degraded {
		c.degraded.WithLabelValues(label).Inc()
		c.degradedCount.Add(1)
	}
	if r.Cooldown {
		c.cooldownSkips.Inc()
	}
}

// ObserveLoads records chunk generation results for one frame.
func (c *Collector) ObserveLoads(loaded, failed int) {
	if c == nil {
		return
	}
	if loaded > 0 {
		c.chunkLoads.WithLabelValues("ok").Add(float64(loaded))
		c.loadCount.Add(int64(loaded))
	}
	if failed > 0 {
		c.chunkLoads.WithLabelValues("error").Add(float64(failed))
		c.loadFailures.Add(int64(failed))
	}
}

// ObserveFrame records a finished frame.
func (c *Collector) ObserveFrame(d time.Duration, rays, hits int, stats trace.Stats) {
	if c == nil {
		return
	}
	c.frames.Inc()
	c.rays.Add(float64(rays))
	c.hits.Add(float64(hits))
	if stats.Faults > 0 {
		c.faults.Add(float64(stats.Faults))
	}
	c.frameDuration.Observe(d.Seconds())

	c.frameCount.Add(1)
	c.rayCount.Add(int64(rays))
	c.hitCount.Add(int64(hits))
	c.faultCount.Add(int64(stats.Faults))
	c.lastFrameTime.Store(d.Nanoseconds())
}

// Snapshot captures the current counter values.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		Frames:        c.frameCount.Load(),
		Rays:          c.rayCount.Load(),
		Hits:          c.hitCount.Load(),
		Faults:        c.faultCount.Load(),
		Evictions:     c.evictionCount.Load(),
		DegradedRuns:  c.degradedCount.Load(),
		ChunkLoads:    c.loadCount.Load(),
		LoadFailures:  c.loadFailures.Load(),
		Resident:      c.resident.Load(),
		LastFrameTime: time.Duration(c.lastFrameTime.Load()),
	}
}
