package render

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"voxeltrace/internal/config"
	"voxeltrace/internal/geom"
)

// CameraPath places the camera for the frame rendered at now.
type CameraPath func(now time.Time) Camera

// Orbit circles center at the given radius and height, completing one
// revolution per period, always looking at center.
func Orbit(cfg config.RenderConfig, center geom.Vec3, radius, height float64, period time.Duration, start time.Time) CameraPath {
	if period <= 0 {
		period = time.Minute
	}
	return func(now time.Time) Camera {
		angle := 2 * math.Pi * now.Sub(start).Seconds() / period.Seconds()
		pos := geom.Vec3{
			center[0] + radius*math.Cos(angle),
			center[1] + height,
			center[2] + radius*math.Sin(angle),
		}
		to := center.Sub(pos)
		yaw := math.Atan2(to[2], to[0])
		pitch := math.Atan2(to[1], math.Hypot(to[0], to[2]))
		return NewCamera(cfg, pos, yaw, pitch)
	}
}

type tickerFactory func(time.Duration) (<-chan time.Time, func())

type timeSource func() time.Time

func defaultTickerFactory() tickerFactory {
	return func(d time.Duration) (<-chan time.Time, func()) {
		ticker := time.NewTicker(d)
		return ticker.C, ticker.Stop
	}
}

// logEvery is how many frames pass between progress lines.
const logEvery = 300

// Loop renders one frame per tick until its context is cancelled.
type Loop struct {
	renderer  *Renderer
	path      CameraPath
	tick      time.Duration
	logger    *log.Logger
	wg        sync.WaitGroup
	newTicker tickerFactory
	now       timeSource

	// OnFrame, when set, receives every rendered frame.
	OnFrame func(*Image, FrameStats)
}

func NewLoop(r *Renderer, path CameraPath, tick time.Duration) *Loop {
	if tick <= 0 {
		tick = 33 * time.Millisecond
	}
	return &Loop{
		renderer:  r,
		path:      path,
		tick:      tick,
		logger:    log.New(log.Writer(), "[loop] ", log.LstdFlags|log.Lmicroseconds),
		newTicker: defaultTickerFactory(),
		now:       time.Now,
	}
}

func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.renderer == nil || l.path == nil {
		return
	}
	l.wg.Add(1)
	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()
	if l.newTicker == nil {
		l.newTicker = defaultTickerFactory()
	}
	if l.now == nil {
		l.now = time.Now
	}

	tickerC, stop := l.newTicker(l.tick)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tickerC:
			img, stats, err := l.renderer.Frame(ctx, FrameInput{Camera: l.path(now), Now: l.now()})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Printf("frame %d failed: %v", stats.Frame, err)
				continue
			}
			if l.OnFrame != nil {
				l.OnFrame(img, stats)
			}
			if stats.Frame%logEvery == 0 {
				l.logger.Printf("frame %d: %d resident, %d/%d hits, %v",
					stats.Frame, stats.Resident, stats.Hits, stats.Rays, stats.Duration)
			}
		}
	}
}

func (l *Loop) Wait() {
	if l == nil {
		return
	}
	l.wg.Wait()
}
