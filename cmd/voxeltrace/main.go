package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voxeltrace/internal/config"
	"voxeltrace/internal/geom"
	"voxeltrace/internal/metrics"
	"voxeltrace/internal/render"
	"voxeltrace/internal/server"
	"voxeltrace/internal/storage"
	"voxeltrace/internal/terrain"
)

func main() {
	var (
		configPath string
		orbit      time.Duration
		radius     float64
	)
	flag.StringVar(&configPath, "config", "voxeltrace.yml", "configuration file for the render session")
	flag.DurationVar(&orbit, "orbit", 2*time.Minute, "time for the camera to complete one orbit")
	flag.Float64Var(&radius, "radius", 256, "camera orbit radius in world units")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := config.WriteDefault(configPath); err != nil {
				log.Fatalf("write default config: %v", err)
			}
			log.Printf("no configuration found, default configuration written to %s", configPath)
			cfg, err = config.Load(configPath)
		}
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	noise := terrain.NewNoiseGenerator(cfg.Terrain, cfg.World.ChunkSize, cfg.World.MaxLevels)
	gen, closeStorage, err := storage.Wrap(cfg, noise, nil)
	if err != nil {
		log.Fatalf("open chunk storage: %v", err)
	}
	defer closeStorage()
	collector := metrics.New(nil)

	renderer, err := render.New(render.Options{
		Config:    cfg,
		Generator: gen,
		Metrics:   collector,
	})
	if err != nil {
		log.Fatalf("initialise renderer: %v", err)
	}
	defer renderer.Close()
	log.Printf("render session %s started", renderer.Session())

	center := geom.Vec3{0, float64(noise.SurfaceHeight(0, 0)), 0}
	path := render.Orbit(cfg.Render, center, radius, 48, orbit, time.Now())
	loop := render.NewLoop(renderer, path, cfg.Render.TickRate.Duration())
	loop.Start(ctx)

	if cfg.Server.ListenAddress != "" {
		ops := server.New(cfg.Server, renderer, collector)
		if err := ops.Run(ctx); err != nil {
			log.Printf("ops server exited: %v", err)
			cancel()
		}
	} else {
		<-ctx.Done()
	}
	loop.Wait()
	log.Printf("render session %s stopped after %d frames", renderer.Session(), renderer.Frames())
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
