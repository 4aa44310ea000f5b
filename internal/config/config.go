package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the tunable parameters of a render session.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	World     WorldConfig     `json:"world" yaml:"world"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Traversal TraversalConfig `json:"traversal" yaml:"traversal"`
	Render    RenderConfig    `json:"render" yaml:"render"`
	Terrain   TerrainConfig   `json:"terrain" yaml:"terrain"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
}

type ServerConfig struct {
	ID            string `json:"id" yaml:"id"`
	Description   string `json:"description" yaml:"description"`
	ListenAddress string `json:"listenAddress" yaml:"listen_address"` // ops endpoint, empty disables it
}

type WorldConfig struct {
	ChunkSize int `json:"chunkSize" yaml:"chunk_size"` // voxels per edge, power of two
	MaxLevels int `json:"maxLevels" yaml:"max_levels"` // DAG depth bound
}

// CacheConfig holds the chunk store limits and eviction tunables.
type CacheConfig struct {
	SoftLimit            int      `json:"softLimit" yaml:"soft_limit"`
	HardLimit            int      `json:"hardLimit" yaml:"hard_limit"`
	TrimTargetRatio      float64  `json:"trimTargetRatio" yaml:"trim_target_ratio"`
	EmergencyTargetRatio float64  `json:"emergencyTargetRatio" yaml:"emergency_target_ratio"`
	Cooldown             Duration `json:"cooldown" yaml:"cooldown"`
	TrimInterval         Duration `json:"trimInterval" yaml:"trim_interval"`
	MinChunkAge          Duration `json:"minChunkAge" yaml:"min_chunk_age"`
	ProtectionRadius     int      `json:"protectionRadius" yaml:"protection_radius"` // chunks, Chebyshev
	MaxEvictionsPerRun   int      `json:"maxEvictionsPerRun" yaml:"max_evictions_per_run"`
	MaxIdle              Duration `json:"maxIdle" yaml:"max_idle"`         // idle time that saturates the time factor
	MaxDistance          float64  `json:"maxDistance" yaml:"max_distance"` // chunks; saturates the distance factor
}

type TraversalConfig struct {
	MaxRenderDistance float64 `json:"maxRenderDistance" yaml:"max_render_distance"`
}

type RenderConfig struct {
	Width            int      `json:"width" yaml:"width"`
	Height           int      `json:"height" yaml:"height"`
	FOVDegrees       float64  `json:"fovDegrees" yaml:"fov_degrees"`
	TileSize         int      `json:"tileSize" yaml:"tile_size"`
	Workers          int      `json:"workers" yaml:"workers"` // 0 uses GOMAXPROCS
	ViewRadius       int      `json:"viewRadius" yaml:"view_radius"`
	MaxLoadsPerFrame int      `json:"maxLoadsPerFrame" yaml:"max_loads_per_frame"`
	LoadWorkers      int      `json:"loadWorkers" yaml:"load_workers"`
	TickRate         Duration `json:"tickRate" yaml:"tick_rate"`
}

type TerrainConfig struct {
	Seed        int64   `json:"seed" yaml:"seed"`
	Frequency   float64 `json:"frequency" yaml:"frequency"`
	Amplitude   float64 `json:"amplitude" yaml:"amplitude"`
	BaseHeight  float64 `json:"baseHeight" yaml:"base_height"`
	Octaves     int     `json:"octaves" yaml:"octaves"`
	Persistence float64 `json:"persistence" yaml:"persistence"`
	Lacunarity  float64 `json:"lacunarity" yaml:"lacunarity"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Load reads configuration from a JSON or YAML file. An empty path returns
// defaults. Fields absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ID:            "voxeltrace-0",
			Description:   "local development render session",
			ListenAddress: "127.0.0.1:19100",
		},
		World: WorldConfig{
			ChunkSize: 32,
			MaxLevels: 10,
		},
		Cache: CacheConfig{
			SoftLimit:            20_000,
			HardLimit:            25_000,
			TrimTargetRatio:      0.9,
			EmergencyTargetRatio: 0.8,
			Cooldown:             Duration(3 * time.Second),
			TrimInterval:         Duration(5 * time.Second),
			MinChunkAge:          Duration(2 * time.Second),
			ProtectionRadius:     3,
			MaxEvictionsPerRun:   100,
			MaxIdle:              Duration(60 * time.Second),
			MaxDistance:          32,
		},
		Traversal: TraversalConfig{
			MaxRenderDistance: 1024,
		},
		Render: RenderConfig{
			Width:            320,
			Height:           180,
			FOVDegrees:       70,
			TileSize:         16,
			Workers:          0,
			ViewRadius:       4,
			MaxLoadsPerFrame: 64,
			LoadWorkers:      4,
			TickRate:         Duration(33 * time.Millisecond),
		},
		Terrain: TerrainConfig{
			Seed:        1337,
			Frequency:   0.01,
			Amplitude:   24,
			BaseHeight:  16,
			Octaves:     4,
			Persistence: 0.45,
			Lacunarity:  2.0,
		},
		Storage: StorageConfig{
			Enabled: false,
			Path:    "./data/chunks",
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.ID == "" {
		return errors.New("server.id must be set")
	}
	if size := c.World.ChunkSize; size <= 0 || size&(size-1) != 0 {
		return errors.New("world.chunkSize must be a positive power of two")
	}
	if c.World.MaxLevels <= 0 || c.World.MaxLevels > 10 {
		return errors.New("world.maxLevels must be between 1 and 10")
	}
	if 1<<c.World.MaxLevels < c.World.ChunkSize {
		return errors.New("world.maxLevels too small for world.chunkSize")
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	if c.Traversal.MaxRenderDistance <= 0 {
		return errors.New("traversal.maxRenderDistance must be positive")
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return errors.New("render dimensions must be positive")
	}
	if c.Render.FOVDegrees <= 0 || c.Render.FOVDegrees >= 180 {
		return errors.New("render.fovDegrees must be in (0,180)")
	}
	if c.Render.TileSize <= 0 {
		return errors.New("render.tileSize must be positive")
	}
	if c.Render.Workers < 0 || c.Render.LoadWorkers < 0 {
		return errors.New("render workers cannot be negative")
	}
	if c.Render.ViewRadius < 0 {
		return errors.New("render.viewRadius cannot be negative")
	}
	if c.Terrain.Octaves <= 0 {
		return errors.New("terrain.octaves must be positive")
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return errors.New("storage.path must be set when storage is enabled")
	}
	return nil
}

func (c CacheConfig) validate() error {
	if c.SoftLimit <= 0 {
		return errors.New("cache.softLimit must be positive")
	}
	if c.HardLimit < c.SoftLimit {
		return errors.New("cache.hardLimit must be >= softLimit")
	}
	if c.TrimTargetRatio <= 0 || c.TrimTargetRatio > 1 {
		return errors.New("cache.trimTargetRatio must be in (0,1]")
	}
	if c.EmergencyTargetRatio <= 0 || c.EmergencyTargetRatio > c.TrimTargetRatio {
		return errors.New("cache.emergencyTargetRatio must be in (0,trimTargetRatio]")
	}
	if c.Cooldown < 0 || c.TrimInterval < 0 || c.MinChunkAge < 0 {
		return errors.New("cache durations cannot be negative")
	}
	if c.ProtectionRadius < 0 {
		return errors.New("cache.protectionRadius cannot be negative")
	}
	if c.MaxEvictionsPerRun <= 0 {
		return errors.New("cache.maxEvictionsPerRun must be positive")
	}
	if c.MaxIdle <= 0 || c.MaxDistance <= 0 {
		return errors.New("cache score maxima must be positive")
	}
	return nil
}

// WriteDefault writes the default configuration as YAML to the provided path.
func WriteDefault(path string) error {
	cfg := Default()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
