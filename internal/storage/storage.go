package storage

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"voxeltrace/internal/config"
	"voxeltrace/internal/world"
)

// ChunkStorage persists generated chunks between sessions.
type ChunkStorage interface {
	Load(coord world.ChunkCoord) (*world.VoxelChunk, bool, error)
	Save(chunk *world.VoxelChunk) error
	Delete(coord world.ChunkCoord) error
	ForEach(fn func(coord world.ChunkCoord) bool) error
	Close() error
}

// Open returns disk storage for the world described by cfg. Chunks live in a
// directory named after the chunk size and terrain seed, so changing either
// never serves chunks built for another world.
func Open(cfg *config.Config) (ChunkStorage, error) {
	if !cfg.Storage.Enabled {
		return nil, fmt.Errorf("open chunk storage: storage disabled")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return nil, fmt.Errorf("open chunk storage: empty path")
	}
	return NewDiskStorage(filepath.Join(cfg.Storage.Path, namespace(cfg)))
}

func namespace(cfg *config.Config) string {
	return fmt.Sprintf("size%d-seed%d", cfg.World.ChunkSize, cfg.Terrain.Seed)
}

// Wrap returns the generator a session should load chunks through. With
// storage disabled that is inner itself, so the only copy of a chunk is the
// resident one and eviction bounds memory. Otherwise inner is wrapped in a
// CachingGenerator over disk storage. The returned close function releases
// the storage and is never nil.
func Wrap(cfg *config.Config, inner world.Generator, logger *log.Logger) (world.Generator, func() error, error) {
	if !cfg.Storage.Enabled {
		return inner, func() error { return nil }, nil
	}
	store, err := Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	gen := NewCachingGenerator(inner, store, cfg.World.ChunkSize, cfg.World.MaxLevels, logger)
	return gen, store.Close, nil
}
