package storage

import (
	"context"
	"fmt"
	"log"

	"voxeltrace/internal/world"
)

// CachingGenerator serves chunks from storage and falls back to the wrapped
// generator on a miss. Stored chunks that fail to decode or validate, or
// whose edge length differs from chunkSize, are deleted and regenerated.
type CachingGenerator struct {
	inner     world.Generator
	storage   ChunkStorage
	chunkSize int
	maxLevels int
	logger    *log.Logger
}

func NewCachingGenerator(inner world.Generator, storage ChunkStorage, chunkSize, maxLevels int, logger *log.Logger) *CachingGenerator {
	if logger == nil {
		logger = log.New(log.Writer(), "[storage] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &CachingGenerator{inner: inner, storage: storage, chunkSize: chunkSize, maxLevels: maxLevels, logger: logger}
}

func (g *CachingGenerator) Generate(ctx context.Context, coord world.ChunkCoord) (*world.VoxelChunk, error) {
	chunk, ok, err := g.storage.Load(coord)
	switch {
	case err != nil:
		g.logger.Printf("discarding stored chunk %v: %v", coord, err)
		g.drop(coord)
	case ok:
		verr := chunk.Validate(g.maxLevels)
		if verr == nil && chunk.Size != float64(g.chunkSize) {
			verr = fmt.Errorf("edge length %v, want %d", chunk.Size, g.chunkSize)
		}
		if verr == nil {
			return chunk, nil
		}
		g.logger.Printf("discarding stored chunk %v: %v", coord, verr)
		g.drop(coord)
	}

	chunk, err = g.inner.Generate(ctx, coord)
	if err != nil {
		return nil, fmt.Errorf("generate chunk %v: %w", coord, err)
	}
	if err := g.storage.Save(chunk); err != nil {
		g.logger.Printf("persist chunk %v: %v", coord, err)
	}
	return chunk, nil
}

func (g *CachingGenerator) drop(coord world.ChunkCoord) {
	if err := g.storage.Delete(coord); err != nil {
		g.logger.Printf("delete chunk %v: %v", coord, err)
	}
}
