package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"voxeltrace/internal/world"
)

const chunkExt = ".svdag"

// DiskStorage persists each chunk as basePath/<x>/<y>/<z>.svdag.
type DiskStorage struct {
	basePath string
	codec    *Codec
}

// NewDiskStorage creates a store rooted at basePath.
func NewDiskStorage(basePath string) (*DiskStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk directory: %w", err)
	}
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	return &DiskStorage{basePath: basePath, codec: codec}, nil
}

func (d *DiskStorage) chunkPath(coord world.ChunkCoord) string {
	return filepath.Join(d.basePath, strconv.Itoa(coord.X), strconv.Itoa(coord.Y), strconv.Itoa(coord.Z)+chunkExt)
}

func (d *DiskStorage) Load(coord world.ChunkCoord) (*world.VoxelChunk, bool, error) {
	data, err := os.ReadFile(d.chunkPath(coord))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read chunk %v: %w", coord, err)
	}
	chunk, err := d.codec.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode chunk %v: %w", coord, err)
	}
	if chunk.Coord != coord {
		return nil, false, fmt.Errorf("decode chunk %v: %w: file holds %v", coord, ErrCorruptChunk, chunk.Coord)
	}
	return chunk, true, nil
}

// Save writes the chunk to a temporary file and renames it into place so a
// reader never observes a partial record.
func (d *DiskStorage) Save(chunk *world.VoxelChunk) error {
	data, err := d.codec.Encode(chunk)
	if err != nil {
		return err
	}
	path := d.chunkPath(chunk.Coord)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create chunk directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".chunk-*")
	if err != nil {
		return fmt.Errorf("create temp chunk file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write chunk %v: %w", chunk.Coord, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync chunk %v: %w", chunk.Coord, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close chunk %v: %w", chunk.Coord, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename chunk %v: %w", chunk.Coord, err)
	}
	return nil
}

func (d *DiskStorage) Delete(coord world.ChunkCoord) error {
	if err := os.Remove(d.chunkPath(coord)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete chunk %v: %w", coord, err)
	}
	return nil
}

// ForEach visits every stored coordinate in X, Y, Z order. Files that do not
// follow the naming scheme are ignored.
func (d *DiskStorage) ForEach(fn func(coord world.ChunkCoord) bool) error {
	var coords []world.ChunkCoord
	err := filepath.WalkDir(d.basePath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), chunkExt) {
			return nil
		}
		rel, err := filepath.Rel(d.basePath, path)
		if err != nil {
			return nil
		}
		if coord, ok := parseChunkPath(rel); ok {
			coords = append(coords, coord)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk chunk directory: %w", err)
	}

	sort.Slice(coords, func(i, j int) bool { return coords[i].Less(coords[j]) })
	for _, c := range coords {
		if !fn(c) {
			break
		}
	}
	return nil
}

func parseChunkPath(rel string) (world.ChunkCoord, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return world.ChunkCoord{}, false
	}
	x, errX := strconv.Atoi(parts[0])
	y, errY := strconv.Atoi(parts[1])
	z, errZ := strconv.Atoi(strings.TrimSuffix(parts[2], chunkExt))
	if errX != nil || errY != nil || errZ != nil {
		return world.ChunkCoord{}, false
	}
	return world.ChunkCoord{X: x, Y: y, Z: z}, true
}

func (d *DiskStorage) Close() error {
	return d.codec.Close()
}
