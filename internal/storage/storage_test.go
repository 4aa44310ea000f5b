package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zstd"

	"voxeltrace/internal/config"
	"voxeltrace/internal/world"
)

func terraced(x, y, z int) (bool, uint16) {
	return y <= (x+z)/4, uint16(1 + (x+z)%3)
}

func buildChunk(t *testing.T, coord world.ChunkCoord) *world.VoxelChunk {
	t.Helper()
	chunk, err := world.Build(coord, 16, 10, terraced)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return chunk
}

func newCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	t.Cleanup(func() { codec.Close() })
	return codec
}

func TestCodecRoundTrip(t *testing.T) {
	codec := newCodec(t)
	chunk := buildChunk(t, world.ChunkCoord{X: -3, Y: 2, Z: 7})

	data, err := codec.Encode(chunk)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(got, chunk) {
		t.Fatalf("decoded chunk differs from original")
	}
}

func TestCodecRejectsCorruptData(t *testing.T) {
	codec := newCodec(t)
	data, err := codec.Encode(buildChunk(t, world.ChunkCoord{}))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{name: "empty", mutate: func(b []byte) []byte { return nil }},
		{name: "bad version", mutate: func(b []byte) []byte { b[0] = 99; return b }},
		{name: "truncated payload", mutate: func(b []byte) []byte { return b[:len(b)-3] }},
		{name: "wrong raw length", mutate: func(b []byte) []byte { b[1]++; return b }},
		{name: "garbled payload", mutate: func(b []byte) []byte {
			for i := headerSize; i < len(b); i++ {
				b[i] ^= 0x5a
			}
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append([]byte(nil), data...)
			if _, err := codec.Decode(tt.mutate(buf)); !errors.Is(err, ErrCorruptChunk) {
				t.Fatalf("expected ErrCorruptChunk, got %v", err)
			}
		})
	}
}

func TestDiskStorageLifecycle(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStorage(dir)
	if err != nil {
		t.Fatalf("NewDiskStorage: %v", err)
	}
	defer store.Close()

	coords := []world.ChunkCoord{{X: 2, Y: 0, Z: 1}, {X: -1, Y: -4, Z: 3}, {X: 2, Y: 0, Z: -5}}
	for _, c := range coords {
		if err := store.Save(buildChunk(t, c)); err != nil {
			t.Fatalf("Save %v: %v", c, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "-1", "-4", "3.svdag")); err != nil {
		t.Fatalf("expected chunk file on disk: %v", err)
	}

	got, ok, err := store.Load(coords[1])
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, buildChunk(t, coords[1])) {
		t.Fatalf("loaded chunk mismatch")
	}

	var listed []world.ChunkCoord
	if err := store.ForEach(func(c world.ChunkCoord) bool { listed = append(listed, c); return true }); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	want := []world.ChunkCoord{{X: -1, Y: -4, Z: 3}, {X: 2, Y: 0, Z: -5}, {X: 2, Y: 0, Z: 1}}
	if !reflect.DeepEqual(listed, want) {
		t.Fatalf("ForEach = %v, want %v", listed, want)
	}

	if err := store.Delete(coords[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(coords[0]); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
	if _, ok, _ := store.Load(coords[0]); ok {
		t.Fatalf("deleted chunk still loads")
	}
}

func TestDiskStorageDetectsMisplacedFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStorage(dir)
	if err != nil {
		t.Fatalf("NewDiskStorage: %v", err)
	}
	defer store.Close()

	a := world.ChunkCoord{X: 1}
	b := world.ChunkCoord{X: 2}
	if err := store.Save(buildChunk(t, a)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(store.chunkPath(b)), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Rename(store.chunkPath(a), store.chunkPath(b)); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, _, err := store.Load(b); !errors.Is(err, ErrCorruptChunk) {
		t.Fatalf("expected ErrCorruptChunk for misplaced file, got %v", err)
	}
}

func TestOpenNamespacesByWorld(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Enabled = true
	cfg.Storage.Path = t.TempDir()
	cfg.World.ChunkSize = 16
	cfg.Terrain.Seed = 42

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	if err := store.Save(buildChunk(t, world.ChunkCoord{X: 1})); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Storage.Path, "size16-seed42", "1", "0", "0.svdag")); err != nil {
		t.Fatalf("expected chunk under the world namespace: %v", err)
	}

	cfg.Terrain.Seed = 43
	other, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer other.Close()
	if _, ok, err := other.Load(world.ChunkCoord{X: 1}); ok || err != nil {
		t.Fatalf("chunk from another seed should not load: ok=%v err=%v", ok, err)
	}

	cfg.Storage.Path = " "
	if _, err := Open(cfg); err == nil {
		t.Fatalf("expected an error for an empty path")
	}
	cfg.Storage.Enabled = false
	if _, err := Open(cfg); err == nil {
		t.Fatalf("expected an error for disabled storage")
	}
}

func TestWrapBypassesDisabledStorage(t *testing.T) {
	inner := &countingGenerator{}
	cfg := config.Default()
	cfg.Storage.Enabled = false

	gen, closeFn, err := Wrap(cfg, inner, quietLogger())
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	defer closeFn()
	if gen != world.Generator(inner) {
		t.Fatalf("disabled storage should return the inner generator, got %T", gen)
	}
}

func TestWrapPersistsWhenEnabled(t *testing.T) {
	inner := &countingGenerator{}
	cfg := config.Default()
	cfg.Storage.Enabled = true
	cfg.Storage.Path = t.TempDir()
	cfg.World.ChunkSize = 16

	gen, closeFn, err := Wrap(cfg, inner, quietLogger())
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	defer closeFn()
	if _, ok := gen.(*CachingGenerator); !ok {
		t.Fatalf("enabled storage should wrap the generator, got %T", gen)
	}
	for i := 0; i < 2; i++ {
		if _, err := gen.Generate(context.Background(), world.ChunkCoord{Z: 2}); err != nil {
			t.Fatalf("Generate: %v", err)
		}
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("inner generator called %d times, want 1", inner.calls.Load())
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// memStorage is a map-backed ChunkStorage for generator tests.
type memStorage struct {
	mu     sync.Mutex
	chunks map[world.ChunkCoord]*world.VoxelChunk
}

func newMemStorage() *memStorage {
	return &memStorage{chunks: make(map[world.ChunkCoord]*world.VoxelChunk)}
}

func (m *memStorage) Load(coord world.ChunkCoord) (*world.VoxelChunk, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk, ok := m.chunks[coord]
	return chunk, ok, nil
}

func (m *memStorage) Save(chunk *world.VoxelChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[chunk.Coord] = chunk
	return nil
}

func (m *memStorage) Delete(coord world.ChunkCoord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, coord)
	return nil
}

func (m *memStorage) ForEach(fn func(coord world.ChunkCoord) bool) error {
	m.mu.Lock()
	coords := make([]world.ChunkCoord, 0, len(m.chunks))
	for c := range m.chunks {
		coords = append(coords, c)
	}
	m.mu.Unlock()
	for _, c := range coords {
		if !fn(c) {
			break
		}
	}
	return nil
}

func (m *memStorage) Close() error { return nil }

type countingGenerator struct {
	size  int
	calls atomic.Int64
}

func (g *countingGenerator) Generate(ctx context.Context, coord world.ChunkCoord) (*world.VoxelChunk, error) {
	g.calls.Add(1)
	size := g.size
	if size == 0 {
		size = 16
	}
	return world.Build(coord, size, 10, terraced)
}

func TestCachingGeneratorReusesStoredChunks(t *testing.T) {
	inner := &countingGenerator{}
	store := newMemStorage()
	gen := NewCachingGenerator(inner, store, 16, 10, quietLogger())
	coord := world.ChunkCoord{X: 4, Z: -2}

	first, err := gen.Generate(context.Background(), coord)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := gen.Generate(context.Background(), coord)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("inner generator called %d times, want 1", inner.calls.Load())
	}
	if first != second {
		t.Fatalf("second call should return the stored chunk")
	}
}

func TestCachingGeneratorReplacesCorruptChunks(t *testing.T) {
	dir := t.TempDir()
	disk, err := NewDiskStorage(dir)
	if err != nil {
		t.Fatalf("NewDiskStorage: %v", err)
	}
	defer disk.Close()

	coord := world.ChunkCoord{Y: 1}
	path := disk.chunkPath(coord)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("not a chunk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	inner := &countingGenerator{}
	gen := NewCachingGenerator(inner, disk, 16, 10, quietLogger())
	chunk, err := gen.Generate(context.Background(), coord)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if inner.calls.Load() != 1 || chunk.Coord != coord {
		t.Fatalf("corrupt chunk should be regenerated")
	}
	if _, ok, err := disk.Load(coord); err != nil || !ok {
		t.Fatalf("regenerated chunk should be persisted: ok=%v err=%v", ok, err)
	}
}

func TestCachingGeneratorDropsMalformedStoredChunks(t *testing.T) {
	store := newMemStorage()
	coord := world.ChunkCoord{Z: 9}
	store.Save(&world.VoxelChunk{Coord: coord, Size: 16, Nodes: []world.DAGNode{world.LeafNode(true, 1)}, Root: 3})

	inner := &countingGenerator{}
	gen := NewCachingGenerator(inner, store, 16, 10, quietLogger())
	chunk, err := gen.Generate(context.Background(), coord)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("malformed stored chunk should be regenerated")
	}
	if err := chunk.Validate(10); err != nil {
		t.Fatalf("regenerated chunk invalid: %v", err)
	}
}

func TestCachingGeneratorDropsChunksOfAnotherSize(t *testing.T) {
	store := newMemStorage()
	coord := world.ChunkCoord{X: -6, Y: 1}
	if err := store.Save(buildChunk(t, coord)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	inner := &countingGenerator{size: 32}
	gen := NewCachingGenerator(inner, store, 32, 10, quietLogger())
	chunk, err := gen.Generate(context.Background(), coord)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if inner.calls.Load() != 1 || chunk.Size != 32 {
		t.Fatalf("16^3 stored chunk should be regenerated at 32^3, got size %v after %d calls", chunk.Size, inner.calls.Load())
	}
	stored, ok, _ := store.Load(coord)
	if !ok || stored.Size != 32 {
		t.Fatalf("storage should hold the regenerated chunk")
	}
}

func TestCachingGeneratorDropsNonFiniteSizes(t *testing.T) {
	store := newMemStorage()
	coord := world.ChunkCoord{Y: 3}
	bad := buildChunk(t, coord)
	bad.Size = math.NaN()
	store.Save(bad)

	inner := &countingGenerator{}
	gen := NewCachingGenerator(inner, store, 16, 10, quietLogger())
	chunk, err := gen.Generate(context.Background(), coord)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if inner.calls.Load() != 1 || chunk.Size != 16 {
		t.Fatalf("chunk with NaN size should be regenerated")
	}
}

func TestCodecBoundsDecompressedSize(t *testing.T) {
	codec := newCodec(t)

	// The header claims a small record but the payload inflates to 1 MiB.
	payload := codec.encoder.EncodeAll(make([]byte, 1<<20), nil)
	data := make([]byte, headerSize, headerSize+len(payload))
	data[0] = codecVersion
	binary.LittleEndian.PutUint32(data[1:5], 64)
	binary.LittleEndian.PutUint32(data[5:9], uint32(len(payload)))
	data = append(data, payload...)

	_, err := codec.Decode(data)
	if !errors.Is(err, ErrCorruptChunk) || !errors.Is(err, zstd.ErrDecoderSizeExceeded) {
		t.Fatalf("expected a size-exceeded corrupt chunk error, got %v", err)
	}
}
