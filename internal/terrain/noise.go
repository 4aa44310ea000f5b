package terrain

import (
	"context"
	"fmt"
	"math"

	"voxeltrace/internal/config"
	"voxeltrace/internal/world"
)

// Materials written into generated leaves.
const (
	MaterialGrass uint16 = 1
	MaterialDirt  uint16 = 2
	MaterialStone uint16 = 3
	MaterialOre   uint16 = 4
)

const (
	topsoilDepth = 3
	// One voxel in oreRarity below the topsoil is ore.
	oreRarity = 61
)

// NoiseGenerator creates repeatable heightfield terrain from hashed value
// noise. Y is up.
type NoiseGenerator struct {
	cfg       config.TerrainConfig
	chunkSize int
	maxLevels int
	seed      uint32
}

func NewNoiseGenerator(cfg config.TerrainConfig, chunkSize, maxLevels int) *NoiseGenerator {
	return &NoiseGenerator{
		cfg:       cfg,
		chunkSize: chunkSize,
		maxLevels: maxLevels,
		seed:      uint32(cfg.Seed) ^ uint32(cfg.Seed>>32),
	}
}

// Generate builds the chunk at coord.
func (g *NoiseGenerator) Generate(ctx context.Context, coord world.ChunkCoord) (*world.VoxelChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := g.chunkSize
	baseX := coord.X * size
	baseY := coord.Y * size
	baseZ := coord.Z * size

	heights := make([]int, size*size)
	for x := 0; x < size; x++ {
		for z := 0; z < size; z++ {
			heights[x*size+z] = g.SurfaceHeight(baseX+x, baseZ+z)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunk, err := world.Build(coord, size, g.maxLevels, func(x, y, z int) (bool, uint16) {
		return g.material(baseX+x, baseY+y, baseZ+z, heights[x*size+z])
	})
	if err != nil {
		return nil, fmt.Errorf("build chunk %v: %w", coord, err)
	}
	return chunk, nil
}

// SurfaceHeight returns the first empty world Y above the terrain column at
// (x, z).
func (g *NoiseGenerator) SurfaceHeight(x, z int) int {
	noise := g.fractalNoise(float64(x), float64(z))
	return int(math.Floor(g.cfg.BaseHeight + noise*g.cfg.Amplitude))
}

func (g *NoiseGenerator) material(x, y, z, surface int) (bool, uint16) {
	if y >= surface {
		return false, 0
	}
	depth := surface - 1 - y
	switch {
	case depth == 0:
		return true, MaterialGrass
	case depth <= topsoilDepth:
		return true, MaterialDirt
	case hash3(g.seed, x, y, z)%oreRarity == 0:
		return true, MaterialOre
	default:
		return true, MaterialStone
	}
}

func (g *NoiseGenerator) fractalNoise(x, z float64) float64 {
	frequency := g.cfg.Frequency
	amplitude := 1.0
	noiseSum := 0.0
	maxAmplitude := 0.0

	for i := 0; i < g.cfg.Octaves; i++ {
		noiseSum += g.valueNoise(x*frequency, z*frequency, uint32(i)) * amplitude
		maxAmplitude += amplitude
		amplitude *= g.cfg.Persistence
		frequency *= g.cfg.Lacunarity
	}

	if maxAmplitude == 0 {
		return 0
	}
	return noiseSum / maxAmplitude
}

func (g *NoiseGenerator) valueNoise(x, z float64, octave uint32) float64 {
	x0 := int(math.Floor(x))
	z0 := int(math.Floor(z))

	sx := smooth(x - float64(x0))
	sz := smooth(z - float64(z0))
	seed := g.seed + octave*0x9e3779b9

	ix0 := lerp(random2D(seed, x0, z0), random2D(seed, x0+1, z0), sx)
	ix1 := lerp(random2D(seed, x0, z0+1), random2D(seed, x0+1, z0+1), sx)
	return lerp(ix0, ix1, sz)
}

func smooth(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// random2D maps a lattice point to [-1, 1).
func random2D(seed uint32, x, z int) float64 {
	return float64(hash2(seed, x, z)&0xFFFF)/0x8000 - 1.0
}

func hash32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

func hash2(seed uint32, x, z int) uint32 {
	h := seed
	h ^= uint32(int32(x)) * 0x9e3779b1
	h ^= uint32(int32(z)) * 0x85ebca6b
	return hash32(h)
}

func hash3(seed uint32, x, y, z int) uint32 {
	h := seed
	h ^= uint32(int32(x)) * 0x9e3779b1
	h ^= uint32(int32(y)) * 0x85ebca6b
	h ^= uint32(int32(z)) * 0xc2b2ae35
	return hash32(h)
}
