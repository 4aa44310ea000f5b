package world

import (
	"fmt"
	"math"

	"voxeltrace/internal/geom"
)

// ChunkCoord identifies a chunk in global chunk space.
type ChunkCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (c ChunkCoord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
}

// Less orders chunk coordinates lexicographically by X, Y, Z.
func (c ChunkCoord) Less(o ChunkCoord) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.Z < o.Z
}

// Chebyshev returns the grid distance max(|dx|,|dy|,|dz|) between two chunks.
func (c ChunkCoord) Chebyshev(o ChunkCoord) int {
	d := absInt(c.X - o.X)
	if dy := absInt(c.Y - o.Y); dy > d {
		d = dy
	}
	if dz := absInt(c.Z - o.Z); dz > d {
		d = dz
	}
	return d
}

// Distance returns the euclidean distance between two chunks in chunk units.
func (c ChunkCoord) Distance(o ChunkCoord) float64 {
	dx := float64(c.X - o.X)
	dy := float64(c.Y - o.Y)
	dz := float64(c.Z - o.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Origin returns the world-space min corner of the chunk.
func (c ChunkCoord) Origin(size float64) geom.Vec3 {
	return geom.Vec3{float64(c.X) * size, float64(c.Y) * size, float64(c.Z) * size}
}

// ChunkAt returns the coordinate of the chunk containing the world position.
func ChunkAt(pos geom.Vec3, size float64) ChunkCoord {
	if size <= 0 {
		return ChunkCoord{}
	}
	return ChunkCoord{
		X: int(math.Floor(pos[0] / size)),
		Y: int(math.Floor(pos[1] / size)),
		Z: int(math.Floor(pos[2] / size)),
	}
}

// ChunksWithin lists every chunk coordinate whose Chebyshev distance from
// center is at most radius, ordered by X, Y, Z.
func ChunksWithin(center ChunkCoord, radius int) []ChunkCoord {
	if radius < 0 {
		return nil
	}
	span := 2*radius + 1
	out := make([]ChunkCoord, 0, span*span*span)
	for x := center.X - radius; x <= center.X+radius; x++ {
		for y := center.Y - radius; y <= center.Y+radius; y++ {
			for z := center.Z - radius; z <= center.Z+radius; z++ {
				out = append(out, ChunkCoord{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

func floorDiv(value, size int) int {
	if size <= 0 {
		return 0
	}
	if value >= 0 {
		return value / size
	}
	return -((-value - 1) / size) - 1
}

// VoxelChunkAt maps an integer voxel coordinate to its chunk for an integer
// chunk edge length.
func VoxelChunkAt(x, y, z, size int) ChunkCoord {
	return ChunkCoord{X: floorDiv(x, size), Y: floorDiv(y, size), Z: floorDiv(z, size)}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
