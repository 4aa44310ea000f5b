package render

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"voxeltrace/internal/config"
	"voxeltrace/internal/geom"
	"voxeltrace/internal/world"
)

var worldUp = geom.Vec3{0, 1, 0}

// Camera is a pinhole camera. Yaw rotates about +Y starting from +X, pitch
// lifts the view toward +Y; both are in radians.
type Camera struct {
	Position   geom.Vec3
	Yaw        float64
	Pitch      float64
	FOVDegrees float64 // vertical
	Width      int
	Height     int
}

// NewCamera builds a camera using the image settings in cfg.
func NewCamera(cfg config.RenderConfig, pos geom.Vec3, yaw, pitch float64) Camera {
	return Camera{
		Position:   pos,
		Yaw:        yaw,
		Pitch:      pitch,
		FOVDegrees: cfg.FOVDegrees,
		Width:      cfg.Width,
		Height:     cfg.Height,
	}
}

// Basis returns the camera's orthonormal forward, right and up vectors.
func (c Camera) Basis() (forward, right, up geom.Vec3) {
	cp := math.Cos(c.Pitch)
	forward = geom.Vec3{cp * math.Cos(c.Yaw), math.Sin(c.Pitch), cp * math.Sin(c.Yaw)}.Normalize()
	right = forward.Cross(worldUp)
	if right.Len() < 1e-9 {
		// Looking straight up or down; any horizontal right vector works.
		right = geom.Vec3{-math.Sin(c.Yaw), 0, math.Cos(c.Yaw)}
	}
	right = right.Normalize()
	up = right.Cross(forward).Normalize()
	return forward, right, up
}

// PrimaryRay returns the ray through the center of pixel (px, py). Row 0 is
// the top of the image.
func (c Camera) PrimaryRay(px, py int, maxDist float64) geom.Ray {
	forward, right, up := c.Basis()
	return c.rayFromBasis(forward, right, up, px, py, maxDist)
}

func (c Camera) rayFromBasis(forward, right, up geom.Vec3, px, py int, maxDist float64) geom.Ray {
	halfH := math.Tan(mgl64.DegToRad(c.FOVDegrees) / 2)
	aspect := float64(c.Width) / float64(c.Height)
	sx := (2*(float64(px)+0.5)/float64(c.Width) - 1) * halfH * aspect
	sy := (1 - 2*(float64(py)+0.5)/float64(c.Height)) * halfH
	dir := forward.Add(right.Mul(sx)).Add(up.Mul(sy))
	return geom.NewRay(c.Position, dir, maxDist)
}

// CandidateChunks lists the chunks within viewRadius (Chebyshev) of the chunk
// containing pos, nearest first. Ties are ordered by coordinate.
func CandidateChunks(pos geom.Vec3, chunkSize float64, viewRadius int) []world.ChunkCoord {
	center := world.ChunkAt(pos, chunkSize)
	coords := world.ChunksWithin(center, viewRadius)
	sort.SliceStable(coords, func(i, j int) bool {
		di := center.Distance(coords[i])
		dj := center.Distance(coords[j])
		if di != dj {
			return di < dj
		}
		return coords[i].Less(coords[j])
	})
	return coords
}
