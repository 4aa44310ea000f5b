package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec3 is the vector type shared by every component that works in world or
// chunk-local space.
type Vec3 = mgl64.Vec3

const (
	// DirEpsilon is the magnitude below which a direction component is treated
	// as parallel to its slab.
	DirEpsilon = 1e-12
	// InvSentinel replaces 1/d for near-zero d. It is large enough to push
	// parallel slabs out of any real range and small enough that products with
	// world coordinates stay finite.
	InvSentinel = 1e30
)

// WorldT is a ray parameter measured from the ray's world-space origin.
type WorldT float64

// LocalT is a ray parameter measured from the ray origin translated into a
// chunk's local frame. It is a distinct type so it cannot be compared with a
// WorldT without going through ChunkFrame.
type LocalT float64

// Ray is a world-space ray with its inverse direction precomputed.
type Ray struct {
	Origin  Vec3
	Dir     Vec3
	InvDir  Vec3
	MaxDist WorldT
}

// NewRay normalizes dir and precomputes the sentinel-clamped inverse direction.
// A zero direction is kept as-is; such a ray can never produce a forward hit.
func NewRay(origin, dir Vec3, maxDist float64) Ray {
	if l := dir.Len(); l > 0 {
		dir = dir.Mul(1 / l)
	}
	return Ray{
		Origin:  origin,
		Dir:     dir,
		InvDir:  SafeInverse(dir),
		MaxDist: WorldT(maxDist),
	}
}

// At returns the world position at parameter t.
func (r Ray) At(t WorldT) Vec3 {
	return r.Origin.Add(r.Dir.Mul(float64(t)))
}

// SafeInverse returns the component-wise reciprocal of d, replacing components
// with |d| < DirEpsilon by ±InvSentinel (the sign follows d's sign bit).
func SafeInverse(d Vec3) Vec3 {
	return Vec3{safeInv(d[0]), safeInv(d[1]), safeInv(d[2])}
}

func safeInv(v float64) float64 {
	if math.Abs(v) < DirEpsilon {
		if math.Signbit(v) {
			return -InvSentinel
		}
		return InvSentinel
	}
	return 1 / v
}

// LocalRay is a ray expressed in a chunk's local frame. Only a ChunkFrame can
// build one.
type LocalRay struct {
	Origin  Vec3
	Dir     Vec3
	InvDir  Vec3
	MaxDist LocalT
}

// At returns the chunk-local position at parameter t.
func (r LocalRay) At(t LocalT) Vec3 {
	return r.Origin.Add(r.Dir.Mul(float64(t)))
}

// ChunkFrame is the translation between world space and one chunk's local
// space. Local coordinates are world coordinates minus Origin.
type ChunkFrame struct {
	Origin Vec3
}

// Localize translates a world ray into this frame. Direction and inverse
// direction are unchanged.
func (f ChunkFrame) Localize(r Ray) LocalRay {
	return LocalRay{
		Origin:  r.Origin.Sub(f.Origin),
		Dir:     r.Dir,
		InvDir:  r.InvDir,
		MaxDist: LocalT(r.MaxDist),
	}
}

// ToWorld converts a parameter computed against Localize(r) back into the
// world parameterisation of r. A pure translation of the origin keeps the
// parameter value, so this is the single sanctioned crossing point.
func (f ChunkFrame) ToWorld(t LocalT) WorldT {
	return WorldT(t)
}

// ToLocal converts a world parameter of r into the parameterisation of
// Localize(r).
func (f ChunkFrame) ToLocal(t WorldT) LocalT {
	return LocalT(t)
}

// PointToWorld translates a chunk-local point into world space.
func (f ChunkFrame) PointToWorld(p Vec3) Vec3 {
	return p.Add(f.Origin)
}
