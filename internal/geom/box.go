package geom

import "math"

// Box is an axis-aligned box given by its min and max corners.
type Box struct {
	Min Vec3
	Max Vec3
}

// CenteredBox builds the box [center-half, center+half] on every axis.
func CenteredBox(center Vec3, half float64) Box {
	h := Vec3{half, half, half}
	return Box{Min: center.Sub(h), Max: center.Add(h)}
}

// Slab runs the slab test for a ray starting at origin with inverse direction
// inv against box b. It returns the entry and exit parameters and the axis
// that produced the entry. Each axis contributes min/max of its two slab
// products, so negative and sentinel inverse components are handled alike.
func Slab(origin, inv Vec3, b Box) (tNear, tFar float64, axis int) {
	tNear = -math.MaxFloat64
	tFar = math.MaxFloat64
	for i := 0; i < 3; i++ {
		t1 := (b.Min[i] - origin[i]) * inv[i]
		t2 := (b.Max[i] - origin[i]) * inv[i]
		lo := math.Min(t1, t2)
		hi := math.Max(t1, t2)
		if lo > tNear {
			tNear = lo
			axis = i
		}
		if hi < tFar {
			tFar = hi
		}
	}
	return tNear, tFar, axis
}

// slabHit reports whether a slab result describes a forward intersection.
func slabHit(tNear, tFar float64) bool {
	return tNear <= tFar && tFar >= 0
}

// IntersectBox tests a world ray against a world-space box.
func (r Ray) IntersectBox(b Box) (tEnter, tExit WorldT, ok bool) {
	n, f, _ := Slab(r.Origin, r.InvDir, b)
	if !slabHit(n, f) {
		return 0, 0, false
	}
	return WorldT(n), WorldT(f), true
}

// IntersectBox tests a local ray against a chunk-local box and also returns
// the entry axis.
func (r LocalRay) IntersectBox(b Box) (tEnter, tExit LocalT, axis int, ok bool) {
	n, f, a := Slab(r.Origin, r.InvDir, b)
	if !slabHit(n, f) {
		return 0, 0, 0, false
	}
	return LocalT(n), LocalT(f), a, true
}

// OctantSign returns -1 or +1 for the given octant along axis (bit0=X,
// bit1=Y, bit2=Z).
func OctantSign(octant, axis int) float64 {
	if octant&(1<<axis) != 0 {
		return 1
	}
	return -1
}

// ChildCenter derives the center of child octant from its parent's center and
// half-size: parent + sign(octant) * half/2.
func ChildCenter(parent Vec3, half float64, octant int) Vec3 {
	q := half / 2
	return Vec3{
		parent[0] + OctantSign(octant, 0)*q,
		parent[1] + OctantSign(octant, 1)*q,
		parent[2] + OctantSign(octant, 2)*q,
	}
}

// EntryNormal is the outward normal of the face crossed on axis by a ray with
// inverse direction inv: it points along axis, opposite the ray.
func EntryNormal(axis int, inv Vec3) Vec3 {
	var n Vec3
	if inv[axis] > 0 {
		n[axis] = -1
	} else {
		n[axis] = 1
	}
	return n
}

// IsFinite reports whether x is neither NaN nor infinite.
func IsFinite(x float64) bool {
	return !math.IsInf(x, 0) && !math.IsNaN(x)
}
