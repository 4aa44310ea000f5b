package geom

import (
	"math"
	"testing"
)

func TestSlabHitAndMiss(t *testing.T) {
	box := Box{Min: Vec3{-1, -1, -1}, Max: Vec3{1, 1, 1}}

	r := NewRay(Vec3{-3, 0, 0}, Vec3{1, 0, 0}, 100)
	enter, exit, ok := r.IntersectBox(box)
	if !ok {
		t.Fatalf("expected hit")
	}
	if enter != 2 || exit != 4 {
		t.Fatalf("unexpected interval [%v,%v], want [2,4]", enter, exit)
	}

	parallelOutside := NewRay(Vec3{-3, 2, 0}, Vec3{1, 0, 0}, 100)
	if _, _, ok := parallelOutside.IntersectBox(box); ok {
		t.Fatalf("expected miss for parallel ray outside the slab")
	}

	behind := NewRay(Vec3{3, 0, 0}, Vec3{1, 0, 0}, 100)
	if _, _, ok := behind.IntersectBox(box); ok {
		t.Fatalf("expected miss for box behind the ray")
	}

	inside := NewRay(Vec3{0, 0, 0}, Vec3{0, 0, -1}, 100)
	enter, exit, ok = inside.IntersectBox(box)
	if !ok || enter >= 0 || exit != 1 {
		t.Fatalf("inside ray: ok=%v enter=%v exit=%v", ok, enter, exit)
	}
}

func TestSlabReportsEntryAxis(t *testing.T) {
	box := Box{Min: Vec3{0, 0, 0}, Max: Vec3{1, 1, 1}}
	r := NewRay(Vec3{0.5, 5, 0.5}, Vec3{0, -1, 0}, 100)
	local := ChunkFrame{}.Localize(r)
	enter, _, axis, ok := local.IntersectBox(box)
	if !ok {
		t.Fatalf("expected hit")
	}
	if axis != 1 || enter != 4 {
		t.Fatalf("axis=%d enter=%v, want axis 1 at 4", axis, enter)
	}
	n := EntryNormal(axis, r.InvDir)
	if n != (Vec3{0, 1, 0}) {
		t.Fatalf("normal = %v, want +Y", n)
	}
}

func TestZeroDirectionComponentsStayFinite(t *testing.T) {
	boxes := []Box{
		{Min: Vec3{0, 0, 0}, Max: Vec3{32, 32, 32}},
		{Min: Vec3{16, 0, 0}, Max: Vec3{32, 16, 16}},
		{Min: Vec3{-64, -64, -64}, Max: Vec3{-32, -32, -32}},
	}
	dirs := []Vec3{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, -1},
		{1, 1, 0},
		{0, -1e-20, 1},
		{math.Copysign(0, -1), 0, 1},
	}
	origins := []Vec3{
		{0, 0, 0},
		{16, 16, 16},
		{32, 0, 32},
		{-100, 5, 7},
	}
	for _, d := range dirs {
		inv := SafeInverse(d)
		for i := 0; i < 3; i++ {
			if !IsFinite(inv[i]) {
				t.Fatalf("inverse of %v has non-finite component %v", d, inv)
			}
		}
		for _, o := range origins {
			for _, b := range boxes {
				n, f, _ := Slab(o, inv, b)
				if !IsFinite(n) || !IsFinite(f) {
					t.Fatalf("non-finite slab result for o=%v d=%v box=%v: [%v,%v]", o, d, b, n, f)
				}
			}
		}
	}
}

func TestSafeInverseKeepsSign(t *testing.T) {
	inv := SafeInverse(Vec3{math.Copysign(0, -1), 0, 2})
	if inv[0] != -InvSentinel || inv[1] != InvSentinel || inv[2] != 0.5 {
		t.Fatalf("unexpected inverse %v", inv)
	}
}

func TestChildCentersReproduceVoxelGrid(t *testing.T) {
	for _, size := range []float64{2, 8, 32, 64} {
		seen := make(map[[3]float64]struct{})
		var walk func(center Vec3, half float64)
		walk = func(center Vec3, half float64) {
			if half == 0.5 {
				for i := 0; i < 3; i++ {
					corner := center[i] - half
					if corner != math.Trunc(corner) || corner < 0 || corner >= size {
						t.Fatalf("size %v: voxel center %v does not map to an integer corner", size, center)
					}
				}
				seen[[3]float64(center)] = struct{}{}
				return
			}
			for octant := 0; octant < 8; octant++ {
				walk(ChildCenter(center, half, octant), half/2)
			}
		}
		h := size / 2
		walk(Vec3{h, h, h}, h)
		if want := int(size * size * size); len(seen) != want {
			t.Fatalf("size %v: got %d distinct voxel centers, want %d", size, len(seen), want)
		}
	}
}

func TestChunkFrameRoundTrip(t *testing.T) {
	frame := ChunkFrame{Origin: Vec3{32, -64, 96}}
	r := NewRay(Vec3{10, 20, 30}, Vec3{1, 2, 3}, 500)
	local := frame.Localize(r)

	lt := LocalT(7.25)
	world := frame.PointToWorld(local.At(lt))
	direct := r.At(frame.ToWorld(lt))
	if world.Sub(direct).Len() > 1e-9 {
		t.Fatalf("frame conversion drift: %v vs %v", world, direct)
	}
	if frame.ToLocal(frame.ToWorld(lt)) != lt {
		t.Fatalf("ToLocal(ToWorld(t)) != t")
	}
}
