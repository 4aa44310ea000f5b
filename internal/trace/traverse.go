package trace

import (
	"fmt"
	"sort"

	"voxeltrace/internal/geom"
	"voxeltrace/internal/world"
)

// Hit is the nearest surface found along a ray. T is -1 when nothing was hit.
type Hit struct {
	T        geom.WorldT
	Position geom.Vec3
	Normal   geom.Vec3
	Material uint16
	Chunk    world.ChunkCoord
}

// NoHit is the result for a ray that reaches nothing.
var NoHit = Hit{T: -1}

// Ok reports whether h describes a surface.
func (h Hit) Ok() bool {
	return h.T >= 0
}

// closer orders hits by distance, breaking exact ties by chunk coordinate so
// the outcome does not depend on the order chunks were visited.
func closer(a, b Hit) bool {
	if !b.Ok() {
		return a.Ok()
	}
	if !a.Ok() {
		return false
	}
	if a.T != b.T {
		return a.T < b.T
	}
	return a.Chunk.Less(b.Chunk)
}

// Stats counts work done while tracing.
type Stats struct {
	ChunksTested    int
	ChunksEntered   int
	NodesVisited    int
	LeavesDiscarded int
	Faults          int // traversal failures
	FaultSkips      int // chunks skipped because of an earlier failure
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.ChunksTested += o.ChunksTested
	s.ChunksEntered += o.ChunksEntered
	s.NodesVisited += o.NodesVisited
	s.LeavesDiscarded += o.LeavesDiscarded
	s.Faults += o.Faults
	s.FaultSkips += o.FaultSkips
}

// IntersectChunkBounds returns the world-space interval over which ray is
// inside chunk's bounds. The slab test runs in the chunk's local frame with
// the same arithmetic TraverseChunk applies to the root, so a leaf on the
// entry face never lands a rounding step before tEnter.
func IntersectChunkBounds(ray geom.Ray, chunk *world.VoxelChunk) (tEnter, tExit geom.WorldT, ok bool) {
	frame := chunk.Frame()
	local := frame.Localize(ray)
	n, f, _, hit := local.IntersectBox(chunk.LocalBounds())
	if !hit {
		return 0, 0, false
	}
	return frame.ToWorld(n), frame.ToWorld(f), true
}

type stackItem struct {
	node   uint32
	center geom.Vec3
	half   float64
	depth  int
}

type childHit struct {
	item  stackItem
	tNear geom.LocalT
}

// StackCapacity is the deepest traversal stack a well-formed DAG of maxLevels
// levels can need: seven pending siblings per level plus the node in hand.
func StackCapacity(maxLevels int) int {
	return 7*maxLevels + 1
}

// TraverseChunk walks chunk's DAG front to back and returns the first occupied
// leaf whose entry parameter lies in [tStart, tMax]. Occupied leaves entered
// before tStart are discarded, never clamped, so the reported T is always a
// true surface entry at or after tStart. Structural defects are returned as
// *world.MalformedError.
func TraverseChunk(ray geom.Ray, chunk *world.VoxelChunk, tStart, tMax geom.WorldT, maxLevels int) (Hit, Stats, error) {
	var stats Stats
	if int(chunk.Root) >= len(chunk.Nodes) {
		return NoHit, stats, &world.MalformedError{Coord: chunk.Coord, Node: chunk.Root, Reason: "root outside arena"}
	}

	frame := chunk.Frame()
	local := frame.Localize(ray)
	lStart := frame.ToLocal(tStart)
	lMax := frame.ToLocal(tMax)

	half := chunk.Size / 2
	capacity := StackCapacity(maxLevels)
	stack := make([]stackItem, 0, capacity)
	stack = append(stack, stackItem{node: chunk.Root, center: geom.Vec3{half, half, half}, half: half})
	var kids [8]childHit

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stats.NodesVisited++

		n := chunk.Nodes[it.node]
		tNear, tFar, axis, ok := local.IntersectBox(geom.CenteredBox(it.center, it.half))
		if !ok || tFar < lStart || tNear > lMax {
			continue
		}

		if n.Leaf {
			if !n.Occupied {
				continue
			}
			if tNear < lStart {
				stats.LeavesDiscarded++
				continue
			}
			t := frame.ToWorld(tNear)
			return Hit{
				T:        t,
				Position: ray.At(t),
				Normal:   geom.EntryNormal(axis, local.InvDir),
				Material: n.Material,
				Chunk:    chunk.Coord,
			}, stats, nil
		}

		if it.depth+1 > maxLevels {
			return NoHit, stats, &world.MalformedError{Coord: chunk.Coord, Node: it.node, Reason: fmt.Sprintf("depth exceeds %d levels", maxLevels)}
		}

		count := 0
		for octant, child := range n.Children {
			if child == world.EmptyChild {
				continue
			}
			if int(child) >= len(chunk.Nodes) {
				return NoHit, stats, &world.MalformedError{Coord: chunk.Coord, Node: it.node, Reason: fmt.Sprintf("child %d outside arena of %d nodes", child, len(chunk.Nodes))}
			}
			center := geom.ChildCenter(it.center, it.half, octant)
			childHalf := it.half / 2
			cNear, cFar, _, hit := local.IntersectBox(geom.CenteredBox(center, childHalf))
			if !hit || cFar < lStart || cNear > lMax {
				continue
			}
			kids[count] = childHit{
				item:  stackItem{node: child, center: center, half: childHalf, depth: it.depth + 1},
				tNear: cNear,
			}
			count++
		}
		if len(stack)+count > capacity {
			return NoHit, stats, &world.MalformedError{Coord: chunk.Coord, Node: it.node, Reason: "traversal stack overflow"}
		}

		// Push farthest first so the nearest child is popped next.
		sorted := kids[:count]
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].tNear > sorted[j].tNear })
		for _, k := range sorted {
			stack = append(stack, k.item)
		}
	}
	return NoHit, stats, nil
}
