package world

import (
	"fmt"
	"math/bits"
)

// VoxelFunc reports the content of the unit voxel whose min corner is at the
// given chunk-local integer coordinate.
type VoxelFunc func(x, y, z int) (occupied bool, material uint16)

// Builder interns DAG nodes so identical subtrees share one arena slot.
type Builder struct {
	nodes []DAGNode
	index map[DAGNode]uint32
}

func NewBuilder() *Builder {
	return &Builder{index: make(map[DAGNode]uint32)}
}

// Node interns n and returns its arena index.
func (b *Builder) Node(n DAGNode) uint32 {
	if idx, ok := b.index[n]; ok {
		return idx
	}
	idx := uint32(len(b.nodes))
	b.nodes = append(b.nodes, n)
	b.index[n] = idx
	return idx
}

// Leaf interns a leaf node.
func (b *Builder) Leaf(occupied bool, material uint16) uint32 {
	return b.Node(LeafNode(occupied, material))
}

// Internal interns an internal node.
func (b *Builder) Internal(children [8]uint32) uint32 {
	return b.Node(InternalNode(children))
}

// Len reports the number of distinct nodes.
func (b *Builder) Len() int {
	return len(b.nodes)
}

// Chunk finalises the arena into a chunk rooted at root.
func (b *Builder) Chunk(coord ChunkCoord, size float64, root uint32) *VoxelChunk {
	nodes := make([]DAGNode, len(b.nodes))
	copy(nodes, b.nodes)
	return &VoxelChunk{
		Coord:  coord,
		Origin: coord.Origin(size),
		Size:   size,
		Nodes:  nodes,
		Root:   root,
	}
}

// Levels returns log2(size) for a power-of-two edge length.
func Levels(size int) (int, error) {
	if size <= 0 || size&(size-1) != 0 {
		return 0, fmt.Errorf("chunk size %d must be a positive power of two", size)
	}
	return bits.TrailingZeros(uint(size)), nil
}

// Build samples fn over a size^3 voxel grid and returns the deduplicated
// SVDAG for it. Uniform regions collapse into a single leaf and empty
// octants are recorded as EmptyChild.
func Build(coord ChunkCoord, size, maxLevels int, fn VoxelFunc) (*VoxelChunk, error) {
	levels, err := Levels(size)
	if err != nil {
		return nil, err
	}
	if levels > maxLevels {
		return nil, fmt.Errorf("chunk size %d needs %d levels, limit is %d", size, levels, maxLevels)
	}

	b := NewBuilder()
	var build func(x, y, z, extent int) (uint32, bool)
	build = func(x, y, z, extent int) (uint32, bool) {
		if extent == 1 {
			occupied, material := fn(x, y, z)
			if !occupied {
				return EmptyChild, true
			}
			return b.Leaf(true, material), false
		}
		half := extent / 2
		var children [8]uint32
		empty := 0
		for octant := 0; octant < 8; octant++ {
			cx := x + (octant&1)*half
			cy := y + ((octant>>1)&1)*half
			cz := z + ((octant>>2)&1)*half
			idx, isEmpty := build(cx, cy, cz, half)
			children[octant] = idx
			if isEmpty {
				empty++
			}
		}
		if empty == 8 {
			return EmptyChild, true
		}
		if empty == 0 && uniformLeaf(b, children) {
			return children[0], false
		}
		return b.Internal(children), false
	}

	root, isEmpty := build(0, 0, 0, size)
	if isEmpty {
		root = b.Leaf(false, 0)
	}
	return b.Chunk(coord, float64(size), root), nil
}

func uniformLeaf(b *Builder, children [8]uint32) bool {
	first := children[0]
	if !b.nodes[first].Leaf {
		return false
	}
	for _, c := range children[1:] {
		if c != first {
			return false
		}
	}
	return true
}
