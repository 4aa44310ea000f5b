package world

import (
	"context"
	"errors"
	"fmt"
	"math"

	"voxeltrace/internal/geom"
)

// EmptyChild marks an octant with no geometry.
const EmptyChild = ^uint32(0)

// MaxLevelsLimit bounds the configurable DAG depth.
const MaxLevelsLimit = 10

// ErrMalformedChunk is wrapped by every structural error in chunk data.
var ErrMalformedChunk = errors.New("malformed chunk")

// DAGNode is either an internal node with eight child indices into the
// owning chunk's arena, or a leaf carrying occupancy and material. Children
// may be shared by several parents.
type DAGNode struct {
	Leaf     bool
	Occupied bool
	Material uint16
	Children [8]uint32
}

// LeafNode returns a leaf with the given occupancy and material.
func LeafNode(occupied bool, material uint16) DAGNode {
	n := DAGNode{Leaf: true, Occupied: occupied, Material: material}
	for i := range n.Children {
		n.Children[i] = EmptyChild
	}
	return n
}

// InternalNode returns an internal node pointing at children.
func InternalNode(children [8]uint32) DAGNode {
	return DAGNode{Children: children}
}

// VoxelChunk is the immutable product of a generator: one chunk's DAG arena
// and its placement in world space.
type VoxelChunk struct {
	Coord  ChunkCoord
	Origin geom.Vec3
	Size   float64
	Nodes  []DAGNode
	Root   uint32
}

// Frame returns the translation between world space and this chunk.
func (c *VoxelChunk) Frame() geom.ChunkFrame {
	return geom.ChunkFrame{Origin: c.Origin}
}

// WorldBounds returns the chunk's axis-aligned box in world space.
func (c *VoxelChunk) WorldBounds() geom.Box {
	return geom.Box{Min: c.Origin, Max: c.Origin.Add(geom.Vec3{c.Size, c.Size, c.Size})}
}

// LocalBounds returns the chunk's box in its own frame, [0,Size]^3.
func (c *VoxelChunk) LocalBounds() geom.Box {
	return geom.Box{Max: geom.Vec3{c.Size, c.Size, c.Size}}
}

// MalformedError describes a structural defect found in a chunk's arena.
type MalformedError struct {
	Coord  ChunkCoord
	Node   uint32
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("chunk %v node %d: %s", e.Coord, e.Node, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedChunk
}

// Validate walks the DAG and checks arena bounds and depth. Shared children
// are visited once per depth so the walk stays linear in practice.
func (c *VoxelChunk) Validate(maxLevels int) error {
	if c == nil {
		return fmt.Errorf("chunk is nil: %w", ErrMalformedChunk)
	}
	if math.IsNaN(c.Size) || math.IsInf(c.Size, 0) || c.Size <= 0 {
		return &MalformedError{Coord: c.Coord, Node: c.Root, Reason: fmt.Sprintf("invalid size %v", c.Size)}
	}
	if int(c.Root) >= len(c.Nodes) {
		return &MalformedError{Coord: c.Coord, Node: c.Root, Reason: fmt.Sprintf("root outside arena of %d nodes", len(c.Nodes))}
	}

	type item struct {
		node  uint32
		depth int
	}
	seen := make(map[item]struct{})
	stack := []item{{node: c.Root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}

		n := c.Nodes[it.node]
		if n.Leaf {
			continue
		}
		for _, child := range n.Children {
			if child == EmptyChild {
				continue
			}
			if int(child) >= len(c.Nodes) {
				return &MalformedError{Coord: c.Coord, Node: it.node, Reason: fmt.Sprintf("child %d outside arena of %d nodes", child, len(c.Nodes))}
			}
			if it.depth+1 > maxLevels {
				return &MalformedError{Coord: c.Coord, Node: child, Reason: fmt.Sprintf("depth %d exceeds %d levels", it.depth+1, maxLevels)}
			}
			stack = append(stack, item{node: child, depth: it.depth + 1})
		}
	}
	return nil
}

// Generator produces complete, immutable chunks.
type Generator interface {
	Generate(ctx context.Context, coord ChunkCoord) (*VoxelChunk, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, coord ChunkCoord) (*VoxelChunk, error)

func (f GeneratorFunc) Generate(ctx context.Context, coord ChunkCoord) (*VoxelChunk, error) {
	return f(ctx, coord)
}
