package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"

	"voxeltrace/internal/world"
)

const (
	codecVersion byte = 1
	headerSize        = 9
	chunkHeader       = 28

	flagLeaf     byte = 1 << 0
	flagOccupied byte = 1 << 1

	// Upper bounds applied before allocating for decoded data.
	maxRawSize   = 64 << 20
	maxNodeCount = 1 << 24
)

// ErrCorruptChunk is wrapped by every decode failure.
var ErrCorruptChunk = errors.New("corrupt chunk data")

// Codec serialises chunks into a compact binary form compressed with zstd.
// A Codec is safe for concurrent use.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewCodec() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	// DecodeAll is bounded by the capacity passed in, which is the raw length
	// from the frame header, and never by more than maxRawSize.
	decoder, err := zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(maxRawSize),
		zstd.WithDecodeAllCapLimit(true),
	)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Close releases the zstd resources.
func (c *Codec) Close() error {
	c.decoder.Close()
	return c.encoder.Close()
}

// Encode returns the framed, compressed form of chunk.
//
// Frame: version(1) rawLen(4) payloadLen(4) followed by the zstd payload.
// Raw: x y z int32, size float64, root uint32, nodeCount uint32, then per
// node a flag byte, a uint16 material and, for internal nodes, eight uint32
// child indices.
func (c *Codec) Encode(chunk *world.VoxelChunk) ([]byte, error) {
	if chunk == nil {
		return nil, errors.New("encode chunk: nil chunk")
	}
	raw := make([]byte, 0, chunkHeader+len(chunk.Nodes)*35)
	raw = binary.LittleEndian.AppendUint32(raw, uint32(int32(chunk.Coord.X)))
	raw = binary.LittleEndian.AppendUint32(raw, uint32(int32(chunk.Coord.Y)))
	raw = binary.LittleEndian.AppendUint32(raw, uint32(int32(chunk.Coord.Z)))
	raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(chunk.Size))
	raw = binary.LittleEndian.AppendUint32(raw, chunk.Root)
	raw = binary.LittleEndian.AppendUint32(raw, uint32(len(chunk.Nodes)))
	for _, n := range chunk.Nodes {
		var flags byte
		if n.Leaf {
			flags |= flagLeaf
		}
		if n.Occupied {
			flags |= flagOccupied
		}
		raw = append(raw, flags)
		raw = binary.LittleEndian.AppendUint16(raw, n.Material)
		if n.Leaf {
			continue
		}
		for _, child := range n.Children {
			raw = binary.LittleEndian.AppendUint32(raw, child)
		}
	}
	if len(raw) > maxRawSize {
		return nil, fmt.Errorf("encode chunk %v: %d bytes exceeds limit", chunk.Coord, len(raw))
	}

	payload := c.encoder.EncodeAll(raw, nil)
	out := make([]byte, headerSize, headerSize+len(payload))
	out[0] = codecVersion
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(raw)))
	binary.LittleEndian.PutUint32(out[5:9], uint32(len(payload)))
	return append(out, payload...), nil
}

// Decode parses data produced by Encode. It checks framing and lengths only;
// callers validate the DAG structure.
func (c *Codec) Decode(data []byte) (*world.VoxelChunk, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrCorruptChunk)
	}
	if data[0] != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptChunk, data[0])
	}
	rawLen := binary.LittleEndian.Uint32(data[1:5])
	payloadLen := binary.LittleEndian.Uint32(data[5:9])
	if int(payloadLen) != len(data)-headerSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrCorruptChunk, len(data)-headerSize, payloadLen)
	}
	if rawLen < chunkHeader || rawLen > maxRawSize {
		return nil, fmt.Errorf("%w: raw length %d out of range", ErrCorruptChunk, rawLen)
	}

	raw, err := c.decoder.DecodeAll(data[headerSize:], make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %w", ErrCorruptChunk, err)
	}
	if len(raw) != int(rawLen) {
		return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorruptChunk, len(raw), rawLen)
	}

	le := binary.LittleEndian
	coord := world.ChunkCoord{
		X: int(int32(le.Uint32(raw[0:4]))),
		Y: int(int32(le.Uint32(raw[4:8]))),
		Z: int(int32(le.Uint32(raw[8:12]))),
	}
	size := math.Float64frombits(le.Uint64(raw[12:20]))
	root := le.Uint32(raw[20:24])
	count := le.Uint32(raw[24:28])
	if count > maxNodeCount || int(count)*3 > len(raw)-chunkHeader {
		return nil, fmt.Errorf("%w: node count %d does not fit payload", ErrCorruptChunk, count)
	}

	nodes := make([]world.DAGNode, count)
	off := chunkHeader
	for i := range nodes {
		if off+3 > len(raw) {
			return nil, fmt.Errorf("%w: node %d truncated", ErrCorruptChunk, i)
		}
		flags := raw[off]
		material := le.Uint16(raw[off+1 : off+3])
		off += 3
		if flags&flagLeaf != 0 {
			nodes[i] = world.LeafNode(flags&flagOccupied != 0, material)
			continue
		}
		if off+32 > len(raw) {
			return nil, fmt.Errorf("%w: node %d children truncated", ErrCorruptChunk, i)
		}
		var children [8]uint32
		for k := range children {
			children[k] = le.Uint32(raw[off : off+4])
			off += 4
		}
		nodes[i] = world.InternalNode(children)
	}
	if off != len(raw) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptChunk, len(raw)-off)
	}

	return &world.VoxelChunk{
		Coord:  coord,
		Origin: coord.Origin(size),
		Size:   size,
		Nodes:  nodes,
		Root:   root,
	}, nil
}
