package cache

import (
	"sync"
	"time"

	"voxeltrace/internal/world"
)

// Entry is the store's record for one resident chunk.
type Entry struct {
	Chunk         *world.VoxelChunk
	InsertedAt    time.Time
	LastSeenAt    time.Time
	LastSeenFrame uint64
	// Generation increases with every insertion so a chunk that is evicted
	// and loaded again is a distinct residency.
	Generation uint64
}

// Resident is the read-only handle a traversal holds for one chunk. The chunk
// data stays valid for as long as the handle is referenced, regardless of
// later eviction.
type Resident struct {
	Chunk      *world.VoxelChunk
	Generation uint64
}

// Snapshot is an immutable view of resident chunks taken at the start of a
// frame.
type Snapshot struct {
	Frame  uint64
	Chunks []Resident
}

// Store maps chunk coordinates to resident chunk data. Eviction is the only
// path that removes entries.
type Store struct {
	mu      sync.RWMutex
	entries map[world.ChunkCoord]*Entry
	frame   uint64
	nextGen uint64
	now     func() time.Time
}

// NewStore creates an empty store. A nil clock uses time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		entries: make(map[world.ChunkCoord]*Entry),
		now:     now,
	}
}

// AdvanceFrame records the current frame counter. Frames never move
// backwards.
func (s *Store) AdvanceFrame(frame uint64) {
	s.mu.Lock()
	if frame > s.frame {
		s.frame = frame
	}
	s.mu.Unlock()
}

// Frame returns the current frame counter.
func (s *Store) Frame() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// Insert adds a freshly generated chunk. If the coordinate is already
// resident the existing entry wins, is touched, and Insert reports false.
func (s *Store) Insert(chunk *world.VoxelChunk) bool {
	if chunk == nil {
		return false
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[chunk.Coord]; ok {
		existing.LastSeenAt = now
		existing.LastSeenFrame = s.frame
		return false
	}
	s.nextGen++
	s.entries[chunk.Coord] = &Entry{
		Chunk:         chunk,
		InsertedAt:    now,
		LastSeenAt:    now,
		LastSeenFrame: s.frame,
		Generation:    s.nextGen,
	}
	return true
}

// Touch marks a chunk as referenced in frame.
func (s *Store) Touch(coord world.ChunkCoord, frame uint64) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchLocked(coord, frame, now)
}

// TouchAll marks every resident chunk in coords as referenced in frame and
// returns how many were resident.
func (s *Store) TouchAll(coords []world.ChunkCoord, frame uint64) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := 0
	for _, c := range coords {
		if s.touchLocked(c, frame, now) {
			touched++
		}
	}
	return touched
}

func (s *Store) touchLocked(coord world.ChunkCoord, frame uint64, now time.Time) bool {
	if frame > s.frame {
		s.frame = frame
	}
	e, ok := s.entries[coord]
	if !ok {
		return false
	}
	if frame > e.LastSeenFrame {
		e.LastSeenFrame = frame
	}
	e.LastSeenAt = now
	return true
}

// Len reports the number of resident chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Contains reports whether coord is resident.
func (s *Store) Contains(coord world.ChunkCoord) bool {
	s.mu.RLock()
	_, ok := s.entries[coord]
	s.mu.RUnlock()
	return ok
}

// Get returns a handle for a resident chunk.
func (s *Store) Get(coord world.ChunkCoord) (Resident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[coord]
	if !ok {
		return Resident{}, false
	}
	return Resident{Chunk: e.Chunk, Generation: e.Generation}, true
}

// Entry returns a copy of the metadata for coord.
func (s *Store) Entry(coord world.ChunkCoord) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[coord]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Generation reports the generation of the resident entry for coord.
func (s *Store) Generation(coord world.ChunkCoord) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[coord]
	if !ok {
		return 0, false
	}
	return e.Generation, true
}

// Missing returns the coordinates in coords that are not resident, in order.
func (s *Store) Missing(coords []world.ChunkCoord) []world.ChunkCoord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []world.ChunkCoord
	for _, c := range coords {
		if _, ok := s.entries[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Snapshot returns handles for the resident chunks among coords, in the order
// given. The result is not affected by later inserts or evictions.
func (s *Store) Snapshot(coords []world.ChunkCoord) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Frame: s.frame, Chunks: make([]Resident, 0, len(coords))}
	for _, c := range coords {
		if e, ok := s.entries[c]; ok {
			snap.Chunks = append(snap.Chunks, Resident{Chunk: e.Chunk, Generation: e.Generation})
		}
	}
	return snap
}

// SnapshotAll returns handles for every resident chunk.
func (s *Store) SnapshotAll() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Frame: s.frame, Chunks: make([]Resident, 0, len(s.entries))}
	for _, e := range s.entries {
		snap.Chunks = append(snap.Chunks, Resident{Chunk: e.Chunk, Generation: e.Generation})
	}
	return snap
}
