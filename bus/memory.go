package bus

import (
	"sort"

	"github.com/keks/framefs"
)

// MemoryBus is a controller backed by memory. Frames are materialized on
// first write, unwritten frames read as zeros.
type MemoryBus struct {
	controller
	mem *memStore
}

// NewMemoryBus returns a MemoryBus with the full block capacity.
func NewMemoryBus(sum framefs.Checksummer) *MemoryBus {
	return NewMemoryBusSize(sum, framefs.BlockCapacityFrames)
}

// NewMemoryBusSize returns a MemoryBus addressing capacity frames.
func NewMemoryBusSize(sum framefs.Checksummer, capacity int) *MemoryBus {
	if capacity <= 0 || capacity > framefs.BlockCapacityFrames {
		capacity = framefs.BlockCapacityFrames
	}

	mem := &memStore{frames: make(map[framefs.FrameIndex]*framefs.Frame)}
	return &MemoryBus{
		controller: controller{
			sum:      sum,
			store:    mem,
			capacity: capacity,
		},
		mem: mem,
	}
}

// Peek copies the stored content of a frame without going through the
// protocol. It reports false if the frame was never written.
func (b *MemoryBus) Peek(idx framefs.FrameIndex) (framefs.Frame, bool) {
	b.l.Lock()
	defer b.l.Unlock()

	f, ok := b.mem.frames[idx]
	if !ok {
		return framefs.Frame{}, false
	}
	return *f, true
}

// Written returns the indices of all materialized frames in ascending order.
func (b *MemoryBus) Written() []framefs.FrameIndex {
	b.l.Lock()
	defer b.l.Unlock()
	return b.mem.indices()
}

type memStore struct {
	frames map[framefs.FrameIndex]*framefs.Frame
}

func (m *memStore) load(idx framefs.FrameIndex, dst *framefs.Frame) {
	if f, ok := m.frames[idx]; ok {
		*dst = *f
		return
	}
	*dst = framefs.Frame{}
}

func (m *memStore) store(idx framefs.FrameIndex, src *framefs.Frame) {
	f, ok := m.frames[idx]
	if !ok {
		f = new(framefs.Frame)
		m.frames[idx] = f
	}
	*f = *src
}

func (m *memStore) zero() {
	m.frames = make(map[framefs.FrameIndex]*framefs.Frame)
}

func (m *memStore) indices() []framefs.FrameIndex {
	idxs := make([]framefs.FrameIndex, 0, len(m.frames))
	for idx := range m.frames {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	return idxs
}
