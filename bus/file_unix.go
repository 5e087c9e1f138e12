//go:build unix

package bus

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/keks/framefs"
)

// FileBus is a controller whose frames live in a memory-mapped file, so the
// block survives process restarts.
type FileBus struct {
	controller
	file *os.File
	mm   *mmapStore
}

// OpenFileBus maps path as a block of capacity frames, creating and sizing
// the file if needed. Existing content is kept.
func OpenFileBus(path string, sum framefs.Checksummer, capacity int) (*FileBus, error) {
	if capacity <= 0 || capacity > framefs.BlockCapacityFrames {
		capacity = framefs.BlockCapacityFrames
	}
	size := int64(capacity) * framefs.FrameSize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening block file %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat block file %s: %w", path, err)
	}
	if fi.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("sizing block file %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mapping block file %s: %w", path, err)
	}

	framefs.LogInfo(framefs.ComponentBus, "block file mapped", "path", path, "frames", capacity)

	mm := &mmapStore{data: data}
	return &FileBus{
		controller: controller{
			sum:      sum,
			store:    mm,
			capacity: capacity,
		},
		file: f,
		mm:   mm,
	}, nil
}

// Sync flushes dirty frames to the file.
func (b *FileBus) Sync() error {
	b.l.Lock()
	defer b.l.Unlock()
	if b.mm.data == nil {
		return nil
	}
	return unix.Msync(b.mm.data, unix.MS_SYNC)
}

// Close syncs, unmaps and closes the backing file. Transfers after Close
// answer ResultError. Closing twice is a no-op.
func (b *FileBus) Close() error {
	if err := b.Sync(); err != nil {
		return err
	}

	b.l.Lock()
	defer b.l.Unlock()
	if b.closed {
		return nil
	}
	if err := unix.Munmap(b.mm.data); err != nil {
		return fmt.Errorf("unmapping block file: %w", err)
	}
	b.mm.data = nil
	b.closed = true
	return b.file.Close()
}

type mmapStore struct {
	data []byte
}

func (m *mmapStore) load(idx framefs.FrameIndex, dst *framefs.Frame) {
	off := int(idx) * framefs.FrameSize
	copy(dst[:], m.data[off:off+framefs.FrameSize])
}

func (m *mmapStore) store(idx framefs.FrameIndex, src *framefs.Frame) {
	off := int(idx) * framefs.FrameSize
	copy(m.data[off:off+framefs.FrameSize], src[:])
}

func (m *mmapStore) zero() {
	clear(m.data)
}
