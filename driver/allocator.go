package driver

import (
	"fmt"

	"github.com/keks/framefs"
)

// allocator hands out frame indices in increasing order. Frames are never
// returned; closing a file keeps its frames allocated.
type allocator struct {
	next     int
	capacity int
}

func (a *allocator) allocate() (framefs.FrameIndex, error) {
	if a.next >= a.capacity {
		return 0, fmt.Errorf("allocating frame %d of %d: %w", a.next, a.capacity, framefs.ErrOutOfFrames)
	}

	idx := framefs.FrameIndex(a.next)
	a.next++
	return idx, nil
}

func (a *allocator) reset() {
	a.next = 0
}

// used returns the number of frames handed out since the last reset.
func (a *allocator) used() int {
	return a.next
}
