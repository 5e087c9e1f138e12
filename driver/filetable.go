package driver

import (
	"fmt"

	"github.com/keks/framefs"
)

// file is the logical state of one file. The chain lists the frames holding
// the file's bytes in order: chain[i] holds bytes [i*FrameSize, (i+1)*FrameSize).
type file struct {
	path   string
	size   int64
	cursor int64
	chain  []framefs.FrameIndex
	open   bool
}

// position splits the cursor into a chain index and an offset within that frame.
func (f *file) position() (int, int) {
	return int(f.cursor / framefs.FrameSize), int(f.cursor % framefs.FrameSize)
}

func (f *file) stat() framefs.Stat {
	return framefs.Stat{
		Path:   f.path,
		Size:   f.size,
		Cursor: f.cursor,
		Frames: len(f.chain),
		Open:   f.open,
	}
}

// fileTable maps handles to files. A handle is the index of the file in
// the table and stays valid until the table is reset.
type fileTable struct {
	files []*file
	max   int
}

func (ft *fileTable) reset() {
	ft.files = nil
}

func (ft *fileTable) open(path string, alloc *allocator) (framefs.Handle, error) {
	if path == "" || len(path) > framefs.MaxPathLength {
		return -1, fmt.Errorf("open %q: %w", path, framefs.ErrInvalidPath)
	}

	for i, f := range ft.files {
		if f.path != path {
			continue
		}
		if f.open {
			return -1, fmt.Errorf("open %q: %w", path, framefs.ErrAlreadyOpen)
		}

		f.open = true
		f.cursor = 0
		framefs.LogInfo(framefs.ComponentDriver, "file reopened", "path", path, "handle", i, "size", f.size)
		return framefs.Handle(i), nil
	}

	if len(ft.files) >= ft.max {
		return -1, fmt.Errorf("open %q: %d files: %w", path, len(ft.files), framefs.ErrFull)
	}

	idx, err := alloc.allocate()
	if err != nil {
		return -1, fmt.Errorf("open %q: %w", path, err)
	}

	ft.files = append(ft.files, &file{
		path:  path,
		chain: []framefs.FrameIndex{idx},
		open:  true,
	})
	h := framefs.Handle(len(ft.files) - 1)

	framefs.LogInfo(framefs.ComponentDriver, "file created", "path", path, "handle", int(h), "frame", int(idx))
	return h, nil
}

// get returns the open file behind h.
func (ft *fileTable) get(h framefs.Handle) (*file, error) {
	if h < 0 || int(h) >= len(ft.files) {
		return nil, fmt.Errorf("handle %d: %w", h, framefs.ErrInvalidHandle)
	}

	f := ft.files[h]
	if !f.open {
		return nil, fmt.Errorf("handle %d (%q): %w", h, f.path, framefs.ErrClosed)
	}
	return f, nil
}

func (ft *fileTable) close(h framefs.Handle) error {
	f, err := ft.get(h)
	if err != nil {
		return err
	}

	f.open = false
	return nil
}
