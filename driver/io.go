package driver

import (
	"fmt"

	"github.com/keks/framefs"
)

// segment returns how many of the remaining bytes fit in the current frame
// when starting at off.
func segment(off, remaining int) int {
	return min(framefs.FrameSize-off, remaining)
}

// Read reads up to count bytes at the cursor. Reading past the end of the
// file returns the bytes that are there without an error. On a transfer
// failure the bytes read so far are returned along with the error.
func (s *System) Read(h framefs.Handle, count int) ([]byte, error) {
	s.l.Lock()
	defer s.l.Unlock()

	f, err := s.validate(h)
	if err != nil {
		return nil, err
	}

	if avail := f.size - f.cursor; int64(count) > avail {
		framefs.LogDebug(framefs.ComponentDriver, "read clamped to end of file",
			"path", f.path, "want", count, "avail", avail)
		count = int(avail)
	}
	if count < 0 {
		count = 0
	}

	var (
		frame framefs.Frame
		out   = make([]byte, 0, count)
	)
	for len(out) < count {
		ci, off := f.position()
		if ci >= len(f.chain) {
			return out, fmt.Errorf("read %q at %d: %w", f.path, f.cursor, framefs.ErrBrokenChain)
		}

		n := segment(off, count-len(out))
		if err := s.xfer.readFrame(f.chain[ci], &frame); err != nil {
			return out, fmt.Errorf("read %q at %d: %w", f.path, f.cursor, err)
		}

		out = append(out, frame[off:off+n]...)
		f.cursor += int64(n)
	}

	return out, nil
}

// Write writes data at the cursor, growing the file as needed. Frames are
// read back first when a segment covers only part of one. The returned count
// is short only when a transfer or allocation fails; the cursor and size
// account for every byte that made it to the device.
func (s *System) Write(h framefs.Handle, data []byte) (int, error) {
	s.l.Lock()
	defer s.l.Unlock()

	f, err := s.validate(h)
	if err != nil {
		return 0, err
	}

	var (
		frame   framefs.Frame
		written int
	)
	for written < len(data) {
		ci, off := f.position()

		var idx framefs.FrameIndex
		idx, err = s.frameFor(f, ci)
		if err != nil {
			break
		}

		n := segment(off, len(data)-written)
		if n < framefs.FrameSize {
			if err = s.xfer.readFrame(idx, &frame); err != nil {
				break
			}
		}

		copy(frame[off:off+n], data[written:written+n])
		if err = s.xfer.writeFrame(idx, &frame); err != nil {
			break
		}

		written += n
		f.cursor += int64(n)
	}

	if f.cursor > f.size {
		f.size = f.cursor
	}

	if err != nil {
		return written, fmt.Errorf("write %q at %d: %w", f.path, f.cursor, err)
	}
	return written, nil
}

// frameFor returns the frame at chain position ci, appending a newly
// allocated frame when ci is one past the end of the chain.
func (s *System) frameFor(f *file, ci int) (framefs.FrameIndex, error) {
	switch {
	case ci < len(f.chain):
		return f.chain[ci], nil
	case ci == len(f.chain):
		idx, err := s.alloc.allocate()
		if err != nil {
			return 0, err
		}
		f.chain = append(f.chain, idx)
		framefs.LogDebug(framefs.ComponentDriver, "frame appended",
			"path", f.path, "frame", int(idx), "chain", len(f.chain))
		return idx, nil
	default:
		return 0, fmt.Errorf("chain position %d of %d: %w", ci, len(f.chain), framefs.ErrBrokenChain)
	}
}

// Seek moves the cursor to offset. Offsets up to and including the file
// size are valid.
func (s *System) Seek(h framefs.Handle, offset int64) error {
	s.l.Lock()
	defer s.l.Unlock()

	f, err := s.validate(h)
	if err != nil {
		return err
	}

	if offset < 0 || offset > f.size {
		return fmt.Errorf("seek %q to %d, size %d: %w", f.path, offset, f.size, framefs.ErrOutOfRange)
	}

	f.cursor = offset
	return nil
}
