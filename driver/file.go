package driver

import (
	"fmt"
	"io"

	"github.com/keks/framefs"
)

// File adapts an open handle to io.Reader, io.Writer, io.Seeker and io.Closer.
type File struct {
	sys *System
	h   framefs.Handle
}

// OpenFile opens path and wraps the handle.
func (s *System) OpenFile(path string) (*File, error) {
	h, err := s.Open(path)
	if err != nil {
		return nil, err
	}
	return &File{sys: s, h: h}, nil
}

// Handle returns the underlying handle.
func (f *File) Handle() framefs.Handle {
	return f.h
}

func (f *File) Read(buf []byte) (int, error) {
	data, err := f.sys.Read(f.h, len(buf))
	n := copy(buf, data)
	if err != nil {
		return n, err
	}
	if n == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *File) Write(data []byte) (int, error) {
	return f.sys.Write(f.h, data)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	st, err := f.sys.Stat(f.h)
	if err != nil {
		return 0, err
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += st.Cursor
	case io.SeekEnd:
		offset += st.Size
	default:
		return 0, fmt.Errorf("seek: bad whence %d", whence)
	}

	if err := f.sys.Seek(f.h, offset); err != nil {
		return 0, err
	}
	return offset, nil
}

func (f *File) Close() error {
	return f.sys.Close(f.h)
}

// readerFrom returns a reader over f that starts at off and leaves the
// cursor wherever the last read ended.
func readerFrom(f *File, off int64) io.Reader {
	return funcReader(func(buf []byte) (int, error) {
		if err := f.sys.Seek(f.h, off); err != nil {
			return 0, err
		}
		n, err := f.Read(buf)
		off += int64(n)
		return n, err
	})
}

type funcReader func([]byte) (int, error)

func (r funcReader) Read(buf []byte) (int, error) {
	return r(buf)
}

// ReadAll reads the whole file from offset 0.
func (f *File) ReadAll() ([]byte, error) {
	return io.ReadAll(readerFrom(f, 0))
}
