//go:build !unix

package bus

import (
	"github.com/keks/framefs"
)

// FileBus is not available on this platform.
type FileBus struct {
	controller
}

// OpenFileBus always fails with framefs.ErrNotSupported on this platform.
func OpenFileBus(path string, sum framefs.Checksummer, capacity int) (*FileBus, error) {
	return nil, framefs.ErrNotSupported
}

// Sync is a no-op.
func (b *FileBus) Sync() error { return nil }

// Close is a no-op.
func (b *FileBus) Close() error { return nil }
