package framefs // import "github.com/keks/framefs"

// Basic Types

// FrameSize is the size of a frame in bytes. Transfers always move a whole frame.
const FrameSize = 4096

// BlockCapacityFrames is the number of frames addressable in one block.
const BlockCapacityFrames = 1 << 16

// Frame is the unit of transfer between driver and bus.
type Frame [FrameSize]byte

// Bus Layer

// FrameIndex identifies a frame within the block.
type FrameIndex uint16

// Bus is the controller interface. A single call sends a register and an
// optional frame buffer and returns the controller's answer register.
// The buffer is nil for operations that do not move frame data.
type Bus interface {
	Transfer(reg Register, buf *Frame) Register
}

// BusFunc adapts a plain function to the Bus interface.
type BusFunc func(Register, *Frame) Register

// Transfer calls f.
func (f BusFunc) Transfer(reg Register, buf *Frame) Register {
	return f(reg, buf)
}

// File Layer

// Handle identifies a file in the file table. It is stable for the lifetime
// of the powered-on session that created it.
type Handle int

// MaxFiles is the default capacity of the file table.
const MaxFiles = 1024

// MaxPathLength is the longest accepted file path in bytes.
const MaxPathLength = 128

// Stat describes the logical state of a file.
type Stat struct {
	Path   string
	Size   int64
	Cursor int64
	Frames int
	Open   bool
}
