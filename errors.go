package framefs

import "errors"

// Driver and controller errors.
var (
	// ErrPoweredOff indicates an operation on a system that is not powered on.
	ErrPoweredOff = errors.New("system powered off")

	// ErrInvalidHandle indicates a handle outside the file table.
	ErrInvalidHandle = errors.New("invalid file handle")

	// ErrClosed indicates an operation on a closed file.
	ErrClosed = errors.New("file closed")

	// ErrAlreadyOpen indicates an open of a path that is already open.
	ErrAlreadyOpen = errors.New("file already open")

	// ErrInvalidPath indicates an empty or overlong path.
	ErrInvalidPath = errors.New("invalid path")

	// ErrFull indicates the file table has no room for another file.
	ErrFull = errors.New("file table full")

	// ErrOutOfFrames indicates the block has no unallocated frames left.
	ErrOutOfFrames = errors.New("out of frames")

	// ErrOutOfRange indicates a seek beyond the end of the file.
	ErrOutOfRange = errors.New("offset out of range")

	// ErrChecksumUnavailable indicates the signature primitive failed.
	ErrChecksumUnavailable = errors.New("checksum unavailable")

	// ErrChecksumExhausted indicates a transfer kept mismatching its checksum
	// until the retry budget ran out.
	ErrChecksumExhausted = errors.New("checksum retries exhausted")

	// ErrDeviceError indicates the controller reported failure on a
	// checksum-corroborated transfer.
	ErrDeviceError = errors.New("device error")

	// ErrBrokenChain indicates a file's cursor points past its frame chain.
	ErrBrokenChain = errors.New("frame chain broken")

	// ErrFieldOverflow indicates a register field value wider than the field.
	ErrFieldOverflow = errors.New("register field overflow")

	// ErrNotSupported indicates an unsupported operation or platform.
	ErrNotSupported = errors.New("not supported")
)
