package driver

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keks/framefs"
	"github.com/keks/framefs/bus"
)

var testSum = framefs.NewChecksummer(framefs.MD5)

type rig struct {
	mem   *bus.MemoryBus
	fault *bus.FaultBus
	sys   *System
}

func newRig(t *testing.T, opts ...Option) *rig {
	mem := bus.NewMemoryBus(testSum)
	fault := bus.NewFaultBus(mem)
	sys := New(fault, append([]Option{WithChecksummer(testSum)}, opts...)...)
	require.NoError(t, sys.PowerOn())
	return &rig{mem: mem, fault: fault, sys: sys}
}

// pattern returns n bytes that differ from frame to frame.
func pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i%251) ^ byte(i/framefs.FrameSize)
	}
	return buf
}

type op interface {
	Do(*testing.T, *System)
}

type openOp struct {
	path string

	expH   framefs.Handle
	expErr error
}

func (op openOp) Do(t *testing.T, sys *System) {
	h, err := sys.Open(op.path)
	if op.expErr != nil {
		require.ErrorIs(t, err, op.expErr)
		return
	}
	require.NoError(t, err)
	require.Equal(t, op.expH, h)
}

type closeOp struct {
	h framefs.Handle

	expErr error
}

func (op closeOp) Do(t *testing.T, sys *System) {
	err := sys.Close(op.h)
	if op.expErr != nil {
		require.ErrorIs(t, err, op.expErr)
		return
	}
	require.NoError(t, err)
}

type writeOp struct {
	h    framefs.Handle
	data []byte

	expN   int
	expErr error
}

func (op writeOp) Do(t *testing.T, sys *System) {
	n, err := sys.Write(op.h, op.data)
	t.Logf("writeOp, n: %d, err: %v", n, err)

	require.Equal(t, op.expN, n)
	if op.expErr != nil {
		require.ErrorIs(t, err, op.expErr)
		return
	}
	require.NoError(t, err)
}

type readOp struct {
	h     framefs.Handle
	count int

	exp    []byte
	expErr error
}

func (op readOp) Do(t *testing.T, sys *System) {
	data, err := sys.Read(op.h, op.count)
	t.Logf("readOp, n: %d, err: %v", len(data), err)

	if op.expErr != nil {
		require.ErrorIs(t, err, op.expErr)
		return
	}
	require.NoError(t, err)
	require.True(t, bytes.Equal(op.exp, data), "read %q, want %q", data, op.exp)
}

type seekOp struct {
	h   framefs.Handle
	off int64

	expErr error
}

func (op seekOp) Do(t *testing.T, sys *System) {
	err := sys.Seek(op.h, op.off)
	if op.expErr != nil {
		require.ErrorIs(t, err, op.expErr)
		return
	}
	require.NoError(t, err)
}

type statOp struct {
	h framefs.Handle

	expSize   int64
	expCursor int64
	expFrames int
}

func (op statOp) Do(t *testing.T, sys *System) {
	st, err := sys.Stat(op.h)
	require.NoError(t, err)
	require.Equal(t, op.expSize, st.Size, "size")
	require.Equal(t, op.expCursor, st.Cursor, "cursor")
	require.Equal(t, op.expFrames, st.Frames, "frames")
}

type powerOp struct {
	on bool

	expErr error
}

func (op powerOp) Do(t *testing.T, sys *System) {
	var err error
	if op.on {
		err = sys.PowerOn()
	} else {
		err = sys.PowerOff()
	}
	if op.expErr != nil {
		require.ErrorIs(t, err, op.expErr)
		return
	}
	require.NoError(t, err)
}
