package driver

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keks/framefs"
	"github.com/keks/framefs/bus"
)

const fs = framefs.FrameSize

func TestSystem(t *testing.T) {
	type testcase struct {
		name string
		opts []Option
		ops  []op
	}

	mktest := func(tc testcase) func(*testing.T) {
		return func(t *testing.T) {
			r := newRig(t, tc.opts...)
			for _, op := range tc.ops {
				op.Do(t, r.sys)
				t.Logf("ok: %T", op)
			}
		}
	}

	var tcs = []testcase{
		{
			name: "hello",
			ops: []op{
				openOp{path: "a.txt", expH: 0},
				writeOp{h: 0, data: []byte("hello"), expN: 5},
				seekOp{h: 0, off: 0},
				readOp{h: 0, count: 5, exp: []byte("hello")},
				statOp{h: 0, expSize: 5, expCursor: 5, expFrames: 1},
			},
		},
		{
			name: "frame then ten bytes",
			ops: []op{
				openOp{path: "a.txt", expH: 0},
				writeOp{h: 0, data: make([]byte, fs), expN: fs},
				statOp{h: 0, expSize: fs, expCursor: fs, expFrames: 1},
				writeOp{h: 0, data: []byte("0123456789"), expN: 10},
				statOp{h: 0, expSize: fs + 10, expCursor: fs + 10, expFrames: 2},
				seekOp{h: 0, off: fs},
				readOp{h: 0, count: 10, exp: []byte("0123456789")},
			},
		},
		{
			name: "open twice",
			ops: []op{
				openOp{path: "a.txt", expH: 0},
				openOp{path: "a.txt", expErr: framefs.ErrAlreadyOpen},
				openOp{path: "b.txt", expH: 1},
			},
		},
		{
			name: "close then reopen keeps content",
			ops: []op{
				openOp{path: "a.txt", expH: 0},
				writeOp{h: 0, data: []byte("persistent"), expN: 10},
				closeOp{h: 0},
				closeOp{h: 0, expErr: framefs.ErrClosed},
				readOp{h: 0, count: 1, expErr: framefs.ErrClosed},
				openOp{path: "a.txt", expH: 0},
				statOp{h: 0, expSize: 10, expCursor: 0, expFrames: 1},
				readOp{h: 0, count: 10, exp: []byte("persistent")},
			},
		},
		{
			name: "seek bounds",
			ops: []op{
				openOp{path: "a.txt", expH: 0},
				writeOp{h: 0, data: []byte("abc"), expN: 3},
				seekOp{h: 0, off: 4, expErr: framefs.ErrOutOfRange},
				seekOp{h: 0, off: -1, expErr: framefs.ErrOutOfRange},
				seekOp{h: 0, off: 3},
				readOp{h: 0, count: 10, exp: []byte{}},
				writeOp{h: 0, data: []byte("def"), expN: 3},
				seekOp{h: 0, off: 0},
				readOp{h: 0, count: 6, exp: []byte("abcdef")},
			},
		},
		{
			name: "clamped read",
			ops: []op{
				openOp{path: "a.txt", expH: 0},
				writeOp{h: 0, data: []byte("0123456789"), expN: 10},
				seekOp{h: 0, off: 7},
				readOp{h: 0, count: 100, exp: []byte("789")},
				statOp{h: 0, expSize: 10, expCursor: 10, expFrames: 1},
			},
		},
		{
			name: "overwrite in the middle",
			ops: []op{
				openOp{path: "a.txt", expH: 0},
				writeOp{h: 0, data: []byte("0123456789"), expN: 10},
				seekOp{h: 0, off: 3},
				writeOp{h: 0, data: []byte("ab"), expN: 2},
				statOp{h: 0, expSize: 10, expCursor: 5, expFrames: 1},
				seekOp{h: 0, off: 0},
				readOp{h: 0, count: 10, exp: []byte("012ab56789")},
			},
		},
		{
			name: "overwrite across frame boundary reuses chain",
			ops: []op{
				openOp{path: "a.txt", expH: 0},
				writeOp{h: 0, data: bytes.Repeat([]byte("x"), 2*fs), expN: 2 * fs},
				seekOp{h: 0, off: fs - 2},
				writeOp{h: 0, data: []byte("abcd"), expN: 4},
				statOp{h: 0, expSize: 2 * fs, expCursor: fs + 2, expFrames: 2},
				seekOp{h: 0, off: fs - 3},
				readOp{h: 0, count: 6, exp: []byte("xabcdx")},
			},
		},
		{
			name: "interleaved files",
			ops: []op{
				openOp{path: "a", expH: 0},
				openOp{path: "b", expH: 1},
				writeOp{h: 0, data: bytes.Repeat([]byte("a"), fs+1), expN: fs + 1},
				writeOp{h: 1, data: []byte("bbb"), expN: 3},
				writeOp{h: 0, data: []byte("A"), expN: 1},
				seekOp{h: 0, off: fs - 1},
				readOp{h: 0, count: 5, exp: []byte("aaA")},
				seekOp{h: 1, off: 0},
				readOp{h: 1, count: 5, exp: []byte("bbb")},
			},
		},
		{
			name: "full file table",
			opts: []Option{WithMaxFiles(2)},
			ops: []op{
				openOp{path: "a", expH: 0},
				openOp{path: "b", expH: 1},
				openOp{path: "c", expErr: framefs.ErrFull},
				closeOp{h: 0},
				openOp{path: "c", expErr: framefs.ErrFull},
				openOp{path: "a", expH: 0},
			},
		},
		{
			name: "invalid handles and paths",
			ops: []op{
				readOp{h: 0, count: 1, expErr: framefs.ErrInvalidHandle},
				seekOp{h: -1, off: 0, expErr: framefs.ErrInvalidHandle},
				closeOp{h: 5, expErr: framefs.ErrInvalidHandle},
				openOp{path: "", expErr: framefs.ErrInvalidPath},
				openOp{path: string(bytes.Repeat([]byte("p"), framefs.MaxPathLength+1)), expErr: framefs.ErrInvalidPath},
				openOp{path: string(bytes.Repeat([]byte("p"), framefs.MaxPathLength)), expH: 0},
			},
		},
		{
			name: "power cycle drops files",
			ops: []op{
				openOp{path: "a", expH: 0},
				writeOp{h: 0, data: []byte("gone"), expN: 4},
				powerOp{on: false},
				readOp{h: 0, count: 1, expErr: framefs.ErrPoweredOff},
				writeOp{h: 0, data: []byte("x"), expErr: framefs.ErrPoweredOff},
				seekOp{h: 0, expErr: framefs.ErrPoweredOff},
				closeOp{h: 0, expErr: framefs.ErrPoweredOff},
				openOp{path: "a", expErr: framefs.ErrPoweredOff},
				powerOp{on: false, expErr: framefs.ErrPoweredOff},
				powerOp{on: true},
				readOp{h: 0, count: 1, expErr: framefs.ErrInvalidHandle},
				openOp{path: "a", expH: 0},
				statOp{h: 0, expSize: 0, expCursor: 0, expFrames: 1},
			},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, mktest(tc))
	}
}

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, fs - 1, fs, fs + 1, 3*fs + 17, 5 * fs} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			r := require.New(t)
			rig := newRig(t)
			data := pattern(n)

			h, err := rig.sys.Open("file")
			r.NoError(err)

			written, err := rig.sys.Write(h, data)
			r.NoError(err)
			r.Equal(n, written)

			r.NoError(rig.sys.Seek(h, 0))
			got, err := rig.sys.Read(h, n)
			r.NoError(err)
			r.True(bytes.Equal(data, got))
		})
	}
}

func TestChainGrowth(t *testing.T) {
	type testcase struct {
		n      int
		frames int
	}

	for _, tc := range []testcase{
		{n: 0, frames: 1},
		{n: 1, frames: 1},
		{n: fs, frames: 1},
		{n: fs + 1, frames: 2},
		{n: 2 * fs, frames: 2},
		{n: 3*fs + 5, frames: 4},
	} {
		t.Run(fmt.Sprint(tc.n), func(t *testing.T) {
			r := require.New(t)
			rig := newRig(t)

			h, err := rig.sys.Open("file")
			r.NoError(err)
			_, err = rig.sys.Write(h, pattern(tc.n))
			r.NoError(err)

			chain, err := rig.sys.Chain(h)
			r.NoError(err)
			r.Len(chain, tc.frames)
			r.Equal(tc.frames, rig.sys.FramesAllocated())
			for i, idx := range chain {
				r.Equal(framefs.FrameIndex(i), idx, "frames are handed out in order")
			}
		})
	}
}

func TestChainsInterleave(t *testing.T) {
	r := require.New(t)
	rig := newRig(t)

	a, err := rig.sys.Open("a")
	r.NoError(err)
	b, err := rig.sys.Open("b")
	r.NoError(err)

	_, err = rig.sys.Write(a, pattern(fs+1))
	r.NoError(err)
	_, err = rig.sys.Write(b, pattern(fs+1))
	r.NoError(err)

	ca, err := rig.sys.Chain(a)
	r.NoError(err)
	cb, err := rig.sys.Chain(b)
	r.NoError(err)
	r.Equal([]framefs.FrameIndex{0, 2}, ca)
	r.Equal([]framefs.FrameIndex{1, 3}, cb)

	// closing does not give frames back
	r.NoError(rig.sys.Close(a))
	_, err = rig.sys.Open("c")
	r.NoError(err)
	r.Equal(5, rig.sys.FramesAllocated())
}

func TestReadModifyWrite(t *testing.T) {
	r := require.New(t)
	rig := newRig(t)

	h, err := rig.sys.Open("file")
	r.NoError(err)

	_, err = rig.sys.Write(h, []byte("hello"))
	r.NoError(err)
	st := rig.mem.Stats()
	r.Equal(1, st.Reads, "partial frame is read first")
	r.Equal(1, st.Writes)

	r.NoError(rig.sys.Seek(h, 0))
	_, err = rig.sys.Write(h, pattern(fs))
	r.NoError(err)
	st = rig.mem.Stats()
	r.Equal(1, st.Reads, "whole frame is not read")
	r.Equal(2, st.Writes)
}

func TestChecksumResilience(t *testing.T) {
	r := require.New(t)
	rig := newRig(t, WithRetryBudget(10))
	data := pattern(fs + 100)

	h, err := rig.sys.Open("file")
	r.NoError(err)

	rig.fault.CorruptNext(9)
	n, err := rig.sys.Write(h, data)
	r.NoError(err)
	r.Equal(len(data), n)

	r.NoError(rig.sys.Seek(h, 0))
	rig.fault.CorruptNext(9)
	got, err := rig.sys.Read(h, len(data))
	r.NoError(err)
	r.True(bytes.Equal(data, got))

	corrupted, _ := rig.fault.Injected()
	r.Equal(18, corrupted)
}

func TestChecksumExhausted(t *testing.T) {
	r := require.New(t)
	rig := newRig(t, WithRetryBudget(5))

	h, err := rig.sys.Open("file")
	r.NoError(err)
	_, err = rig.sys.Write(h, []byte("data"))
	r.NoError(err)
	r.NoError(rig.sys.Seek(h, 0))

	rig.fault.CorruptAlways(true)

	_, err = rig.sys.Read(h, 4)
	r.ErrorIs(err, framefs.ErrChecksumExhausted)

	n, err := rig.sys.Write(h, []byte("more"))
	r.ErrorIs(err, framefs.ErrChecksumExhausted)
	r.Zero(n)

	corrupted, _ := rig.fault.Injected()
	r.Equal(10, corrupted, "each transfer used the whole budget")

	// a whole frame skips the read and exhausts on the write itself
	writes := rig.mem.Stats().Writes
	r.NoError(rig.sys.Seek(h, 0))
	n, err = rig.sys.Write(h, pattern(fs))
	r.ErrorIs(err, framefs.ErrChecksumExhausted)
	r.Contains(err.Error(), "writing frame 0")
	r.Zero(n)

	corrupted, _ = rig.fault.Injected()
	r.Equal(15, corrupted)
	st := rig.mem.Stats()
	r.Equal(writes, st.Writes)
	r.Equal(5, st.ChecksumErrors, "every damaged payload reached the controller")

	rig.fault.CorruptAlways(false)
	got, err := rig.sys.Read(h, 4)
	r.NoError(err)
	r.Equal([]byte("data"), got)

	stat, err := rig.sys.Stat(h)
	r.NoError(err)
	r.Equal(int64(4), stat.Size)
}

func TestDeviceError(t *testing.T) {
	r := require.New(t)
	rig := newRig(t)

	h, err := rig.sys.Open("file")
	r.NoError(err)

	rig.fault.FailNext(1)
	n, err := rig.sys.Write(h, []byte("x"))
	r.ErrorIs(err, framefs.ErrDeviceError)
	r.Zero(n)
	_, failed := rig.fault.Injected()
	r.Equal(1, failed, "device errors are not retried")

	n, err = rig.sys.Write(h, []byte("x"))
	r.NoError(err)
	r.Equal(1, n)
	r.NoError(rig.sys.Seek(h, 0))

	reads := rig.mem.Stats().Reads
	rig.fault.FailNext(1)
	got, err := rig.sys.Read(h, 1)
	r.ErrorIs(err, framefs.ErrDeviceError)
	r.Contains(err.Error(), "reading frame 0")
	r.Empty(got)
	r.Equal(reads+1, rig.mem.Stats().Reads, "failed read is attempted once")
	_, failed = rig.fault.Injected()
	r.Equal(2, failed)

	stat, err := rig.sys.Stat(h)
	r.NoError(err)
	r.Zero(stat.Cursor, "cursor stays put on a failed read")

	rig.fault.FailNext(1)
	r.ErrorIs(rig.sys.PowerOff(), framefs.ErrDeviceError)
	r.True(rig.sys.PoweredOn())
}

func TestPowerOnFailure(t *testing.T) {
	r := require.New(t)
	mem := bus.NewMemoryBus(testSum)
	fault := bus.NewFaultBus(mem)
	sys := New(fault, WithChecksummer(testSum))

	fault.FailNext(1)
	r.ErrorIs(sys.PowerOn(), framefs.ErrDeviceError)
	r.False(sys.PoweredOn())

	_, err := sys.Open("a")
	r.ErrorIs(err, framefs.ErrPoweredOff)

	r.NoError(sys.PowerOn())
	r.True(sys.PoweredOn())
}

func TestPartialWrite(t *testing.T) {
	r := require.New(t)

	mem := bus.NewMemoryBus(testSum)
	mem.Transfer(framefs.Encode(framefs.OpInitMS, 0, 0, 0), nil)

	var writes int
	flaky := framefs.BusFunc(func(reg framefs.Register, buf *framefs.Frame) framefs.Register {
		ans := mem.Transfer(reg, buf)
		if reg.Op() == framefs.OpWriteFrame {
			writes++
			if writes == 2 {
				return ans.WithResult(ans.Checksum(), framefs.ResultError)
			}
		}
		return ans
	})

	sys := New(flaky, WithChecksummer(testSum))
	r.NoError(sys.PowerOn())
	h, err := sys.Open("file")
	r.NoError(err)

	n, err := sys.Write(h, pattern(2*fs))
	r.ErrorIs(err, framefs.ErrDeviceError)
	r.Equal(fs, n)

	st, err := sys.Stat(h)
	r.NoError(err)
	r.Equal(int64(fs), st.Size)
	r.Equal(int64(fs), st.Cursor)
	r.Equal(2, st.Frames)
}

func TestOutOfFrames(t *testing.T) {
	r := require.New(t)
	rig := newRig(t, WithCapacity(2))

	a, err := rig.sys.Open("a")
	r.NoError(err)
	_, err = rig.sys.Open("b")
	r.NoError(err)

	_, err = rig.sys.Open("c")
	r.ErrorIs(err, framefs.ErrOutOfFrames)

	n, err := rig.sys.Write(a, pattern(fs+1))
	r.ErrorIs(err, framefs.ErrOutOfFrames)
	r.Equal(fs, n)

	st, err := rig.sys.Stat(a)
	r.NoError(err)
	r.Equal(int64(fs), st.Size)
	r.Equal(1, st.Frames)
}

func TestChecksumUnavailable(t *testing.T) {
	r := require.New(t)
	mem := bus.NewMemoryBus(testSum)

	broken := framefs.NewChecksummer(func([]byte) ([]byte, error) {
		return nil, fmt.Errorf("signature offline")
	})
	sys := New(mem, WithChecksummer(broken))
	r.NoError(sys.PowerOn())

	h, err := sys.Open("a")
	r.NoError(err)

	_, err = sys.Write(h, pattern(fs))
	r.ErrorIs(err, framefs.ErrChecksumUnavailable)
	r.Zero(mem.Stats().Writes)
}
