//go:build unix

package bus

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keks/framefs"
)

func TestFileBusPersists(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "block.img")

	b, err := OpenFileBus(path, testSum, 16)
	r.NoError(err)
	r.True(b.Transfer(initReg(), nil).Result().OK())

	f := mkFrame("persist me")
	r.True(b.Transfer(writeReg(t, 15, f), f).Result().OK())
	r.Equal(framefs.ResultError, b.Transfer(readReg(16), new(framefs.Frame)).Result())
	r.NoError(b.Close())

	b, err = OpenFileBus(path, testSum, 16)
	r.NoError(err)
	defer b.Close()
	b.Transfer(initReg(), nil)

	var buf framefs.Frame
	ans := b.Transfer(readReg(15), &buf)
	r.True(ans.Result().OK())
	r.Equal(*f, buf)

	r.True(b.Transfer(framefs.Encode(framefs.OpBZero, 0, 0, 0), nil).Result().OK())
	b.Transfer(readReg(15), &buf)
	r.Equal(framefs.Frame{}, buf)
}

func TestFileBusClosed(t *testing.T) {
	r := require.New(t)

	b, err := OpenFileBus(filepath.Join(t.TempDir(), "block.img"), testSum, 4)
	r.NoError(err)
	r.True(b.Transfer(initReg(), nil).Result().OK())
	r.NoError(b.Close())

	f := mkFrame("late")
	r.Equal(framefs.ResultError, b.Transfer(writeReg(t, 0, f), f).Result())
	r.Equal(framefs.ResultError, b.Transfer(readReg(0), new(framefs.Frame)).Result())
	r.Equal(framefs.ResultError, b.Transfer(framefs.Encode(framefs.OpBZero, 0, 0, 0), nil).Result())
	r.Equal(3, b.Stats().Errors)
	r.NoError(b.Close(), "second close")
	r.NoError(b.Sync())
}
