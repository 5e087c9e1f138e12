package workload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/keks/framefs"
	"github.com/keks/framefs/driver"
)

// MaxOpenFiles caps the number of distinct files a workload may touch.
const MaxOpenFiles = 128

// BackupSuffix is appended to the reference name for the device content dump.
const BackupSuffix = ".cmm"

var (
	// ErrShortTransfer indicates a read or write that moved fewer bytes than
	// the workload asked for.
	ErrShortTransfer = errors.New("short transfer")

	// ErrTooManyFiles indicates a workload touching more than MaxOpenFiles files.
	ErrTooManyFiles = errors.New("too many workload files")

	// ErrMismatch indicates device content that differs from the reference.
	ErrMismatch = errors.New("content mismatch")
)

// Runner executes workload operations against a powered-on System.
type Runner struct {
	sys   *driver.System
	files map[string]framefs.Handle
	order []string
}

// NewRunner returns a Runner driving sys.
func NewRunner(sys *driver.System) *Runner {
	return &Runner{
		sys:   sys,
		files: make(map[string]framefs.Handle),
	}
}

// Files returns the workload file names in order of first use.
func (r *Runner) Files() []string {
	return append([]string(nil), r.order...)
}

// Handle returns the handle a file was opened under.
func (r *Runner) Handle(name string) (framefs.Handle, bool) {
	h, ok := r.files[name]
	return h, ok
}

// Run parses and executes every line of rd, stopping at the first failure.
func (r *Runner) Run(rd io.Reader) error {
	return scan(rd, r.Exec)
}

// Exec executes one operation, opening its file on first use.
func (r *Runner) Exec(op Op) error {
	h, err := r.handle(op.File)
	if err != nil {
		return fmt.Errorf("line %d: %w", op.Line, err)
	}

	framefs.LogDebug(framefs.ComponentSim, "exec", "line", op.Line, "file", op.File,
		"cmd", op.Cmd.String(), "len", op.Len, "off", op.Off)

	switch op.Cmd {
	case CmdWriteAt:
		if err := r.sys.Seek(h, op.Off); err != nil {
			return fmt.Errorf("line %d: writeat %s: %w", op.Line, op.File, err)
		}
		fallthrough

	case CmdWrite:
		n, err := r.sys.Write(h, op.Text)
		if err != nil {
			return fmt.Errorf("line %d: write %s: %w", op.Line, op.File, err)
		}
		if n != len(op.Text) {
			return fmt.Errorf("line %d: write %s: %d of %d bytes: %w", op.Line, op.File, n, len(op.Text), ErrShortTransfer)
		}

	case CmdSeek:
		if err := r.sys.Seek(h, op.Off); err != nil {
			return fmt.Errorf("line %d: seek %s: %w", op.Line, op.File, err)
		}

	case CmdRead:
		data, err := r.sys.Read(h, op.Len)
		if err != nil {
			return fmt.Errorf("line %d: read %s: %w", op.Line, op.File, err)
		}
		if len(data) != op.Len {
			return fmt.Errorf("line %d: read %s: %d of %d bytes: %w", op.Line, op.File, len(data), op.Len, ErrShortTransfer)
		}

	default:
		return fmt.Errorf("line %d: %w: command %s", op.Line, ErrSyntax, op.Cmd)
	}

	return nil
}

func (r *Runner) handle(name string) (framefs.Handle, error) {
	if h, ok := r.files[name]; ok {
		return h, nil
	}
	if len(r.files) >= MaxOpenFiles {
		return -1, fmt.Errorf("opening %s: %w", name, ErrTooManyFiles)
	}

	framefs.LogInfo(framefs.ComponentSim, "opening file", "file", name)
	h, err := r.sys.Open(name)
	if err != nil {
		return -1, err
	}

	r.files[name] = h
	r.order = append(r.order, name)
	return h, nil
}

// Validate checks every workload file against dir/<name>. The device content
// of each file is also written to dir/<name>.cmm for inspection.
func (r *Runner) Validate(dir string) error {
	for _, name := range r.order {
		if err := r.validate(dir, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) validate(dir, name string) error {
	ref := filepath.Join(dir, name)
	want, err := os.ReadFile(ref)
	if err != nil {
		return fmt.Errorf("validating %s: %w", name, err)
	}
	if len(want) == 0 {
		return fmt.Errorf("validating %s: reference %s is empty", name, ref)
	}

	h := r.files[name]
	if err := r.sys.Seek(h, 0); err != nil {
		return fmt.Errorf("validating %s: %w", name, err)
	}
	got, err := r.sys.Read(h, len(want))
	if err != nil {
		return fmt.Errorf("validating %s: %w", name, err)
	}

	if err := os.WriteFile(ref+BackupSuffix, got, 0o600); err != nil {
		return fmt.Errorf("writing backup of %s: %w", name, err)
	}

	if len(got) != len(want) {
		return fmt.Errorf("validating %s: device has %d bytes, reference %d: %w", name, len(got), len(want), ErrMismatch)
	}
	if !bytes.Equal(got, want) {
		i := firstDiff(got, want)
		return fmt.Errorf("validating %s: offset %d: device %#02x != reference %#02x: %w",
			name, i, got[i], want[i], ErrMismatch)
	}

	framefs.LogInfo(framefs.ComponentSim, "validated", "file", name, "len", len(want))
	return nil
}

func firstDiff(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return len(a)
}
