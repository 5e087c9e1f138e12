// Package workload replays workload files against a driver and checks the
// resulting files against reference copies.
//
// A workload line looks like
//
//	<file> <COMMAND> <length> <offset>:<text>
//
// where COMMAND is WRITE, WRITEAT, SEEK or READ. WRITE and WRITEAT take their
// payload from the first length bytes of text, with '^' standing for a
// newline. The colon is required on every line.
package workload

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxText is the longest payload a single workload line may carry.
const MaxText = 1023

// Command is a workload command.
type Command int

const (
	CmdWrite Command = iota
	CmdWriteAt
	CmdSeek
	CmdRead
)

func (c Command) String() string {
	switch c {
	case CmdWrite:
		return "WRITE"
	case CmdWriteAt:
		return "WRITEAT"
	case CmdSeek:
		return "SEEK"
	case CmdRead:
		return "READ"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// Op is one parsed workload line.
type Op struct {
	Line int
	File string
	Cmd  Command
	Len  int
	Off  int64
	Text []byte
}

// ErrSyntax indicates a workload line that cannot be parsed.
var ErrSyntax = errors.New("unparsable workload line")

// ParseError reports the line a parse failure happened on.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("workload line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseLine parses a single line. n is the line number used in errors.
func ParseLine(line string, n int) (Op, error) {
	line = strings.TrimRight(line, "\r\n")
	fail := func(format string, args ...any) (Op, error) {
		err := fmt.Errorf("%w: %s", ErrSyntax, fmt.Sprintf(format, args...))
		return Op{}, &ParseError{Line: n, Text: line, Err: err}
	}

	sep := strings.IndexByte(line, ':')
	if sep < 0 {
		return fail("missing ':'")
	}

	fields := strings.Fields(line[:sep])
	if len(fields) != 4 {
		return fail("want 4 fields before ':', got %d", len(fields))
	}

	op := Op{Line: n, File: fields[0]}

	switch {
	// WRITEAT first, it shares its prefix with WRITE
	case strings.HasPrefix(fields[1], "WRITEAT"):
		op.Cmd = CmdWriteAt
	case strings.HasPrefix(fields[1], "WRITE"):
		op.Cmd = CmdWrite
	case strings.HasPrefix(fields[1], "SEEK"):
		op.Cmd = CmdSeek
	case strings.HasPrefix(fields[1], "READ"):
		op.Cmd = CmdRead
	default:
		return fail("unknown command %q", fields[1])
	}

	length, err := strconv.Atoi(fields[2])
	if err != nil || length < 0 {
		return fail("bad length %q", fields[2])
	}
	off, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil || off < 0 {
		return fail("bad offset %q", fields[3])
	}
	op.Len, op.Off = length, off

	if op.Cmd == CmdWrite || op.Cmd == CmdWriteAt {
		text := line[sep+1:]
		if length > MaxText {
			return fail("text length %d exceeds %d", length, MaxText)
		}
		if len(text) < length {
			return fail("text has %d bytes, want %d", len(text), length)
		}
		op.Text = []byte(strings.ReplaceAll(text[:length], "^", "\n"))
	}

	return op, nil
}

// Parse reads every line of r. Blank lines are skipped.
func Parse(r io.Reader) ([]Op, error) {
	var ops []Op

	err := scan(r, func(op Op) error {
		ops = append(ops, op)
		return nil
	})
	return ops, err
}

func scan(r io.Reader, fn func(Op) error) error {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), 1<<20)

	n := 0
	for s.Scan() {
		n++
		if strings.TrimSpace(s.Text()) == "" {
			continue
		}

		op, err := ParseLine(s.Text(), n)
		if err != nil {
			return err
		}
		if err := fn(op); err != nil {
			return err
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("reading workload: %w", err)
	}
	return nil
}
