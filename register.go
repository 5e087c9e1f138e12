package framefs

import "fmt"

// Register is the 64-bit value exchanged with the controller.
//
// Layout, most significant bit first:
//
//	bits 63-56  op        (8 bits)
//	bits 55-40  frame     (16 bits)
//	bits 39-8   checksum  (32 bits)
//	bits  7-0   result    (8 bits)
//
// Each field has its own Go type of the exact width, so a value built with
// Encode can never spill into a neighbouring field.
type Register uint64

// Opcode selects the controller operation.
type Opcode uint8

// Controller opcodes.
const (
	OpInitMS     Opcode = 0 // initialize the memory interface
	OpBZero      Opcode = 1 // zero the whole block
	OpReadFrame  Opcode = 2 // read one frame
	OpWriteFrame Opcode = 3 // write one frame
	OpPowerOff   Opcode = 4 // power off the memory system
)

// String returns the mnemonic of the opcode.
func (op Opcode) String() string {
	switch op {
	case OpInitMS:
		return "INITMS"
	case OpBZero:
		return "BZERO"
	case OpReadFrame:
		return "RDFRME"
	case OpWriteFrame:
		return "WRFRME"
	case OpPowerOff:
		return "POWOFF"
	default:
		return fmt.Sprintf("OP(%d)", uint8(op))
	}
}

// Checksum is the 32-bit integrity value carried in the register.
type Checksum uint32

// ResultCode is the signed 8-bit return code in the low byte.
type ResultCode int8

// Controller return codes.
const (
	ResultSuccess       ResultCode = 0
	ResultError         ResultCode = -1
	ResultChecksumError ResultCode = 2
)

// OK reports whether the code signals success.
func (rc ResultCode) OK() bool {
	return rc == ResultSuccess
}

func (rc ResultCode) String() string {
	switch rc {
	case ResultSuccess:
		return "success"
	case ResultError:
		return "error"
	case ResultChecksumError:
		return "checksum error"
	default:
		return fmt.Sprintf("result(%d)", int8(rc))
	}
}

const (
	opShift       = 56
	frameShift    = 40
	checksumShift = 8

	opMask       = 0xff
	frameMask    = 0xffff
	checksumMask = 0xffffffff
	resultMask   = 0xff
)

// Encode packs the four fields into a register.
func Encode(op Opcode, frame FrameIndex, cs Checksum, rc ResultCode) Register {
	return Register(uint64(op)<<opShift |
		uint64(frame)<<frameShift |
		uint64(cs)<<checksumShift |
		uint64(uint8(rc)))
}

// EncodeFields packs untyped field values, rejecting any value wider than
// its field instead of truncating it. The result value is taken as the raw
// low byte, so both 0xff and -1 style codes must be passed as 0..255.
func EncodeFields(op, frame, cs, rc uint64) (Register, error) {
	switch {
	case op > opMask:
		return 0, fmt.Errorf("op %#x: %w", op, ErrFieldOverflow)
	case frame > frameMask:
		return 0, fmt.Errorf("frame %#x: %w", frame, ErrFieldOverflow)
	case cs > checksumMask:
		return 0, fmt.Errorf("checksum %#x: %w", cs, ErrFieldOverflow)
	case rc > resultMask:
		return 0, fmt.Errorf("result %#x: %w", rc, ErrFieldOverflow)
	}

	return Encode(Opcode(op), FrameIndex(frame), Checksum(cs), ResultCode(int8(uint8(rc)))), nil
}

// Op returns the opcode field.
func (r Register) Op() Opcode {
	return Opcode(uint64(r) >> opShift & opMask)
}

// Frame returns the frame field.
func (r Register) Frame() FrameIndex {
	return FrameIndex(uint64(r) >> frameShift & frameMask)
}

// Checksum returns the checksum field.
func (r Register) Checksum() Checksum {
	return Checksum(uint64(r) >> checksumShift & checksumMask)
}

// Result returns the return code field.
func (r Register) Result() ResultCode {
	return ResultCode(int8(uint8(uint64(r) & resultMask)))
}

// WithResult returns a copy of r with the checksum and result fields replaced.
// Controllers use it to build their answer from the request.
func (r Register) WithResult(cs Checksum, rc ResultCode) Register {
	return Encode(r.Op(), r.Frame(), cs, rc)
}

func (r Register) String() string {
	return fmt.Sprintf("%s frame=%d cs=%08x rc=%s", r.Op(), r.Frame(), uint32(r.Checksum()), r.Result())
}
