package driver

import (
	"fmt"

	"github.com/keks/framefs"
)

// DefaultRetryBudget is the number of attempts a frame transfer gets before
// it gives up on checksum mismatches.
const DefaultRetryBudget = 1000

// transferEngine moves whole frames over the bus.
//
// The bus may damage a transfer without saying so; a checksum that does not
// match is the only sign. Reads recompute the checksum of the bytes received
// and compare it with the one the bus claims. Writes send the checksum of the
// payload and expect the bus to echo it back. A mismatch is retried; the
// result code is trusted only once the checksums agree.
type transferEngine struct {
	bus     framefs.Bus
	sum     framefs.Checksummer
	retries int
}

func (e *transferEngine) readFrame(idx framefs.FrameIndex, dst *framefs.Frame) error {
	req := framefs.Encode(framefs.OpReadFrame, idx, 0, framefs.ResultSuccess)

	for attempt := 1; attempt <= e.retries; attempt++ {
		ans := e.bus.Transfer(req, dst)

		cs, err := e.sum.Sum(dst)
		if err != nil {
			return fmt.Errorf("reading frame %d: %w", idx, err)
		}
		if cs != ans.Checksum() {
			framefs.LogDebug(framefs.ComponentTransfer, "read checksum mismatch",
				"frame", int(idx), "attempt", attempt, "got", uint32(ans.Checksum()), "want", uint32(cs))
			continue
		}

		if !ans.Result().OK() {
			return fmt.Errorf("reading frame %d: %w: %s", idx, framefs.ErrDeviceError, ans.Result())
		}
		return nil
	}

	framefs.LogWarn(framefs.ComponentTransfer, "read retries exhausted", "frame", int(idx), "attempts", e.retries)
	return fmt.Errorf("reading frame %d after %d attempts: %w", idx, e.retries, framefs.ErrChecksumExhausted)
}

func (e *transferEngine) writeFrame(idx framefs.FrameIndex, src *framefs.Frame) error {
	cs, err := e.sum.Sum(src)
	if err != nil {
		return fmt.Errorf("writing frame %d: %w", idx, err)
	}
	req := framefs.Encode(framefs.OpWriteFrame, idx, cs, framefs.ResultSuccess)

	for attempt := 1; attempt <= e.retries; attempt++ {
		ans := e.bus.Transfer(req, src)

		if ans.Checksum() != cs {
			framefs.LogDebug(framefs.ComponentTransfer, "write checksum mismatch",
				"frame", int(idx), "attempt", attempt, "got", uint32(ans.Checksum()), "want", uint32(cs))
			continue
		}

		if !ans.Result().OK() {
			return fmt.Errorf("writing frame %d: %w: %s", idx, framefs.ErrDeviceError, ans.Result())
		}
		return nil
	}

	framefs.LogWarn(framefs.ComponentTransfer, "write retries exhausted", "frame", int(idx), "attempts", e.retries)
	return fmt.Errorf("writing frame %d after %d attempts: %w", idx, e.retries, framefs.ErrChecksumExhausted)
}

// control sends an opcode that moves no frame data. It is not retried.
func (e *transferEngine) control(op framefs.Opcode) error {
	ans := e.bus.Transfer(framefs.Encode(op, 0, 0, framefs.ResultSuccess), nil)
	if !ans.Result().OK() {
		return fmt.Errorf("%s: %w: %s", op, framefs.ErrDeviceError, ans.Result())
	}
	return nil
}
