package main

import (
	"bytes"
	"fmt"
	"math/rand"

	"github.com/keks/framefs"
	"github.com/keks/framefs/bus"
	"github.com/keks/framefs/driver"
)

// selfTest exercises the register codec and a frame round trip through the
// controller protocol, then a short file round trip through the driver.
func selfTest(sum framefs.Checksummer, rng *rand.Rand) error {
	for i := 0; i < 1000; i++ {
		op := framefs.Opcode(rng.Intn(5))
		idx := framefs.FrameIndex(rng.Intn(1 << 16))
		cs := framefs.Checksum(rng.Uint32())
		rc := framefs.ResultCode(int8(rng.Intn(256) - 128))

		reg := framefs.Encode(op, idx, cs, rc)
		if reg.Op() != op || reg.Frame() != idx || reg.Checksum() != cs || reg.Result() != rc {
			return fmt.Errorf("register %s does not decode to op=%s frame=%d checksum=%#x result=%d",
				reg, op, idx, uint32(cs), rc)
		}
	}
	framefs.LogInfo(framefs.ComponentSim, "register codec ok")

	mem := bus.NewMemoryBus(sum)
	if rc := mem.Transfer(framefs.Encode(framefs.OpInitMS, 0, 0, 0), nil).Result(); !rc.OK() {
		return fmt.Errorf("INITMS: %s", rc)
	}

	var out, in framefs.Frame
	rng.Read(out[:])
	cs, err := sum.Sum(&out)
	if err != nil {
		return err
	}

	idx := framefs.FrameIndex(rng.Intn(mem.Capacity()))
	if rc := mem.Transfer(framefs.Encode(framefs.OpWriteFrame, idx, cs, 0), &out).Result(); !rc.OK() {
		return fmt.Errorf("WRFRME %d: %s", idx, rc)
	}
	if rc := mem.Transfer(framefs.Encode(framefs.OpWriteFrame, idx, cs+1, 0), &out).Result(); rc != framefs.ResultChecksumError {
		return fmt.Errorf("WRFRME %d with bad checksum: got %s", idx, rc)
	}

	reg := mem.Transfer(framefs.Encode(framefs.OpReadFrame, idx, 0, 0), &in)
	if !reg.Result().OK() {
		return fmt.Errorf("RDFRME %d: %s", idx, reg.Result())
	}
	if reg.Checksum() != cs || in != out {
		return fmt.Errorf("RDFRME %d: frame differs from what was written", idx)
	}
	if rc := mem.Transfer(framefs.Encode(framefs.OpPowerOff, 0, 0, 0), nil).Result(); !rc.OK() {
		return fmt.Errorf("POWOFF: %s", rc)
	}
	framefs.LogInfo(framefs.ComponentSim, "controller protocol ok")

	fb := bus.NewFaultBus(bus.NewMemoryBus(sum))
	fb.CorruptNext(3)
	sys := driver.New(fb, driver.WithChecksummer(sum))
	if err := sys.PowerOn(); err != nil {
		return err
	}

	h, err := sys.Open("selftest")
	if err != nil {
		return err
	}
	data := make([]byte, 2*framefs.FrameSize+rng.Intn(framefs.FrameSize))
	rng.Read(data)
	if _, err := sys.Write(h, data); err != nil {
		return err
	}
	if err := sys.Seek(h, 0); err != nil {
		return err
	}
	got, err := sys.Read(h, len(data))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, data) {
		return fmt.Errorf("driver round trip of %d bytes returned different content", len(data))
	}
	if err := sys.PowerOff(); err != nil {
		return err
	}
	framefs.LogInfo(framefs.ComponentSim, "driver round trip ok", "bytes", len(data))

	return nil
}
