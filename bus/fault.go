package bus

import (
	"math/rand"
	"sync"

	"github.com/keks/framefs"
)

// FaultBus wraps a controller and injects transfer faults. Corruption only
// affects frame reads and writes. Failures affect every opcode.
//
// A corrupted read reports a checksum that does not match the frame. A
// corrupted write damages a copy of the payload on its way down, so the
// lower controller rejects it. A failure lets the lower controller do the
// work and then answers ResultError with the real checksum.
type FaultBus struct {
	l sync.Mutex

	lower framefs.Bus

	corruptNext   int
	corruptAlways bool
	failNext      int

	rng         *rand.Rand
	corruptRate float64
	failRate    float64

	corrupted int
	failed    int
}

// NewFaultBus wraps lower. Without further configuration it passes every
// transfer through untouched.
func NewFaultBus(lower framefs.Bus) *FaultBus {
	return &FaultBus{lower: lower}
}

// CorruptNext corrupts the next n frame transfers.
func (f *FaultBus) CorruptNext(n int) {
	f.l.Lock()
	defer f.l.Unlock()
	f.corruptNext = n
}

// CorruptAlways corrupts every frame transfer while on is set.
func (f *FaultBus) CorruptAlways(on bool) {
	f.l.Lock()
	defer f.l.Unlock()
	f.corruptAlways = on
}

// FailNext fails the next n transfers.
func (f *FaultBus) FailNext(n int) {
	f.l.Lock()
	defer f.l.Unlock()
	f.failNext = n
}

// SetRates enables random faults. Each frame transfer is corrupted with
// probability corrupt and each transfer fails with probability fail.
func (f *FaultBus) SetRates(seed int64, corrupt, fail float64) {
	f.l.Lock()
	defer f.l.Unlock()
	f.rng = rand.New(rand.NewSource(seed))
	f.corruptRate = corrupt
	f.failRate = fail
}

// Injected returns how many transfers were corrupted and failed so far.
func (f *FaultBus) Injected() (corrupted, failed int) {
	f.l.Lock()
	defer f.l.Unlock()
	return f.corrupted, f.failed
}

func (f *FaultBus) Transfer(reg framefs.Register, buf *framefs.Frame) framefs.Register {
	corrupt, fail := f.decide(reg.Op())

	if fail {
		ans := f.lower.Transfer(reg, buf)
		framefs.LogDebug(framefs.ComponentBus, "injected failure", "reg", reg.String())
		return ans.WithResult(ans.Checksum(), framefs.ResultError)
	}

	if !corrupt {
		return f.lower.Transfer(reg, buf)
	}

	framefs.LogDebug(framefs.ComponentBus, "injected corruption", "reg", reg.String())
	switch reg.Op() {
	case framefs.OpWriteFrame:
		damaged := *buf
		damaged[0] ^= 0xff
		return f.lower.Transfer(reg, &damaged)
	default:
		ans := f.lower.Transfer(reg, buf)
		return ans.WithResult(^ans.Checksum(), ans.Result())
	}
}

func (f *FaultBus) decide(op framefs.Opcode) (corrupt, fail bool) {
	f.l.Lock()
	defer f.l.Unlock()

	switch {
	case f.failNext > 0:
		f.failNext--
		fail = true
	case f.rng != nil && f.failRate > 0 && f.rng.Float64() < f.failRate:
		fail = true
	}
	if fail {
		f.failed++
		return false, true
	}

	if op != framefs.OpReadFrame && op != framefs.OpWriteFrame {
		return false, false
	}

	switch {
	case f.corruptAlways:
		corrupt = true
	case f.corruptNext > 0:
		f.corruptNext--
		corrupt = true
	case f.rng != nil && f.corruptRate > 0 && f.rng.Float64() < f.corruptRate:
		corrupt = true
	}
	if corrupt {
		f.corrupted++
	}
	return corrupt, false
}
