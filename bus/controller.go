// Package bus provides simulated block controllers that speak the framefs
// register protocol.
package bus

import (
	"sync"

	"github.com/keks/framefs"
)

// frameStore holds the frame bytes behind a controller.
type frameStore interface {
	load(idx framefs.FrameIndex, dst *framefs.Frame)
	store(idx framefs.FrameIndex, src *framefs.Frame)
	zero()
}

// Stats counts the transfers a controller has served.
type Stats struct {
	Reads          int
	Writes         int
	ChecksumErrors int
	Errors         int
}

// controller implements the opcode protocol on top of a frameStore.
type controller struct {
	l sync.Mutex

	sum      framefs.Checksummer
	store    frameStore
	capacity int
	on       bool
	closed   bool
	stats    Stats
}

func (c *controller) Transfer(reg framefs.Register, buf *framefs.Frame) framefs.Register {
	c.l.Lock()
	defer c.l.Unlock()

	ans := c.transfer(reg, buf)
	if ans.Result() == framefs.ResultError {
		c.stats.Errors++
		framefs.LogDebug(framefs.ComponentBus, "transfer failed", "reg", reg.String())
	}
	return ans
}

func (c *controller) transfer(reg framefs.Register, buf *framefs.Frame) framefs.Register {
	if c.closed {
		return reg.WithResult(0, framefs.ResultError)
	}

	switch reg.Op() {
	case framefs.OpInitMS:
		c.on = true
		return reg.WithResult(0, framefs.ResultSuccess)

	case framefs.OpPowerOff:
		if !c.on {
			return reg.WithResult(0, framefs.ResultError)
		}
		c.on = false
		return reg.WithResult(0, framefs.ResultSuccess)

	case framefs.OpBZero:
		if !c.on {
			return reg.WithResult(0, framefs.ResultError)
		}
		c.store.zero()
		return reg.WithResult(0, framefs.ResultSuccess)

	case framefs.OpReadFrame:
		if !c.on || buf == nil || int(reg.Frame()) >= c.capacity {
			return reg.WithResult(0, framefs.ResultError)
		}
		c.store.load(reg.Frame(), buf)
		cs, err := c.sum.Sum(buf)
		if err != nil {
			return reg.WithResult(0, framefs.ResultError)
		}
		c.stats.Reads++
		return reg.WithResult(cs, framefs.ResultSuccess)

	case framefs.OpWriteFrame:
		if !c.on || buf == nil || int(reg.Frame()) >= c.capacity {
			return reg.WithResult(0, framefs.ResultError)
		}
		cs, err := c.sum.Sum(buf)
		if err != nil {
			return reg.WithResult(0, framefs.ResultError)
		}
		if cs != reg.Checksum() {
			// payload arrived damaged, report what we actually got
			c.stats.ChecksumErrors++
			return reg.WithResult(cs, framefs.ResultChecksumError)
		}
		c.store.store(reg.Frame(), buf)
		c.stats.Writes++
		return reg.WithResult(cs, framefs.ResultSuccess)

	default:
		return reg.WithResult(0, framefs.ResultError)
	}
}

// Stats returns a snapshot of the transfer counters.
func (c *controller) Stats() Stats {
	c.l.Lock()
	defer c.l.Unlock()
	return c.stats
}

// PoweredOn reports whether the controller has been initialized and not
// powered off since.
func (c *controller) PoweredOn() bool {
	c.l.Lock()
	defer c.l.Unlock()
	return c.on
}

// Capacity returns the number of addressable frames.
func (c *controller) Capacity() int {
	return c.capacity
}
