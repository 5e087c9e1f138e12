// Package driver maps named files onto chains of frames held by a block
// controller.
package driver

import (
	"fmt"
	"sync"

	"github.com/keks/framefs"
)

// System is the driver state: power, file table and frame allocator.
// It starts powered off. All methods are safe to call from several
// goroutines, though a handle is meant to be driven by one caller.
type System struct {
	l sync.Mutex

	xfer  transferEngine
	files fileTable
	alloc allocator
	on    bool
}

// Option configures a System.
type Option func(*System)

// WithRetryBudget sets the number of attempts per frame transfer.
func WithRetryBudget(n int) Option {
	return func(s *System) {
		if n > 0 {
			s.xfer.retries = n
		}
	}
}

// WithMaxFiles sets the capacity of the file table.
func WithMaxFiles(n int) Option {
	return func(s *System) {
		if n > 0 {
			s.files.max = n
		}
	}
}

// WithCapacity sets the number of frames the allocator may hand out.
func WithCapacity(frames int) Option {
	return func(s *System) {
		if frames > 0 && frames <= framefs.BlockCapacityFrames {
			s.alloc.capacity = frames
		}
	}
}

// WithChecksummer sets the checksum used on transfers. It must match the
// controller's.
func WithChecksummer(sum framefs.Checksummer) Option {
	return func(s *System) {
		s.xfer.sum = sum
	}
}

// New returns a powered-off System driving bus.
func New(bus framefs.Bus, opts ...Option) *System {
	s := &System{
		xfer: transferEngine{
			bus:     bus,
			sum:     framefs.NewChecksummer(framefs.MD5),
			retries: DefaultRetryBudget,
		},
		files: fileTable{max: framefs.MaxFiles},
		alloc: allocator{capacity: framefs.BlockCapacityFrames},
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PowerOn initializes the controller and starts with an empty file table and
// allocator. Calling it on a running system re-initializes it.
func (s *System) PowerOn() error {
	s.l.Lock()
	defer s.l.Unlock()

	if err := s.xfer.control(framefs.OpInitMS); err != nil {
		framefs.LogError(framefs.ComponentDriver, "power on failed", "err", err)
		return fmt.Errorf("power on: %w", err)
	}

	s.files.reset()
	s.alloc.reset()
	s.on = true

	framefs.LogInfo(framefs.ComponentDriver, "powered on")
	return nil
}

// PowerOff shuts the controller down. In-memory file state is dropped.
func (s *System) PowerOff() error {
	s.l.Lock()
	defer s.l.Unlock()

	if !s.on {
		return fmt.Errorf("power off: %w", framefs.ErrPoweredOff)
	}

	if err := s.xfer.control(framefs.OpPowerOff); err != nil {
		framefs.LogError(framefs.ComponentDriver, "power off failed", "err", err)
		return fmt.Errorf("power off: %w", err)
	}

	s.files.reset()
	s.alloc.reset()
	s.on = false

	framefs.LogInfo(framefs.ComponentDriver, "powered off")
	return nil
}

// PoweredOn reports whether the system is powered on.
func (s *System) PoweredOn() bool {
	s.l.Lock()
	defer s.l.Unlock()
	return s.on
}

// Open opens path, creating it with one frame if it is new. Reopening a
// closed file rewinds it to offset 0.
func (s *System) Open(path string) (framefs.Handle, error) {
	s.l.Lock()
	defer s.l.Unlock()

	if !s.on {
		return -1, fmt.Errorf("open %q: %w", path, framefs.ErrPoweredOff)
	}
	return s.files.open(path, &s.alloc)
}

// Close closes h. The file's frames stay allocated.
func (s *System) Close(h framefs.Handle) error {
	s.l.Lock()
	defer s.l.Unlock()

	if _, err := s.validate(h); err != nil {
		return err
	}
	return s.files.close(h)
}

// Stat describes the file behind an open handle.
func (s *System) Stat(h framefs.Handle) (framefs.Stat, error) {
	s.l.Lock()
	defer s.l.Unlock()

	f, err := s.validate(h)
	if err != nil {
		return framefs.Stat{}, err
	}
	return f.stat(), nil
}

// Chain returns a copy of the frame chain of an open file.
func (s *System) Chain(h framefs.Handle) ([]framefs.FrameIndex, error) {
	s.l.Lock()
	defer s.l.Unlock()

	f, err := s.validate(h)
	if err != nil {
		return nil, err
	}
	return append([]framefs.FrameIndex(nil), f.chain...), nil
}

// FramesAllocated returns the number of frames handed out since power on.
func (s *System) FramesAllocated() int {
	s.l.Lock()
	defer s.l.Unlock()
	return s.alloc.used()
}

// validate checks power, handle range and open state, in that order.
func (s *System) validate(h framefs.Handle) (*file, error) {
	if !s.on {
		return nil, fmt.Errorf("handle %d: %w", h, framefs.ErrPoweredOff)
	}
	return s.files.get(h)
}
