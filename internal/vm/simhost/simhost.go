// Package simhost provides a software-simulated vm.HostInterface for
// host-side testing and the cockpit-vm CLI runner. Real chip-specific HAL
// register programming is out of scope (§1); this package stands in for it
// the way the teacher's devices.go stands in for real hardware devices —
// in-process state behind the same capability trait the VM dispatches
// through.
package simhost

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cms-pm/cockpit-sub008/internal/vm"
)

const maxPins = 64

// Host is an in-memory HostInterface: GPIO pins are simple latched state,
// clocks derive from a monotonic start time, and serial output is captured
// to a strings.Builder so tests and the CLI runner can inspect what a
// program printed.
type Host struct {
	start time.Time

	modes   [maxPins]vm.PinMode
	digital [maxPins]uint8
	analog  [maxPins]uint16
	pressed [maxPins]bool

	out strings.Builder

	// tickMs (used when useReal is false) lets tests pin a deterministic
	// clock instead of real time.
	tickMs atomic.Int64
	useReal bool
}

// New constructs a Host whose clock starts now.
func New() *Host {
	return &Host{start: time.Now(), useReal: true}
}

// NewDeterministic constructs a Host whose TickMs/TickUs never advance on
// their own; call Advance to move the clock forward. Useful for DELAY-heavy
// program tests that must not depend on wall-clock scheduling jitter.
func NewDeterministic() *Host {
	return &Host{useReal: false}
}

// Advance moves a deterministic Host's clock forward by ms milliseconds.
func (h *Host) Advance(ms uint32) { h.tickMs.Add(int64(ms)) }

// Output returns everything written via SerialWriteStr so far.
func (h *Host) Output() string { return h.out.String() }

func (h *Host) GPIOConfig(pin uint8, mode vm.PinMode) vm.HostStatus {
	if int(pin) >= maxPins {
		return vm.HostUnsupported
	}
	h.modes[pin] = mode
	return vm.HostOK
}

func (h *Host) GPIOWrite(pin uint8, value uint8) vm.HostStatus {
	if int(pin) >= maxPins {
		return vm.HostUnsupported
	}
	h.digital[pin] = value
	return vm.HostOK
}

func (h *Host) GPIORead(pin uint8) (uint8, vm.HostStatus) {
	if int(pin) >= maxPins {
		return 0, vm.HostUnsupported
	}
	return h.digital[pin], vm.HostOK
}

func (h *Host) AnalogWrite(pin uint8, value uint16) vm.HostStatus {
	if int(pin) >= maxPins {
		return vm.HostUnsupported
	}
	h.analog[pin] = value
	return vm.HostOK
}

func (h *Host) AnalogRead(pin uint8) (uint16, vm.HostStatus) {
	if int(pin) >= maxPins {
		return 0, vm.HostUnsupported
	}
	return h.analog[pin], vm.HostOK
}

func (h *Host) DelayMs(ms uint32) vm.HostStatus {
	if !h.useReal {
		h.Advance(ms)
		return vm.HostOK
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return vm.HostOK
}

func (h *Host) TickMs() uint32 {
	if !h.useReal {
		return uint32(h.tickMs.Load())
	}
	return uint32(time.Since(h.start).Milliseconds())
}

func (h *Host) TickUs() uint32 {
	if !h.useReal {
		return uint32(h.tickMs.Load()) * 1000
	}
	return uint32(time.Since(h.start).Microseconds())
}

func (h *Host) SerialWriteStr(handle uint8, s string) vm.HostStatus {
	h.out.WriteString(s)
	return vm.HostOK
}

func (h *Host) ButtonPressed(pin uint8) (bool, vm.HostStatus) {
	if int(pin) >= maxPins {
		return false, vm.HostUnsupported
	}
	return h.pressed[pin], vm.HostOK
}

func (h *Host) ButtonReleased(pin uint8) (bool, vm.HostStatus) {
	if int(pin) >= maxPins {
		return false, vm.HostUnsupported
	}
	return !h.pressed[pin], vm.HostOK
}

// SetButton lets a test or CLI driver script a button transition.
func (h *Host) SetButton(pin uint8, down bool) error {
	if int(pin) >= maxPins {
		return fmt.Errorf("simhost: pin %d out of range", pin)
	}
	h.pressed[pin] = down
	return nil
}

var _ vm.HostInterface = (*Host)(nil)
