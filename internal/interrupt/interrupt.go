// Package interrupt implements the DMG interrupt controller: the IE/IF
// register pair, IME (with its one-instruction EI delay), and priority
// selection among the five interrupt sources.
//
// Grounded on the IE/IF handling in the teacher's cpu.CPU.Step and
// bus.Bus (internal/cpu/cpu.go, internal/bus/bus.go in the original
// scaffold), split out into its own owning type per the component
// breakdown in the spec.
package interrupt

import "github.com/gbcore/dmgcore/internal/bit"

// Kind identifies one of the five DMG interrupt sources, in priority
// order (VBlank highest).
type Kind uint8

const (
	VBlank Kind = iota
	LCDStat
	Timer
	Serial
	Joypad
)

// Vector returns the fixed dispatch address for a kind.
func (k Kind) Vector() uint16 {
	return 0x40 + uint16(k)*8
}

// Controller owns IE, IF, IME and the EI-delay flag. It never mutates any
// other peripheral; peripherals call Request to set an IF bit, and the CPU
// step loop calls Pending/Acknowledge to dispatch.
type Controller struct {
	IE         uint8
	IF         uint8
	IME        bool
	EnablingIME bool
}

// New returns a freshly reset controller (all registers zero, IME false).
func New() *Controller {
	return &Controller{}
}

// Request sets the IF bit for kind. Safe to call from any peripheral
// (timer, APU length sweep is never a source, PPU, serial, joypad).
func (c *Controller) Request(k Kind) {
	c.IF = bit.Set(uint8(k), c.IF)
}

// Pending returns the highest-priority interrupt whose IE and IF bits are
// both set, or (0, false) if none.
func (c *Controller) Pending() (Kind, bool) {
	masked := c.IE & c.IF & 0x1F
	idx, ok := bit.FirstSet(masked)
	return Kind(idx), ok
}

// Acknowledge clears kind's IF bit.
func (c *Controller) Acknowledge(k Kind) {
	c.IF = bit.Clear(uint8(k), c.IF)
}

// ReadIF returns the IF register as read via the bus: bits 5-7 always read
// as 1.
func (c *Controller) ReadIF() uint8 {
	return 0xE0 | (c.IF & 0x1F)
}

// WriteIF stores the lower five bits of a bus write to 0xFF0F.
func (c *Controller) WriteIF(v uint8) {
	c.IF = v & 0x1F
}

// RequestEI arms the EI delay: IME is raised only after the instruction
// following EI has executed (spec.md §4.2).
func (c *Controller) RequestEI() {
	c.EnablingIME = true
}

// DI clears IME and cancels any pending EI delay synchronously.
func (c *Controller) DI() {
	c.IME = false
	c.EnablingIME = false
}

// EnableNow sets IME immediately and synchronously; used by the CPU step
// loop to commit a pending EI after the instruction following EI has
// executed. (RETI sets IME directly.)
//
// The step loop — not this type — decides *when* to call it: it must
// capture EnablingIME before running the current instruction and only
// commit afterwards, so that an EI two instructions back doesn't let the
// instruction immediately after it be interrupted. See cpu.CPU.Step.
func (c *Controller) EnableNow() {
	c.IME = true
	c.EnablingIME = false
}
