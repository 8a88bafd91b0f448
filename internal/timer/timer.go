// Package timer implements the DMG divider/TIMA timer: DIV at 0xFF04,
// TIMA/TMA/TAC at 0xFF05-07, the edge-triggered TIMA increment, the
// 4-t-cycle overflow-reload delay, and the DIV-write glitch.
//
// Grounded on the Tick/timerInput/incrementTIMA logic in the teacher's
// bus.Bus (internal/bus/bus.go), pulled into its own owning type per the
// spec's component breakdown (Timer, ~6% of the core).
package timer

import "github.com/gbcore/dmgcore/internal/interrupt"

// selectBit maps TAC's clock-select bits to the divider bit TIMA is
// edge-triggered from (spec.md §4.3).
var selectBit = [4]uint8{9, 3, 5, 7}

// Timer owns the free-running 16-bit divider and the TIMA/TMA/TAC
// registers. It requests the Timer interrupt through the shared
// interrupt.Controller rather than holding a back-pointer to the CPU.
type Timer struct {
	divInternal uint16
	tima        uint8
	tma         uint8
	tac         uint8

	// reloadDelay counts down the 4 t-cycles between TIMA overflowing to
	// 0x00 and it being reloaded from TMA; 0 means no reload pending.
	reloadDelay int

	ic *interrupt.Controller
}

// New returns a Timer that requests interrupts through ic.
func New(ic *interrupt.Controller) *Timer {
	return &Timer{ic: ic}
}

// DIV returns the upper 8 bits of the internal divider, as read at 0xFF04.
func (t *Timer) DIV() uint8 { return uint8(t.divInternal >> 8) }

// WriteDIV resets the internal divider to zero. Because TIMA increments
// are edge-triggered on a divider bit, a reset that causes a 1->0
// transition of the currently selected bit produces a spurious TIMA
// increment (the DIV-TIMA glitch).
func (t *Timer) WriteDIV() {
	old := t.input()
	t.divInternal = 0
	if old && !t.input() {
		t.incrementTIMA()
	}
}

// TIMA returns the current TIMA value, including the 4-t-cycle window
// right after an overflow where it reads 0x00.
func (t *Timer) TIMA() uint8 { return t.tima }

// WriteTIMA stores a CPU write to TIMA. A write made during the pending
// overflow-reload window cancels the reload.
func (t *Timer) WriteTIMA(v uint8) {
	t.tima = v
	t.reloadDelay = 0
}

// TMA returns TMA.
func (t *Timer) TMA() uint8 { return t.tma }

// WriteTMA stores TMA.
func (t *Timer) WriteTMA(v uint8) { t.tma = v }

// TAC returns TAC as read via the bus: bits 3-7 always read as 1.
func (t *Timer) TAC() uint8 { return 0xF8 | (t.tac & 0x07) }

// WriteTAC stores TAC's low 3 bits. Changing the clock select (or the
// enable bit) can itself cause a falling edge on the timer input,
// triggering the same glitch as a DIV write.
func (t *Timer) WriteTAC(v uint8) {
	old := t.input()
	t.tac = v & 0x07
	if old && !t.input() {
		t.incrementTIMA()
	}
}

// Tick advances the timer by one t-cycle. The CPU calls this once per
// t-cycle delivered by its cycle callback (spec.md §2).
func (t *Timer) Tick() {
	old := t.input()
	t.divInternal++
	falling := old && !t.input()

	if t.reloadDelay > 0 {
		t.reloadDelay--
		if t.reloadDelay == 0 {
			t.tima = t.tma
			t.ic.Request(interrupt.Timer)
		}
	}

	if falling {
		t.incrementTIMA()
	}
}

// input is the current state of the TAC-gated, divider-bit timer clock
// input whose falling edge clocks TIMA.
func (t *Timer) input() bool {
	if t.tac&0x04 == 0 {
		return false
	}
	bit := selectBit[t.tac&0x03]
	return (t.divInternal>>bit)&1 != 0
}

func (t *Timer) incrementTIMA() {
	if t.reloadDelay > 0 {
		// A reload is already pending from a prior overflow this window;
		// TIMA reads 0x00 until it resolves.
		return
	}
	if t.tima == 0xFF {
		t.tima = 0x00
		t.reloadDelay = 4
		return
	}
	t.tima++
}

// State is the serializable snapshot of the timer for save-states.
type State struct {
	DivInternal uint16
	TIMA        uint8
	TMA         uint8
	TAC         uint8
	ReloadDelay int
}

// Save returns a snapshot of the timer's state.
func (t *Timer) Save() State {
	return State{t.divInternal, t.tima, t.tma, t.tac, t.reloadDelay}
}

// Restore installs a previously saved state.
func (t *Timer) Restore(s State) {
	t.divInternal = s.DivInternal
	t.tima = s.TIMA
	t.tma = s.TMA
	t.tac = s.TAC
	t.reloadDelay = s.ReloadDelay
}
