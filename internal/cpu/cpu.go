// Package cpu implements the SM83 instruction set and its step loop:
// fetch/decode/execute, flag handling, HALT/STOP, and interrupt dispatch.
// Every bus access ticks the rest of the machine as it happens, so
// peripherals observe cycles in the order the CPU actually produces them
// rather than all at once after the instruction finishes.
package cpu

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/gbcore/dmgcore/internal/bus"
	"github.com/gbcore/dmgcore/internal/interrupt"
)

// UnknownOpcodeError is returned by Step when PC lands on one of the SM83's
// undefined opcodes. Real hardware locks up; the CPU mirrors that by
// refusing to execute anything further once this fires.
type UnknownOpcodeError struct {
	Op byte
	PC uint16
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown opcode %02X at %04X", e.Op, e.PC)
}

// CPU implements the SM83 core: registers, flags, the fetch/execute loop,
// and interrupt/HALT/STOP handling. It holds no peripheral state of its
// own — everything memory-mapped lives on the bus.
type CPU struct {
	A, F byte
	B, C byte
	D, E byte
	H, L byte

	SP uint16
	PC uint16

	halted bool
	locked bool
	lockedOp byte

	bus *bus.Bus
	ic  *interrupt.Controller

	curCycles int
}

// New creates a CPU wired to b, sharing b's interrupt controller.
func New(b *bus.Bus) *CPU {
	return &CPU{bus: b, ic: b.Interrupts(), SP: 0xFFFE, PC: 0x0000}
}

// SetPC allows tests or a boot stub to set the program counter.
func (c *CPU) SetPC(pc uint16) { c.PC = pc }

// Bus exposes the underlying bus for tests/tools.
func (c *CPU) Bus() *bus.Bus { return c.bus }

// Halted reports whether the core is in HALT, asleep until an interrupt.
func (c *CPU) Halted() bool { return c.halted }

// Locked reports whether Step has hit an undefined opcode and stopped
// executing.
func (c *CPU) Locked() bool { return c.locked }

// ResetNoBoot sets registers to typical DMG post-boot state. Useful when
// running without a boot ROM.
func (c *CPU) ResetNoBoot() {
	c.A, c.F = 0x01, 0xB0
	c.B, c.C = 0x00, 0x13
	c.D, c.E = 0x00, 0xD8
	c.H, c.L = 0x01, 0x4D
	c.SP = 0xFFFE
	c.halted = false
	c.locked = false
}

// cpuState is the gob-serializable snapshot of everything Machine-level
// save states need beyond what the Bus already captures: the registers
// and the HALT/lock flags, which the bus never sees.
type cpuState struct {
	A, F byte
	B, C byte
	D, E byte
	H, L byte
	SP, PC uint16
	Halted, Locked bool
	LockedOp byte
}

// SaveState serializes the register file and HALT/lock flags. It does not
// include bus-owned state; callers pair this with bus.Bus.SaveState (see
// emu.Machine.SaveStateToFile).
func (c *CPU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(cpuState{
		A: c.A, F: c.F, B: c.B, C: c.C, D: c.D, E: c.E, H: c.H, L: c.L,
		SP: c.SP, PC: c.PC,
		Halted: c.halted, Locked: c.locked, LockedOp: c.lockedOp,
	})
	return buf.Bytes()
}

// LoadState restores a snapshot written by SaveState. Decode errors leave
// the CPU untouched.
func (c *CPU) LoadState(data []byte) {
	var s cpuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L = s.A, s.F, s.B, s.C, s.D, s.E, s.H, s.L
	c.SP, c.PC = s.SP, s.PC
	c.halted, c.locked, c.lockedOp = s.Halted, s.Locked, s.LockedOp
}

const (
	flagZ byte = 1 << 7
	flagN byte = 1 << 6
	flagH byte = 1 << 5
	flagC byte = 1 << 4
)

func (c *CPU) setZNHC(z, n, h, carry bool) {
	var f byte
	if z {
		f |= flagZ
	}
	if n {
		f |= flagN
	}
	if h {
		f |= flagH
	}
	if carry {
		f |= flagC
	}
	c.F = f
}

func (c *CPU) add8(a, b byte) (res byte, z, n, h, cy bool) {
	r := uint16(a) + uint16(b)
	res = byte(r)
	z = res == 0
	h = ((a & 0x0F) + (b & 0x0F)) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) adc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := uint16(a) + uint16(b) + uint16(ci)
	res = byte(r)
	z = res == 0
	h = ((a & 0x0F) + (b & 0x0F) + ci) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) sub8(a, b byte) (res byte, z, n, h, cy bool) {
	r := int16(a) - int16(b)
	res = byte(r)
	z = res == 0
	n = true
	h = (a & 0x0F) < (b & 0x0F)
	cy = int16(a) < int16(b)
	return
}

func (c *CPU) sbc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := int16(a) - int16(b) - int16(ci)
	res = byte(r)
	z = res == 0
	n = true
	h = (a & 0x0F) < ((b & 0x0F) + ci)
	cy = int16(a) < int16(b)+int16(ci)
	return
}

func (c *CPU) and8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a & b
	z = res == 0
	h = true
	return
}

func (c *CPU) xor8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a ^ b
	z = res == 0
	return
}

func (c *CPU) or8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a | b
	z = res == 0
	return
}

func (c *CPU) cp8(a, b byte) (z, n, h, cy bool) {
	_, z, n, h, cy = c.sub8(a, b)
	return
}

// tick4 advances every bus-owned peripheral by one m-cycle (4 t-cycles).
// Every bus access and every pure-internal m-cycle calls this exactly
// once, which is what makes peripheral ticks interleave with the middle
// of an instruction instead of arriving in one lump after it.
func (c *CPU) tick4() {
	c.bus.Tick(4)
	c.curCycles += 4
}

// internal accounts for an m-cycle the CPU spends with no bus access
// (an ALU step on 16-bit registers, a condition test, decrementing SP).
func (c *CPU) internal() { c.tick4() }

func (c *CPU) read8(addr uint16) byte {
	v := c.bus.Read(addr)
	c.tick4()
	return v
}

func (c *CPU) write8(addr uint16, v byte) {
	c.bus.Write(addr, v)
	c.tick4()
}

func (c *CPU) fetch8() byte {
	v := c.bus.Read(c.PC)
	c.PC++
	c.tick4()
	return v
}

func (c *CPU) fetch16() uint16 {
	lo := uint16(c.fetch8())
	hi := uint16(c.fetch8())
	return lo | (hi << 8)
}

func (c *CPU) read16(addr uint16) uint16 {
	lo := uint16(c.read8(addr))
	hi := uint16(c.read8(addr + 1))
	return lo | (hi << 8)
}

func (c *CPU) write16(addr uint16, v uint16) {
	c.write8(addr, byte(v&0x00FF))
	c.write8(addr+1, byte(v>>8))
}

func (c *CPU) getAF() uint16  { return uint16(c.A)<<8 | uint16(c.F&0xF0) }
func (c *CPU) setAF(v uint16) { c.A = byte(v >> 8); c.F = byte(v) & 0xF0 }
func (c *CPU) getBC() uint16  { return uint16(c.B)<<8 | uint16(c.C) }
func (c *CPU) setBC(v uint16) { c.B = byte(v >> 8); c.C = byte(v) }
func (c *CPU) getDE() uint16  { return uint16(c.D)<<8 | uint16(c.E) }
func (c *CPU) setDE(v uint16) { c.D = byte(v >> 8); c.E = byte(v) }
func (c *CPU) getHL() uint16  { return uint16(c.H)<<8 | uint16(c.L) }
func (c *CPU) setHL(v uint16) { c.H = byte(v >> 8); c.L = byte(v) }

// push16 spends the SP-decrement as its own internal m-cycle, then writes
// the high then low byte — 3 m-cycles total, matching PUSH rr / CALL / RST.
func (c *CPU) push16(v uint16) {
	c.internal()
	c.SP--
	c.write8(c.SP, byte(v>>8))
	c.SP--
	c.write8(c.SP, byte(v))
}

func (c *CPU) pop16() uint16 {
	lo := uint16(c.read8(c.SP))
	c.SP++
	hi := uint16(c.read8(c.SP))
	c.SP++
	return lo | (hi << 8)
}

// serviceInterrupt runs the formal 5 m-cycle dispatch: two idle cycles,
// push PC high, push PC low, then clear IME/IF and jump to the vector.
func (c *CPU) serviceInterrupt(k interrupt.Kind) {
	c.halted = false
	c.internal()
	c.internal()
	hi := byte(c.PC >> 8)
	lo := byte(c.PC)
	c.SP--
	c.write8(c.SP, hi)
	c.SP--
	c.write8(c.SP, lo)
	c.ic.IME = false
	c.ic.Acknowledge(k)
	c.PC = k.Vector()
	c.internal()
}

var illegalOpcodes = map[byte]bool{
	0xD3: true, 0xDB: true, 0xDD: true, 0xE3: true, 0xE4: true,
	0xEB: true, 0xEC: true, 0xED: true, 0xF4: true, 0xFC: true, 0xFD: true,
}

// Step executes one instruction (or services one pending interrupt, or
// advances HALT by one m-cycle) and returns the t-cycles it consumed.
// Every sub-step ticks the bus as it happens; the returned count is just
// the running total, not a lump applied afterward.
func (c *CPU) Step() (int, error) {
	c.curCycles = 0

	if c.locked {
		return 0, &UnknownOpcodeError{Op: c.lockedOp, PC: c.PC}
	}

	// EnablingIME, if armed by an EI in the previous Step call, commits now — after
	// the instruction following EI has fully executed, not during it. See
	// interrupt.Controller.EnableNow.
	pendingCommit := c.ic.EnablingIME

	if c.halted {
		if k, ok := c.ic.Pending(); ok {
			if c.ic.IME {
				c.serviceInterrupt(k)
				c.commitEI(pendingCommit)
				return c.curCycles, nil
			}
			c.halted = false
		} else {
			c.internal()
			c.commitEI(pendingCommit)
			return c.curCycles, nil
		}
	}

	if c.ic.IME {
		if k, ok := c.ic.Pending(); ok {
			c.serviceInterrupt(k)
			c.commitEI(pendingCommit)
			return c.curCycles, nil
		}
	}

	if err := c.execute(); err != nil {
		c.commitEI(pendingCommit)
		return c.curCycles, err
	}
	c.commitEI(pendingCommit)
	return c.curCycles, nil
}

func (c *CPU) commitEI(pendingCommit bool) {
	if pendingCommit && c.ic.EnablingIME {
		c.ic.EnableNow()
	}
}

func (c *CPU) regGet(idx byte) byte {
	switch idx {
	case 0:
		return c.B
	case 1:
		return c.C
	case 2:
		return c.D
	case 3:
		return c.E
	case 4:
		return c.H
	case 5:
		return c.L
	case 6:
		return c.read8(c.getHL())
	default:
		return c.A
	}
}

func (c *CPU) regSet(idx byte, val byte) {
	switch idx {
	case 0:
		c.B = val
	case 1:
		c.C = val
	case 2:
		c.D = val
	case 3:
		c.E = val
	case 4:
		c.H = val
	case 5:
		c.L = val
	case 6:
		c.write8(c.getHL(), val)
	default:
		c.A = val
	}
}

func (c *CPU) execute() error {
	op := c.fetch8()

	if illegalOpcodes[op] {
		c.locked = true
		c.lockedOp = op
		return &UnknownOpcodeError{Op: op, PC: c.PC - 1}
	}

	switch op {
	case 0x00: // NOP

	case 0x10: // STOP
		c.fetch8() // padding byte
		c.bus.Write(0xFF04, 0)

	// LD r, d8
	case 0x06:
		c.B = c.fetch8()
	case 0x0E:
		c.C = c.fetch8()
	case 0x16:
		c.D = c.fetch8()
	case 0x1E:
		c.E = c.fetch8()
	case 0x26:
		c.H = c.fetch8()
	case 0x2E:
		c.L = c.fetch8()
	case 0x3E:
		c.A = c.fetch8()

	case 0x76: // HALT
		c.halted = true

	// LD r,r' and LD (HL),r / LD r,(HL)
	case 0x40, 0x41, 0x42, 0x43, 0x44, 0x45, 0x47,
		0x48, 0x49, 0x4A, 0x4B, 0x4C, 0x4D, 0x4F,
		0x50, 0x51, 0x52, 0x53, 0x54, 0x55, 0x57,
		0x58, 0x59, 0x5A, 0x5B, 0x5C, 0x5D, 0x5F,
		0x60, 0x61, 0x62, 0x63, 0x64, 0x65, 0x67,
		0x68, 0x69, 0x6A, 0x6B, 0x6C, 0x6D, 0x6F,
		0x70, 0x71, 0x72, 0x73, 0x74, 0x75, 0x77,
		0x78, 0x79, 0x7A, 0x7B, 0x7C, 0x7D, 0x7F:
		d := (op >> 3) & 7
		s := op & 7
		c.regSet(d, c.regGet(s))

	// 16-bit loads
	case 0x01:
		c.setBC(c.fetch16())
	case 0x11:
		c.setDE(c.fetch16())
	case 0x21:
		c.setHL(c.fetch16())
	case 0x31:
		c.SP = c.fetch16()
	case 0x08: // LD (a16),SP
		addr := c.fetch16()
		c.write16(addr, c.SP)

	case 0x36: // LD (HL),d8
		v := c.fetch8()
		c.write8(c.getHL(), v)

	case 0x02:
		c.write8(c.getBC(), c.A)
	case 0x12:
		c.write8(c.getDE(), c.A)
	case 0x0A:
		c.A = c.read8(c.getBC())
	case 0x1A:
		c.A = c.read8(c.getDE())

	case 0x22: // LD (HL+),A
		hl := c.getHL()
		c.write8(hl, c.A)
		c.setHL(hl + 1)
	case 0x2A: // LD A,(HL+)
		hl := c.getHL()
		c.A = c.read8(hl)
		c.setHL(hl + 1)
	case 0x32: // LD (HL-),A
		hl := c.getHL()
		c.write8(hl, c.A)
		c.setHL(hl - 1)
	case 0x3A: // LD A,(HL-)
		hl := c.getHL()
		c.A = c.read8(hl)
		c.setHL(hl - 1)

	case 0xE0: // LDH (a8),A
		n := uint16(c.fetch8())
		c.write8(0xFF00+n, c.A)
	case 0xF0: // LDH A,(a8)
		n := uint16(c.fetch8())
		c.A = c.read8(0xFF00 + n)
	case 0xE2: // LD (C),A
		c.write8(0xFF00+uint16(c.C), c.A)
	case 0xF2: // LD A,(C)
		c.A = c.read8(0xFF00 + uint16(c.C))

	case 0x07: // RLCA
		cval := (c.A >> 7) & 1
		c.A = (c.A << 1) | cval
		c.setZNHC(false, false, false, cval == 1)
	case 0x0F: // RRCA
		cval := c.A & 1
		c.A = (c.A >> 1) | (cval << 7)
		c.setZNHC(false, false, false, cval == 1)
	case 0x17: // RLA
		cval := (c.A >> 7) & 1
		carry := byte(0)
		if (c.F & flagC) != 0 {
			carry = 1
		}
		c.A = (c.A << 1) | carry
		c.setZNHC(false, false, false, cval == 1)
	case 0x1F: // RRA
		cval := c.A & 1
		carry := byte(0)
		if (c.F & flagC) != 0 {
			carry = 1
		}
		c.A = (c.A >> 1) | (carry << 7)
		c.setZNHC(false, false, false, cval == 1)
	case 0x27: // DAA
		a := c.A
		cf := (c.F & flagC) != 0
		if (c.F & flagN) == 0 {
			if cf || a > 0x99 {
				a += 0x60
				cf = true
			}
			if (c.F&flagH) != 0 || (a&0x0F) > 9 {
				a += 0x06
			}
		} else {
			if cf {
				a -= 0x60
			}
			if (c.F & flagH) != 0 {
				a -= 0x06
			}
		}
		c.A = a
		c.setZNHC(c.A == 0, (c.F&flagN) != 0, false, cf)
	case 0x2F: // CPL
		c.A = ^c.A
		c.F = (c.F & (flagZ | flagC)) | flagN | flagH
	case 0x37: // SCF
		c.F = (c.F & flagZ) | flagC
	case 0x3F: // CCF
		newC := (c.F & flagC) == 0
		var f byte
		if (c.F & flagZ) != 0 {
			f |= flagZ
		}
		if newC {
			f |= flagC
		}
		c.F = f

	// INC/DEC r
	case 0x04:
		old := c.B
		c.B++
		c.setZNHC(c.B == 0, false, (old&0x0F) == 0x0F, (c.F&flagC) != 0)
	case 0x0C:
		old := c.C
		c.C++
		c.setZNHC(c.C == 0, false, (old&0x0F) == 0x0F, (c.F&flagC) != 0)
	case 0x14:
		old := c.D
		c.D++
		c.setZNHC(c.D == 0, false, (old&0x0F) == 0x0F, (c.F&flagC) != 0)
	case 0x1C:
		old := c.E
		c.E++
		c.setZNHC(c.E == 0, false, (old&0x0F) == 0x0F, (c.F&flagC) != 0)
	case 0x24:
		old := c.H
		c.H++
		c.setZNHC(c.H == 0, false, (old&0x0F) == 0x0F, (c.F&flagC) != 0)
	case 0x2C:
		old := c.L
		c.L++
		c.setZNHC(c.L == 0, false, (old&0x0F) == 0x0F, (c.F&flagC) != 0)
	case 0x3C:
		old := c.A
		c.A++
		c.setZNHC(c.A == 0, false, (old&0x0F) == 0x0F, (c.F&flagC) != 0)
	case 0x34: // INC (HL)
		addr := c.getHL()
		v := c.read8(addr)
		old := v
		v++
		c.write8(addr, v)
		c.setZNHC(v == 0, false, (old&0x0F) == 0x0F, (c.F&flagC) != 0)

	case 0x05:
		old := c.B
		c.B--
		c.setZNHC(c.B == 0, true, (old&0x0F) == 0x00, (c.F&flagC) != 0)
	case 0x0D:
		old := c.C
		c.C--
		c.setZNHC(c.C == 0, true, (old&0x0F) == 0x00, (c.F&flagC) != 0)
	case 0x15:
		old := c.D
		c.D--
		c.setZNHC(c.D == 0, true, (old&0x0F) == 0x00, (c.F&flagC) != 0)
	case 0x1D:
		old := c.E
		c.E--
		c.setZNHC(c.E == 0, true, (old&0x0F) == 0x00, (c.F&flagC) != 0)
	case 0x25:
		old := c.H
		c.H--
		c.setZNHC(c.H == 0, true, (old&0x0F) == 0x00, (c.F&flagC) != 0)
	case 0x2D:
		old := c.L
		c.L--
		c.setZNHC(c.L == 0, true, (old&0x0F) == 0x00, (c.F&flagC) != 0)
	case 0x3D:
		old := c.A
		c.A--
		c.setZNHC(c.A == 0, true, (old&0x0F) == 0x00, (c.F&flagC) != 0)
	case 0x35: // DEC (HL)
		addr := c.getHL()
		v := c.read8(addr)
		old := v
		v--
		c.write8(addr, v)
		c.setZNHC(v == 0, true, (old&0x0F) == 0x00, (c.F&flagC) != 0)

	// ALU with registers and (HL) (regGet(6) reads through HL)
	case 0x80, 0x81, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87:
		r, z, n, h, cy := c.add8(c.A, c.regGet(op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0x88, 0x89, 0x8A, 0x8B, 0x8C, 0x8D, 0x8E, 0x8F:
		r, z, n, h, cy := c.adc8(c.A, c.regGet(op&7), (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0x90, 0x91, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97:
		r, z, n, h, cy := c.sub8(c.A, c.regGet(op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0x98, 0x99, 0x9A, 0x9B, 0x9C, 0x9D, 0x9E, 0x9F:
		r, z, n, h, cy := c.sbc8(c.A, c.regGet(op&7), (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7:
		r, z, n, h, cy := c.and8(c.A, c.regGet(op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0xA8, 0xA9, 0xAA, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF:
		r, z, n, h, cy := c.xor8(c.A, c.regGet(op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB6, 0xB7:
		r, z, n, h, cy := c.or8(c.A, c.regGet(op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0xB8, 0xB9, 0xBA, 0xBB, 0xBC, 0xBD, 0xBE, 0xBF:
		z, n, h, cy := c.cp8(c.A, c.regGet(op&7))
		c.setZNHC(z, n, h, cy)

	// ALU immediate
	case 0xC6:
		r, z, n, h, cy := c.add8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0xCE:
		r, z, n, h, cy := c.adc8(c.A, c.fetch8(), (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0xD6:
		r, z, n, h, cy := c.sub8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0xDE:
		r, z, n, h, cy := c.sbc8(c.A, c.fetch8(), (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0xE6:
		r, z, n, h, cy := c.and8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0xEE:
		r, z, n, h, cy := c.xor8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0xF6:
		r, z, n, h, cy := c.or8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 0xFE:
		z, n, h, cy := c.cp8(c.A, c.fetch8())
		c.setZNHC(z, n, h, cy)

	case 0xEA: // LD (a16),A
		addr := c.fetch16()
		c.write8(addr, c.A)
	case 0xFA: // LD A,(a16)
		addr := c.fetch16()
		c.A = c.read8(addr)

	case 0xC3: // JP a16
		addr := c.fetch16()
		c.PC = addr
		c.internal()
	case 0xE9: // JP (HL)
		c.PC = c.getHL()
	case 0x18: // JR r8
		off := int8(c.fetch8())
		c.PC = uint16(int32(c.PC) + int32(off))
		c.internal()

	case 0x20: // JR NZ
		off := int8(c.fetch8())
		if (c.F & flagZ) == 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			c.internal()
		}
	case 0x28: // JR Z
		off := int8(c.fetch8())
		if (c.F & flagZ) != 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			c.internal()
		}
	case 0x30: // JR NC
		off := int8(c.fetch8())
		if (c.F & flagC) == 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			c.internal()
		}
	case 0x38: // JR C
		off := int8(c.fetch8())
		if (c.F & flagC) != 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			c.internal()
		}

	case 0xCD: // CALL a16
		addr := c.fetch16()
		c.push16(c.PC)
		c.PC = addr
	case 0xC9: // RET
		c.PC = c.pop16()
		c.internal()
	case 0xD9: // RETI
		c.PC = c.pop16()
		c.ic.IME = true
		c.internal()

	case 0xC7:
		c.push16(c.PC)
		c.PC = 0x00
	case 0xCF:
		c.push16(c.PC)
		c.PC = 0x08
	case 0xD7:
		c.push16(c.PC)
		c.PC = 0x10
	case 0xDF:
		c.push16(c.PC)
		c.PC = 0x18
	case 0xE7:
		c.push16(c.PC)
		c.PC = 0x20
	case 0xEF:
		c.push16(c.PC)
		c.PC = 0x28
	case 0xF7:
		c.push16(c.PC)
		c.PC = 0x30
	case 0xFF:
		c.push16(c.PC)
		c.PC = 0x38

	case 0xC4: // CALL NZ
		addr := c.fetch16()
		if (c.F & flagZ) == 0 {
			c.push16(c.PC)
			c.PC = addr
		}
	case 0xCC: // CALL Z
		addr := c.fetch16()
		if (c.F & flagZ) != 0 {
			c.push16(c.PC)
			c.PC = addr
		}
	case 0xD4: // CALL NC
		addr := c.fetch16()
		if (c.F & flagC) == 0 {
			c.push16(c.PC)
			c.PC = addr
		}
	case 0xDC: // CALL C
		addr := c.fetch16()
		if (c.F & flagC) != 0 {
			c.push16(c.PC)
			c.PC = addr
		}

	case 0xC0: // RET NZ
		c.internal()
		if (c.F & flagZ) == 0 {
			c.PC = c.pop16()
			c.internal()
		}
	case 0xC8: // RET Z
		c.internal()
		if (c.F & flagZ) != 0 {
			c.PC = c.pop16()
			c.internal()
		}
	case 0xD0: // RET NC
		c.internal()
		if (c.F & flagC) == 0 {
			c.PC = c.pop16()
			c.internal()
		}
	case 0xD8: // RET C
		c.internal()
		if (c.F & flagC) != 0 {
			c.PC = c.pop16()
			c.internal()
		}

	case 0xC2: // JP NZ,a16
		addr := c.fetch16()
		if (c.F & flagZ) == 0 {
			c.PC = addr
			c.internal()
		}
	case 0xCA: // JP Z,a16
		addr := c.fetch16()
		if (c.F & flagZ) != 0 {
			c.PC = addr
			c.internal()
		}
	case 0xD2: // JP NC,a16
		addr := c.fetch16()
		if (c.F & flagC) == 0 {
			c.PC = addr
			c.internal()
		}
	case 0xDA: // JP C,a16
		addr := c.fetch16()
		if (c.F & flagC) != 0 {
			c.PC = addr
			c.internal()
		}

	// 16-bit INC/DEC and ADD HL,rr
	case 0x03:
		c.setBC(c.getBC() + 1)
		c.internal()
	case 0x13:
		c.setDE(c.getDE() + 1)
		c.internal()
	case 0x23:
		c.setHL(c.getHL() + 1)
		c.internal()
	case 0x33:
		c.SP++
		c.internal()
	case 0x0B:
		c.setBC(c.getBC() - 1)
		c.internal()
	case 0x1B:
		c.setDE(c.getDE() - 1)
		c.internal()
	case 0x2B:
		c.setHL(c.getHL() - 1)
		c.internal()
	case 0x3B:
		c.SP--
		c.internal()
	case 0x09: // ADD HL,BC
		hl, bc := c.getHL(), c.getBC()
		r := uint32(hl) + uint32(bc)
		h := ((hl & 0x0FFF) + (bc & 0x0FFF)) > 0x0FFF
		c.setHL(uint16(r))
		c.setZNHC((c.F&flagZ) != 0, false, h, r > 0xFFFF)
		c.internal()
	case 0x19: // ADD HL,DE
		hl, de := c.getHL(), c.getDE()
		r := uint32(hl) + uint32(de)
		h := ((hl & 0x0FFF) + (de & 0x0FFF)) > 0x0FFF
		c.setHL(uint16(r))
		c.setZNHC((c.F&flagZ) != 0, false, h, r > 0xFFFF)
		c.internal()
	case 0x29: // ADD HL,HL
		hl := c.getHL()
		r := uint32(hl) + uint32(hl)
		h := ((hl & 0x0FFF) + (hl & 0x0FFF)) > 0x0FFF
		c.setHL(uint16(r))
		c.setZNHC((c.F&flagZ) != 0, false, h, r > 0xFFFF)
		c.internal()
	case 0x39: // ADD HL,SP
		hl, sp := c.getHL(), c.SP
		r := uint32(hl) + uint32(sp)
		h := ((hl & 0x0FFF) + (sp & 0x0FFF)) > 0x0FFF
		c.setHL(uint16(r))
		c.setZNHC((c.F&flagZ) != 0, false, h, r > 0xFFFF)
		c.internal()

	case 0xF8: // LD HL,SP+r8
		off := int8(c.fetch8())
		low := byte(c.SP & 0xFF)
		_, _, _, h, cy := c.add8(low, byte(off))
		c.setHL(uint16(int32(int16(c.SP)) + int32(off)))
		c.setZNHC(false, false, h, cy)
		c.internal()
	case 0xF9: // LD SP,HL
		c.SP = c.getHL()
		c.internal()
	case 0xE8: // ADD SP,r8
		off := int8(c.fetch8())
		low := byte(c.SP & 0xFF)
		_, _, _, h, cy := c.add8(low, byte(off))
		c.SP = uint16(int32(int16(c.SP)) + int32(off))
		c.setZNHC(false, false, h, cy)
		c.internal()
		c.internal()

	case 0xF3: // DI
		c.ic.DI()
	case 0xFB: // EI
		c.ic.RequestEI()

	case 0xCB:
		c.executeCB()

	case 0xF5:
		c.push16(c.getAF())
	case 0xC5:
		c.push16(c.getBC())
	case 0xD5:
		c.push16(c.getDE())
	case 0xE5:
		c.push16(c.getHL())
	case 0xF1:
		c.setAF(c.pop16())
	case 0xC1:
		c.setBC(c.pop16())
	case 0xD1:
		c.setDE(c.pop16())
	case 0xE1:
		c.setHL(c.pop16())

	default:
		c.locked = true
		c.lockedOp = op
		return &UnknownOpcodeError{Op: op, PC: c.PC - 1}
	}
	return nil
}

func (c *CPU) executeCB() {
	cb := c.fetch8()
	reg := cb & 7
	opg := (cb >> 6) & 3
	y := (cb >> 3) & 7

	switch opg {
	case 0: // rotate/shift/swap
		v := c.regGet(reg)
		var cflag byte
		switch y {
		case 0: // RLC
			cflag = (v >> 7) & 1
			v = (v << 1) | cflag
			c.setZNHC(v == 0, false, false, cflag == 1)
		case 1: // RRC
			cflag = v & 1
			v = (v >> 1) | (cflag << 7)
			c.setZNHC(v == 0, false, false, cflag == 1)
		case 2: // RL
			cflag = (v >> 7) & 1
			cin := byte(0)
			if (c.F & flagC) != 0 {
				cin = 1
			}
			v = (v << 1) | cin
			c.setZNHC(v == 0, false, false, cflag == 1)
		case 3: // RR
			cflag = v & 1
			cin := byte(0)
			if (c.F & flagC) != 0 {
				cin = 1
			}
			v = (v >> 1) | (cin << 7)
			c.setZNHC(v == 0, false, false, cflag == 1)
		case 4: // SLA
			cflag = (v >> 7) & 1
			v <<= 1
			c.setZNHC(v == 0, false, false, cflag == 1)
		case 5: // SRA
			cflag = v & 1
			v = (v >> 1) | (v & 0x80)
			c.setZNHC(v == 0, false, false, cflag == 1)
		case 6: // SWAP
			v = (v << 4) | (v >> 4)
			c.setZNHC(v == 0, false, false, false)
		case 7: // SRL
			cflag = v & 1
			v >>= 1
			c.setZNHC(v == 0, false, false, cflag == 1)
		}
		c.regSet(reg, v)
	case 1: // BIT y,r
		v := c.regGet(reg)
		bit := (v >> y) & 1
		c.F = (c.F & flagC) | flagH
		if bit == 0 {
			c.F |= flagZ
		}
	case 2: // RES y,r
		v := c.regGet(reg)
		v &^= 1 << y
		c.regSet(reg, v)
	case 3: // SET y,r
		v := c.regGet(reg)
		v |= 1 << y
		c.regSet(reg, v)
	}
}
