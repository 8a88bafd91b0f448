// Package bus implements the DMG memory bus: address dispatch to
// cartridge ROM/RAM, WRAM, VRAM/OAM (via the PPU), IO, HRAM, and IE, plus
// OAM DMA and the serial port. It owns the Timer, interrupt Controller,
// and APU components and fans every CPU-driven tick out to them, but it
// never calls the cycle callback itself — the CPU is responsible for
// invoking Tick once per m-cycle (spec.md §4.5, §9).
package bus

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/gbcore/dmgcore/internal/apu"
	"github.com/gbcore/dmgcore/internal/cart"
	"github.com/gbcore/dmgcore/internal/interrupt"
	"github.com/gbcore/dmgcore/internal/ppu"
	"github.com/gbcore/dmgcore/internal/timer"
)

// Bus wires CPU-visible address space to cartridge, WRAM, HRAM, and every
// memory-mapped peripheral.
type Bus struct {
	cart cart.Cartridge

	wram [0x2000]byte // 0xC000-0xDFFF, echoed at 0xE000-0xFDFF
	hram [0x7F]byte   // 0xFF80-0xFFFE

	ppu *ppu.PPU
	apu *apu.APU
	ic  *interrupt.Controller
	tmr *timer.Timer

	joypSelect byte
	joypad     byte
	joypLower4 byte

	sb byte
	sc byte
	sw io.Writer

	dma       byte
	dmaActive bool
	dmaSrc    uint16
	dmaIndex  int

	bootROM     []byte
	bootEnabled bool

	debugTimer bool
}

// New constructs a Bus with a ROM-only cartridge for convenience.
func New(rom []byte) *Bus {
	return NewWithCartridge(cart.NewCartridge(rom))
}

// NewWithCartridge wires a provided cartridge implementation.
func NewWithCartridge(c cart.Cartridge) *Bus {
	b := &Bus{cart: c}
	b.ic = interrupt.New()
	b.tmr = timer.New(b.ic)
	b.apu = apu.New(44100)
	b.ppu = ppu.New(func(bit int) { b.ic.Request(interrupt.Kind(bit)) })
	if os.Getenv("GB_DEBUG_TIMER") != "" {
		b.debugTimer = true
	}
	return b
}

// PPU returns the internal PPU for read-only rendering helpers.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// APU returns the internal APU so the host can pull audio samples.
func (b *Bus) APU() *apu.APU { return b.apu }

// Interrupts returns the shared interrupt controller the CPU drives.
func (b *Bus) Interrupts() *interrupt.Controller { return b.ic }

// Cart returns the underlying cartridge for optional battery operations.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return b.wram[addr-0xC000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		return b.wram[(addr-0x2000)-0xC000]
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		return 0xFF
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return 0xFF
		}
		return b.ppu.CPURead(addr)
	case addr == 0xFF00:
		return b.readJoyp()
	case addr == 0xFF04:
		return b.tmr.DIV()
	case addr == 0xFF05:
		return b.tmr.TIMA()
	case addr == 0xFF06:
		return b.tmr.TMA()
	case addr == 0xFF07:
		return b.tmr.TAC()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | (b.sc & 0x81)
	case addr >= 0xFF10 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return b.dma
	case addr == 0xFF50:
		return 0xFF
	case addr == 0xFF0F:
		return b.ic.ReadIF()
	case addr == 0xFFFF:
		return b.ic.IE
	}
	return 0xFF
}

func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
		return
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
		return
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
		return
	case addr >= 0xC000 && addr <= 0xDFFF:
		b.wram[addr-0xC000] = value
		return
	case addr >= 0xE000 && addr <= 0xFDFF:
		b.wram[(addr-0x2000)-0xC000] = value
		return
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
		return
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		return
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return
		}
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF00:
		b.joypSelect = value & 0x30
		b.updateJoypadIRQ()
		return
	case addr == 0xFF04:
		b.tmr.WriteDIV()
		if b.debugTimer {
			fmt.Printf("[TMR] DIV write -> reset tima=%02X tma=%02X tac=%02X\n", b.tmr.TIMA(), b.tmr.TMA(), b.tmr.TAC())
		}
		return
	case addr == 0xFF05:
		b.tmr.WriteTIMA(value)
		if b.debugTimer {
			fmt.Printf("[TMR] TIMA write %02X tma=%02X tac=%02X\n", value, b.tmr.TMA(), b.tmr.TAC())
		}
		return
	case addr == 0xFF06:
		b.tmr.WriteTMA(value)
		if b.debugTimer {
			fmt.Printf("[TMR] TMA write %02X (tima=%02X tac=%02X)\n", value, b.tmr.TIMA(), b.tmr.TAC())
		}
		return
	case addr == 0xFF07:
		b.tmr.WriteTAC(value)
		if b.debugTimer {
			fmt.Printf("[TMR] TAC write %02X\n", b.tmr.TAC())
		}
		return
	case addr == 0xFF01:
		b.sb = value
		return
	case addr == 0xFF02:
		b.sc = value & 0x81
		if (b.sc & 0x80) != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.ic.Request(interrupt.Serial)
			b.sc &^= 0x80
		}
		return
	case addr >= 0xFF10 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
		return
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF46:
		b.dma = value
		b.dmaActive = true
		b.dmaSrc = uint16(value) << 8
		b.dmaIndex = 0
		return
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
		return
	case addr == 0xFF0F:
		b.ic.WriteIF(value)
		return
	case addr == 0xFFFF:
		b.ic.IE = value
		return
	}
}

func (b *Bus) readJoyp() byte {
	res := byte(0xC0 | (b.joypSelect & 0x30) | 0x0F)
	if (b.joypSelect & 0x10) == 0 {
		if b.joypad&JoypRight != 0 {
			res &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			res &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			res &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			res &^= 0x08
		}
	}
	if (b.joypSelect & 0x20) == 0 {
		if b.joypad&JoypA != 0 {
			res &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			res &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			res &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			res &^= 0x08
		}
	}
	return res
}

// Joypad button bitmasks for SetJoypadState. Bits set mean "pressed".
const (
	JoypRight     = 1 << 0
	JoypLeft      = 1 << 1
	JoypUp        = 1 << 2
	JoypDown      = 1 << 3
	JoypA         = 1 << 4
	JoypB         = 1 << 5
	JoypSelectBtn = 1 << 6
	JoypStart     = 1 << 7
)

// SetJoypadState sets which buttons are currently pressed.
func (b *Bus) SetJoypadState(mask byte) {
	b.joypad = mask
	b.updateJoypadIRQ()
}

// SetSerialWriter sets a sink that receives bytes written via the serial port.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM loads a DMG boot ROM to be mapped at 0x0000-0x00FF until disabled via 0xFF50 write.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// Tick advances every peripheral clocked by the CPU's tick stream by the
// given number of t-cycles: the timer, the APU frame sequencer/channels,
// the PPU's mode/dot counter, and OAM DMA. The CPU calls this once per
// m-cycle (4 t-cycles) for every bus access and every internal cycle
// (spec.md §2, §9) — the bus itself never calls it.
func (b *Bus) Tick(tCycles int) {
	if tCycles <= 0 {
		return
	}
	for i := 0; i < tCycles; i++ {
		b.tmr.Tick()
		b.apu.Tick()
		b.ppu.Tick(1)

		if b.dmaActive {
			if b.dmaIndex < 0xA0 {
				v := b.Read(b.dmaSrc + uint16(b.dmaIndex))
				b.ppu.OAMDMAWrite(b.dmaIndex, v)
				b.dmaIndex++
			}
			if b.dmaIndex >= 0xA0 {
				b.dmaActive = false
			}
		}
	}
}

// updateJoypadIRQ recomputes JOYP lower 4 bits (active-low) and raises IF bit 4 on any 1->0 transition.
func (b *Bus) updateJoypadIRQ() {
	newLower := byte(0x0F)
	if (b.joypSelect & 0x10) == 0 {
		if b.joypad&JoypRight != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			newLower &^= 0x08
		}
	}
	if (b.joypSelect & 0x20) == 0 {
		if b.joypad&JoypA != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			newLower &^= 0x08
		}
	}
	falling := b.joypLower4 &^ newLower
	if falling != 0 {
		b.ic.Request(interrupt.Joypad)
	}
	b.joypLower4 = newLower
}

// --- Save/Load state ---

type busState struct {
	WRAM      [0x2000]byte
	HRAM      [0x7F]byte
	IE, IF    byte
	IME       bool
	JoypSel   byte
	Joypad    byte
	JoypL4    byte
	Timer     timer.State
	SB, SC    byte
	DMA       byte
	DMAActive bool
	DMASrc    uint16
	DMAIdx    int
	BootEn    bool
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := busState{
		WRAM: b.wram, HRAM: b.hram,
		IE: b.ic.IE, IF: b.ic.IF, IME: b.ic.IME,
		JoypSel: b.joypSelect, Joypad: b.joypad, JoypL4: b.joypLower4,
		Timer: b.tmr.Save(),
		SB:    b.sb, SC: b.sc,
		DMA: b.dma, DMAActive: b.dmaActive, DMASrc: b.dmaSrc, DMAIdx: b.dmaIndex,
		BootEn: b.bootEnabled,
	}
	_ = enc.Encode(s)
	if b.ppu != nil {
		ps := b.ppu.SaveState()
		_ = enc.Encode(ps)
	} else {
		_ = enc.Encode([]byte(nil))
	}
	if b.apu != nil {
		as := b.apu.SaveState()
		_ = enc.Encode(as)
	} else {
		_ = enc.Encode([]byte(nil))
	}
	if bb, ok := b.cart.(interface{ SaveState() []byte }); ok {
		cs := bb.SaveState()
		_ = enc.Encode(cs)
	} else {
		_ = enc.Encode([]byte(nil))
	}
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var s busState
	if err := dec.Decode(&s); err != nil {
		return
	}
	b.wram = s.WRAM
	b.hram = s.HRAM
	b.ic.IE, b.ic.IF, b.ic.IME = s.IE, s.IF, s.IME
	b.joypSelect, b.joypad, b.joypLower4 = s.JoypSel, s.Joypad, s.JoypL4
	b.tmr.Restore(s.Timer)
	b.sb, b.sc = s.SB, s.SC
	b.dma, b.dmaActive, b.dmaSrc, b.dmaIndex = s.DMA, s.DMAActive, s.DMASrc, s.DMAIdx
	b.bootEnabled = s.BootEn

	var ps []byte
	if err := dec.Decode(&ps); err == nil && b.ppu != nil {
		b.ppu.LoadState(ps)
	}
	var as []byte
	if err := dec.Decode(&as); err == nil && b.apu != nil {
		_ = b.apu.LoadState(as)
	}
	var cs []byte
	if err := dec.Decode(&cs); err == nil {
		if bb, ok := b.cart.(interface{ LoadState([]byte) }); ok {
			bb.LoadState(cs)
		}
	}
}
