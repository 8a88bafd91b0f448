package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC2 implements the small MBC2 controller: a 4-bit ROM bank register and
// 512x4-bit built-in RAM. Per spec.md §4.7/SPEC_FULL.md §4.7:
//   - the control region is split by address bit 8, not by a separate RAM
//     enable range: addr&0x100==0 writes the RAM-enable latch, addr&0x100!=0
//     writes the ROM bank register.
//   - built-in RAM only has 4 meaningful bits per byte; the upper nibble of
//     every read is forced to 1, and only the low nibble of every write is
//     stored.
type MBC2 struct {
	rom []byte
	ram [512]byte // low nibble per byte significant

	ramEnabled bool
	romBank    byte // 4 bits, 0 maps to 1
}

func NewMBC2(rom []byte) *MBC2 {
	m := &MBC2{rom: rom}
	m.romBank = 1
	return m
}

func (m *MBC2) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x0F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		return 0xF0 | (m.ram[(addr-0xA000)%512] & 0x0F)
	default:
		return 0xFF
	}
}

func (m *MBC2) Write(addr uint16, value byte) {
	switch {
	case addr < 0x4000:
		if addr&0x0100 == 0 {
			m.ramEnabled = (value & 0x0F) == 0x0A
		} else {
			bank := value & 0x0F
			if bank == 0 {
				bank = 1
			}
			m.romBank = bank
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		m.ram[(addr-0xA000)%512] = value & 0x0F
	}
}

func (m *MBC2) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram[:])
	return out
}

func (m *MBC2) LoadRAM(data []byte) {
	if len(data) == 0 {
		return
	}
	copy(m.ram[:], data)
}

type mbc2State struct {
	RAM        [512]byte
	RamEnabled bool
	RomBank    byte
}

func (m *MBC2) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc2State{RAM: m.ram, RamEnabled: m.ramEnabled, RomBank: m.romBank})
	return buf.Bytes()
}

func (m *MBC2) LoadState(data []byte) {
	var s mbc2State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.ram, m.ramEnabled, m.romBank = s.RAM, s.RamEnabled, s.RomBank
}
