package cart

import "testing"

func TestMBC2_ROMBankSelectOnAddressBit8(t *testing.T) {
	rom := make([]byte, 16*0x4000)
	for bank := 0; bank < 16; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC2(rom)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank defaults to 1, got %02X", got)
	}
	// Bit 8 of the address must be set to write the bank register.
	m.Write(0x2100, 0x05)
	if got := m.Read(0x4000); got != 0x05 {
		t.Fatalf("bank5 read got %02X want 05", got)
	}
	m.Write(0x2100, 0x00) // 0 remaps to 1
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap failed: got %02X", got)
	}
}

func TestMBC2_RAMEnableGatedOnAddressBit8(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC2(rom)
	// Bit 8 of the address must be clear to toggle RAM enable.
	m.Write(0x0000, 0x0A)
	m.Write(0xA000, 0x07)
	if got := m.Read(0xA000); got&0x0F != 0x07 {
		t.Fatalf("RAM write/read failed: got %02X", got)
	}
}

func TestMBC2_RAMUpperNibbleAlwaysOnes(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC2(rom)
	m.Write(0x0000, 0x0A)
	m.Write(0xA000, 0xFF) // only the low nibble should stick
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("MBC2 RAM read got %02X want 0xFF (upper nibble forced to 1)", got)
	}
	m.Write(0xA001, 0x03)
	if got := m.Read(0xA001); got != 0xF3 {
		t.Fatalf("MBC2 RAM nibble masking got %02X want 0xF3", got)
	}
}

func TestMBC2_SaveStateRoundTrip(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC2(rom)
	m.Write(0x0000, 0x0A)
	m.Write(0xA005, 0x0C)
	m.Write(0x2100, 0x03)
	blob := m.SaveState()

	n := NewMBC2(rom)
	n.LoadState(blob)
	if n.romBank != 3 || !n.ramEnabled {
		t.Fatalf("MBC2 state did not round-trip: romBank=%d ramEnabled=%v", n.romBank, n.ramEnabled)
	}
	if got := n.Read(0xA005); got != 0xFC {
		t.Fatalf("MBC2 RAM did not round-trip: got %02X", got)
	}
}
