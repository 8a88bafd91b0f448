package cart

import "testing"

func TestMBC3_ROMBanking(t *testing.T) {
	rom := make([]byte, 256*0x4000)
	for bank := 0; bank < 8; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC3(rom, 0)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank defaults to 1, got %02X", got)
	}
	m.Write(0x2000, 0x05)
	if got := m.Read(0x4000); got != 0x05 {
		t.Fatalf("bank5 read got %02X want 05", got)
	}
	m.Write(0x2000, 0x00) // 0 remaps to 1, same as MBC1
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap failed: got %02X", got)
	}
}

func TestMBC3_RTCLatchAndSelect(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)
	m.Write(0x0000, 0x0A) // RAM/RTC enable

	m.rtc[0] = 5 // seconds register, as the RTC register file would hold it
	m.Write(0x6000, 0x00)
	m.Write(0x6000, 0x01) // 0->1 latch edge

	m.Write(0x4000, 0x08) // select RTC seconds
	if got := m.Read(0xA000); got != 5 {
		t.Fatalf("latched seconds got %d want 5", got)
	}

	m.rtc[0] = 30 // live register changes after latching
	if got := m.Read(0xA000); got != 5 {
		t.Fatalf("latched read must not track the live register: got %d", got)
	}
}

func TestMBC3_RAMBankingUnaffectedByRTCSelect(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 4*0x2000) // 32 KiB: four 8 KiB RAM banks
	m.Write(0x0000, 0x0A)
	m.Write(0x4000, 0x01) // select RAM bank 1
	m.Write(0xA000, 0x42)
	if got := m.Read(0xA000); got != 0x42 {
		t.Fatalf("RAM bank1 RW failed: got %02X", got)
	}
	m.Write(0x4000, 0x08) // switch to RTC seconds
	m.Write(0x4000, 0x01) // switch back to RAM bank 1
	if got := m.Read(0xA000); got != 0x42 {
		t.Fatalf("RAM contents lost after RTC register select round-trip: got %02X", got)
	}
}

func TestMBC3_SaveStateRoundTrip(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)
	m.Write(0x0000, 0x0A)
	m.Write(0x2000, 0x05)
	m.Write(0xA000, 0x99)
	blob := m.SaveState()

	n := NewMBC3(rom, 0x2000)
	n.LoadState(blob)
	if n.romBank != 5 || !n.ramEnabled {
		t.Fatalf("MBC3 state did not round-trip: romBank=%d ramEnabled=%v", n.romBank, n.ramEnabled)
	}
	if got := n.Read(0xA000); got != 0x99 {
		t.Fatalf("MBC3 RAM did not round-trip: got %02X", got)
	}
}
