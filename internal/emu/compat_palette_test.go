package emu

import (
	"encoding/binary"
	"testing"
)

// buildTestROM makes a minimal valid-header ROM carrying title in the
// cartridge header, large enough for LoadCartridge to parse.
func buildTestROM(title string) []byte {
	rom := make([]byte, 32*1024)
	copy(rom[0x0134:0x0144], []byte(title))
	rom[0x0147] = 0x00 // ROM ONLY
	rom[0x0148] = 0x00 // 32KiB
	rom[0x0149] = 0x00 // no RAM
	rom[0x014B] = 0x01 // old licensee 0x01: Nintendo, falls to the checksum heuristic
	var hsum byte
	for addr := 0x0134; addr <= 0x014C; addr++ {
		hsum = hsum - rom[addr] - 1
	}
	rom[0x014D] = hsum
	var gsum uint16
	for i := range rom {
		if i == 0x014E || i == 0x014F {
			continue
		}
		gsum += uint16(rom[i])
	}
	binary.BigEndian.PutUint16(rom[0x014E:0x0150], gsum)
	return rom
}

func TestCompatPaletteDefaultsOff(t *testing.T) {
	m := New(Config{})
	if err := m.LoadCartridge(buildTestROM("ZELDA"), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if m.WantCGBColors() || m.UseCGBBG() || m.IsCGBCompat() {
		t.Fatalf("compat palette should start off until explicitly requested")
	}
}

func TestSetUseCGBBGAppliesHeuristicOnLoad(t *testing.T) {
	m := New(Config{})
	m.SetUseCGBBG(true)
	if !m.WantCGBColors() {
		t.Fatalf("WantCGBColors should be true after SetUseCGBBG(true)")
	}
	if err := m.LoadCartridge(buildTestROM("ZELDA"), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if !m.IsCGBCompat() {
		t.Fatalf("loading a cartridge with cgbWant=true should activate a compat palette")
	}
	// "ZELDA" is an exact-rule match for palette id 0.
	if got := m.CurrentCompatPalette(); got != 0 {
		t.Fatalf("CurrentCompatPalette got %d want 0 for a Zelda title", got)
	}
	if name := m.CompatPaletteName(0); name == "Unknown" {
		t.Fatalf("CompatPaletteName(0) should be a real palette name")
	}
}

func TestCycleCompatPaletteWraps(t *testing.T) {
	m := New(Config{})
	m.SetUseCGBBG(true)
	if err := m.LoadCartridge(buildTestROM("HOMEBREW"), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	n := len(cgbCompatSetNames)
	start := m.CurrentCompatPalette()

	m.CycleCompatPalette(-1)
	if got, want := m.CurrentCompatPalette(), (start-1+n)%n; got != want {
		t.Fatalf("CycleCompatPalette(-1) got %d want %d", got, want)
	}

	for i := 0; i < n; i++ {
		m.CycleCompatPalette(1)
	}
	if got := m.CurrentCompatPalette(); got != (start-1+n)%n {
		t.Fatalf("cycling forward by a full period should land back where it started: got %d", got)
	}
}

func TestSetUseCGBBGFalseDeactivates(t *testing.T) {
	m := New(Config{})
	m.SetUseCGBBG(true)
	if err := m.LoadCartridge(buildTestROM("KIRBY"), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if !m.IsCGBCompat() {
		t.Fatalf("expected compat palette active")
	}
	m.SetUseCGBBG(false)
	if m.WantCGBColors() || m.IsCGBCompat() {
		t.Fatalf("SetUseCGBBG(false) should clear both want and active state")
	}
}

func TestResetCGBPostBootReappliesPalette(t *testing.T) {
	m := New(Config{})
	if err := m.LoadCartridge(buildTestROM("TETRIS"), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if m.IsCGBCompat() {
		t.Fatalf("compat palette should not be active before ResetCGBPostBoot")
	}
	m.ResetCGBPostBoot(true)
	if !m.IsCGBCompat() {
		t.Fatalf("ResetCGBPostBoot should activate the compat palette")
	}
}
