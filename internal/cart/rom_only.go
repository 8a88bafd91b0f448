package cart

// ROMOnly is cartridge type 0x00: a single fixed 32KB bank, no MBC, no
// external RAM. The whole 0x0000-0x7FFF range reads straight out of the
// dump; nothing is ever banked.
type ROMOnly struct {
	rom []byte
}

// NewROMOnly wraps rom as a bank-less cartridge.
func NewROMOnly(rom []byte) *ROMOnly {
	return &ROMOnly{rom: rom}
}

// Read serves ROM bytes directly and 0xFF for the (absent) external RAM
// window, matching an open bus with nothing attached.
func (c *ROMOnly) Read(addr uint16) byte {
	if addr < 0x8000 {
		if int(addr) < len(c.rom) {
			return c.rom[addr]
		}
		return 0xFF
	}
	return 0xFF
}

// Write is a no-op: there is no bank register and no RAM to enable.
func (c *ROMOnly) Write(addr uint16, value byte) {}

// SaveState/LoadState are no-ops: a ROM-only cartridge carries no state
// beyond the ROM bytes the Bus already owns a copy of.
func (c *ROMOnly) SaveState() []byte     { return nil }
func (c *ROMOnly) LoadState(data []byte) {}
