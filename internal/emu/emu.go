// Package emu assembles the CPU, memory bus (which itself owns the
// cartridge, PPU, APU, timer, and interrupt controller) into a single
// steppable Machine. internal/ui and cmd/gbemu drive frames and audio
// through this one front door instead of wiring components themselves.
package emu

import (
	"fmt"
	"io"
	"os"

	"github.com/gbcore/dmgcore/internal/bus"
	"github.com/gbcore/dmgcore/internal/cart"
	"github.com/gbcore/dmgcore/internal/cpu"
	"github.com/gbcore/dmgcore/internal/ppu"
)

// dmgFrameTCycles is one 59.7275Hz DMG frame: 154 scanlines * 456 dots,
// each dot one t-cycle.
const dmgFrameTCycles = 154 * 456

// Buttons is the joypad state sampled once per frame from the host.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoypRight
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	return m
}

// cgbCompatSetNames and cgbCompatSets are the curated "DMG-on-CGB" color
// palettes autoCompatPaletteFromHeader (compat_tables.go) picks among.
// Each remaps an already-composited 2-bit shade index to RGB; no CGB VRAM
// bank, palette register, or speed-switch is emulated (spec.md Non-goals
// explicitly exclude real CGB/SGB hardware) — this is a cosmetic skin over
// the DMG pixel pipeline, same idea as ppu.DefaultCompatPalette.
var cgbCompatSetNames = []string{"Green", "Sepia", "Blue", "Red", "Pastel", "Grey"}

var cgbCompatSets = []ppu.CompatPalette{
	ppu.DefaultCompatPalette, // Green
	{ // Sepia
		BG:   [4][3]byte{{0xF8, 0xE8, 0xC8}, {0xC8, 0x9C, 0x68}, {0x88, 0x58, 0x38}, {0x30, 0x20, 0x18}},
		OBJ0: [4][3]byte{{0xF8, 0xE8, 0xC8}, {0xC8, 0x9C, 0x68}, {0x88, 0x58, 0x38}, {0x30, 0x20, 0x18}},
		OBJ1: [4][3]byte{{0xF8, 0xE8, 0xC8}, {0xC8, 0x9C, 0x68}, {0x88, 0x58, 0x38}, {0x30, 0x20, 0x18}},
	},
	{ // Blue
		BG:   [4][3]byte{{0xE0, 0xF0, 0xF8}, {0x78, 0xA8, 0xD8}, {0x38, 0x60, 0x98}, {0x10, 0x20, 0x40}},
		OBJ0: [4][3]byte{{0xE0, 0xF0, 0xF8}, {0x78, 0xA8, 0xD8}, {0x38, 0x60, 0x98}, {0x10, 0x20, 0x40}},
		OBJ1: [4][3]byte{{0xE0, 0xF0, 0xF8}, {0x78, 0xA8, 0xD8}, {0x38, 0x60, 0x98}, {0x10, 0x20, 0x40}},
	},
	{ // Red
		BG:   [4][3]byte{{0xF8, 0xE0, 0xE0}, {0xD8, 0x80, 0x78}, {0x98, 0x38, 0x38}, {0x40, 0x10, 0x10}},
		OBJ0: [4][3]byte{{0xF8, 0xE0, 0xE0}, {0xD8, 0x80, 0x78}, {0x98, 0x38, 0x38}, {0x40, 0x10, 0x10}},
		OBJ1: [4][3]byte{{0xF8, 0xE0, 0xE0}, {0xD8, 0x80, 0x78}, {0x98, 0x38, 0x38}, {0x40, 0x10, 0x10}},
	},
	{ // Pastel
		BG:   [4][3]byte{{0xF8, 0xF0, 0xF8}, {0xD0, 0xC0, 0xE8}, {0x98, 0x88, 0xB8}, {0x48, 0x40, 0x58}},
		OBJ0: [4][3]byte{{0xF8, 0xF0, 0xF8}, {0xD0, 0xC0, 0xE8}, {0x98, 0x88, 0xB8}, {0x48, 0x40, 0x58}},
		OBJ1: [4][3]byte{{0xF8, 0xF0, 0xF8}, {0xD0, 0xC0, 0xE8}, {0x98, 0x88, 0xB8}, {0x48, 0x40, 0x58}},
	},
	{ // Grey
		BG:   [4][3]byte{{0xF8, 0xF8, 0xF8}, {0xA8, 0xA8, 0xA8}, {0x60, 0x60, 0x60}, {0x10, 0x10, 0x10}},
		OBJ0: [4][3]byte{{0xF8, 0xF8, 0xF8}, {0xA8, 0xA8, 0xA8}, {0x60, 0x60, 0x60}, {0x10, 0x10, 0x10}},
		OBJ1: [4][3]byte{{0xF8, 0xF8, 0xF8}, {0xA8, 0xA8, 0xA8}, {0x60, 0x60, 0x60}, {0x10, 0x10, 0x10}},
	},
}

// Machine owns one run of emulation: a CPU bound to a Bus, the loaded
// cartridge's header and path (for titles, save paths, and compat-palette
// lookups), and the host-facing framebuffer/audio/button plumbing.
type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU

	w, h int
	fb   []byte // RGBA, w*h*4

	romPath string
	header  *cart.Header
	bootROM []byte

	btns Buttons

	useFetcherBG bool

	cgbWant   bool // sticky user preference; survives cartridge loads
	cgbActive bool // currently compositing through a compat palette
	paletteID int
}

// New constructs a Machine with no cartridge loaded; LoadCartridge or
// LoadROMFromFile must be called before StepFrame produces anything but a
// black frame.
func New(cfg Config) *Machine {
	m := &Machine{
		cfg: cfg,
		w:   ppu.ScreenW, h: ppu.ScreenH,
		useFetcherBG: cfg.UseFetcherBG,
	}
	m.fb = make([]byte, m.w*m.h*4)
	m.bus = bus.New(nil)
	m.cpu = cpu.New(m.bus)
	m.cpu.ResetNoBoot()
	return m
}

// SetBootROM stashes a DMG boot ROM image for the next LoadCartridge (or
// ResetWithBoot) to run from 0x0000 instead of jumping straight to the
// cartridge's post-boot defaults.
func (m *Machine) SetBootROM(boot []byte) {
	m.bootROM = boot
	if len(boot) >= 0x100 {
		m.bus.SetBootROM(boot)
	}
}

// LoadCartridge parses rom's header, builds the matching MBC, and resets
// the CPU either into the supplied boot ROM (if long enough to contain
// one) or directly into DMG post-boot state (spec.md §9's "cold boot").
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		h = nil
	}
	c := cart.NewCartridge(rom)
	m.bus = bus.NewWithCartridge(c)
	m.header = h
	m.cgbActive = false
	m.paletteID = 0
	m.bus.PPU().SetCompatPalette(ppu.DefaultCompatPalette)

	if len(boot) > 0 {
		m.bootROM = boot
	}
	if len(m.bootROM) >= 0x100 {
		m.bus.SetBootROM(m.bootROM)
		m.cpu = cpu.New(m.bus)
		m.cpu.SetPC(0x0000)
		m.bus.Interrupts().DI()
	} else {
		m.cpu = cpu.New(m.bus)
		m.cpu.ResetNoBoot()
		m.cpu.SetPC(0x0100)
		m.applyPostBootIO()
	}
	if m.cgbWant {
		m.ResetCGBPostBoot(true)
	}
	return nil
}

// SetSerialWriter attaches a sink for bytes written to the serial port
// (0xFF01), used by test harnesses to watch for Blargg/Mooneye-style
// "Passed"/"Failed" markers.
func (m *Machine) SetSerialWriter(w io.Writer) { m.bus.SetSerialWriter(w) }

// applyPostBootIO writes the IO register values the DMG boot ROM leaves
// behind when no boot ROM is actually run, matching cmd/cpurunner's
// no-boot-rom path.
func (m *Machine) applyPostBootIO() {
	b := m.bus
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00) // TIMA
	b.Write(0xFF06, 0x00) // TMA
	b.Write(0xFF07, 0x00) // TAC
	b.Write(0xFF40, 0x91) // LCDC on with BG (tile data at 0x8000); sprites off
	b.Write(0xFF42, 0x00) // SCY
	b.Write(0xFF43, 0x00) // SCX
	b.Write(0xFF45, 0x00) // LYC
	b.Write(0xFF47, 0xFC) // BGP
	b.Write(0xFF48, 0xFF) // OBP0
	b.Write(0xFF49, 0xFF) // OBP1
	b.Write(0xFF4A, 0x00) // WY
	b.Write(0xFF4B, 0x00) // WX
	b.Write(0xFFFF, 0x00) // IE
}

// LoadROMFromFile reads path and loads it as the current cartridge,
// remembering path for ROMPath/ROMTitle-derived save/state file naming.
func (m *Machine) LoadROMFromFile(path string) error {
	rom, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rom: %w", err)
	}
	if err := m.LoadCartridge(rom, nil); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// ROMPath returns the path of the most recently loaded ROM file, or "" if
// the current cartridge wasn't loaded via LoadROMFromFile.
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header's title, or "" if none is parsed.
func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// LoadBattery restores external cartridge RAM from a prior .sav file. It
// reports false if the current cartridge has no battery-backed RAM.
func (m *Machine) LoadBattery(data []byte) bool {
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns the current cartridge's external RAM for persisting
// to a .sav file. ok is false if the cartridge has no battery-backed RAM.
func (m *Machine) SaveBattery() ([]byte, bool) {
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	return bb.SaveRAM(), true
}

// SetButtons records the joypad state the next Step/StepFrame will drive
// onto the bus before each instruction.
func (m *Machine) SetButtons(b Buttons) { m.btns = b }

// SetUseFetcherBG toggles the BG renderer used by the PPU. The fetcher/FIFO
// compositor (internal/ppu/fetcher.go, scanline.go) is currently the
// PPU's only BG rendering path, so this flag is accepted and stored for
// host/settings round-tripping but has no effect yet; it exists so the UI
// and saved settings have a stable place to land if a second renderer is
// ever added.
func (m *Machine) SetUseFetcherBG(v bool) { m.useFetcherBG = v }

// step runs exactly one CPU instruction (or interrupt dispatch, or one
// HALT-idle tick), applying the latched button state first, and returns
// the t-cycles it consumed.
func (m *Machine) step() (int, error) {
	m.bus.SetJoypadState(m.btns.mask())
	return m.cpu.Step()
}

// StepFrame runs the CPU for one frame's worth of t-cycles and refreshes
// the RGBA framebuffer from the PPU's most recently completed frame.
func (m *Machine) StepFrame() {
	m.runFrame()
	m.renderFramebuffer()
}

// StepFrameNoRender runs one frame's worth of t-cycles without converting
// the PPU's pixel buffer to RGBA, for hosts fast-forwarding with frame
// skip enabled.
func (m *Machine) StepFrameNoRender() {
	m.runFrame()
}

// runFrame drives the CPU until the PPU reports a completed frame, or
// until a generous multiple of a frame's t-cycles have elapsed — the
// fallback matters when the LCD is switched off (LCDC bit 7), since the
// PPU's dot counter (and so CurrentFrame) doesn't advance at all while
// it's disabled.
func (m *Machine) runFrame() {
	target := m.bus.PPU().CurrentFrame() + 1
	spent := 0
	for spent < dmgFrameTCycles*4 {
		cyc, err := m.step()
		spent += cyc
		if err != nil {
			if _, unknown := err.(*cpu.UnknownOpcodeError); unknown {
				return
			}
		}
		if m.bus.PPU().CurrentFrame() >= target {
			return
		}
	}
}

// renderFramebuffer converts the PPU's resolved PixelColor buffer into the
// RGBA byte slice hosts (ebiten textures, PNG encoders) expect.
func (m *Machine) renderFramebuffer() {
	frame := m.bus.PPU().Frame()
	for i, px := range frame {
		o := i * 4
		m.fb[o+0] = px.R
		m.fb[o+1] = px.G
		m.fb[o+2] = px.B
		m.fb[o+3] = 0xFF
	}
}

// Framebuffer returns the RGBA pixel buffer for the most recently rendered
// frame (spec.md §6): w*h*4 bytes, row-major, no padding.
func (m *Machine) Framebuffer() []byte { return m.fb }

// ResetPostBoot re-initializes the CPU to DMG post-boot defaults without
// re-running any boot ROM, keeping the current cartridge loaded.
func (m *Machine) ResetPostBoot() {
	m.cpu = cpu.New(m.bus)
	m.cpu.ResetNoBoot()
	m.cpu.SetPC(0x0100)
	m.applyPostBootIO()
	m.cgbActive = false
	m.bus.PPU().SetCompatPalette(ppu.DefaultCompatPalette)
}

// ResetWithBoot restarts the CPU at 0x0000 with IME cleared, re-running
// the previously supplied boot ROM against the currently loaded
// cartridge. Falls back to ResetPostBoot if no boot ROM was set.
func (m *Machine) ResetWithBoot() {
	if len(m.bootROM) < 0x100 {
		m.ResetPostBoot()
		return
	}
	m.bus.SetBootROM(m.bootROM)
	m.cpu = cpu.New(m.bus)
	m.cpu.SetPC(0x0000)
	m.bus.Interrupts().DI()
	m.cgbActive = false
	m.bus.PPU().SetCompatPalette(ppu.DefaultCompatPalette)
}

// APUClearAudioLatency drops every buffered stereo frame, used when a host
// audio player is (re)starting and doesn't want stale samples.
func (m *Machine) APUClearAudioLatency() { m.bus.APU().DiscardTo(0) }

// APUCapBufferedStereo trims the APU's ring buffer down to at most max
// queued stereo frames, bounding playback latency without pausing
// production.
func (m *Machine) APUCapBufferedStereo(max int) { m.bus.APU().DiscardTo(max) }

// APUBufferedStereo reports how many stereo frames are currently queued.
func (m *Machine) APUBufferedStereo() int { return m.bus.APU().Buffered() }

// APUPullStereo dequeues up to max stereo frames as interleaved (L, R)
// 16-bit PCM, scaling the APU's [-1, 1] float mix to the full int16 range.
func (m *Machine) APUPullStereo(max int) []int16 {
	f := m.bus.APU().TakeSamples(max)
	if len(f) == 0 {
		return nil
	}
	out := make([]int16, len(f))
	for i, v := range f {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = int16(v * 32767)
	}
	return out
}

// WantCGBColors reports the sticky user preference for DMG-on-CGB compat
// colors, set by SetUseCGBBG and preserved across cartridge loads.
func (m *Machine) WantCGBColors() bool { return m.cgbWant }

// UseCGBBG reports whether the current session is actively compositing
// through a compat palette. Unlike WantCGBColors this resets to false on
// every LoadCartridge/LoadROMFromFile, so a host can detect "preference is
// on but this fresh load hasn't re-applied it yet" and call
// ResetCGBPostBoot.
func (m *Machine) UseCGBBG() bool { return m.cgbActive }

// SetUseCGBBG updates both the sticky preference and, when turning off,
// the active state.
func (m *Machine) SetUseCGBBG(v bool) {
	m.cgbWant = v
	if !v {
		m.cgbActive = false
		m.bus.PPU().SetCompatPalette(ppu.DefaultCompatPalette)
	}
}

// IsCGBCompat reports whether the running session is currently rendering
// through a compat palette (as opposed to plain DMG greyscale).
func (m *Machine) IsCGBCompat() bool { return m.cgbActive }

// ResetCGBPostBoot resets to DMG post-boot state (as ResetPostBoot) and
// then selects a compat palette using the per-title/checksum heuristic in
// compat_tables.go. force is accepted for symmetry with the host's toggle
// handler; this always re-derives the palette from the loaded header.
func (m *Machine) ResetCGBPostBoot(force bool) {
	m.ResetPostBoot()
	m.cgbActive = true
	id, ok := autoCompatPaletteFromHeader(m.header)
	if !ok {
		id = 0
	}
	m.SetCompatPalette(id)
}

// CurrentCompatPalette returns the active compat palette's index.
func (m *Machine) CurrentCompatPalette() int { return m.paletteID }

// CompatPaletteName returns the display name for a compat palette index,
// or "Unknown" if out of range.
func (m *Machine) CompatPaletteName(id int) string {
	if id < 0 || id >= len(cgbCompatSetNames) {
		return "Unknown"
	}
	return cgbCompatSetNames[id]
}

// SetCompatPalette installs one of the curated compat palettes by index,
// clamped into range, and applies it to the PPU immediately.
func (m *Machine) SetCompatPalette(id int) {
	if len(cgbCompatSets) == 0 {
		return
	}
	if id < 0 {
		id = 0
	}
	if id >= len(cgbCompatSets) {
		id = len(cgbCompatSets) - 1
	}
	m.paletteID = id
	m.bus.PPU().SetCompatPalette(cgbCompatSets[id])
}

// CycleCompatPalette advances the current compat palette selection by
// delta (wrapping).
func (m *Machine) CycleCompatPalette(delta int) {
	n := len(cgbCompatSets)
	if n == 0 {
		return
	}
	id := ((m.paletteID+delta)%n + n) % n
	m.SetCompatPalette(id)
}

// SaveStateToFile serializes CPU registers and bus-owned state (cartridge
// banking/RAM, PPU, APU, timer, interrupts) to path.
func (m *Machine) SaveStateToFile(path string) error {
	var buf []byte
	buf = appendChunk(buf, m.cpu.SaveState())
	buf = appendChunk(buf, m.bus.SaveState())
	return os.WriteFile(path, buf, 0644)
}

// LoadStateFromFile restores a snapshot written by SaveStateToFile.
func (m *Machine) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cpuChunk, rest, err := readChunk(data)
	if err != nil {
		return err
	}
	busChunk, _, err := readChunk(rest)
	if err != nil {
		return err
	}
	m.cpu.LoadState(cpuChunk)
	m.bus.LoadState(busChunk)
	return nil
}

// appendChunk/readChunk frame a byte slice with a 4-byte length prefix so
// multiple independently-encoded sections can share one save file.
func appendChunk(dst []byte, chunk []byte) []byte {
	var lenBuf [4]byte
	n := uint32(len(chunk))
	lenBuf[0] = byte(n)
	lenBuf[1] = byte(n >> 8)
	lenBuf[2] = byte(n >> 16)
	lenBuf[3] = byte(n >> 24)
	dst = append(dst, lenBuf[:]...)
	return append(dst, chunk...)
}

func readChunk(data []byte) (chunk, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("truncated save state")
	}
	n := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, fmt.Errorf("truncated save state chunk")
	}
	return data[:n], data[n:], nil
}
