package ppu

// VRAMReader is the read-only view of VRAM the tile fetcher needs. It lets
// scanline.go's helpers run against either the live PPU or a synthetic
// buffer in tests without depending on the rest of the PPU's state.
type VRAMReader interface {
	Read(addr uint16) byte
}

// fifo is a ring buffer of 2-bit color indices (0..3) with room for two
// tiles' worth of pixels; the scanline renderer only calls Fetch once the
// fifo is empty, so at most one tile's 8 pixels are in flight.
type fifo struct {
	buf  [16]byte
	head int
	tail int
	size int
}

func (q *fifo) Len() int { return q.size }

func (q *fifo) push(ci byte) {
	if q.size == len(q.buf) {
		return
	}
	q.buf[q.tail] = ci & 0x03
	q.tail = (q.tail + 1) % len(q.buf)
	q.size++
}

func (q *fifo) Pop() (byte, bool) {
	if q.size == 0 {
		return 0, false
	}
	v := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return v, true
}

// bgFetcher decodes one tile row (8 pixels) at a time into a fifo. scanline.go
// drives one per scanline to resolve 160 BG or window color indices; both
// layers share this fetcher since they read the same kind of tile data, just
// from different map addresses.
type bgFetcher struct {
	mem           VRAMReader
	fifo          *fifo
	tileData8000  bool   // true: 0x8000 unsigned addressing; false: 0x8800 signed
	tileIndexAddr uint16 // address of this tile's entry in the active map
	fineY         byte   // row within the tile, 0..7
}

func newBGFetcher(mem VRAMReader, f *fifo) *bgFetcher { return &bgFetcher{mem: mem, fifo: f} }

// Configure points the fetcher at a specific tile-map entry and row. mapBase
// is accepted for symmetry with the caller's addressing but isn't otherwise
// needed here: tileIndexAddr already encodes which map and row.
func (fch *bgFetcher) Configure(mapBase uint16, tileData8000 bool, tileIndexAddr uint16, fineY byte) {
	fch.tileData8000 = tileData8000
	fch.tileIndexAddr = tileIndexAddr
	fch.fineY = fineY & 7
}

// tileDataAddr resolves a tile index byte to the VRAM address of its pixel
// data for the fetcher's current row, honoring LCDC bit 4's two addressing
// modes (Pan Docs "VRAM Tile Data").
func (fch *bgFetcher) tileDataAddr(tileNum byte) uint16 {
	if fch.tileData8000 {
		return 0x8000 + uint16(tileNum)*16 + uint16(fch.fineY)*2
	}
	return 0x9000 + uint16(int8(tileNum))*16 + uint16(fch.fineY)*2
}

// Fetch decodes the current tile row's 8 pixels and pushes them to the fifo,
// bit 7 down to bit 0 (leftmost pixel first).
func (fch *bgFetcher) Fetch() {
	tileNum := fch.mem.Read(fch.tileIndexAddr)
	addr := fch.tileDataAddr(tileNum)
	lo := fch.mem.Read(addr)
	hi := fch.mem.Read(addr + 1)
	for px := byte(0); px < 8; px++ {
		bit := 7 - px
		ci := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
		fch.fifo.push(ci)
	}
}
