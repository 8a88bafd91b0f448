package ppu

// renderRowUsingFetcher walks the BG/window fetcher across a tile-map row,
// filling out[fromX:160] with 2-bit color indices. startPixel is the tile-map
// pixel column that out[fromX] should show: BG uses startPixel=SCX, fromX=0
// (the row starts mid-tile at the scroll offset); window uses startPixel=0,
// fromX=WX-7 (its own line always starts at tile column 0).
func renderRowUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, mapY uint16, fineY byte, fromX, startPixel int) [160]byte {
	var out [160]byte

	tileX := uint16(startPixel>>3) & 31
	discard := startPixel & 7
	tileIndexAddr := mapBase + mapY*32 + tileX

	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
	f.Fetch()
	for i := 0; i < discard; i++ {
		_, _ = q.Pop()
	}

	for x := fromX; x < 160; x++ {
		if q.Len() == 0 {
			tileX = (tileX + 1) & 31
			tileIndexAddr = mapBase + mapY*32 + tileX
			f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// RenderBGScanlineUsingFetcher renders 160 BG pixels for scanline ly, given
// the active tile map base (0x9800/0x9C00), tile data addressing mode
// (0x8000 unsigned vs 0x8800 signed), and the SCX/SCY scroll registers.
func RenderBGScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, scx, scy, ly byte) [160]byte {
	bgY := uint16(ly) + uint16(scy)
	mapY := (bgY >> 3) & 31
	fineY := byte(bgY & 7)
	return renderRowUsingFetcher(mem, mapBase, tileData8000, mapY, fineY, 0, int(scx))
}

// RenderWindowScanlineUsingFetcher renders the window layer for a scanline,
// starting at screen column wxStart (WX-7) with winLine as the window's own
// internal line counter. Columns before wxStart are left at color index 0
// for the caller to blend against the BG layer.
func RenderWindowScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, wxStart int, winLine byte) [160]byte {
	if wxStart >= 160 {
		return [160]byte{}
	}
	if wxStart < 0 {
		wxStart = 0
	}
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	return renderRowUsingFetcher(mem, mapBase, tileData8000, mapY, fineY, wxStart, 0)
}
