package cart

import (
	"encoding/binary"
	"errors"
	"strings"
)

const (
	headerStart = 0x0100
	headerEnd   = 0x014F
)

var nintendoLogo = [48]byte{
	0xCE, 0xED, 0x66, 0x66, 0xCC, 0x0D, 0x00, 0x0B, 0x03, 0x73, 0x00, 0x83, 0x00, 0x0C, 0x00, 0x0D,
	0x00, 0x08, 0x11, 0x1F, 0x88, 0x89, 0x00, 0x0E, 0xDC, 0xCC, 0x6E, 0xE6, 0xDD, 0xDD, 0xD9, 0x99,
	0xBB, 0xBB, 0x67, 0x63, 0x6E, 0x0E, 0xEC, 0xCC, 0xDD, 0xDC, 0x99, 0x9F, 0xBB, 0xB9, 0x33, 0x3E,
}

// Header is the parsed cartridge header (0x0100-0x014F), plus a few decoded
// convenience fields used for logging and for picking a cart.Cartridge
// implementation in NewCartridge.
type Header struct {
	Title          string // trimmed ASCII title, 0x0134-0x0143
	CGBFlag        byte   // 0x0143
	NewLicensee    string // 0x0144-0x0145 (ASCII), meaningful only when OldLicensee==0x33
	SGBFlag        byte   // 0x0146
	CartType       byte   // 0x0147
	ROMSizeCode    byte   // 0x0148
	RAMSizeCode    byte   // 0x0149
	Destination    byte   // 0x014A
	OldLicensee    byte   // 0x014B
	ROMVersion     byte   // 0x014C
	HeaderChecksum byte   // 0x014D
	GlobalChecksum uint16 // 0x014E-0x014F

	LogoValid bool // whether 0x0104-0x0133 matches the Nintendo boot logo

	ROMSizeBytes int
	ROMBanks     int
	RAMSizeBytes int
	CartTypeStr  string
}

// ParseHeader reads a cartridge header out of rom. It does not reject ROMs
// with a mismatched logo or checksum — those are reported via LogoValid and
// the separate HeaderChecksumOK so the caller can decide what to do with a
// corrupt or homebrew image — only a ROM too short to contain a header is
// an error.
func ParseHeader(rom []byte) (*Header, error) {
	if len(rom) < headerEnd+1 {
		return nil, errors.New("ROM too small to contain header")
	}

	logoOK := true
	for i, want := range nintendoLogo {
		if rom[0x0104+i] != want {
			logoOK = false
			break
		}
	}

	title := strings.TrimRight(string(rom[0x0134:0x0144]), "\x00")

	h := &Header{
		Title:          title,
		CGBFlag:        rom[0x0143],
		NewLicensee:    string(rom[0x0144:0x0146]),
		SGBFlag:        rom[0x0146],
		CartType:       rom[0x0147],
		ROMSizeCode:    rom[0x0148],
		RAMSizeCode:    rom[0x0149],
		Destination:    rom[0x014A],
		OldLicensee:    rom[0x014B],
		ROMVersion:     rom[0x014C],
		HeaderChecksum: rom[0x014D],
		GlobalChecksum: binary.BigEndian.Uint16(rom[0x014E:0x0150]),
		LogoValid:      logoOK,
	}

	h.ROMSizeBytes, h.ROMBanks = decodeROMSize(h.ROMSizeCode)
	h.RAMSizeBytes = decodeRAMSize(h.RAMSizeCode)
	h.CartTypeStr = cartTypeString(h.CartType)

	return h, nil
}

// HeaderChecksumOK recomputes the 0x014D header checksum over 0x0134-0x014C
// and reports whether it matches. Games refuse to boot on real hardware
// when this fails; the emulator does not enforce it.
func HeaderChecksumOK(rom []byte) bool {
	if len(rom) < 0x014E {
		return false
	}
	var sum byte
	for addr := 0x0134; addr <= 0x014C; addr++ {
		sum = sum - rom[addr] - 1
	}
	return sum == rom[0x014D]
}

var romSizeTable = map[byte]struct {
	bytes, banks int
}{
	0x00: {32 * 1024, 2},
	0x01: {64 * 1024, 4},
	0x02: {128 * 1024, 8},
	0x03: {256 * 1024, 16},
	0x04: {512 * 1024, 32},
	0x05: {1 * 1024 * 1024, 64},
	0x06: {2 * 1024 * 1024, 128},
	0x07: {4 * 1024 * 1024, 256},
	0x08: {8 * 1024 * 1024, 512},
	0x52: {1152 * 1024, 72},
	0x53: {1280 * 1024, 80},
	0x54: {1536 * 1024, 96},
}

func decodeROMSize(code byte) (size, banks int) {
	if v, ok := romSizeTable[code]; ok {
		return v.bytes, v.banks
	}
	return 0, 0
}

var ramSizeTable = map[byte]int{
	0x00: 0,
	0x02: 8 * 1024,
	0x03: 32 * 1024,
	0x04: 128 * 1024,
	0x05: 64 * 1024,
}

func decodeRAMSize(code byte) int { return ramSizeTable[code] }

func cartTypeString(code byte) string {
	switch {
	case code == 0x00:
		return "ROM ONLY"
	case code >= 0x01 && code <= 0x03:
		return "MBC1 (variants)"
	case code == 0x05 || code == 0x06:
		return "MBC2 (variants)"
	case code >= 0x0F && code <= 0x13:
		return "MBC3 (variants)"
	case code >= 0x19 && code <= 0x1E:
		return "MBC5 (variants)"
	default:
		return "Other/unknown"
	}
}
