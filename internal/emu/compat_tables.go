package emu

import (
	"strings"

	"github.com/gbcore/dmgcore/internal/cart"
)

// paletteRule maps a title match to a palette ID (indexing
// cgbCompatSetNames/cgbCompatSets in emu.go). exact rules are tried before
// contains rules so "POKEMON YELLOW" doesn't fall through to a looser
// "POKEMON" match first — not that it'd pick differently here, but a rule
// table built for extension should preserve that order.
type paletteRule struct {
	title   string
	contains bool
	id      int
}

var paletteRules = []paletteRule{
	{"TETRIS", false, 2},
	{"TETRIS DX", false, 2},
	{"SUPER MARIO LAND", false, 3},
	{"SUPER MARIO LAND 2", false, 3},
	{"DR. MARIO", false, 4},
	{"DONKEY KONG", false, 1},
	{"THE LEGEND OF ZELDA", false, 0},
	{"ZELDA", false, 0},
	{"METROID II", false, 3},
	{"KIRBY'S DREAM LAND", false, 4},
	{"MEGA MAN", false, 2},
	{"MEGAMAN", false, 2},
	{"WARIO LAND", false, 1},
	{"POKEMON YELLOW", false, 4},
	{"POKEMON RED", false, 4},
	{"POKEMON BLUE", false, 4},
	{"POCKET MONSTERS", false, 4},

	{"TETRIS", true, 2},
	{"MARIO", true, 3},
	{"ZELDA", true, 0},
	{"KIRBY", true, 4},
	{"DONKEY KONG", true, 1},
	{"METROID", true, 3},
	{"MEGA MAN", true, 2},
	{"MEGAMAN", true, 2},
	{"WARIO", true, 1},
	{"POKEMON", true, 4},
	{"POCKET MONSTERS", true, 4},
}

// autoCompatPaletteFromHeader picks a DMG-on-CGB compat palette for a
// cartridge: an exact or substring title match from paletteRules, falling
// back to a checksum-derived pick for Nintendo-published titles and the
// default palette for everything else. Returns (id, true) on success.
func autoCompatPaletteFromHeader(h *cart.Header) (int, bool) {
	if h == nil {
		return 0, false
	}
	title := strings.ToUpper(strings.TrimSpace(strings.TrimRight(h.Title, "\x00")))
	for _, r := range paletteRules {
		if r.contains {
			if strings.Contains(title, r.title) {
				return r.id, true
			}
		} else if title == r.title {
			return r.id, true
		}
	}

	nintendo := h.OldLicensee == 0x01
	if h.OldLicensee == 0x33 {
		nintendo = strings.ToUpper(h.NewLicensee) == "01"
	}
	if nintendo {
		// Stable per-title pick within the curated set, not a real attempt
		// at matching Nintendo's own CGB boot-palette table.
		return int(h.HeaderChecksum) % len(cgbCompatSetNames), true
	}
	return 0, true
}
