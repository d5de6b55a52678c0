package textutil

import (
	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"
)

// DisplayWidth reports the printable width of text, accounting for wide
// runes and multi-rune grapheme clusters.
func DisplayWidth(text string) int {
	total := 0
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		total += graphemeWidth(g.Runes())
	}
	return total
}

func graphemeWidth(runes []rune) int {
	if len(runes) == 0 {
		return 0
	}
	if len(runes) == 1 {
		w := runewidth.RuneWidth(runes[0])
		if w < 1 {
			w = 1
		}
		return w
	}

	// Multi-rune clusters carrying emoji machinery (ZWJ sequences,
	// variation selectors, skin tones, keycaps, flag pairs) render as a
	// single double-width glyph.
	for _, r := range runes {
		switch {
		case r == 0x200D || r == 0xFE0F || r == 0x20E3:
			return 2
		case r >= 0x1F1E6 && r <= 0x1F1FF:
			return 2
		case r >= 0x1F3FB && r <= 0x1F3FF:
			return 2
		}
	}

	w := 0
	for _, r := range runes {
		if rw := runewidth.RuneWidth(r); rw > w {
			w = rw
		}
	}
	if w < 1 {
		w = 1
	}
	return w
}
