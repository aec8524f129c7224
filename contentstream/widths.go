package contentstream

import (
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

const defaultGlyphWidth = 500

var (
	fallbackOnce sync.Once
	fallbackFont *sfnt.Font
)

// fallbackWidth measures r in Go Regular, in thousandths of an em. It is
// used for fonts that carry no /Widths, such as unembedded base fonts.
func fallbackWidth(r rune) float64 {
	fallbackOnce.Do(func() {
		f, err := sfnt.Parse(goregular.TTF)
		if err == nil {
			fallbackFont = f
		}
	})
	if fallbackFont == nil || r == 0 {
		return defaultGlyphWidth
	}
	var buf sfnt.Buffer
	idx, err := fallbackFont.GlyphIndex(&buf, r)
	if err != nil || idx == 0 {
		return defaultGlyphWidth
	}
	upem := int(fallbackFont.UnitsPerEm())
	adv, err := fallbackFont.GlyphAdvance(&buf, idx, fixed.I(upem), font.HintingNone)
	if err != nil {
		return defaultGlyphWidth
	}
	return float64(adv) / 64 * 1000 / float64(upem)
}
