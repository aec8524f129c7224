package contentstream

import (
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// baseEncoding returns the code to rune table for a named simple font
// encoding. Unknown names fall back to StandardEncoding.
func baseEncoding(name string) [256]rune {
	var t [256]rune
	switch name {
	case "WinAnsiEncoding":
		fill(&t, charmap.Windows1252)
	case "MacRomanEncoding":
		fill(&t, charmap.Macintosh)
	case "MacExpertEncoding", "Identity":
		for i := range t {
			t[i] = rune(i)
		}
	default:
		t = standardEncoding()
	}
	return t
}

func fill(t *[256]rune, cm *charmap.Charmap) {
	for i := range t {
		t[i] = cm.DecodeByte(byte(i))
	}
}

// standardEncoding is Latin-1 for printable ASCII with the Adobe Standard
// quote characters; the high half is left to /Differences.
func standardEncoding() [256]rune {
	var t [256]rune
	for i := 0x20; i < 0x7f; i++ {
		t[i] = rune(i)
	}
	t['\''] = '’'
	t['`'] = '‘'
	for code, name := range map[int]string{
		0xa1: "exclamdown", 0xa2: "cent", 0xa3: "sterling", 0xa5: "yen", 0xa7: "section",
		0xaa: "quotedblleft", 0xab: "guillemotleft", 0xae: "fi", 0xaf: "fl", 0xb1: "endash",
		0xb2: "dagger", 0xb3: "daggerdbl", 0xb7: "bullet", 0xba: "quotedblright",
		0xbb: "guillemotright", 0xbc: "ellipsis", 0xbf: "questiondown", 0xd0: "emdash",
		0xe1: "AE", 0xe8: "Lslash", 0xe9: "Oslash", 0xea: "OE", 0xf1: "ae", 0xf5: "dotlessi",
		0xf8: "lslash", 0xf9: "oslash", 0xfa: "oe", 0xfb: "germandbls",
	} {
		t[code], _ = glyphRune(name)
	}
	return t
}

// glyphs covers the Adobe Glyph List names that appear in /Differences
// arrays of Latin text fonts. Single-letter and digit names are handled
// in glyphRune.
var glyphs = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#', "dollar": '$',
	"percent": '%', "ampersand": '&', "quotesingle": '\'', "quoteright": '’',
	"parenleft": '(', "parenright": ')', "asterisk": '*', "plus": '+', "comma": ',',
	"hyphen": '-', "period": '.', "slash": '/', "colon": ':', "semicolon": ';',
	"less": '<', "equal": '=', "greater": '>', "question": '?', "at": '@',
	"bracketleft": '[', "backslash": '\\', "bracketright": ']', "asciicircum": '^',
	"underscore": '_', "grave": '`', "quoteleft": '‘', "braceleft": '{', "bar": '|',
	"braceright": '}', "asciitilde": '~',
	"zero": '0', "one": '1', "two": '2', "three": '3', "four": '4',
	"five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9',
	"bullet": '•', "endash": '–', "emdash": '—', "ellipsis": '…',
	"quotedblleft": '“', "quotedblright": '”', "quotesinglbase": '‚',
	"quotedblbase": '„', "dagger": '†', "daggerdbl": '‡',
	"guillemotleft": '«', "guillemotright": '»', "guilsinglleft": '‹',
	"guilsinglright": '›', "fi": 'ﬁ', "fl": 'ﬂ', "ff": 'ﬀ',
	"ffi": 'ﬃ', "ffl": 'ﬄ', "trademark": '™', "copyright": '©',
	"registered": '®', "degree": '°', "section": '§', "paragraph": '¶',
	"cent": '¢', "sterling": '£', "yen": '¥', "Euro": '€',
	"exclamdown": '¡', "questiondown": '¿', "germandbls": 'ß',
	"AE": 'Æ', "ae": 'æ', "OE": 'Œ', "oe": 'œ', "Oslash": 'Ø',
	"oslash": 'ø', "Lslash": 'Ł', "lslash": 'ł', "dotlessi": 'ı',
	"minus": '−', "multiply": '×', "divide": '÷', "plusminus": '±',
	"periodcentered": '·', "nbspace": ' ', "softhyphen": '­',
	"Aacute": 'Á', "aacute": 'á', "Agrave": 'À', "agrave": 'à',
	"Acircumflex": 'Â', "acircumflex": 'â', "Adieresis": 'Ä', "adieresis": 'ä',
	"Atilde": 'Ã', "atilde": 'ã', "Aring": 'Å', "aring": 'å',
	"Ccedilla": 'Ç', "ccedilla": 'ç', "Eacute": 'É', "eacute": 'é',
	"Egrave": 'È', "egrave": 'è', "Ecircumflex": 'Ê', "ecircumflex": 'ê',
	"Edieresis": 'Ë', "edieresis": 'ë', "Iacute": 'Í', "iacute": 'í',
	"Igrave": 'Ì', "igrave": 'ì', "Icircumflex": 'Î', "icircumflex": 'î',
	"Idieresis": 'Ï', "idieresis": 'ï', "Ntilde": 'Ñ', "ntilde": 'ñ',
	"Oacute": 'Ó', "oacute": 'ó', "Ograve": 'Ò', "ograve": 'ò',
	"Ocircumflex": 'Ô', "ocircumflex": 'ô', "Odieresis": 'Ö', "odieresis": 'ö',
	"Otilde": 'Õ', "otilde": 'õ', "Uacute": 'Ú', "uacute": 'ú',
	"Ugrave": 'Ù', "ugrave": 'ù', "Ucircumflex": 'Û', "ucircumflex": 'û',
	"Udieresis": 'Ü', "udieresis": 'ü', "Yacute": 'Ý', "yacute": 'ý',
	"ydieresis": 'ÿ', "Ydieresis": 'Ÿ', "Scaron": 'Š', "scaron": 'š',
	"Zcaron": 'Ž', "zcaron": 'ž',
}

// glyphRune maps a glyph name to its character: list entries, single
// letters, and the uniXXXX and uXXXX[XX] forms.
func glyphRune(name string) (rune, bool) {
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	if r, ok := glyphs[name]; ok {
		return r, true
	}
	if len(name) == 1 && ((name[0] >= 'a' && name[0] <= 'z') || (name[0] >= 'A' && name[0] <= 'Z')) {
		return rune(name[0]), true
	}
	var hex string
	switch {
	case strings.HasPrefix(name, "uni") && len(name) >= 7:
		hex = name[3:7]
	case strings.HasPrefix(name, "u") && len(name) >= 5 && len(name) <= 7:
		hex = name[1:]
	default:
		return 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}
