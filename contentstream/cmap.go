package contentstream

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"

	"github.com/wudi/pdfcore/scanner"
)

type codeKey struct {
	code uint32
	n    int
}

type codespace struct {
	n      int
	lo, hi []byte
}

func (c codespace) contains(b []byte) bool {
	if len(b) != c.n {
		return false
	}
	for i := range b {
		if b[i] < c.lo[i] || b[i] > c.hi[i] {
			return false
		}
	}
	return true
}

type bfRange struct {
	n      int
	lo, hi uint32
	base   []byte   // UTF-16BE of the first code
	each   []string // array form: one string per code
}

type cidRange struct {
	n      int
	lo, hi uint32
	cid    uint32
}

// CMap is a parsed ToUnicode or encoding CMap.
type CMap struct {
	spaces  []codespace
	chars   map[codeKey]string
	ranges  []bfRange
	cids    map[codeKey]uint32
	cidRngs []cidRange
}

var utf16be = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// DecodeUTF16 decodes big-endian UTF-16 as found in CMap destinations and
// text strings.
func DecodeUTF16(b []byte) string {
	out, err := utf16be.NewDecoder().Bytes(b)
	if err != nil {
		return string([]rune{0xFFFD})
	}
	return string(out)
}

// ParseCMap reads the codespace, bfchar, bfrange, cidchar and cidrange
// sections of a CMap program. Other operators are ignored.
func ParseCMap(data []byte) (*CMap, error) {
	cm := &CMap{chars: make(map[codeKey]string), cids: make(map[codeKey]uint32)}
	s := scanner.NewBytes(data, scanner.Config{})
	var operands []scanner.Token
	for {
		tok, err := s.Next()
		if err != nil {
			if errors.Cause(err) == io.EOF {
				break
			}
			return cm, errors.Wrap(err, "cmap")
		}
		switch {
		case tok.IsKeyword("endcodespacerange"):
			for i := 0; i+1 < len(operands); i += 2 {
				lo, hi := operands[i].Bytes, operands[i+1].Bytes
				if len(lo) == len(hi) && len(lo) > 0 && len(lo) <= 4 {
					cm.spaces = append(cm.spaces, codespace{n: len(lo), lo: lo, hi: hi})
				}
			}
		case tok.IsKeyword("endbfchar"):
			for i := 0; i+1 < len(operands); i += 2 {
				src := operands[i].Bytes
				if len(src) == 0 || len(src) > 4 {
					continue
				}
				cm.chars[codeKey{codeOf(src), len(src)}] = dstString(operands[i+1])
			}
		case tok.IsKeyword("endbfrange"):
			cm.readBFRanges(operands)
		case tok.IsKeyword("endcidchar"):
			for i := 0; i+1 < len(operands); i += 2 {
				src := operands[i].Bytes
				if len(src) == 0 || len(src) > 4 || operands[i+1].Type != scanner.TokenNumber {
					continue
				}
				cm.cids[codeKey{codeOf(src), len(src)}] = uint32(operands[i+1].Int)
			}
		case tok.IsKeyword("endcidrange"):
			for i := 0; i+2 < len(operands); i += 3 {
				lo, hi := operands[i].Bytes, operands[i+1].Bytes
				if len(lo) != len(hi) || len(lo) == 0 || len(lo) > 4 || operands[i+2].Type != scanner.TokenNumber {
					continue
				}
				cm.cidRngs = append(cm.cidRngs, cidRange{n: len(lo), lo: codeOf(lo), hi: codeOf(hi), cid: uint32(operands[i+2].Int)})
			}
		}
		switch tok.Type {
		case scanner.TokenKeyword:
			if tok.Str != "]" {
				operands = operands[:0]
				continue
			}
			operands = append(operands, tok)
		default:
			operands = append(operands, tok)
		}
	}
	return cm, nil
}

// readBFRanges handles "<lo> <hi> <dst>" and "<lo> <hi> [<d1> <d2> ...]".
// Array tokens arrive flattened, delimited by the array start and "]".
func (cm *CMap) readBFRanges(toks []scanner.Token) {
	for i := 0; i+2 < len(toks); {
		lo, hi := toks[i].Bytes, toks[i+1].Bytes
		if len(lo) != len(hi) || len(lo) == 0 || len(lo) > 4 {
			i++
			continue
		}
		r := bfRange{n: len(lo), lo: codeOf(lo), hi: codeOf(hi)}
		if toks[i+2].Type == scanner.TokenArray {
			j := i + 3
			for ; j < len(toks) && !toks[j].IsKeyword("]"); j++ {
				r.each = append(r.each, dstString(toks[j]))
			}
			i = j + 1
		} else {
			r.base = toks[i+2].Bytes
			i += 3
		}
		if r.hi >= r.lo {
			cm.ranges = append(cm.ranges, r)
		}
	}
}

func dstString(tok scanner.Token) string {
	if tok.Type == scanner.TokenName {
		if r, ok := glyphRune(tok.Str); ok {
			return string(r)
		}
		return ""
	}
	return DecodeUTF16(tok.Bytes)
}

func codeOf(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

// Unicode maps a character code of n bytes.
func (cm *CMap) Unicode(code uint32, n int) (string, bool) {
	if cm == nil {
		return "", false
	}
	if s, ok := cm.chars[codeKey{code, n}]; ok {
		return s, true
	}
	for _, r := range cm.ranges {
		if r.n != n || code < r.lo || code > r.hi {
			continue
		}
		off := code - r.lo
		if r.each != nil {
			if int(off) < len(r.each) {
				return r.each[off], true
			}
			return "", false
		}
		if len(r.base) < 2 {
			return "", false
		}
		dst := append([]byte(nil), r.base...)
		last := uint32(dst[len(dst)-2])<<8 | uint32(dst[len(dst)-1])
		last += off
		dst[len(dst)-2], dst[len(dst)-1] = byte(last>>8), byte(last)
		return DecodeUTF16(dst), true
	}
	return "", false
}

// CID maps a character code to a CID through cidchar and cidrange entries.
func (cm *CMap) CID(code uint32, n int) (uint32, bool) {
	if cm == nil {
		return 0, false
	}
	if c, ok := cm.cids[codeKey{code, n}]; ok {
		return c, true
	}
	for _, r := range cm.cidRngs {
		if r.n == n && code >= r.lo && code <= r.hi {
			return r.cid + code - r.lo, true
		}
	}
	return 0, false
}

// NextCode splits the next character code off s using the codespace
// ranges. It returns n=0 when no range matches.
func (cm *CMap) NextCode(s []byte) (uint32, int) {
	if cm == nil {
		return 0, 0
	}
	for n := 1; n <= 4 && n <= len(s); n++ {
		for _, sp := range cm.spaces {
			if sp.contains(s[:n]) {
				return codeOf(s[:n]), n
			}
		}
	}
	return 0, 0
}

func (cm *CMap) hasCodespace() bool { return cm != nil && len(cm.spaces) > 0 }
