package extractor

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/pages"
)

// FontInfo describes one font dictionary referenced from page resources.
type FontInfo struct {
	ResourceName string
	BaseFont     string
	Subtype      string
	Encoding     string
	HasToUnicode bool
	Embedded     bool
	Pages        []int
}

// Fonts reports the distinct fonts in the page resources of the document
// and the pages that reference them.
func (e *Extractor) Fonts() ([]FontInfo, error) {
	list, err := pages.Enumerate(e.g)
	if err != nil && len(list) == 0 {
		return nil, errors.Wrap(err, "list fonts")
	}
	byDict := make(map[*raw.DictObj]*FontInfo)
	for _, p := range list {
		obj, _ := p.Resources.Get("Font")
		fonts, ok := e.g.Dict(obj)
		if !ok {
			continue
		}
		for _, name := range fonts.Keys() {
			dict, ok := e.g.Dict(fonts.KV[name])
			if !ok {
				continue
			}
			info, ok := byDict[dict]
			if !ok {
				info = e.fontInfo(name, dict)
				byDict[dict] = info
			}
			if n := len(info.Pages); n == 0 || info.Pages[n-1] != p.Index {
				info.Pages = append(info.Pages, p.Index)
			}
		}
	}
	out := make([]FontInfo, 0, len(byDict))
	for _, info := range byDict {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BaseFont == out[j].BaseFont {
			return out[i].ResourceName < out[j].ResourceName
		}
		return out[i].BaseFont < out[j].BaseFont
	})
	return out, nil
}

func (e *Extractor) fontInfo(name string, dict *raw.DictObj) *FontInfo {
	info := &FontInfo{ResourceName: name}
	info.BaseFont, _ = e.g.Name(dict.KV["BaseFont"])
	info.Subtype, _ = e.g.Name(dict.KV["Subtype"])
	if enc, ok := e.g.Name(dict.KV["Encoding"]); ok {
		info.Encoding = enc
	} else if encDict, ok := e.g.Dict(dict.KV["Encoding"]); ok {
		info.Encoding, _ = e.g.Name(encDict.KV["BaseEncoding"])
	}
	_, info.HasToUnicode = e.g.Stream(dict.KV["ToUnicode"])

	descriptor := dict.KV["FontDescriptor"]
	if kids, ok := e.g.Array(dict.KV["DescendantFonts"]); ok && kids.Len() > 0 {
		if cid, ok := e.g.Dict(kids.Items[0]); ok {
			descriptor = cid.KV["FontDescriptor"]
		}
	}
	if fd, ok := e.g.Dict(descriptor); ok {
		for _, k := range []string{"FontFile", "FontFile2", "FontFile3"} {
			if _, ok := e.g.Stream(fd.KV[k]); ok {
				info.Embedded = true
			}
		}
	}
	return info
}
