package extractor

import (
	"github.com/wudi/pdfcore/contentstream"
	"github.com/wudi/pdfcore/coords"
	"github.com/wudi/pdfcore/filters"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/pages"
)

// ImageAsset is one image drawn on a page, either an image XObject or an
// inline image. Drawing the same XObject twice yields two assets.
type ImageAsset struct {
	Page         int
	ResourceName string
	Ref          raw.ObjectRef
	Inline       bool

	Width            int
	Height           int
	BitsPerComponent int
	ColorSpace       string
	Filters          []string
	// Data is decoded up to the first image codec filter, whose payload is
	// left as is. Inline image data is never decoded.
	Data []byte
	// Placement is the unit square under the CTM in effect when drawn.
	Placement coords.Rect
}

var inlineKeys = map[string]string{
	"W": "Width", "H": "Height", "BPC": "BitsPerComponent", "CS": "ColorSpace", "F": "Filter",
}

var unitSquare = coords.Rect{URX: 1, URY: 1}

// Images lists the images p draws, including those inside form XObjects.
func (e *Extractor) Images(p pages.Page) ([]ImageAsset, error) {
	var out []ImageAsset
	err := e.run(p, nil, func(in *contentstream.Interpreter) {
		do, _ := in.Handler("Do")
		in.RegisterHandler("Do", contentstream.HandlerFunc(func(ctx *contentstream.ExecutionContext, ops []raw.Object) error {
			if len(ops) == 1 {
				if name, ok := ops[0].(raw.NameObj); ok {
					if img, ok := e.xobjectImage(ctx, name.Val); ok {
						img.Page = p.Index
						out = append(out, img)
					}
				}
			}
			return do.Handle(ctx, ops)
		}))
		in.RegisterHandler("BI", contentstream.HandlerFunc(func(ctx *contentstream.ExecutionContext, _ []raw.Object) error {
			if ctx.Op.Image == nil {
				return contentstream.ErrOperands
			}
			dict := raw.Dict()
			for k, v := range ctx.Op.Image.Dict.KV {
				if full, ok := inlineKeys[k]; ok {
					k = full
				}
				dict.Set(k, v)
			}
			img := e.describe(dict)
			img.Page = p.Index
			img.Inline = true
			img.Data = ctx.Op.Image.Data
			img.Placement = unitSquare.Transform(ctx.State.CTM)
			out = append(out, img)
			return nil
		}))
	})
	return out, err
}

func (e *Extractor) xobjectImage(ctx *contentstream.ExecutionContext, name string) (ImageAsset, bool) {
	if ctx.Resources == nil {
		return ImageAsset{}, false
	}
	xobjects, ok := e.g.Dict(ctx.Resources.KV["XObject"])
	if !ok {
		return ImageAsset{}, false
	}
	entry := xobjects.KV[name]
	st, ok := e.g.Stream(entry)
	if !ok {
		return ImageAsset{}, false
	}
	if sub, _ := e.g.Name(st.Dict.KV["Subtype"]); sub != "Image" {
		return ImageAsset{}, false
	}
	img := e.describe(st.Dict)
	img.ResourceName = name
	if ref, ok := entry.(raw.RefObj); ok {
		img.Ref = ref.R
	}
	img.Placement = unitSquare.Transform(ctx.State.CTM)
	data, err := e.g.StreamData(st)
	if err != nil {
		e.log.Warn("image data", observability.String("xobject", name), observability.Error("error", err))
	} else {
		img.Data = data
	}
	return img, true
}

func (e *Extractor) describe(dict *raw.DictObj) ImageAsset {
	var img ImageAsset
	if v, ok := e.g.Number(dict.KV["Width"]); ok {
		img.Width = int(v)
	}
	if v, ok := e.g.Number(dict.KV["Height"]); ok {
		img.Height = int(v)
	}
	if v, ok := e.g.Number(dict.KV["BitsPerComponent"]); ok {
		img.BitsPerComponent = int(v)
	}
	if cs, ok := e.g.Name(dict.KV["ColorSpace"]); ok {
		img.ColorSpace = cs
	} else if arr, ok := e.g.Array(dict.KV["ColorSpace"]); ok && arr.Len() > 0 {
		img.ColorSpace, _ = e.g.Name(arr.Items[0])
	}
	img.Filters, _ = filters.ExtractFilters(dict)
	return img
}
