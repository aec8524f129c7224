package filters

import (
	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/ir/raw"
)

// ErrUnsupportedFilter is returned for filters with no registered decoder.
var ErrUnsupportedFilter = errors.New("unsupported filter")

// ErrLimitExceeded is returned when decoded output grows past Limits.
var ErrLimitExceeded = errors.New("decoded stream exceeds size limit")

type Decoder interface {
	Name() string
	Decode(input []byte, params *raw.DictObj) ([]byte, error)
}

// Encoder is implemented by filters the writer can apply.
type Encoder interface {
	Name() string
	Encode(input []byte, params *raw.DictObj) ([]byte, error)
}

// Terminal decoders hand their output to an image codec. The pipeline
// stops at them and returns the bytes still encoded.
type Terminal interface {
	Terminal() bool
}

type Limits struct {
	MaxDecompressedSize int64
}

type Pipeline struct {
	registry *Registry
	limits   Limits
}

// NewPipeline constructs a pipeline over a registry. A nil registry uses the
// standard set of filters.
func NewPipeline(registry *Registry, limits Limits) *Pipeline {
	if registry == nil {
		registry = NewStandardRegistry()
	}
	return &Pipeline{registry: registry, limits: limits}
}

// Decode applies the filter chain in order. When a terminal (image) filter is
// reached, decoding stops and the returned names list the filters still applied.
func (p *Pipeline) Decode(input []byte, filterNames []string, params []*raw.DictObj) ([]byte, []string, error) {
	data := input
	for i, name := range filterNames {
		dec, ok := p.registry.Get(name)
		if !ok {
			return nil, filterNames[i:], errors.Wrapf(ErrUnsupportedFilter, "/%s", name)
		}
		if t, ok := dec.(Terminal); ok && t.Terminal() {
			return data, filterNames[i:], nil
		}
		var param *raw.DictObj
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(data, param)
		if err != nil {
			return nil, filterNames[i:], errors.Wrapf(err, "/%s", name)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, filterNames[i:], errors.Wrapf(ErrLimitExceeded, "/%s produced %d bytes", name, len(out))
		}
		data = out
	}
	return data, nil, nil
}

// Encode applies a single encoder by name.
func (p *Pipeline) Encode(name string, input []byte, params *raw.DictObj) ([]byte, error) {
	dec, ok := p.registry.Get(name)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedFilter, "/%s", name)
	}
	enc, ok := dec.(Encoder)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedFilter, "/%s has no encoder", name)
	}
	return enc.Encode(input, params)
}

type Registry struct{ decoders map[string]Decoder }

func (r *Registry) Register(d Decoder, aliases ...string) {
	if r.decoders == nil {
		r.decoders = make(map[string]Decoder)
	}
	r.decoders[d.Name()] = d
	for _, a := range aliases {
		r.decoders[a] = d
	}
}
func (r *Registry) Get(name string) (Decoder, bool) { d, ok := r.decoders[name]; return d, ok }

// NewStandardRegistry registers every filter known to the engine, including
// the abbreviations allowed in inline images.
func NewStandardRegistry() *Registry {
	r := &Registry{}
	r.Register(NewFlateDecoder(), "Fl")
	r.Register(NewLZWDecoder(), "LZW")
	r.Register(NewASCII85Decoder(), "A85")
	r.Register(NewASCIIHexDecoder(), "AHx")
	r.Register(NewRunLengthDecoder(), "RL")
	r.Register(cryptDecoder{})
	r.Register(imageDecoder{"DCTDecode"}, "DCT")
	r.Register(imageDecoder{"JPXDecode"})
	r.Register(imageDecoder{"CCITTFaxDecode"}, "CCF")
	r.Register(imageDecoder{"JBIG2Decode"})
	return r
}

// imageDecoder marks codec filters whose output is pixel data.
type imageDecoder struct{ name string }

func (d imageDecoder) Name() string   { return d.name }
func (d imageDecoder) Terminal() bool { return true }
func (d imageDecoder) Decode(in []byte, _ *raw.DictObj) ([]byte, error) {
	return in, nil
}

// cryptDecoder handles /Crypt with the /Identity filter. Non-identity crypt
// filters are applied by the security handler before the pipeline runs.
type cryptDecoder struct{}

func (cryptDecoder) Name() string { return "Crypt" }
func (cryptDecoder) Decode(in []byte, params *raw.DictObj) ([]byte, error) {
	if name, ok := params.GetName("Name"); ok && name != "Identity" {
		return nil, errors.Wrapf(ErrUnsupportedFilter, "crypt filter /%s", name)
	}
	return in, nil
}

func intParam(params *raw.DictObj, key string, def int) int {
	if v, ok := params.GetInt(key); ok {
		return int(v)
	}
	return def
}
