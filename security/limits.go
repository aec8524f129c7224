package security

// Limits bound the resources a single document may consume while it is
// parsed and interpreted.
type Limits struct {
	// Maximum decoded stream size. Default: 100 MB.
	MaxDecompressedSize int64

	// Maximum nesting of indirect references followed by ResolveDeep. Default: 100.
	MaxIndirectDepth int

	// Maximum number of cross-reference sections followed through /Prev. Default: 50.
	MaxXRefDepth int

	// Maximum form XObject nesting in content streams. Default: 20.
	MaxXObjectDepth int

	// Maximum array and dictionary nesting. Default: 256.
	MaxNestingDepth int

	// Maximum string length (bytes). Default: 10 MB.
	MaxStringLength int64

	// Maximum raw stream length (bytes). Default: 50 MB.
	MaxStreamLength int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 100 * 1024 * 1024,
		MaxIndirectDepth:    100,
		MaxXRefDepth:        50,
		MaxXObjectDepth:     20,
		MaxNestingDepth:     256,
		MaxStringLength:     10 * 1024 * 1024,
		MaxStreamLength:     50 * 1024 * 1024,
	}
}

// WithDefaults fills zero fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxDecompressedSize <= 0 {
		l.MaxDecompressedSize = d.MaxDecompressedSize
	}
	if l.MaxIndirectDepth <= 0 {
		l.MaxIndirectDepth = d.MaxIndirectDepth
	}
	if l.MaxXRefDepth <= 0 {
		l.MaxXRefDepth = d.MaxXRefDepth
	}
	if l.MaxXObjectDepth <= 0 {
		l.MaxXObjectDepth = d.MaxXObjectDepth
	}
	if l.MaxNestingDepth <= 0 {
		l.MaxNestingDepth = d.MaxNestingDepth
	}
	if l.MaxStringLength <= 0 {
		l.MaxStringLength = d.MaxStringLength
	}
	if l.MaxStreamLength <= 0 {
		l.MaxStreamLength = d.MaxStreamLength
	}
	return l
}
