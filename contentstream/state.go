package contentstream

import (
	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/coords"
)

// ErrStateUnderflow reports a Q with no matching q.
var ErrStateUnderflow = errors.New("graphics state stack underflow")

// TextRenderMode matches the Tr operand.
type TextRenderMode int

const (
	TextFill TextRenderMode = iota
	TextStroke
	TextFillStroke
	TextInvisible
	TextFillClip
	TextStrokeClip
	TextFillStrokeClip
	TextClip
)

// Color is a colour in the space named by Space. Pattern colours keep the
// pattern name.
type Color struct {
	Space      string
	Components []float64
	Pattern    string
}

var black = Color{Space: "DeviceGray", Components: []float64{0}}

// GraphicsState is the part of the PDF graphics state the interpreter
// tracks.
type GraphicsState struct {
	CTM       coords.Matrix
	LineWidth float64

	Font      *Font
	FontName  string
	FontSize  float64
	CharSpace float64 // Tc
	WordSpace float64 // Tw
	HScale    float64 // Tz, as a fraction
	Leading   float64 // TL
	Rise      float64 // Ts
	Render    TextRenderMode

	Fill   Color
	Stroke Color
}

func newGraphicsState(ctm coords.Matrix) GraphicsState {
	return GraphicsState{CTM: ctm, LineWidth: 1, HScale: 1, Fill: black, Stroke: black}
}

// TextState holds the matrices valid between BT and ET.
type TextState struct {
	Matrix     coords.Matrix // Tm
	LineMatrix coords.Matrix // Tlm
	InText     bool
}

// stateStack is the q/Q stack. The current state lives outside it.
type stateStack struct {
	cur   GraphicsState
	saved []GraphicsState
}

func (s *stateStack) push() { s.saved = append(s.saved, s.cur) }

func (s *stateStack) pop() error {
	n := len(s.saved)
	if n == 0 {
		return ErrStateUnderflow
	}
	s.cur = s.saved[n-1]
	s.saved = s.saved[:n-1]
	return nil
}

func (s *stateStack) depth() int { return len(s.saved) }
