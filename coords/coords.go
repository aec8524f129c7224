// Package coords holds the affine geometry shared by the page and content
// stream packages.
package coords

import (
	"math"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/ir/raw"
)

// Matrix is [a b c d e f], mapping (x, y) to (ax+cy+e, bx+dy+f).
type Matrix [6]float64

type Point struct{ X, Y float64 }

func Identity() Matrix                { return Matrix{1, 0, 0, 1, 0, 0} }
func Translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }
func Scale(sx, sy float64) Matrix     { return Matrix{sx, 0, 0, sy, 0, 0} }

// Rotate turns counter-clockwise by degrees. Quarter turns are exact.
func Rotate(degrees float64) Matrix {
	var c, s float64
	switch math.Mod(math.Mod(degrees, 360)+360, 360) {
	case 0:
		c, s = 1, 0
	case 90:
		c, s = 0, 1
	case 180:
		c, s = -1, 0
	case 270:
		c, s = 0, -1
	default:
		rad := degrees * math.Pi / 180
		c, s = math.Cos(rad), math.Sin(rad)
	}
	return Matrix{c, s, -s, c, 0, 0}
}

// Multiply returns m followed by o, the order PDF concatenates with cm.
func (m Matrix) Multiply(o Matrix) Matrix {
	return Matrix{
		m[0]*o[0] + m[1]*o[2],
		m[0]*o[1] + m[1]*o[3],
		m[2]*o[0] + m[3]*o[2],
		m[2]*o[1] + m[3]*o[3],
		m[4]*o[0] + m[5]*o[2] + o[4],
		m[4]*o[1] + m[5]*o[3] + o[5],
	}
}

func (m Matrix) Apply(p Point) Point {
	return Point{X: m[0]*p.X + m[2]*p.Y + m[4], Y: m[1]*p.X + m[3]*p.Y + m[5]}
}

func (m Matrix) IsIdentity() bool { return m == Identity() }

func (m Matrix) Inverse() (Matrix, error) {
	det := m[0]*m[3] - m[1]*m[2]
	if math.Abs(det) < 1e-10 {
		return Matrix{}, errors.New("matrix is singular")
	}
	return Matrix{
		m[3] / det, -m[1] / det,
		-m[2] / det, m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det,
		(m[1]*m[4] - m[0]*m[5]) / det,
	}, nil
}

// ScaleFactor is the length a unit vector along x has after m.
func (m Matrix) ScaleFactor() float64 { return math.Hypot(m[0], m[1]) }

// Operands returns the six numbers as objects for a cm or Tm operator.
func (m Matrix) Operands() []raw.Object {
	out := make([]raw.Object, 6)
	for i, v := range m {
		out[i] = raw.Number(round(v))
	}
	return out
}

func round(v float64) float64 { return math.Round(v*1e6) / 1e6 }

// MatrixFrom reads a six-number array such as a form /Matrix.
func MatrixFrom(obj raw.Object) (Matrix, bool) {
	arr, ok := obj.(*raw.ArrayObj)
	if !ok || arr.Len() != 6 {
		return Identity(), false
	}
	vals, ok := arr.Floats()
	if !ok {
		return Identity(), false
	}
	var m Matrix
	copy(m[:], vals)
	return m, true
}

// Rect is a normalized rectangle, LLX <= URX and LLY <= URY.
type Rect struct{ LLX, LLY, URX, URY float64 }

func NewRect(x1, y1, x2, y2 float64) Rect {
	return Rect{math.Min(x1, x2), math.Min(y1, y2), math.Max(x1, x2), math.Max(y1, y2)}
}

func (r Rect) Width() float64  { return r.URX - r.LLX }
func (r Rect) Height() float64 { return r.URY - r.LLY }
func (r Rect) IsZero() bool    { return r == Rect{} }

// Transform returns the bounding box of r's corners after m.
func (r Rect) Transform(m Matrix) Rect {
	pts := [4]Point{
		m.Apply(Point{r.LLX, r.LLY}), m.Apply(Point{r.URX, r.LLY}),
		m.Apply(Point{r.LLX, r.URY}), m.Apply(Point{r.URX, r.URY}),
	}
	out := Rect{pts[0].X, pts[0].Y, pts[0].X, pts[0].Y}
	for _, p := range pts[1:] {
		out.LLX, out.URX = math.Min(out.LLX, p.X), math.Max(out.URX, p.X)
		out.LLY, out.URY = math.Min(out.LLY, p.Y), math.Max(out.URY, p.Y)
	}
	return out
}

// Intersect returns the overlap of r and o, or the zero Rect.
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{math.Max(r.LLX, o.LLX), math.Max(r.LLY, o.LLY), math.Min(r.URX, o.URX), math.Min(r.URY, o.URY)}
	if out.LLX >= out.URX || out.LLY >= out.URY {
		return Rect{}
	}
	return out
}

// Array renders r as a four-number PDF array.
func (r Rect) Array() *raw.ArrayObj {
	return raw.Rect(round(r.LLX), round(r.LLY), round(r.URX), round(r.URY))
}

// RectFrom reads a four-number array, normalizing swapped corners.
func RectFrom(obj raw.Object) (Rect, bool) {
	arr, ok := obj.(*raw.ArrayObj)
	if !ok || arr.Len() != 4 {
		return Rect{}, false
	}
	v, ok := arr.Floats()
	if !ok {
		return Rect{}, false
	}
	return NewRect(v[0], v[1], v[2], v[3]), true
}
