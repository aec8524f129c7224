package raw

import "fmt"

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Walk calls fn for obj and every object nested inside it, depth first.
// References are reported but not followed. Returning false from fn stops
// descent into that object's children.
func Walk(obj Object, fn func(Object) bool) {
	if obj == nil || !fn(obj) {
		return
	}
	switch o := obj.(type) {
	case *ArrayObj:
		for _, it := range o.Items {
			Walk(it, fn)
		}
	case *DictObj:
		for _, k := range o.Keys() {
			Walk(o.KV[k], fn)
		}
	case *StreamObj:
		Walk(o.Dict, fn)
	}
}

// Refs returns every reference held directly or transitively (without
// resolution) inside obj, in a stable order.
func Refs(obj Object) []ObjectRef {
	var out []ObjectRef
	Walk(obj, func(o Object) bool {
		if r, ok := o.(RefObj); ok {
			out = append(out, r.R)
		}
		return true
	})
	return out
}

// Clone returns a deep copy of obj. Stream payloads are copied as well so the
// clone can be mutated without touching the source.
func Clone(obj Object) Object {
	switch o := obj.(type) {
	case *ArrayObj:
		items := make([]Object, len(o.Items))
		for i, it := range o.Items {
			items[i] = Clone(it)
		}
		return &ArrayObj{Items: items}
	case *DictObj:
		return o.Clone()
	case *StreamObj:
		return &StreamObj{Dict: o.Dict.Clone(), Data: append([]byte(nil), o.Data...)}
	case StringObj:
		return StringObj{Bytes: append([]byte(nil), o.Bytes...), Hex: o.Hex}
	default:
		return obj
	}
}

// Equal reports whether a and b have the same semantic value. Integers and
// reals compare numerically and literal/hex strings compare by content.
// References compare by identity only.
func Equal(a, b Object) bool {
	if a == nil || b == nil {
		return isNull(a) && isNull(b)
	}
	switch x := a.(type) {
	case NullObj:
		return isNull(b)
	case BoolObj:
		y, ok := b.(BoolObj)
		return ok && x.V == y.V
	case NumberObj:
		y, ok := b.(NumberObj)
		return ok && x.Float() == y.Float()
	case StringObj:
		y, ok := b.(StringObj)
		return ok && string(x.Bytes) == string(y.Bytes)
	case NameObj:
		y, ok := b.(NameObj)
		return ok && x.Val == y.Val
	case RefObj:
		y, ok := b.(RefObj)
		return ok && x.R == y.R
	case *ArrayObj:
		y, ok := b.(*ArrayObj)
		if !ok || len(x.Items) != len(y.Items) {
			return false
		}
		for i := range x.Items {
			if !Equal(x.Items[i], y.Items[i]) {
				return false
			}
		}
		return true
	case *DictObj:
		y, ok := b.(*DictObj)
		return ok && dictEqual(x, y)
	case *StreamObj:
		y, ok := b.(*StreamObj)
		return ok && dictEqual(x.Dict, y.Dict) && string(x.Data) == string(y.Data)
	}
	return false
}

func dictEqual(x, y *DictObj) bool {
	if x.Len() != y.Len() {
		return false
	}
	for k, v := range x.KV {
		w, ok := y.KV[k]
		if !ok || !Equal(v, w) {
			return false
		}
	}
	return true
}

func isNull(o Object) bool {
	if o == nil {
		return true
	}
	_, ok := o.(NullObj)
	return ok
}
