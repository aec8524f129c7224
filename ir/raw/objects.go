package raw

import "sort"

// Name object
type NameObj struct{ Val string }

func (n NameObj) Type() string     { return "name" }
func (n NameObj) IsIndirect() bool { return false }
func (n NameObj) Value() string    { return n.Val }

// Number object
type NumberObj struct {
	I     int64
	F     float64
	IsInt bool
}

func (n NumberObj) Type() string     { return "number" }
func (n NumberObj) IsIndirect() bool { return false }
func (n NumberObj) Int() int64 {
	if n.IsInt {
		return n.I
	}
	return int64(n.F)
}
func (n NumberObj) Float() float64 {
	if n.IsInt {
		return float64(n.I)
	}
	return n.F
}
func (n NumberObj) IsInteger() bool { return n.IsInt }

// Boolean object
type BoolObj struct{ V bool }

func (b BoolObj) Type() string     { return "boolean" }
func (b BoolObj) IsIndirect() bool { return false }
func (b BoolObj) Value() bool      { return b.V }

// Null object
type NullObj struct{}

func (n NullObj) Type() string     { return "null" }
func (n NullObj) IsIndirect() bool { return false }

// String object. Hex records the source syntax so it can be written back the
// same way; it carries no semantic weight.
type StringObj struct {
	Bytes []byte
	Hex   bool
}

func (s StringObj) Type() string     { return "string" }
func (s StringObj) IsIndirect() bool { return false }
func (s StringObj) Value() []byte    { return s.Bytes }
func (s StringObj) IsHex() bool      { return s.Hex }

// Array object
type ArrayObj struct{ Items []Object }

func (a *ArrayObj) Type() string     { return "array" }
func (a *ArrayObj) IsIndirect() bool { return false }
func (a *ArrayObj) Get(i int) (Object, bool) {
	if i < 0 || i >= len(a.Items) {
		return nil, false
	}
	return a.Items[i], true
}
func (a *ArrayObj) Len() int        { return len(a.Items) }
func (a *ArrayObj) Append(o Object) { a.Items = append(a.Items, o) }

// Floats returns the array as numbers. ok is false if any item is not a
// direct number.
func (a *ArrayObj) Floats() ([]float64, bool) {
	out := make([]float64, len(a.Items))
	for i, it := range a.Items {
		n, ok := it.(NumberObj)
		if !ok {
			return nil, false
		}
		out[i] = n.Float()
	}
	return out, true
}

// Dictionary object. Keys are stored without the leading slash.
type DictObj struct{ KV map[string]Object }

func (d *DictObj) Type() string     { return "dict" }
func (d *DictObj) IsIndirect() bool { return false }
func (d *DictObj) Get(key string) (Object, bool) {
	if d == nil {
		return nil, false
	}
	o, ok := d.KV[key]
	return o, ok
}
func (d *DictObj) Set(key string, value Object) {
	if d.KV == nil {
		d.KV = make(map[string]Object)
	}
	d.KV[key] = value
}
func (d *DictObj) Delete(key string) { delete(d.KV, key) }
func (d *DictObj) Len() int {
	if d == nil {
		return 0
	}
	return len(d.KV)
}

// Keys returns the dictionary keys in sorted order.
func (d *DictObj) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies the dictionary.
func (d *DictObj) Clone() *DictObj {
	if d == nil {
		return nil
	}
	out := &DictObj{KV: make(map[string]Object, len(d.KV))}
	for k, v := range d.KV {
		out.KV[k] = Clone(v)
	}
	return out
}

// GetName returns the value of key when it is a direct name.
func (d *DictObj) GetName(key string) (string, bool) {
	n, ok := d.typed(key).(NameObj)
	return n.Val, ok
}

// GetInt returns the value of key when it is a direct number, truncated.
func (d *DictObj) GetInt(key string) (int64, bool) {
	n, ok := d.typed(key).(NumberObj)
	return n.Int(), ok
}

// GetNumber returns the value of key when it is a direct number.
func (d *DictObj) GetNumber(key string) (float64, bool) {
	n, ok := d.typed(key).(NumberObj)
	return n.Float(), ok
}

func (d *DictObj) GetBool(key string) (bool, bool) {
	b, ok := d.typed(key).(BoolObj)
	return b.V, ok
}

func (d *DictObj) GetString(key string) ([]byte, bool) {
	s, ok := d.typed(key).(StringObj)
	return s.Bytes, ok
}

func (d *DictObj) GetArray(key string) (*ArrayObj, bool) {
	a, ok := d.typed(key).(*ArrayObj)
	return a, ok
}

func (d *DictObj) GetDict(key string) (*DictObj, bool) {
	v, ok := d.typed(key).(*DictObj)
	return v, ok
}

func (d *DictObj) GetRef(key string) (ObjectRef, bool) {
	r, ok := d.typed(key).(RefObj)
	return r.R, ok
}

func (d *DictObj) typed(key string) Object {
	o, _ := d.Get(key)
	return o
}

// Stream object. Data holds the encoded payload as it appears in the file.
type StreamObj struct {
	Dict *DictObj
	Data []byte
}

func (s *StreamObj) Type() string         { return "stream" }
func (s *StreamObj) IsIndirect() bool     { return false }
func (s *StreamObj) RawData() []byte      { return s.Data }
func (s *StreamObj) Length() int64        { return int64(len(s.Data)) }
func (s *StreamObj) Dictionary() *DictObj { return s.Dict }

// Reference object
type RefObj struct{ R ObjectRef }

func (r RefObj) Type() string     { return "ref" }
func (r RefObj) IsIndirect() bool { return true }
func (r RefObj) Ref() ObjectRef   { return r.R }

// Helpers
func NameLiteral(v string) NameObj       { return NameObj{Val: v} }
func NumberInt(i int64) NumberObj        { return NumberObj{I: i, IsInt: true} }
func NumberFloat(f float64) NumberObj    { return NumberObj{F: f, IsInt: false} }
func Bool(v bool) BoolObj                { return BoolObj{V: v} }
func Str(bytes []byte) StringObj         { return StringObj{Bytes: bytes} }
func HexStr(bytes []byte) StringObj      { return StringObj{Bytes: bytes, Hex: true} }
func NewArray(items ...Object) *ArrayObj { return &ArrayObj{Items: items} }
func Dict() *DictObj                     { return &DictObj{KV: make(map[string]Object)} }
func Ref(num, gen int) RefObj            { return RefObj{R: ObjectRef{Num: num, Gen: gen}} }
func NewStream(dict *DictObj, data []byte) *StreamObj {
	if dict == nil {
		dict = Dict()
	}
	return &StreamObj{Dict: dict, Data: data}
}

// Rect builds a four-number array.
func Rect(llx, lly, urx, ury float64) *ArrayObj {
	return NewArray(Number(llx), Number(lly), Number(urx), Number(ury))
}

// Number returns an integer object when f has no fractional part.
func Number(f float64) NumberObj {
	if f == float64(int64(f)) && f > -1e15 && f < 1e15 {
		return NumberInt(int64(f))
	}
	return NumberFloat(f)
}

// DictOf builds a dictionary from alternating key/value pairs.
func DictOf(kv ...interface{}) *DictObj {
	d := Dict()
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		v, _ := kv[i+1].(Object)
		if k != "" && v != nil {
			d.Set(k, v)
		}
	}
	return d
}
