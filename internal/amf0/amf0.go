// Package amf0 implements the AMF0 serialization format used by RTMP
// command, data and metadata messages.
//
// Object and array field order is observable and preserved: encoding an
// Object emits fields in the order they were set, and decoding rebuilds
// that same order. A language map would erase it, so Object is backed by
// an ordered slice of fields plus a name index for O(1) lookup.
package amf0

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Marker bytes for each AMF0 type.
const (
	TypeNumber     = 0x00
	TypeBool       = 0x01
	TypeString     = 0x02
	TypeObject     = 0x03
	TypeNull       = 0x05
	TypeUndefined  = 0x06
	TypeRef        = 0x07
	TypeArray      = 0x08
	TypeStrictArr  = 0x0A
	TypeDate       = 0x0B
	TypeLongString = 0x0C
	TypeXMLDoc     = 0x0F
	TypeTypedObj   = 0x10

	objectTerm = 0x09
)

// Value is a single AMF0-encoded value.
type Value struct {
	Type byte

	boolVal  bool
	strVal   string
	floatVal float64

	obj       *Object
	className string
	array     []Value
}

// Number constructs an AMF0 number value.
func Number(n float64) Value { return Value{Type: TypeNumber, floatVal: n} }

// Bool constructs an AMF0 boolean value.
func Bool(b bool) Value { return Value{Type: TypeBool, boolVal: b} }

// String constructs an AMF0 string value (short form, <65536 bytes).
func String(s string) Value { return Value{Type: TypeString, strVal: s} }

// LongString constructs an AMF0 long-string value.
func LongString(s string) Value { return Value{Type: TypeLongString, strVal: s} }

// Null constructs the AMF0 null value.
func Null() Value { return Value{Type: TypeNull} }

// Undefined constructs the AMF0 undefined value.
func Undefined() Value { return Value{Type: TypeUndefined} }

// Date constructs an AMF0 date value (milliseconds since epoch, UTC).
func Date(ms float64) Value { return Value{Type: TypeDate, floatVal: ms} }

// Obj constructs an AMF0 object value wrapping o.
func Obj(o *Object) Value { return Value{Type: TypeObject, obj: o} }

// TypedObj constructs an AMF0 typed-object (class instance) value.
func TypedObj(className string, o *Object) Value {
	return Value{Type: TypeTypedObj, className: className, obj: o}
}

// Arr constructs an AMF0 ECMA (associative) array value.
func Arr(o *Object) Value { return Value{Type: TypeArray, obj: o} }

// StrictArr constructs an AMF0 strict (dense, ordinal) array value.
func StrictArr(items []Value) Value { return Value{Type: TypeStrictArr, array: items} }

func (v Value) IsNull() bool      { return v.Type == TypeNull }
func (v Value) IsUndefined() bool { return v.Type == TypeUndefined }

func (v Value) Bool() bool {
	switch v.Type {
	case TypeBool:
		return v.boolVal
	case TypeNumber:
		return v.floatVal != 0
	default:
		return false
	}
}

func (v Value) Float64() float64 { return v.floatVal }
func (v Value) Int64() int64     { return int64(v.floatVal) }
func (v Value) String() string   { return v.strVal }

// Object returns the object backing an Object/TypedObj/Array value, or an
// empty Object if v does not carry one.
func (v Value) Object() *Object {
	if v.obj == nil {
		return NewObject()
	}
	return v.obj
}

func (v Value) ClassName() string { return v.className }
func (v Value) Array() []Value    { return v.array }

// field is one ordered (name, value) pair of an Object.
type field struct {
	name string
	val  Value
}

// Object is an insertion-ordered AMF0 object/array property set.
type Object struct {
	fields []field
	index  map[string]int
}

// NewObject returns an empty, ready-to-use Object.
func NewObject() *Object {
	return &Object{index: make(map[string]int)}
}

// Set assigns a field, preserving its original position if the key already
// exists, or appending it at the end if it is new.
func (o *Object) Set(name string, v Value) *Object {
	if i, ok := o.index[name]; ok {
		o.fields[i].val = v
		return o
	}
	o.index[name] = len(o.fields)
	o.fields = append(o.fields, field{name: name, val: v})
	return o
}

// Get returns the value for name and whether it was present.
func (o *Object) Get(name string) (Value, bool) {
	if i, ok := o.index[name]; ok {
		return o.fields[i].val, true
	}
	return Value{}, false
}

// GetOrUndefined returns the value for name, or an Undefined value if
// absent.
func (o *Object) GetOrUndefined(name string) Value {
	if v, ok := o.Get(name); ok {
		return v
	}
	return Undefined()
}

// Len reports the number of fields in the object.
func (o *Object) Len() int { return len(o.fields) }

// Keys returns the field names in insertion order.
func (o *Object) Keys() []string {
	keys := make([]string, len(o.fields))
	for i, f := range o.fields {
		keys[i] = f.name
	}
	return keys
}

// Range calls fn for each field in insertion order.
func (o *Object) Range(fn func(name string, v Value)) {
	for _, f := range o.fields {
		fn(f.name, f.val)
	}
}

/* Encoding */

// EncodeOne returns the wire bytes for a single value, including its type
// marker.
func EncodeOne(v Value) []byte {
	out := []byte{v.Type}
	switch v.Type {
	case TypeNumber, TypeDate:
		if v.Type == TypeDate {
			out = append(out, 0x00, 0x00)
		}
		out = append(out, encodeNumber(v.floatVal)...)
	case TypeBool:
		out = append(out, encodeBool(v.boolVal)...)
	case TypeString, TypeXMLDoc:
		out = append(out, encodeString(v.strVal)...)
	case TypeLongString:
		out = append(out, encodeLongString(v.strVal)...)
	case TypeObject:
		out = append(out, encodeObject(v.Object())...)
	case TypeTypedObj:
		out = append(out, encodeString(v.className)...)
		out = append(out, encodeObject(v.Object())...)
	case TypeArray:
		l := make([]byte, 4)
		binary.BigEndian.PutUint32(l, uint32(v.Object().Len()))
		out = append(out, l...)
		out = append(out, encodeObject(v.Object())...)
	case TypeStrictArr:
		l := make([]byte, 4)
		binary.BigEndian.PutUint32(l, uint32(len(v.array)))
		out = append(out, l...)
		for _, item := range v.array {
			out = append(out, EncodeOne(item)...)
		}
	case TypeNull, TypeUndefined:
		// no payload
	}
	return out
}

func encodeNumber(n float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(n))
	return b
}

func encodeBool(b bool) []byte {
	if b {
		return []byte{0x01}
	}
	return []byte{0x00}
}

func encodeString(s string) []byte {
	b := []byte(s)
	l := make([]byte, 2)
	binary.BigEndian.PutUint16(l, uint16(len(b)))
	return append(l, b...)
}

func encodeLongString(s string) []byte {
	b := []byte(s)
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(b)))
	return append(l, b...)
}

func encodeObject(o *Object) []byte {
	var r []byte
	o.Range(func(name string, v Value) {
		r = append(r, encodeString(name)...)
		r = append(r, EncodeOne(v)...)
	})
	r = append(r, encodeString("")...)
	r = append(r, objectTerm)
	return r
}

/* Decoding */

// ErrTruncated is returned when the input ends before a value is fully
// decoded.
type ErrTruncated struct{ Need, Have int }

func (e *ErrTruncated) Error() string {
	return fmt.Sprintf("amf0: truncated stream, need %d bytes, have %d", e.Need, e.Have)
}

// Decoder consumes AMF0 values from a byte stream, sequentially.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps buf for sequential AMF0 decoding.
func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

func (d *Decoder) need(n int) error {
	if d.pos+n > len(d.buf) {
		return &ErrTruncated{Need: n, Have: len(d.buf) - d.pos}
	}
	return nil
}

func (d *Decoder) read(n int) []byte {
	r := d.buf[d.pos : d.pos+n]
	d.pos += n
	return r
}

func (d *Decoder) look(n int) []byte {
	return d.buf[d.pos : d.pos+n]
}

func (d *Decoder) IsEnded() bool { return d.pos >= len(d.buf) }

// Pos reports the current read offset.
func (d *Decoder) Pos() int { return d.pos }

// ReadOne decodes the next value from the stream.
func (d *Decoder) ReadOne() (Value, error) {
	if err := d.need(1); err != nil {
		return Value{}, err
	}
	t := d.read(1)[0]
	switch t {
	case TypeNumber:
		n, err := d.readNumber()
		return Value{Type: t, floatVal: n}, err
	case TypeBool:
		if err := d.need(1); err != nil {
			return Value{}, err
		}
		return Value{Type: t, boolVal: d.read(1)[0] != 0}, nil
	case TypeDate:
		if err := d.need(2); err != nil {
			return Value{}, err
		}
		d.read(2)
		n, err := d.readNumber()
		return Value{Type: t, floatVal: n}, err
	case TypeString, TypeXMLDoc:
		s, err := d.readString()
		return Value{Type: t, strVal: s}, err
	case TypeLongString:
		s, err := d.readLongString()
		return Value{Type: t, strVal: s}, err
	case TypeObject:
		o, err := d.readObject()
		return Value{Type: t, obj: o}, err
	case TypeTypedObj:
		cn, err := d.readString()
		if err != nil {
			return Value{}, err
		}
		o, err := d.readObject()
		return Value{Type: t, className: cn, obj: o}, err
	case TypeRef:
		if err := d.need(2); err != nil {
			return Value{}, err
		}
		d.read(2)
		return Value{Type: t}, nil
	case TypeArray:
		if err := d.need(4); err != nil {
			return Value{}, err
		}
		d.read(4)
		o, err := d.readObject()
		return Value{Type: t, obj: o}, err
	case TypeStrictArr:
		items, err := d.readStrictArray()
		return Value{Type: t, array: items}, err
	case TypeNull, TypeUndefined:
		return Value{Type: t}, nil
	default:
		return Value{}, fmt.Errorf("amf0: unsupported type marker 0x%02x", t)
	}
}

func (d *Decoder) readNumber() (float64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(d.read(8))), nil
}

func (d *Decoder) readString() (string, error) {
	if err := d.need(2); err != nil {
		return "", err
	}
	l := binary.BigEndian.Uint16(d.read(2))
	if err := d.need(int(l)); err != nil {
		return "", err
	}
	return string(d.read(int(l))), nil
}

func (d *Decoder) readLongString() (string, error) {
	if err := d.need(4); err != nil {
		return "", err
	}
	l := binary.BigEndian.Uint32(d.read(4))
	if err := d.need(int(l)); err != nil {
		return "", err
	}
	return string(d.read(int(l))), nil
}

// readObject decodes AMF0 object properties up to and including the
// terminating empty-name + 0x09 marker sequence.
func (d *Decoder) readObject() (*Object, error) {
	o := NewObject()
	for {
		if d.IsEnded() {
			return o, &ErrTruncated{Need: 1, Have: 0}
		}
		if err := d.need(3); err == nil && d.look(3)[0] == 0 && d.look(3)[1] == 0 && d.look(3)[2] == objectTerm {
			d.read(3)
			return o, nil
		}
		name, err := d.readString()
		if err != nil {
			return o, err
		}
		v, err := d.ReadOne()
		if err != nil {
			return o, err
		}
		o.Set(name, v)
	}
}

func (d *Decoder) readStrictArray() ([]Value, error) {
	if err := d.need(4); err != nil {
		return nil, err
	}
	l := binary.BigEndian.Uint32(d.read(4))
	items := make([]Value, 0, l)
	for i := uint32(0); i < l; i++ {
		if d.IsEnded() {
			break
		}
		v, err := d.ReadOne()
		if err != nil {
			return items, err
		}
		items = append(items, v)
	}
	return items, nil
}

// Decode consumes every remaining value in buf, in order. It is used to
// decode a whole COMMAND/DATA message body into its argument sequence.
func Decode(buf []byte) ([]Value, error) {
	d := NewDecoder(buf)
	var out []Value
	for !d.IsEnded() {
		v, err := d.ReadOne()
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Encode serializes a sequence of values back to back, the inverse of
// Decode.
func Encode(vals ...Value) []byte {
	var out []byte
	for _, v := range vals {
		out = append(out, EncodeOne(v)...)
	}
	return out
}

// DecodeVariable decodes a (short string name, value) pair, the framing
// used by @setDataFrame/onMetaData-style metadata messages.
func DecodeVariable(buf []byte) (name string, v Value, n int, err error) {
	d := NewDecoder(buf)
	name, err = d.readString()
	if err != nil {
		return "", Value{}, 0, err
	}
	v, err = d.ReadOne()
	if err != nil {
		return "", Value{}, 0, err
	}
	return name, v, d.pos, nil
}
