// File: core/command/value.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Tagged-union field value carried by commands.

package command

import (
	"encoding/hex"
	"strconv"
)

// Kind enumerates the variants a field Value can hold.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt
	KindDouble
	KindString
	KindBool
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindBinary:
		return "binary"
	}
	return "none"
}

// Value is one typed command field. The zero Value has KindNone.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	bin  []byte
}

// Int builds an integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Double builds a floating point value.
func Double(v float64) Value { return Value{kind: KindDouble, f: v} }

// String builds a string value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Bool builds a boolean value.
func Bool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{kind: KindBool, i: i}
}

// Binary builds an opaque byte value. The slice is not copied.
func Binary(v []byte) Value { return Value{kind: KindBinary, bin: v} }

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// AsInt returns the integer if v holds KindInt.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsDouble returns the float if v holds KindDouble.
func (v Value) AsDouble() (float64, bool) { return v.f, v.kind == KindDouble }

// AsString returns the string if v holds KindString.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBool returns the boolean if v holds KindBool.
func (v Value) AsBool() (bool, bool) { return v.i != 0, v.kind == KindBool }

// AsBinary returns the bytes if v holds KindBinary.
func (v Value) AsBinary() ([]byte, bool) { return v.bin, v.kind == KindBinary }

// String renders v for logs and control UIs.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindBinary:
		return hex.EncodeToString(v.bin)
	}
	return ""
}
