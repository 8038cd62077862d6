/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package dtypes defines DType, the scalar element type carried by every
// expression node and tensor in the compiler frontend.
//
// A DType is a (type code, bit width, vector lane count) triple: "float32" is
// {Float, 32, 1}, and "float32x4" is its 4-lane vector form, used by the
// loop-vectorization phase. Lanes > 1 never appear in user-built expressions,
// only in lowered code.
//
// Float16 values have no native Go representation; conversions go through
// github.com/x448/float16, so constants of dtype Float16 are rounded to
// storage precision at construction time.
package dtypes

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// TypeCode enumerates the scalar type families a DType can belong to.
type TypeCode int8

//go:generate go tool enumer -type=TypeCode -trimprefix=Code -output=gen_typecode_enumer.go dtypes.go

const (
	CodeInvalid TypeCode = iota
	CodeInt
	CodeUInt
	CodeFloat
	CodeBFloat
	CodeBool
	CodeHandle
)

// DType is the resolved scalar datatype of a node: type family, bit width and
// vector lane count. The zero value is invalid.
type DType struct {
	Code  TypeCode
	Bits  int16
	Lanes int16
}

// Common scalar dtypes.
var (
	Invalid  = DType{}
	Bool     = DType{CodeBool, 1, 1}
	Int8     = DType{CodeInt, 8, 1}
	Int16    = DType{CodeInt, 16, 1}
	Int32    = DType{CodeInt, 32, 1}
	Int64    = DType{CodeInt, 64, 1}
	UInt8    = DType{CodeUInt, 8, 1}
	UInt16   = DType{CodeUInt, 16, 1}
	UInt32   = DType{CodeUInt, 32, 1}
	UInt64   = DType{CodeUInt, 64, 1}
	Float16  = DType{CodeFloat, 16, 1}
	Float32  = DType{CodeFloat, 32, 1}
	Float64  = DType{CodeFloat, 64, 1}
	BFloat16 = DType{CodeBFloat, 16, 1}

	// Handle is an opaque pointer type, used for buffer data pointers and
	// string values.
	Handle = DType{CodeHandle, 64, 1}
)

// Ok reports whether the DType is valid (has a type code and at least one lane).
func (d DType) Ok() bool { return d.Code != CodeInvalid && d.Bits > 0 && d.Lanes > 0 }

// IsFloat reports whether the element type is a float (including bfloat16).
func (d DType) IsFloat() bool { return d.Code == CodeFloat || d.Code == CodeBFloat }

// IsInt reports whether the element type is a signed or unsigned integer.
func (d DType) IsInt() bool { return d.Code == CodeInt || d.Code == CodeUInt }

// IsSigned reports whether the element type is signed (floats are signed).
func (d DType) IsSigned() bool { return d.Code == CodeInt || d.IsFloat() }

// IsBool reports whether the element type is boolean.
func (d DType) IsBool() bool { return d.Code == CodeBool }

// IsHandle reports whether the element type is an opaque handle.
func (d DType) IsHandle() bool { return d.Code == CodeHandle }

// IsVector reports whether the DType has more than one lane.
func (d DType) IsVector() bool { return d.Lanes > 1 }

// Element returns the single-lane version of the DType.
func (d DType) Element() DType {
	d.Lanes = 1
	return d
}

// VectorOf returns the DType with the given number of lanes.
func (d DType) VectorOf(lanes int) DType {
	d.Lanes = int16(lanes)
	return d
}

// Memory returns the size in bytes of one value of this DType, rounded up to
// whole bytes per lane.
func (d DType) Memory() uintptr {
	return uintptr((int(d.Bits) + 7) / 8 * int(d.Lanes))
}

// String formats the DType the usual way: "float32", "int8x4", "bool".
func (d DType) String() string {
	if !d.Ok() {
		return "invalid"
	}
	var b strings.Builder
	switch d.Code {
	case CodeInt:
		b.WriteString("int")
	case CodeUInt:
		b.WriteString("uint")
	case CodeFloat:
		b.WriteString("float")
	case CodeBFloat:
		b.WriteString("bfloat")
	case CodeBool:
		b.WriteString("bool")
	case CodeHandle:
		b.WriteString("handle")
	}
	if d.Code != CodeBool && d.Code != CodeHandle {
		b.WriteString(strconv.Itoa(int(d.Bits)))
	}
	if d.Lanes > 1 {
		b.WriteString("x")
		b.WriteString(strconv.Itoa(int(d.Lanes)))
	}
	return b.String()
}

// Parse converts a string like "float32", "uint8" or "int32x4" to a DType.
func Parse(s string) (DType, error) {
	base := s
	lanes := 1
	if idx := strings.LastIndexByte(s, 'x'); idx > 0 {
		if n, err := strconv.Atoi(s[idx+1:]); err == nil {
			base, lanes = s[:idx], n
		}
	}
	var d DType
	switch {
	case base == "bool":
		d = Bool
	case base == "handle":
		d = Handle
	case strings.HasPrefix(base, "uint"):
		d = DType{CodeUInt, 0, 1}
		base = base[len("uint"):]
	case strings.HasPrefix(base, "int"):
		d = DType{CodeInt, 0, 1}
		base = base[len("int"):]
	case strings.HasPrefix(base, "bfloat"):
		d = DType{CodeBFloat, 0, 1}
		base = base[len("bfloat"):]
	case strings.HasPrefix(base, "float"):
		d = DType{CodeFloat, 0, 1}
		base = base[len("float"):]
	default:
		return Invalid, errors.Errorf("cannot parse dtype from %q", s)
	}
	if d.Bits == 0 {
		bits, err := strconv.Atoi(base)
		if err != nil {
			return Invalid, errors.Wrapf(err, "cannot parse bit width of dtype %q", s)
		}
		d.Bits = int16(bits)
	}
	d.Lanes = int16(lanes)
	if !d.Ok() {
		return Invalid, errors.Errorf("parsed dtype %q is invalid", s)
	}
	return d, nil
}

// Promote returns the result dtype of a binary arithmetic operation over a
// and b, or an error if they cannot be combined. Lanes must match. Within a
// family the wider type wins; float beats integer; signed integer beats
// unsigned. Bool and handle types never participate in arithmetic promotion.
func Promote(a, b DType) (DType, error) {
	if !a.Ok() || !b.Ok() {
		return Invalid, errors.Errorf("cannot combine invalid dtypes %s and %s", a, b)
	}
	if a.Lanes != b.Lanes {
		return Invalid, errors.Errorf("mismatched vector lanes: %s vs %s", a, b)
	}
	if a == b {
		return a, nil
	}
	if a.IsBool() || b.IsBool() || a.IsHandle() || b.IsHandle() {
		return Invalid, errors.Errorf("dtypes %s and %s are not arithmetic-compatible", a, b)
	}
	if rank(a.Code) < rank(b.Code) {
		a, b = b, a
	}
	result := a
	if a.Code == b.Code && b.Bits > result.Bits {
		result.Bits = b.Bits
	}
	return result, nil
}

// rank orders type codes by promotion priority.
func rank(c TypeCode) int {
	switch c {
	case CodeUInt:
		return 1
	case CodeInt:
		return 2
	case CodeBFloat:
		return 3
	case CodeFloat:
		return 4
	}
	return 0
}

// FromGoType returns the DType matching the Go type parameter.
func FromGoType[T constraints.Integer | constraints.Float | bool]() DType {
	var v T
	switch any(v).(type) {
	case bool:
		return Bool
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int, int64:
		return Int64
	case uint8:
		return UInt8
	case uint16:
		return UInt16
	case uint32:
		return UInt32
	case uint, uint64:
		return UInt64
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return Invalid
}

// TruncateToStorage rounds a float value to the precision this dtype can
// actually store, so float16/float32 constants compare equal to their stored
// form. Float16 goes through github.com/x448/float16.
func TruncateToStorage(d DType, v float64) float64 {
	switch {
	case d.Code == CodeFloat && d.Bits == 16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case d.Code == CodeFloat && d.Bits == 32:
		return float64(float32(v))
	case d.Code == CodeBFloat && d.Bits == 16:
		// bfloat16 is float32 with the low 16 mantissa bits dropped.
		bits := math.Float32bits(float32(v)) &^ 0xFFFF
		return float64(math.Float32frombits(bits))
	}
	return v
}

// MaxValue returns the largest representable value of an integer dtype, used
// by min/max identity folding. Panics on non-integer dtypes.
func MaxValue(d DType) int64 {
	if !d.IsInt() {
		panic(fmt.Sprintf("MaxValue: dtype %s is not an integer", d))
	}
	if d.Code == CodeUInt {
		if d.Bits >= 64 {
			return -1 // Not representable in int64; callers treat as unbounded.
		}
		return (1 << d.Bits) - 1
	}
	return (1 << (d.Bits - 1)) - 1
}
