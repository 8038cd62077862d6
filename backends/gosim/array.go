package gosim

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/tech-ascent/tvm-go/types/dtypes"
	"github.com/x448/float16"
)

// Array is the flat, densely-packed buffer type the gosim backend executes
// over. It is the concrete storage passed for every buffer argument of an
// entry point.
//
// Float16 arrays store IEEE 754 half-precision values (package
// github.com/x448/float16); all other supported dtypes store the matching Go
// element type.
type Array struct {
	dtype dtypes.DType
	shape []int
	data  any // flat slice, element type per dtype
}

// NewArray returns a zero-initialized array of the given dtype and shape.
func NewArray(dtype dtypes.DType, shape ...int) *Array {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Array{dtype: dtype, shape: shape, data: newFlat(dtype, size)}
}

func newFlat(dtype dtypes.DType, size int) any {
	switch dtype {
	case dtypes.Bool:
		return make([]bool, size)
	case dtypes.Int8:
		return make([]int8, size)
	case dtypes.Int16:
		return make([]int16, size)
	case dtypes.Int32:
		return make([]int32, size)
	case dtypes.Int64:
		return make([]int64, size)
	case dtypes.UInt8:
		return make([]uint8, size)
	case dtypes.UInt16:
		return make([]uint16, size)
	case dtypes.UInt32:
		return make([]uint32, size)
	case dtypes.UInt64:
		return make([]uint64, size)
	case dtypes.Float16:
		return make([]float16.Float16, size)
	case dtypes.Float32:
		return make([]float32, size)
	case dtypes.Float64:
		return make([]float64, size)
	}
	exceptions.Panicf("gosim does not support arrays of dtype %s", dtype)
	return nil
}

// FromFlat wraps an existing flat slice as an array. The slice's element type
// must match the dtype and its length must equal the product of the shape.
func FromFlat(dtype dtypes.DType, data any, shape ...int) *Array {
	a := &Array{dtype: dtype, shape: shape, data: data}
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	if got := a.Len(); got != size {
		exceptions.Panicf("FromFlat: slice has %d elements, shape %v needs %d", got, shape, size)
	}
	return a
}

// DType returns the element type.
func (a *Array) DType() dtypes.DType { return a.dtype }

// Shape returns the array's dimensions.
func (a *Array) Shape() []int { return a.shape }

// Len returns the number of elements.
func (a *Array) Len() int {
	switch data := a.data.(type) {
	case []bool:
		return len(data)
	case []int8:
		return len(data)
	case []int16:
		return len(data)
	case []int32:
		return len(data)
	case []int64:
		return len(data)
	case []uint8:
		return len(data)
	case []uint16:
		return len(data)
	case []uint32:
		return len(data)
	case []uint64:
		return len(data)
	case []float16.Float16:
		return len(data)
	case []float32:
		return len(data)
	case []float64:
		return len(data)
	}
	return 0
}

// Flat returns the underlying flat slice.
func (a *Array) Flat() any { return a.data }

func (a *Array) String() string {
	return fmt.Sprintf("Array(%s, shape=%v)", a.dtype, a.shape)
}

// Float64s returns the elements converted to float64, for inspection. Only
// valid for numeric dtypes.
func (a *Array) Float64s() []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = a.loadFloat(i)
	}
	return out
}

// load returns element i in the interpreter's canonical scalar form: float64
// for float dtypes, int64 for signed ints and bool, uint64 for unsigned ints.
func (a *Array) load(i int) any {
	switch data := a.data.(type) {
	case []bool:
		if data[i] {
			return int64(1)
		}
		return int64(0)
	case []int8:
		return int64(data[i])
	case []int16:
		return int64(data[i])
	case []int32:
		return int64(data[i])
	case []int64:
		return data[i]
	case []uint8:
		return uint64(data[i])
	case []uint16:
		return uint64(data[i])
	case []uint32:
		return uint64(data[i])
	case []uint64:
		return data[i]
	case []float16.Float16:
		return float64(data[i].Float32())
	case []float32:
		return float64(data[i])
	case []float64:
		return data[i]
	}
	exceptions.Panicf("gosim: load from unsupported array %s", a)
	return nil
}

func (a *Array) loadFloat(i int) float64 {
	switch v := a.load(i).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return 0
}

// store writes a canonical scalar into element i, converting to the array's
// element type.
func (a *Array) store(i int, value any) {
	switch data := a.data.(type) {
	case []bool:
		data[i] = asInt(value) != 0
	case []int8:
		data[i] = int8(asInt(value))
	case []int16:
		data[i] = int16(asInt(value))
	case []int32:
		data[i] = int32(asInt(value))
	case []int64:
		data[i] = asInt(value)
	case []uint8:
		data[i] = uint8(asUint(value))
	case []uint16:
		data[i] = uint16(asUint(value))
	case []uint32:
		data[i] = uint32(asUint(value))
	case []uint64:
		data[i] = asUint(value)
	case []float16.Float16:
		data[i] = float16.Fromfloat32(float32(asFloat(value)))
	case []float32:
		data[i] = float32(asFloat(value))
	case []float64:
		data[i] = asFloat(value)
	default:
		exceptions.Panicf("gosim: store into unsupported array %s", a)
	}
}

func asInt(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	}
	exceptions.Panicf("gosim: %T is not a numeric scalar", value)
	return 0
}

func asUint(value any) uint64 {
	switch v := value.(type) {
	case int64:
		return uint64(v)
	case uint64:
		return v
	case float64:
		return uint64(v)
	}
	exceptions.Panicf("gosim: %T is not a numeric scalar", value)
	return 0
}

func asFloat(value any) float64 {
	switch v := value.(type) {
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case float64:
		return v
	}
	exceptions.Panicf("gosim: %T is not a numeric scalar", value)
	return 0
}
