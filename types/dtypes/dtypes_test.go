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

package dtypes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDTypeBasics(t *testing.T) {
	require.False(t, Invalid.Ok())
	require.True(t, Float32.Ok())
	require.True(t, Float32.IsFloat())
	require.True(t, BFloat16.IsFloat())
	require.True(t, Int32.IsInt())
	require.True(t, Int32.IsSigned())
	require.False(t, UInt8.IsSigned())
	require.True(t, Bool.IsBool())
	require.True(t, Handle.IsHandle())

	require.Equal(t, "float32", Float32.String())
	require.Equal(t, "bool", Bool.String())
	require.Equal(t, "uint16", UInt16.String())
	require.Equal(t, "bfloat16", BFloat16.String())

	vec := Float32.VectorOf(4)
	require.True(t, vec.IsVector())
	require.Equal(t, "float32x4", vec.String())
	require.Equal(t, Float32, vec.Element())
	require.Equal(t, uintptr(16), vec.Memory())
	require.Equal(t, uintptr(1), Bool.Memory())
}

func TestParse(t *testing.T) {
	for _, test := range []struct {
		s    string
		want DType
	}{
		{"float32", Float32},
		{"float64", Float64},
		{"int8", Int8},
		{"uint64", UInt64},
		{"bool", Bool},
		{"handle", Handle},
		{"bfloat16", BFloat16},
		{"int32x4", Int32.VectorOf(4)},
	} {
		got, err := Parse(test.s)
		require.NoError(t, err, "Parse(%q)", test.s)
		require.Equal(t, test.want, got, "Parse(%q)", test.s)
		require.Equal(t, test.s, got.String())
	}

	for _, s := range []string{"", "complex64", "floatx4", "int"} {
		_, err := Parse(s)
		require.Error(t, err, "Parse(%q)", s)
	}
}

func TestPromote(t *testing.T) {
	for _, test := range []struct {
		a, b, want DType
	}{
		{Int32, Int32, Int32},
		{Int32, Int64, Int64},
		{UInt8, Int32, Int32},
		{Int32, Float32, Float32},
		{Float32, Float64, Float64},
		{BFloat16, Float32, Float32},
		{UInt16, UInt64, UInt64},
	} {
		got, err := Promote(test.a, test.b)
		require.NoError(t, err)
		require.Equal(t, test.want, got, "Promote(%s, %s)", test.a, test.b)
		// Promotion is symmetric.
		got, err = Promote(test.b, test.a)
		require.NoError(t, err)
		require.Equal(t, test.want, got, "Promote(%s, %s)", test.b, test.a)
	}

	_, err := Promote(Bool, Int32)
	require.Error(t, err)
	_, err = Promote(Handle, Float32)
	require.Error(t, err)
	_, err = Promote(Float32, Float32.VectorOf(4))
	require.Error(t, err, "mismatched lanes must not promote")
}

func TestFromGoType(t *testing.T) {
	require.Equal(t, Float32, FromGoType[float32]())
	require.Equal(t, Float64, FromGoType[float64]())
	require.Equal(t, Int64, FromGoType[int]())
	require.Equal(t, UInt8, FromGoType[uint8]())
	require.Equal(t, Bool, FromGoType[bool]())
}

func TestTruncateToStorage(t *testing.T) {
	// float64 and integer dtypes pass through.
	require.Equal(t, 1.1, TruncateToStorage(Float64, 1.1))

	// float32 rounds to single precision.
	require.Equal(t, float64(float32(1.1)), TruncateToStorage(Float32, 1.1))

	// float16 has ~3 decimal digits; 1.1 is not exactly representable.
	f16 := TruncateToStorage(Float16, 1.1)
	require.NotEqual(t, 1.1, f16)
	require.InDelta(t, 1.1, f16, 1e-3)
	require.Equal(t, f16, TruncateToStorage(Float16, f16), "truncation is idempotent")

	// bfloat16 keeps float32's exponent range but only 8 mantissa bits.
	bf16 := TruncateToStorage(BFloat16, 1.1)
	require.NotEqual(t, 1.1, bf16)
	require.InDelta(t, 1.1, bf16, 1e-2)
	require.Equal(t, 1.0, TruncateToStorage(BFloat16, 1.0))
}

func TestMaxValue(t *testing.T) {
	require.Equal(t, int64(127), MaxValue(Int8))
	require.Equal(t, int64(255), MaxValue(UInt8))
	require.Equal(t, int64(1)<<31-1, MaxValue(Int32))
	require.Panics(t, func() { MaxValue(Float32) })
}
