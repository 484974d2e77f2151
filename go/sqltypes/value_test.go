/*
Copyright 2024 The MySQLClient Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sqltypes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValue(t *testing.T) {
	testcases := []struct {
		inType Type
		inVal  string
		outVal Value
		outErr string
	}{{
		inType: Null,
		inVal:  "",
		outVal: NULL,
	}, {
		inType: Int8,
		inVal:  "1",
		outVal: TestValue(Int8, "1"),
	}, {
		inType: Int64,
		inVal:  "-9223372036854775808",
		outVal: TestValue(Int64, "-9223372036854775808"),
	}, {
		inType: Int64,
		inVal:  "x",
		outErr: "invalid syntax",
	}, {
		inType: Uint64,
		inVal:  "18446744073709551615",
		outVal: TestValue(Uint64, "18446744073709551615"),
	}, {
		inType: Uint32,
		inVal:  "-1",
		outErr: "invalid syntax",
	}, {
		inType: Float64,
		inVal:  "1.25",
		outVal: TestValue(Float64, "1.25"),
	}, {
		inType: Float32,
		inVal:  "a",
		outErr: "invalid syntax",
	}, {
		inType: Decimal,
		inVal:  "1.00",
		outVal: TestValue(Decimal, "1.00"),
	}, {
		inType: VarChar,
		inVal:  "hello",
		outVal: TestValue(VarChar, "hello"),
	}, {
		inType: VarBinary,
		inVal:  "\x00\x01",
		outVal: TestValue(VarBinary, "\x00\x01"),
	}}
	for _, tcase := range testcases {
		v, err := NewValue(tcase.inType, []byte(tcase.inVal))
		if tcase.outErr != "" {
			assert.ErrorContains(t, err, tcase.outErr)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tcase.outVal, v)
	}
}

func TestBuilders(t *testing.T) {
	assert.Equal(t, TestValue(Int64, "-12"), NewInt64(-12))
	assert.Equal(t, TestValue(Int32, "42"), NewInt32(42))
	assert.Equal(t, TestValue(Int8, "1"), NewInt8(1))
	assert.Equal(t, TestValue(Uint64, "12"), NewUint64(12))
	assert.Equal(t, TestValue(Float64, "1.5"), NewFloat64(1.5))
	assert.Equal(t, TestValue(VarChar, "aa"), NewVarChar("aa"))
	assert.Equal(t, TestValue(VarBinary, "bb"), NewVarBinary("bb"))
}

func TestAccessors(t *testing.T) {
	v := TestValue(Int64, "44")
	assert.Equal(t, Int64, v.Type())
	assert.Equal(t, []byte("44"), v.Raw())
	assert.Equal(t, []byte("44"), v.ToBytes())
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, "44", v.ToString())
	assert.True(t, v.IsIntegral())
	assert.True(t, v.IsSigned())
	assert.False(t, v.IsUnsigned())
	assert.False(t, v.IsFloat())
	assert.False(t, v.IsQuoted())
	assert.False(t, v.IsText())
	assert.False(t, v.IsBinary())
	assert.False(t, v.IsNull())

	assert.True(t, NULL.IsNull())
}

func TestToInt64(t *testing.T) {
	got, err := TestValue(Int64, "-44").ToInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-44), got)

	got, err = TestValue(Uint8, "3").ToInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	_, err = TestValue(VarChar, "44").ToInt64()
	assert.ErrorContains(t, err, "cannot be cast to int64")

	_, err = NULL.ToInt64()
	assert.Error(t, err)
}

func TestToUint64(t *testing.T) {
	got, err := TestValue(Uint64, "18446744073709551615").ToUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), got)

	_, err = TestValue(Int64, "-1").ToUint64()
	assert.ErrorContains(t, err, "invalid syntax")

	_, err = TestValue(Float64, "1").ToUint64()
	assert.ErrorContains(t, err, "cannot be cast to uint64")
}

func TestToFloat64(t *testing.T) {
	got, err := TestValue(Float64, "1.25").ToFloat64()
	require.NoError(t, err)
	assert.Equal(t, 1.25, got)

	got, err = TestValue(Int32, "-5").ToFloat64()
	require.NoError(t, err)
	assert.Equal(t, -5.0, got)

	_, err = TestValue(VarChar, "1.25").ToFloat64()
	assert.ErrorContains(t, err, "cannot be cast to float64")

	_, err = TestValue(Decimal, "1.25").ToFloat64()
	assert.ErrorContains(t, err, "cannot be cast to float64")
}

func TestToBool(t *testing.T) {
	got, err := TestValue(Int8, "1").ToBool()
	require.NoError(t, err)
	assert.True(t, got)

	got, err = TestValue(Uint8, "0").ToBool()
	require.NoError(t, err)
	assert.False(t, got)

	_, err = TestValue(Int8, "2").ToBool()
	assert.ErrorContains(t, err, "cannot be cast to bool")

	_, err = TestValue(Int64, "1").ToBool()
	assert.ErrorContains(t, err, "cannot be cast to bool")

	_, err = TestValue(VarChar, "true").ToBool()
	assert.Error(t, err)
}

func TestToTime(t *testing.T) {
	got, err := TestValue(Datetime, "2024-03-01 10:20:30").ToTime()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC), got)

	got, err = TestValue(Timestamp, "2024-03-01 10:20:30.000500").ToTime()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 20, 30, 500000, time.UTC), got)

	got, err = TestValue(Date, "2024-03-01").ToTime()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = TestValue(VarChar, "2024-03-01").ToTime()
	assert.ErrorContains(t, err, "cannot be cast to time.Time")
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "NULL", NULL.String())
	assert.Equal(t, `VARCHAR("aa")`, TestValue(VarChar, "aa").String())
	assert.Equal(t, "INT64(-12)", TestValue(Int64, "-12").String())
}
