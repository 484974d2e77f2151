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

package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysqlclient.io/mysqlclient/go/sqltypes"
)

func TestParseBinaryValueIntegers(t *testing.T) {
	testcases := []struct {
		name string
		typ  sqltypes.Type
		data []byte
		want string
	}{
		{"int8 negative", sqltypes.Int8, []byte{0xff}, "-1"},
		{"uint8", sqltypes.Uint8, []byte{0xff}, "255"},
		{"int16 negative", sqltypes.Int16, []byte{0x00, 0x80}, "-32768"},
		{"uint16", sqltypes.Uint16, []byte{0xff, 0xff}, "65535"},
		{"year", sqltypes.Year, []byte{0xe8, 0x07}, "2024"},
		{"int24", sqltypes.Int24, []byte{0xff, 0xff, 0xff, 0xff}, "-1"},
		{"int32", sqltypes.Int32, []byte{0x00, 0x00, 0x00, 0x80}, "-2147483648"},
		{"uint32", sqltypes.Uint32, []byte{0xff, 0xff, 0xff, 0xff}, "4294967295"},
		{"int64", sqltypes.Int64, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, "-1"},
		{"uint64", sqltypes.Uint64, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, "18446744073709551615"},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			value, pos, err := parseBinaryValue(tc.data, 0, tc.typ)
			require.NoError(t, err)
			assert.Equal(t, tc.want, value.ToString())
			assert.Equal(t, len(tc.data), pos)
		})
	}
}

func TestParseBinaryValueFloats(t *testing.T) {
	// 1.5 as IEEE-754.
	value, _, err := parseBinaryValue([]byte{0x00, 0x00, 0xc0, 0x3f}, 0, sqltypes.Float32)
	require.NoError(t, err)
	assert.Equal(t, "1.5", value.ToString())

	value, _, err = parseBinaryValue([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf8, 0x3f}, 0, sqltypes.Float64)
	require.NoError(t, err)
	assert.Equal(t, "1.5", value.ToString())
}

func TestParseBinaryValueStrings(t *testing.T) {
	data := []byte{0x05, 'h', 'e', 'l', 'l', 'o'}
	value, pos, err := parseBinaryValue(data, 0, sqltypes.VarChar)
	require.NoError(t, err)
	assert.Equal(t, "hello", value.ToString())
	assert.Equal(t, len(data), pos)

	// The value must not alias the packet buffer.
	data[1] = 'X'
	assert.Equal(t, "hello", value.ToString())
}

func TestParseBinaryDatetime(t *testing.T) {
	testcases := []struct {
		name string
		typ  sqltypes.Type
		data []byte
		want string
	}{{
		name: "zero datetime",
		typ:  sqltypes.Datetime,
		data: []byte{0x00},
		want: "0000-00-00 00:00:00",
	}, {
		name: "date only",
		typ:  sqltypes.Date,
		data: []byte{0x04, 0xe8, 0x07, 0x03, 0x0f},
		want: "2024-03-15",
	}, {
		name: "datetime without micros",
		typ:  sqltypes.Datetime,
		data: []byte{0x07, 0xe8, 0x07, 0x03, 0x0f, 0x0a, 0x1e, 0x2d},
		want: "2024-03-15 10:30:45",
	}, {
		name: "timestamp with micros",
		typ:  sqltypes.Timestamp,
		data: []byte{0x0b, 0xe8, 0x07, 0x03, 0x0f, 0x0a, 0x1e, 0x2d, 0x40, 0xe2, 0x01, 0x00},
		want: "2024-03-15 10:30:45.123456",
	}}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			value, pos, err := parseBinaryValue(tc.data, 0, tc.typ)
			require.NoError(t, err)
			assert.Equal(t, tc.want, value.ToString())
			assert.Equal(t, len(tc.data), pos)
		})
	}

	_, _, err := parseBinaryValue([]byte{0x05, 0, 0, 0, 0, 0}, 0, sqltypes.Datetime)
	require.Error(t, err)
}

func TestParseBinaryTime(t *testing.T) {
	testcases := []struct {
		name string
		data []byte
		want string
	}{{
		name: "zero time",
		data: []byte{0x00},
		want: "00:00:00",
	}, {
		name: "plain time",
		data: []byte{0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x0a, 0x1e, 0x2d},
		want: "10:30:45",
	}, {
		name: "negative with days folded into hours",
		data: []byte{0x08, 0x01, 0x02, 0x00, 0x00, 0x00, 0x05, 0x00, 0x01},
		want: "-53:00:01",
	}, {
		name: "time with micros",
		data: []byte{0x0c, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x07, 0x00, 0x00, 0x00},
		want: "01:02:03.000007",
	}}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			value, pos, err := parseBinaryValue(tc.data, 0, sqltypes.Time)
			require.NoError(t, err)
			assert.Equal(t, tc.want, value.ToString())
			assert.Equal(t, len(tc.data), pos)
		})
	}

	_, _, err := parseBinaryValue([]byte{0x03, 0, 0, 0}, 0, sqltypes.Time)
	require.Error(t, err)
}

func TestParseBinaryRow(t *testing.T) {
	fields := []*sqltypes.Field{
		{Name: "id", Type: sqltypes.Int64},
		{Name: "name", Type: sqltypes.VarChar},
		{Name: "note", Type: sqltypes.VarChar},
	}

	// Column 2 (bit 4 of the bitmap) is NULL.
	data := []byte{
		0x00, // header
		0x10, // null bitmap
		0x07, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x02, 'h', 'i',
	}
	row, err := parseBinaryRow(data, fields)
	require.NoError(t, err)
	require.Len(t, row, 3)
	assert.Equal(t, "7", row[0].ToString())
	assert.Equal(t, "hi", row[1].ToString())
	assert.True(t, row[2].IsNull())
}

func TestParseBinaryRowBadHeader(t *testing.T) {
	fields := []*sqltypes.Field{{Name: "id", Type: sqltypes.Int64}}

	_, err := parseBinaryRow([]byte{0x01, 0x00}, fields)
	require.Error(t, err)
	assert.True(t, IsClientErrorKind(err, UnexpectedPayload))

	_, err = parseBinaryRow(nil, fields)
	require.Error(t, err)

	_, err = parseBinaryRow([]byte{0x00}, fields)
	require.Error(t, err, "missing null bitmap")
}
