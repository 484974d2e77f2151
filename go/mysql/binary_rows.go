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
	"fmt"
	"math"
	"strconv"

	"mysqlclient.io/mysqlclient/go/hack"
	"mysqlclient.io/mysqlclient/go/sqltypes"
)

// parseBinaryRow decodes one binary-protocol row into canonical text
// values. The row starts with a 0x00 header, then a null bitmap of
// floor((N+9)/8) bytes where column i occupies bit (i+2) of the
// bitmap, then the non-null values in column order.
func parseBinaryRow(data []byte, fields []*sqltypes.Field) ([]sqltypes.Value, error) {
	if len(data) == 0 || data[0] != OKPacket {
		return nil, NewClientError(UnexpectedPayload, "binary row: bad header byte")
	}
	pos := 1

	bitmapLength := (len(fields) + 9) / 8
	nullBitmap, pos, ok := readBytes(data, pos, bitmapLength)
	if !ok {
		return nil, NewClientError(UnexpectedPayload, "binary row: truncated null bitmap")
	}

	row := make([]sqltypes.Value, len(fields))
	for i, field := range fields {
		bit := i + 2
		if nullBitmap[bit/8]&(1<<uint(bit%8)) != 0 {
			row[i] = sqltypes.NULL
			continue
		}
		value, next, err := parseBinaryValue(data, pos, field.Type)
		if err != nil {
			return nil, NewClientError(UnexpectedPayload, "binary row: column %v (%v): %v", i, field.Name, err)
		}
		row[i] = value
		pos = next
	}
	return row, nil
}

// parseBinaryValue decodes a single binary value of the given type
// into its canonical text form.
func parseBinaryValue(data []byte, pos int, typ sqltypes.Type) (sqltypes.Value, int, error) {
	switch typ {
	case sqltypes.Int8:
		b, next, ok := readByte(data, pos)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated int8")
		}
		return textValue(typ, strconv.FormatInt(int64(int8(b)), 10)), next, nil

	case sqltypes.Uint8:
		b, next, ok := readByte(data, pos)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated uint8")
		}
		return textValue(typ, strconv.FormatUint(uint64(b), 10)), next, nil

	case sqltypes.Int16:
		v, next, ok := readUint16(data, pos)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated int16")
		}
		return textValue(typ, strconv.FormatInt(int64(int16(v)), 10)), next, nil

	case sqltypes.Uint16, sqltypes.Year:
		v, next, ok := readUint16(data, pos)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated uint16")
		}
		return textValue(typ, strconv.FormatUint(uint64(v), 10)), next, nil

	case sqltypes.Int24, sqltypes.Int32:
		v, next, ok := readUint32(data, pos)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated int32")
		}
		return textValue(typ, strconv.FormatInt(int64(int32(v)), 10)), next, nil

	case sqltypes.Uint24, sqltypes.Uint32:
		v, next, ok := readUint32(data, pos)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated uint32")
		}
		return textValue(typ, strconv.FormatUint(uint64(v), 10)), next, nil

	case sqltypes.Int64:
		v, next, ok := readUint64(data, pos)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated int64")
		}
		return textValue(typ, strconv.FormatInt(int64(v), 10)), next, nil

	case sqltypes.Uint64:
		v, next, ok := readUint64(data, pos)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated uint64")
		}
		return textValue(typ, strconv.FormatUint(v, 10)), next, nil

	case sqltypes.Float32:
		v, next, ok := readUint32(data, pos)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated float32")
		}
		f := math.Float32frombits(v)
		return textValue(typ, strconv.FormatFloat(float64(f), 'g', -1, 32)), next, nil

	case sqltypes.Float64:
		v, next, ok := readUint64(data, pos)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated float64")
		}
		f := math.Float64frombits(v)
		return textValue(typ, strconv.FormatFloat(f, 'g', -1, 64)), next, nil

	case sqltypes.Date, sqltypes.Datetime, sqltypes.Timestamp:
		return parseBinaryDatetime(data, pos, typ)

	case sqltypes.Time:
		return parseBinaryTime(data, pos)

	default:
		// Strings, blobs, decimals, bit, enum, set, geometry,
		// JSON: a length-encoded blob carried as-is.
		val, next, ok := readLenEncStringAsBytesCopy(data, pos)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated length-encoded value")
		}
		return sqltypes.MakeTrusted(typ, val), next, nil
	}
}

// parseBinaryDatetime decodes the packed date form: a length byte of
// 0, 4, 7 or 11, then as many of year/month/day/hour/minute/second/
// microseconds as that length covers. Missing fields are zero.
func parseBinaryDatetime(data []byte, pos int, typ sqltypes.Type) (sqltypes.Value, int, error) {
	length, pos, ok := readByte(data, pos)
	if !ok {
		return sqltypes.NULL, 0, fmt.Errorf("truncated datetime length")
	}

	var year uint16
	var month, day, hour, minute, second uint8
	var micros uint32

	switch length {
	case 11:
		raw, next, ok := readBytes(data, pos, 11)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated datetime body")
		}
		pos = next
		year = uint16(raw[0]) | uint16(raw[1])<<8
		month, day, hour, minute, second = raw[2], raw[3], raw[4], raw[5], raw[6]
		micros = uint32(raw[7]) | uint32(raw[8])<<8 | uint32(raw[9])<<16 | uint32(raw[10])<<24
	case 7:
		raw, next, ok := readBytes(data, pos, 7)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated datetime body")
		}
		pos = next
		year = uint16(raw[0]) | uint16(raw[1])<<8
		month, day, hour, minute, second = raw[2], raw[3], raw[4], raw[5], raw[6]
	case 4:
		raw, next, ok := readBytes(data, pos, 4)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated date body")
		}
		pos = next
		year = uint16(raw[0]) | uint16(raw[1])<<8
		month, day = raw[2], raw[3]
	case 0:
	default:
		return sqltypes.NULL, 0, fmt.Errorf("invalid datetime length %v", length)
	}

	var text string
	if typ == sqltypes.Date {
		text = fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	} else if micros > 0 {
		text = fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d", year, month, day, hour, minute, second, micros)
	} else {
		text = fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", year, month, day, hour, minute, second)
	}
	return textValue(typ, text), pos, nil
}

// parseBinaryTime decodes the packed time form: a length byte of 0, 8
// or 12, then sign, days, hours, minutes, seconds and optionally
// microseconds. Days are folded into the hour figure, which may
// exceed 23.
func parseBinaryTime(data []byte, pos int) (sqltypes.Value, int, error) {
	length, pos, ok := readByte(data, pos)
	if !ok {
		return sqltypes.NULL, 0, fmt.Errorf("truncated time length")
	}

	var negative bool
	var days uint32
	var hour, minute, second uint8
	var micros uint32

	switch length {
	case 12:
		raw, next, ok := readBytes(data, pos, 12)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated time body")
		}
		pos = next
		negative = raw[0] == 1
		days = uint32(raw[1]) | uint32(raw[2])<<8 | uint32(raw[3])<<16 | uint32(raw[4])<<24
		hour, minute, second = raw[5], raw[6], raw[7]
		micros = uint32(raw[8]) | uint32(raw[9])<<8 | uint32(raw[10])<<16 | uint32(raw[11])<<24
	case 8:
		raw, next, ok := readBytes(data, pos, 8)
		if !ok {
			return sqltypes.NULL, 0, fmt.Errorf("truncated time body")
		}
		pos = next
		negative = raw[0] == 1
		days = uint32(raw[1]) | uint32(raw[2])<<8 | uint32(raw[3])<<16 | uint32(raw[4])<<24
		hour, minute, second = raw[5], raw[6], raw[7]
	case 0:
	default:
		return sqltypes.NULL, 0, fmt.Errorf("invalid time length %v", length)
	}

	hours := uint64(days)*24 + uint64(hour)
	sign := ""
	if negative {
		sign = "-"
	}
	var text string
	if micros > 0 {
		text = fmt.Sprintf("%v%02d:%02d:%02d.%06d", sign, hours, minute, second, micros)
	} else {
		text = fmt.Sprintf("%v%02d:%02d:%02d", sign, hours, minute, second)
	}
	return textValue(sqltypes.Time, text), pos, nil
}

func textValue(typ sqltypes.Type, text string) sqltypes.Value {
	return sqltypes.MakeTrusted(typ, hack.StringBytes(text))
}
