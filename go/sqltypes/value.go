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

// Package sqltypes implements the Value type used to carry column
// values between the wire layer and callers, together with the
// column Type enum and strict conversions to Go scalars.
package sqltypes

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"mysqlclient.io/mysqlclient/go/hack"
)

// NULL represents the NULL value.
var NULL = Value{}

// Value can store any SQL value. If the value represents
// an integral type, the bytes are always stored as a canonical
// representation that matches how MySQL returns such values.
type Value struct {
	typ Type
	val []byte
}

// NewValue builds a Value using typ and val. If the value and typ
// don't match, it returns an error.
func NewValue(typ Type, val []byte) (Value, error) {
	switch {
	case IsSigned(typ):
		if _, err := strconv.ParseInt(hack.String(val), 10, 64); err != nil {
			return NULL, err
		}
		return MakeTrusted(typ, val), nil
	case IsUnsigned(typ):
		if _, err := strconv.ParseUint(hack.String(val), 10, 64); err != nil {
			return NULL, err
		}
		return MakeTrusted(typ, val), nil
	case IsFloat(typ), typ == Decimal:
		if _, err := strconv.ParseFloat(hack.String(val), 64); err != nil {
			return NULL, err
		}
		return MakeTrusted(typ, val), nil
	case IsQuoted(typ), typ == Null:
		return MakeTrusted(typ, val), nil
	}
	return NULL, errors.Errorf("invalid type specified for MakeValue: %v", typ)
}

// MakeTrusted makes a new Value based on the type.
// This function should only be used if you know the value
// and type conform to the rules. Every place this function is
// called, a comment is needed that explains why it's justified.
func MakeTrusted(typ Type, val []byte) Value {
	if typ == Null {
		return NULL
	}
	return Value{typ: typ, val: val}
}

// NewInt64 builds an Int64 Value.
func NewInt64(v int64) Value {
	return MakeTrusted(Int64, strconv.AppendInt(nil, v, 10))
}

// NewInt32 builds an Int32 Value.
func NewInt32(v int32) Value {
	return MakeTrusted(Int32, strconv.AppendInt(nil, int64(v), 10))
}

// NewInt8 builds an Int8 Value.
func NewInt8(v int8) Value {
	return MakeTrusted(Int8, strconv.AppendInt(nil, int64(v), 10))
}

// NewUint64 builds an Uint64 Value.
func NewUint64(v uint64) Value {
	return MakeTrusted(Uint64, strconv.AppendUint(nil, v, 10))
}

// NewFloat32 builds a Float32 Value.
func NewFloat32(v float32) Value {
	return MakeTrusted(Float32, strconv.AppendFloat(nil, float64(v), 'g', -1, 32))
}

// NewFloat64 builds a Float64 Value.
func NewFloat64(v float64) Value {
	return MakeTrusted(Float64, strconv.AppendFloat(nil, v, 'g', -1, 64))
}

// NewVarChar builds a VarChar Value.
func NewVarChar(v string) Value {
	return MakeTrusted(VarChar, []byte(v))
}

// NewVarBinary builds a VarBinary Value.
// The input is a string because it's the most common use case.
func NewVarBinary(v string) Value {
	return MakeTrusted(VarBinary, []byte(v))
}

// Type returns the type of Value.
func (v Value) Type() Type {
	return v.typ
}

// Raw returns the internal representation of the value. For newer
// types, this may not match MySQL's representation.
func (v Value) Raw() []byte {
	return v.val
}

// ToBytes returns the value as MySQL would return it as []byte.
// Unlike ToString, it is safe for binary column values that are not
// valid UTF-8.
func (v Value) ToBytes() []byte {
	return v.val
}

// Len returns the length.
func (v Value) Len() int {
	return len(v.val)
}

// ToString returns the value as MySQL would return it as string.
func (v Value) ToString() string {
	return hack.String(v.val)
}

// String returns a printable version of the value.
func (v Value) String() string {
	if v.typ == Null {
		return "NULL"
	}
	if v.IsQuoted() {
		return fmt.Sprintf("%v(%q)", v.typ, v.val)
	}
	return fmt.Sprintf("%v(%s)", v.typ, v.val)
}

// ToInt64 returns the value as MySQL would return it as a int64.
// Only integral types convert.
func (v Value) ToInt64() (int64, error) {
	if !v.IsIntegral() {
		return 0, errIncompatibleTypeCast(v, "int64")
	}
	return strconv.ParseInt(v.ToString(), 10, 64)
}

// ToUint64 returns the value as MySQL would return it as a uint64.
// Only integral types convert.
func (v Value) ToUint64() (uint64, error) {
	if !v.IsIntegral() {
		return 0, errIncompatibleTypeCast(v, "uint64")
	}
	return strconv.ParseUint(v.ToString(), 10, 64)
}

// ToFloat64 returns the value as MySQL would return it as a float64.
// Integral and floating types convert.
func (v Value) ToFloat64() (float64, error) {
	if !v.IsIntegral() && !v.IsFloat() {
		return 0, errIncompatibleTypeCast(v, "float64")
	}
	return strconv.ParseFloat(v.ToString(), 64)
}

// ToBool returns the value as a bool value. Only TINYINT columns
// holding "0" or "1" convert; anything else is an error rather than
// a silent coercion.
func (v Value) ToBool() (bool, error) {
	if v.typ != Int8 && v.typ != Uint8 {
		return false, errIncompatibleTypeCast(v, "bool")
	}
	switch v.ToString() {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, errIncompatibleTypeCast(v, "bool")
}

// The canonical datetime renderings produced by the binary row
// decoder, in decreasing order of precision.
var datetimeLayouts = []string{
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToTime returns the value as a time.Time. Only date and time
// column types convert.
func (v Value) ToTime() (time.Time, error) {
	if !IsDateTime(v.typ) {
		return time.Time{}, errIncompatibleTypeCast(v, "time.Time")
	}
	s := v.ToString()
	if v.typ == Date {
		return time.Parse("2006-01-02", s)
	}
	var lastErr error
	for _, layout := range datetimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// IsNull returns true if Value is null.
func (v Value) IsNull() bool {
	return v.typ == Null
}

// IsIntegral returns true if Value is an integral.
func (v Value) IsIntegral() bool {
	return IsIntegral(v.typ)
}

// IsSigned returns true if Value is a signed integral.
func (v Value) IsSigned() bool {
	return IsSigned(v.typ)
}

// IsUnsigned returns true if Value is an unsigned integral.
func (v Value) IsUnsigned() bool {
	return IsUnsigned(v.typ)
}

// IsFloat returns true if Value is a float.
func (v Value) IsFloat() bool {
	return IsFloat(v.typ)
}

// IsQuoted returns true if Value must be SQL-quoted.
func (v Value) IsQuoted() bool {
	return IsQuoted(v.typ)
}

// IsText returns true if Value is a collatable text.
func (v Value) IsText() bool {
	return IsText(v.typ)
}

// IsBinary returns true if Value is binary.
func (v Value) IsBinary() bool {
	return IsBinary(v.typ)
}

func errIncompatibleTypeCast(v Value, target string) error {
	return errors.Errorf("%v value %q cannot be cast to %s", v.typ, v.val, target)
}
