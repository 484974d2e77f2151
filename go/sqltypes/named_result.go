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
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNoSuchField is returned when a lookup references a column
	// that does not exist in the result.
	ErrNoSuchField = errors.New("No such field in RowNamedValues")

	// ErrCannotConvert is returned when a column value does not
	// convert to the requested Go type.
	ErrCannotConvert = errors.New("Cannot convert value to desired type")
)

// RowNamedValues contains a row's values as a map based on Field
// (aka column) name. Lookups are case insensitive: keys are stored
// under the column name as sent by the server, and misses are
// retried with a case-folded scan.
type RowNamedValues map[string]Value

// Get returns the Value for the named column.
func (r RowNamedValues) Get(fieldName string) (Value, bool) {
	if v, ok := r[fieldName]; ok {
		return v, true
	}
	for name, v := range r {
		if strings.EqualFold(name, fieldName) {
			return v, true
		}
	}
	return NULL, false
}

// ToString returns the named field as string.
func (r RowNamedValues) ToString(fieldName string) (string, error) {
	if v, ok := r.Get(fieldName); ok {
		return v.ToString(), nil
	}
	return "", ErrNoSuchField
}

// AsString returns the named field as string, or default value if nonexistent/error.
func (r RowNamedValues) AsString(fieldName string, def string) string {
	if v, err := r.ToString(fieldName); err == nil {
		return v
	}
	return def
}

// ToInt64 returns the named field as int64.
func (r RowNamedValues) ToInt64(fieldName string) (int64, error) {
	if v, ok := r.Get(fieldName); ok {
		n, err := v.ToInt64()
		if err != nil {
			return 0, errors.Wrap(ErrCannotConvert, err.Error())
		}
		return n, nil
	}
	return 0, ErrNoSuchField
}

// AsInt64 returns the named field as int64, or default value if nonexistent/error.
func (r RowNamedValues) AsInt64(fieldName string, def int64) int64 {
	if v, err := r.ToInt64(fieldName); err == nil {
		return v
	}
	return def
}

// ToInt32 returns the named field as int32.
func (r RowNamedValues) ToInt32(fieldName string) (int32, error) {
	v, err := r.ToInt64(fieldName)
	return int32(v), err
}

// AsInt32 returns the named field as int32, or default value if nonexistent/error.
func (r RowNamedValues) AsInt32(fieldName string, def int32) int32 {
	if v, err := r.ToInt32(fieldName); err == nil {
		return v
	}
	return def
}

// ToInt returns the named field as int.
func (r RowNamedValues) ToInt(fieldName string) (int, error) {
	v, err := r.ToInt64(fieldName)
	return int(v), err
}

// AsInt returns the named field as int, or default value if nonexistent/error.
func (r RowNamedValues) AsInt(fieldName string, def int) int {
	if v, err := r.ToInt(fieldName); err == nil {
		return v
	}
	return def
}

// ToUint64 returns the named field as uint64.
func (r RowNamedValues) ToUint64(fieldName string) (uint64, error) {
	if v, ok := r.Get(fieldName); ok {
		n, err := v.ToUint64()
		if err != nil {
			return 0, errors.Wrap(ErrCannotConvert, err.Error())
		}
		return n, nil
	}
	return 0, ErrNoSuchField
}

// AsUint64 returns the named field as uint64, or default value if nonexistent/error.
func (r RowNamedValues) AsUint64(fieldName string, def uint64) uint64 {
	if v, err := r.ToUint64(fieldName); err == nil {
		return v
	}
	return def
}

// ToFloat64 returns the named field as float64.
func (r RowNamedValues) ToFloat64(fieldName string) (float64, error) {
	if v, ok := r.Get(fieldName); ok {
		f, err := v.ToFloat64()
		if err != nil {
			return 0, errors.Wrap(ErrCannotConvert, err.Error())
		}
		return f, nil
	}
	return 0, ErrNoSuchField
}

// AsFloat64 returns the named field as float64, or default value if nonexistent/error.
func (r RowNamedValues) AsFloat64(fieldName string, def float64) float64 {
	if v, err := r.ToFloat64(fieldName); err == nil {
		return v
	}
	return def
}

// ToBool returns the named field as bool.
func (r RowNamedValues) ToBool(fieldName string) (bool, error) {
	if v, ok := r.Get(fieldName); ok {
		b, err := v.ToBool()
		if err != nil {
			return false, errors.Wrap(ErrCannotConvert, err.Error())
		}
		return b, nil
	}
	return false, ErrNoSuchField
}

// AsBool returns the named field as bool, or default value if nonexistent/error.
func (r RowNamedValues) AsBool(fieldName string, def bool) bool {
	if v, err := r.ToBool(fieldName); err == nil {
		return v
	}
	return def
}

// ToBytes returns the named field as a byte slice.
func (r RowNamedValues) ToBytes(fieldName string) ([]byte, error) {
	if v, ok := r.Get(fieldName); ok {
		return v.ToBytes(), nil
	}
	return nil, ErrNoSuchField
}

// AsBytes returns the named field as a byte slice, or default value if nonexistent/error.
func (r RowNamedValues) AsBytes(fieldName string, def []byte) []byte {
	if v, err := r.ToBytes(fieldName); err == nil {
		return v
	}
	return def
}

// NamedResult represents a query result with structured row values.
type NamedResult struct {
	Fields       []*Field
	RowsAffected uint64
	InsertID     uint64
	Rows         []RowNamedValues
}

// ToNamedResult converts a Result struct into a new NamedResult struct.
func ToNamedResult(result *Result) (named *NamedResult) {
	if result == nil {
		return named
	}
	named = &NamedResult{
		Fields:       result.Fields,
		RowsAffected: result.RowsAffected,
		InsertID:     result.InsertID,
	}
	fieldNames := []string{}
	for _, field := range result.Fields {
		fieldNames = append(fieldNames, field.Name)
	}
	for _, row := range result.Rows {
		namedRow := make(RowNamedValues, len(row))
		for i, value := range row {
			namedRow[fieldNames[i]] = value
		}
		named.Rows = append(named.Rows, namedRow)
	}
	return named
}

// Named returns a NamedResult based on this result.
func (result *Result) Named() *NamedResult {
	return ToNamedResult(result)
}

// Row assumes this result has exactly one row and returns it, or
// else returns nil. It is useful for queries like
// "select count(*) from t".
func (res *NamedResult) Row() RowNamedValues {
	if len(res.Rows) != 1 {
		return nil
	}
	return res.Rows[0]
}
