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

// Type defines the various supported data types in bind vars
// and query results. It is a compact representation: the lower byte
// is a sequence number, the upper bits are flags that allow grouped
// predicates (integral, float, quoted, ...) to be simple mask checks.
type Type int32

// Flag bits for the type values.
const (
	flagIsIntegral = int(256)
	flagIsUnsigned = int(512)
	flagIsFloat    = int(1024)
	flagIsQuoted   = int(2048)
	flagIsText     = int(4096)
	flagIsBinary   = int(8192)
)

// The type values. The sequence number in the lower byte keeps each
// value unique within its flag group.
const (
	// Null specifies a NULL type.
	Null = Type(0)

	// Int8 specifies a TINYINT type.
	Int8 = Type(1 | flagIsIntegral)

	// Uint8 specifies a TINYINT UNSIGNED type.
	Uint8 = Type(2 | flagIsIntegral | flagIsUnsigned)

	// Int16 specifies a SMALLINT type.
	Int16 = Type(3 | flagIsIntegral)

	// Uint16 specifies a SMALLINT UNSIGNED type.
	Uint16 = Type(4 | flagIsIntegral | flagIsUnsigned)

	// Int24 specifies a MEDIUMINT type.
	Int24 = Type(5 | flagIsIntegral)

	// Uint24 specifies a MEDIUMINT UNSIGNED type.
	Uint24 = Type(6 | flagIsIntegral | flagIsUnsigned)

	// Int32 specifies an INTEGER type.
	Int32 = Type(7 | flagIsIntegral)

	// Uint32 specifies an INTEGER UNSIGNED type.
	Uint32 = Type(8 | flagIsIntegral | flagIsUnsigned)

	// Int64 specifies a BIGINT type.
	Int64 = Type(9 | flagIsIntegral)

	// Uint64 specifies a BIGINT UNSIGNED type.
	Uint64 = Type(10 | flagIsIntegral | flagIsUnsigned)

	// Float32 specifies a FLOAT type.
	Float32 = Type(11 | flagIsFloat)

	// Float64 specifies a DOUBLE or REAL type.
	Float64 = Type(12 | flagIsFloat)

	// Timestamp specifies a TIMESTAMP type.
	Timestamp = Type(13 | flagIsQuoted)

	// Date specifies a DATE type.
	Date = Type(14 | flagIsQuoted)

	// Time specifies a TIME type.
	Time = Type(15 | flagIsQuoted)

	// Datetime specifies a DATETIME type.
	Datetime = Type(16 | flagIsQuoted)

	// Year specifies a YEAR type.
	Year = Type(17 | flagIsIntegral | flagIsUnsigned)

	// Decimal specifies a DECIMAL or NUMERIC type.
	Decimal = Type(18)

	// Text specifies a TEXT type.
	Text = Type(19 | flagIsQuoted | flagIsText)

	// Blob specifies a BLOB type.
	Blob = Type(20 | flagIsQuoted | flagIsBinary)

	// VarChar specifies a VARCHAR type.
	VarChar = Type(21 | flagIsQuoted | flagIsText)

	// VarBinary specifies a VARBINARY type.
	VarBinary = Type(22 | flagIsQuoted | flagIsBinary)

	// Char specifies a CHAR type.
	Char = Type(23 | flagIsQuoted | flagIsText)

	// Binary specifies a BINARY type.
	Binary = Type(24 | flagIsQuoted | flagIsBinary)

	// Bit specifies a BIT type.
	Bit = Type(25 | flagIsQuoted)

	// Enum specifies an ENUM type.
	Enum = Type(26 | flagIsQuoted)

	// Set specifies a SET type.
	Set = Type(27 | flagIsQuoted)

	// Geometry specifies a GEOMETRY type.
	Geometry = Type(29 | flagIsQuoted)

	// TypeJSON specifies a JSON type.
	TypeJSON = Type(30 | flagIsQuoted)
)

// IsIntegral returns true if Type is an integral
// (signed/unsigned) that can be represented using
// up to 64 binary bits.
func IsIntegral(t Type) bool {
	return int(t)&flagIsIntegral == flagIsIntegral
}

// IsSigned returns true if Type is a signed integral.
func IsSigned(t Type) bool {
	return int(t)&(flagIsIntegral|flagIsUnsigned) == flagIsIntegral
}

// IsUnsigned returns true if Type is an unsigned integral.
// Caution: this is not the same as !IsSigned.
func IsUnsigned(t Type) bool {
	return int(t)&(flagIsIntegral|flagIsUnsigned) == flagIsIntegral|flagIsUnsigned
}

// IsFloat returns true is Type is a floating point.
func IsFloat(t Type) bool {
	return int(t)&flagIsFloat == flagIsFloat
}

// IsQuoted returns true if Type is a quoted text or binary.
func IsQuoted(t Type) bool {
	return int(t)&flagIsQuoted == flagIsQuoted
}

// IsText returns true if Type is a text.
func IsText(t Type) bool {
	return int(t)&flagIsText == flagIsText
}

// IsBinary returns true if Type is a binary.
func IsBinary(t Type) bool {
	return int(t)&flagIsBinary == flagIsBinary
}

// IsDateTime returns true if Type represents a date, time or
// combination thereof.
func IsDateTime(t Type) bool {
	switch t {
	case Date, Time, Datetime, Timestamp:
		return true
	}
	return false
}

// IsNull returns true if the type is NULL type.
func IsNull(t Type) bool {
	return t == Null
}

var typeNames = map[Type]string{
	Null:      "NULL",
	Int8:      "INT8",
	Uint8:     "UINT8",
	Int16:     "INT16",
	Uint16:    "UINT16",
	Int24:     "INT24",
	Uint24:    "UINT24",
	Int32:     "INT32",
	Uint32:    "UINT32",
	Int64:     "INT64",
	Uint64:    "UINT64",
	Float32:   "FLOAT32",
	Float64:   "FLOAT64",
	Timestamp: "TIMESTAMP",
	Date:      "DATE",
	Time:      "TIME",
	Datetime:  "DATETIME",
	Year:      "YEAR",
	Decimal:   "DECIMAL",
	Text:      "TEXT",
	Blob:      "BLOB",
	VarChar:   "VARCHAR",
	VarBinary: "VARBINARY",
	Char:      "CHAR",
	Binary:    "BINARY",
	Bit:       "BIT",
	Enum:      "ENUM",
	Set:       "SET",
	Geometry:  "GEOMETRY",
	TypeJSON:  "JSON",
}

// String returns the type name, or "UNKNOWN" for an unmapped value.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}
