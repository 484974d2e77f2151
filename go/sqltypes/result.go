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

// Field describes a single column of a result set. The fields mirror
// the column-definition packet of the 4.1 protocol.
type Field struct {
	Name         string
	OrgName      string
	Table        string
	OrgTable     string
	Database     string
	Type         Type
	Charset      uint16
	ColumnLength uint32
	Flags        uint16
	Decimals     uint8
}

// Result represents a query result. All rows of a buffered query
// are present in Rows. Next links the result of the
// following statement when the server reported more results.
type Result struct {
	Fields       []*Field
	RowsAffected uint64
	InsertID     uint64
	Rows         [][]Value
	StatusFlags  uint16
	Warnings     uint16
	Next         *Result
}

// Copy creates a deep copy of Result.
func (result *Result) Copy() *Result {
	out := &Result{
		RowsAffected: result.RowsAffected,
		InsertID:     result.InsertID,
		StatusFlags:  result.StatusFlags,
		Warnings:     result.Warnings,
	}
	if result.Fields != nil {
		out.Fields = make([]*Field, len(result.Fields))
		for i, f := range result.Fields {
			fcopy := *f
			out.Fields[i] = &fcopy
		}
	}
	if result.Rows != nil {
		out.Rows = make([][]Value, len(result.Rows))
		for i, r := range result.Rows {
			out.Rows[i] = make([]Value, len(r))
			copy(out.Rows[i], r)
		}
	}
	if result.Next != nil {
		out.Next = result.Next.Copy()
	}
	return out
}

// IsMoreResultsExists returns true if the result is followed by
// another one in a multi-statement response.
func (result *Result) IsMoreResultsExists() bool {
	return result.Next != nil
}

// FieldNames returns the column names in order.
func (result *Result) FieldNames() []string {
	names := make([]string, len(result.Fields))
	for i, f := range result.Fields {
		names[i] = f.Name
	}
	return names
}
