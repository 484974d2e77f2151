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
	"regexp"
	"strconv"
	"strings"
	"time"

	"mysqlclient.io/mysqlclient/go/sqltypes"
)

// bindParamRegexp matches :name placeholders. Word characters only,
// so a colon not followed by one never matches; in a ::type cast the
// second colon is followed by the type name and does match.
var bindParamRegexp = regexp.MustCompile(`:(\w+)`)

// substituteParams rewrites :name placeholders in the query with the
// SQL text form of the bound values. A placeholder is only active
// when it is not inside a string literal, which is tracked by quote
// parity: the counts of ' and " before the match must both be even.
// Unknown names fail with InvalidArgument.
func substituteParams(query string, bindVars map[string]any) (string, error) {
	if len(bindVars) == 0 {
		return query, nil
	}

	matches := bindParamRegexp.FindAllStringSubmatchIndex(query, -1)
	if matches == nil {
		return query, nil
	}

	var buf strings.Builder
	buf.Grow(len(query))
	last := 0
	singles, doubles := 0, 0
	for _, m := range matches {
		start, end := m[0], m[1]
		segment := query[last:start]
		singles += strings.Count(segment, "'")
		doubles += strings.Count(segment, `"`)
		buf.WriteString(segment)
		last = end

		if singles%2 != 0 || doubles%2 != 0 {
			// Inside a string literal, keep the text as-is.
			buf.WriteString(query[start:end])
			continue
		}

		name := query[m[2]:m[3]]
		value, found := bindVars[name]
		if !found {
			return "", NewClientError(InvalidArgument, "unknown bind parameter :%v", name)
		}
		text, err := sqlValueText(value)
		if err != nil {
			return "", err
		}
		buf.WriteString(text)
	}
	buf.WriteString(query[last:])
	return buf.String(), nil
}

// sqlValueText renders a bound value as a SQL literal: NULL for nil,
// TRUE/FALSE for bools, bare decimal for numbers, a single-quoted
// escaped string for everything else.
func sqlValueText(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case string:
		return quoteString(v), nil
	case []byte:
		return quoteString(string(v)), nil
	case time.Time:
		return quoteString(v.Format("2006-01-02 15:04:05.999999")), nil
	case sqltypes.Value:
		if v.IsNull() {
			return "NULL", nil
		}
		if v.IsIntegral() || v.IsFloat() {
			return v.ToString(), nil
		}
		return quoteString(v.ToString()), nil
	default:
		return "", NewClientError(InvalidArgument, "bind value of type %T has no SQL text form", value)
	}
}

// quoteString wraps s in single quotes, doubling embedded single
// quotes and doubling backslashes.
func quoteString(s string) string {
	var buf strings.Builder
	buf.Grow(len(s) + 2)
	buf.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			buf.WriteString(`\\`)
		case '\'':
			buf.WriteString("''")
		default:
			buf.WriteByte(s[i])
		}
	}
	buf.WriteByte('\'')
	return buf.String()
}
