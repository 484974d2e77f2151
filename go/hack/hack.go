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

// Package hack holds zero-copy conversions between strings and byte
// slices. They trade memory safety for speed, so callers must uphold
// the aliasing rules each function states.
package hack

import (
	"unsafe"
)

// String reinterprets b as a string without copying. The caller must
// not mutate b afterwards, since the result aliases its memory.
func String(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// StringBytes reinterprets s as a byte slice without copying. The
// result must be treated as read-only; strings are immutable and
// writing through the slice corrupts s.
func StringBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// StringClone copies s into fresh memory, detaching it from whatever
// buffer s currently aliases.
func StringClone(s string) string {
	b := make([]byte, len(s))
	copy(b, s)
	return String(b)
}
