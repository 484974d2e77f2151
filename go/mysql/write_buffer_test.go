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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketWriterBuffersUntilFlush(t *testing.T) {
	var out bytes.Buffer
	pw := newWriter(&out)

	n, err := pw.Write([]byte("hello "))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, err = pw.Write([]byte("world"))
	require.NoError(t, err)

	// Nothing reaches the transport before the flush.
	assert.Zero(t, out.Len())

	require.NoError(t, pw.Flush())
	assert.Equal(t, "hello world", out.String())
	assert.Nil(t, pw.buf)
}

func TestPacketWriterFlushIdle(t *testing.T) {
	var out bytes.Buffer
	pw := newWriter(&out)

	require.NoError(t, pw.Flush())
	assert.Zero(t, out.Len())
}

func TestPacketWriterGrows(t *testing.T) {
	var out bytes.Buffer
	pw := newWriter(&out)

	first := bytes.Repeat([]byte{'a'}, connBufferSize-1)
	second := bytes.Repeat([]byte{'b'}, 2*connBufferSize)
	_, err := pw.Write(first)
	require.NoError(t, err)
	_, err = pw.Write(second)
	require.NoError(t, err)

	require.NoError(t, pw.Flush())
	assert.Equal(t, len(first)+len(second), out.Len())
	assert.Equal(t, append(first, second...), out.Bytes())
}

func TestPacketWriterReset(t *testing.T) {
	var first, second bytes.Buffer
	pw := newWriter(&first)

	_, err := pw.Write([]byte("stale"))
	require.NoError(t, err)

	// Rebinding discards whatever was buffered.
	pw.Reset(&second)
	_, err = pw.Write([]byte("fresh"))
	require.NoError(t, err)
	require.NoError(t, pw.Flush())

	assert.Zero(t, first.Len())
	assert.Equal(t, "fresh", second.String())
}
