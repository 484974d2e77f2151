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
)

func rawFrame(sequence uint8, payload []byte) []byte {
	out := []byte{
		byte(len(payload)),
		byte(len(payload) >> 8),
		byte(len(payload) >> 16),
		sequence,
	}
	return append(out, payload...)
}

func TestFramerSingleFrame(t *testing.T) {
	var f framer

	_, ok := f.next()
	assert.False(t, ok)

	require.NoError(t, f.feed(rawFrame(1, []byte{0xab, 0xcd})))
	fr, ok := f.next()
	require.True(t, ok)
	assert.Equal(t, uint8(1), fr.sequenceID)
	assert.Equal(t, []byte{0xab, 0xcd}, fr.payload)
	assert.Equal(t, 0, f.pending())

	_, ok = f.next()
	assert.False(t, ok)
}

func TestFramerByteAtATime(t *testing.T) {
	var f framer

	raw := rawFrame(7, []byte{1, 2, 3, 4, 5})
	for i, b := range raw {
		require.NoError(t, f.feed([]byte{b}))
		if i < len(raw)-1 {
			_, ok := f.next()
			assert.False(t, ok, "frame complete after %v of %v bytes", i+1, len(raw))
		}
	}

	fr, ok := f.next()
	require.True(t, ok)
	assert.Equal(t, uint8(7), fr.sequenceID)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, fr.payload)
}

func TestFramerMultipleFramesInOneFeed(t *testing.T) {
	var f framer

	buf := rawFrame(0, []byte{0x11})
	buf = append(buf, rawFrame(1, []byte{0x22, 0x33})...)
	buf = append(buf, rawFrame(2, nil)...)
	require.NoError(t, f.feed(buf))

	fr, ok := f.next()
	require.True(t, ok)
	assert.Equal(t, uint8(0), fr.sequenceID)
	assert.Equal(t, []byte{0x11}, fr.payload)

	fr, ok = f.next()
	require.True(t, ok)
	assert.Equal(t, uint8(1), fr.sequenceID)
	assert.Equal(t, []byte{0x22, 0x33}, fr.payload)

	fr, ok = f.next()
	require.True(t, ok)
	assert.Equal(t, uint8(2), fr.sequenceID)
	assert.Empty(t, fr.payload)

	_, ok = f.next()
	assert.False(t, ok)
}

func TestFramerPayloadSurvivesLaterFeeds(t *testing.T) {
	var f framer

	require.NoError(t, f.feed(rawFrame(0, []byte{0xaa, 0xbb})))
	fr, ok := f.next()
	require.True(t, ok)

	require.NoError(t, f.feed(rawFrame(1, []byte{0xff, 0xff})))
	assert.Equal(t, []byte{0xaa, 0xbb}, fr.payload)
}

func TestFramerMaxSizeFrame(t *testing.T) {
	var f framer

	payload := make([]byte, MaxPacketSize)
	payload[0] = 0x42
	payload[MaxPacketSize-1] = 0x24

	raw := rawFrame(0, payload)
	half := len(raw) / 2
	require.NoError(t, f.feed(raw[:half]))
	_, ok := f.next()
	assert.False(t, ok)

	require.NoError(t, f.feed(raw[half:]))
	fr, ok := f.next()
	require.True(t, ok)
	assert.Equal(t, MaxPacketSize, len(fr.payload))
	assert.Equal(t, byte(0x42), fr.payload[0])
	assert.Equal(t, byte(0x24), fr.payload[MaxPacketSize-1])
	assert.Equal(t, 0, f.pending())
}

func TestFramerReset(t *testing.T) {
	var f framer

	require.NoError(t, f.feed([]byte{0x05, 0x00}))
	assert.Equal(t, 2, f.pending())
	f.reset()
	assert.Equal(t, 0, f.pending())

	require.NoError(t, f.feed(rawFrame(0, []byte{0x01})))
	fr, ok := f.next()
	require.True(t, ok)
	assert.Equal(t, []byte{0x01}, fr.payload)
}
