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
)

// packetHeaderSize is the length prefix plus the sequence id.
const packetHeaderSize = 4

// frame is one complete unframed packet.
type frame struct {
	sequenceID uint8
	payload    []byte
}

// framer re-assembles the raw byte stream into packet frames. Bytes
// are appended as they arrive from the transport; complete frames are
// popped off the front. The accumulator never reorders and never
// holds more than maxIncompleteFrameSize bytes without yielding a
// frame.
type framer struct {
	buf bytes.Buffer
}

// feed appends newly arrived bytes. It fails with UnexpectedPacket
// when the buffer grows past the defensive cap without containing a
// complete frame, which would mean the stream is not framed the way
// we expect.
func (f *framer) feed(data []byte) error {
	f.buf.Write(data)
	if f.buf.Len() > maxIncompleteFrameSize && !f.frameComplete() {
		return NewClientError(UnexpectedPacket, "%d buffered bytes without a complete frame", f.buf.Len())
	}
	return nil
}

func (f *framer) frameComplete() bool {
	b := f.buf.Bytes()
	if len(b) < packetHeaderSize {
		return false
	}
	length := int(b[0]) | int(b[1])<<8 | int(b[2])<<16
	return len(b) >= packetHeaderSize+length
}

// next pops the first complete frame, or returns false when more
// bytes are needed. The payload is a copy and stays valid after
// further feeds.
func (f *framer) next() (frame, bool) {
	if !f.frameComplete() {
		return frame{}, false
	}
	b := f.buf.Bytes()
	length := int(b[0]) | int(b[1])<<8 | int(b[2])<<16
	out := frame{
		sequenceID: b[3],
		payload:    make([]byte, length),
	}
	copy(out.payload, b[packetHeaderSize:packetHeaderSize+length])
	f.buf.Next(packetHeaderSize + length)
	return out, true
}

// pending returns the number of buffered bytes that have not yet
// formed a complete frame.
func (f *framer) pending() int {
	return f.buf.Len()
}

// reset drops all buffered bytes. Used when the transport is swapped
// for TLS: the reader must not carry bytes across the upgrade.
func (f *framer) reset() {
	f.buf.Reset()
}
