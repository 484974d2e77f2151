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
	"io"
)

// packetWriter collects outbound packet bytes in a buffer borrowed
// from bufPool and hands them to the transport in a single Flush.
// Every command ends with a flush, so an idle connection holds no
// write buffer, and the buffers cycle through the same bucket pool
// that backs ephemeral packet reads.
type packetWriter struct {
	transport io.Writer

	// buf is nil whenever nothing is buffered. Its length is the
	// bucket size handed out by bufPool; used counts the bytes
	// actually written into it.
	buf  *[]byte
	used int
}

func newWriter(w io.Writer) *packetWriter {
	return &packetWriter{transport: w}
}

// Write buffers p, growing into a larger bucket when the current one
// is full. It never writes to the transport.
func (pw *packetWriter) Write(p []byte) (int, error) {
	if pw.buf == nil {
		size := connBufferSize
		for size < len(p) {
			size *= 2
		}
		pw.buf = bufPool.Get(size)
		pw.used = 0
	} else if pw.used+len(p) > len(*pw.buf) {
		size := len(*pw.buf) * 2
		for size < pw.used+len(p) {
			size *= 2
		}
		grown := bufPool.Get(size)
		copy(*grown, (*pw.buf)[:pw.used])
		bufPool.Put(pw.buf)
		pw.buf = grown
	}
	pw.used += copy((*pw.buf)[pw.used:], p)
	return len(p), nil
}

// Flush sends the buffered bytes to the transport and returns the
// buffer to the pool.
func (pw *packetWriter) Flush() error {
	if pw.buf == nil {
		return nil
	}
	_, err := pw.transport.Write((*pw.buf)[:pw.used])
	bufPool.Put(pw.buf)
	pw.buf = nil
	pw.used = 0
	return err
}

// Reset rebinds the writer to a new transport, dropping anything
// buffered. It runs after the TLS upgrade, where the plaintext
// net.Conn is swapped for the tls.Conn.
func (pw *packetWriter) Reset(w io.Writer) {
	if pw.buf != nil {
		bufPool.Put(pw.buf)
		pw.buf = nil
		pw.used = 0
	}
	pw.transport = w
}
