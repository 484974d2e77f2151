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
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createSocketPair returns two connections wired to each other over a
// loopback socket, plus the listener the caller must close.
func createSocketPair(t *testing.T) (net.Listener, *Conn, *Conn) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	serverCh := make(chan net.Conn)
	serverErrCh := make(chan error)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			serverErrCh <- err
			return
		}
		serverCh <- conn
	}()

	clientNet, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)

	var serverNet net.Conn
	select {
	case serverNet = <-serverCh:
	case err := <-serverErrCh:
		t.Fatalf("accept failed: %v", err)
	}

	return listener, newConn(serverNet), newConn(clientNet)
}

// writeRawFrame puts one hand-built frame on the wire: 3-byte length,
// sequence byte, payload.
func writeRawFrame(w io.Writer, sequence uint8, payload []byte) error {
	header := []byte{
		byte(len(payload)),
		byte(len(payload) >> 8),
		byte(len(payload) >> 16),
		sequence,
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func verifyPacketRoundTrip(t *testing.T, wConn, rConn *Conn, size int) {
	t.Helper()

	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}

	wConn.resetSequence()
	rConn.resetSequence()

	writeDone := make(chan error, 1)
	go func() {
		if err := wConn.writePacket(payload); err != nil {
			writeDone <- err
			return
		}
		writeDone <- wConn.flush()
	}()

	read, err := rConn.readPacket()
	require.NoError(t, err)
	require.NoError(t, <-writeDone)
	assert.Equal(t, payload, read)
}

func TestPacketRoundTrip(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	sizes := []int{
		0,
		1,
		100,
		connBufferSize - packetHeaderSize,
		connBufferSize,
		connBufferSize + 100,
		1 << 20,
	}
	for _, size := range sizes {
		verifyPacketRoundTrip(t, cConn, sConn, size)
		verifyPacketRoundTrip(t, sConn, cConn, size)
	}
}

func TestMultiFramePacketReassembly(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	payload := make([]byte, MaxPacketSize+100)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	writeDone := make(chan error, 1)
	go func() {
		if err := writeRawFrame(sConn.conn, 0, payload[:MaxPacketSize]); err != nil {
			writeDone <- err
			return
		}
		writeDone <- writeRawFrame(sConn.conn, 1, payload[MaxPacketSize:])
	}()

	cConn.resetSequence()
	read, err := cConn.readPacket()
	require.NoError(t, err)
	require.NoError(t, <-writeDone)
	assert.Equal(t, payload, read)

	// The sequence advanced once per frame.
	assert.Equal(t, uint8(2), cConn.sequence)
}

func TestExactMaxSizePacketNeedsEmptyFrame(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	payload := make([]byte, MaxPacketSize)
	for i := range payload {
		payload[i] = byte(i * 3)
	}

	writeDone := make(chan error, 1)
	go func() {
		if err := writeRawFrame(sConn.conn, 0, payload); err != nil {
			writeDone <- err
			return
		}
		writeDone <- writeRawFrame(sConn.conn, 1, nil)
	}()

	cConn.resetSequence()
	read, err := cConn.readPacket()
	require.NoError(t, err)
	require.NoError(t, <-writeDone)
	assert.Equal(t, payload, read)
}

func TestSequenceMismatchIsFatal(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	require.NoError(t, writeRawFrame(sConn.conn, 3, []byte{0x01}))

	cConn.resetSequence()
	_, err := cConn.readPacket()
	require.Error(t, err)
	assert.True(t, IsClientErrorKind(err, UnexpectedPacket))
	assert.False(t, cConn.IsOpen())
}

func TestCheckOutgoingLength(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	testcases := []struct {
		length int
		kind   ErrorKind
		ok     bool
	}{
		{length: 0, ok: true},
		{length: MaxPacketSize - 1, ok: true},
		{length: MaxPacketSize, kind: Unsupported},
		{length: MaxOutgoingPacketSize, kind: Unsupported},
		{length: MaxOutgoingPacketSize + 1, kind: InvalidArgument},
	}
	for _, tc := range testcases {
		err := cConn.checkOutgoingLength(tc.length)
		if tc.ok {
			assert.NoError(t, err, "length %v", tc.length)
			continue
		}
		require.Error(t, err, "length %v", tc.length)
		assert.True(t, IsClientErrorKind(err, tc.kind), "length %v: %v", tc.length, err)
	}
}

func TestWriteTooLargePacket(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	err := cConn.writePacket(make([]byte, MaxPacketSize))
	require.Error(t, err)
	assert.True(t, IsClientErrorKind(err, Unsupported))

	// The oversized write never reached the wire, so the connection
	// is still usable.
	assert.True(t, cConn.IsOpen())
	cConn.resetSequence()
	sConn.resetSequence()
	verifyPacketRoundTrip(t, cConn, sConn, 100)
}

func TestCloseIsIdempotent(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
	}()

	cConn.Close()
	assert.False(t, cConn.IsOpen())
	cConn.Close()
	assert.False(t, cConn.IsOpen())

	select {
	case <-cConn.Closed():
	default:
		t.Fatal("Closed channel not closed after Close")
	}
}

func TestOnClose(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
	}()

	fired := 0
	cConn.OnClose(func() { fired++ })
	cConn.Close()
	assert.Equal(t, 1, fired)

	// Closing again does not re-run callbacks.
	cConn.Close()
	assert.Equal(t, 1, fired)

	// Registering after close fires immediately.
	late := false
	cConn.OnClose(func() { late = true })
	assert.True(t, late)
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "Fresh", StateFresh.String())
	assert.Equal(t, "ConnectionEstablished", StateConnectionEstablished.String())
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Unknown", ConnState(42).String())
}
