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
	"net"
	"sync"

	"mysqlclient.io/mysqlclient/go/bucketpool"
	"mysqlclient.io/mysqlclient/go/log"
	"mysqlclient.io/mysqlclient/go/sync2"
)

// ConnState is the lifecycle state of a connection. Commands may only
// be issued while the connection is StateConnectionEstablished.
type ConnState int32

const (
	// StateFresh is the state before the transport is dialed.
	StateFresh ConnState = iota

	// StateWaitInitialHandshake means the transport is up and we
	// are waiting for the server's initial handshake packet.
	StateWaitInitialHandshake

	// StateInitialHandshakeResponseSent means our handshake
	// response is out and the auth exchange is in progress.
	StateInitialHandshakeResponseSent

	// StateConnectionEstablished means authentication succeeded
	// and the connection is idle, ready for a command.
	StateConnectionEstablished

	// StateWaitingCommandResponse means a command is in flight.
	StateWaitingCommandResponse

	// StateQuitCommandSent means COM_QUIT went out; only the
	// socket teardown remains.
	StateQuitCommandSent

	// StateClosed is terminal.
	StateClosed
)

var connStateNames = map[ConnState]string{
	StateFresh:                        "Fresh",
	StateWaitInitialHandshake:         "WaitInitialHandshake",
	StateInitialHandshakeResponseSent: "InitialHandshakeResponseSent",
	StateConnectionEstablished:        "ConnectionEstablished",
	StateWaitingCommandResponse:       "WaitingCommandResponse",
	StateQuitCommandSent:              "QuitCommandSent",
	StateClosed:                       "Closed",
}

func (s ConnState) String() string {
	if name, ok := connStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// bufPool is the tiered buffer pool backing ephemeral packet reads
// and writes.
var bufPool = bucketpool.New(connBufferSize, MaxPacketSize)

// Conn is a connection between a client and a server, with all the
// protocol state needed to drive it. All commands are serialized by
// the capacity-1 operation lock: a second caller blocks until the
// first command has consumed its complete response.
type Conn struct {
	conn   net.Conn
	writer *packetWriter

	framer      framer
	readScratch []byte

	// sequence is the packet sequence of the next packet, reset
	// to 0 at the start of each command.
	sequence uint8

	currentEphemeralWriteBuffer *[]byte
	currentEphemeralReadBuffer  *[]byte

	// state is atomic so pool and test code can observe
	// transitions without holding the operation lock.
	state sync2.AtomicInt32

	// opLock serializes commands. It is held from the first
	// request byte until the final response packet, and across an
	// entire transaction.
	opLock *sync2.Semaphore

	params *ConnParams

	// Negotiated during the initial handshake.
	serverCapabilities uint32
	capabilities       uint32
	serverVersion      string
	connectionID       uint32
	characterSet       uint8
	tlsActive          bool

	// statements holds the prepared statements that have not been
	// deallocated yet, by statement id.
	stmtMu     sync.Mutex
	statements map[uint32]*PreparedStatement

	inTransaction bool

	closeOnce sync.Once
	closed    chan struct{}

	onCloseMu sync.Mutex
	onClose   []func()
}

// newConn creates a Conn on top of an established transport. No
// handshake is performed; the caller drives the protocol. It is used
// by Connect and by the server side of the tests.
func newConn(conn net.Conn) *Conn {
	return &Conn{
		conn:        conn,
		writer:      newWriter(conn),
		readScratch: make([]byte, connBufferSize),
		opLock:      sync2.NewSemaphore(1, defaultConnectTimeout),
		statements:  make(map[uint32]*PreparedStatement),
		closed:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Get())
}

func (c *Conn) setState(s ConnState) {
	c.state.Set(int32(s))
}

// ID returns the connection id the server allocated during the
// handshake.
func (c *Conn) ID() uint32 {
	return c.connectionID
}

// ServerVersion returns the server version string from the handshake.
func (c *Conn) ServerVersion() string {
	return c.serverVersion
}

// IsOpen returns true until Close has completed or a fatal protocol
// error tore the connection down.
func (c *Conn) IsOpen() bool {
	return c.State() != StateClosed
}

// Closed returns a channel that is closed when the connection has
// fully shut down.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// OnClose registers a callback invoked once when the connection
// closes. Callbacks registered after close run immediately.
func (c *Conn) OnClose(fn func()) {
	c.onCloseMu.Lock()
	alreadyClosed := c.State() == StateClosed
	if !alreadyClosed {
		c.onClose = append(c.onClose, fn)
	}
	c.onCloseMu.Unlock()
	if alreadyClosed {
		fn()
	}
}

// Close sends COM_QUIT if the connection is still established,
// flushes, and tears down the transport. It is idempotent. Active
// prepared statements are deallocated best-effort first; the
// operation lock is not re-acquired since the connection is going
// away regardless of what is in flight.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		if c.State() == StateConnectionEstablished {
			c.closeActiveStatements()
			if err := c.writeComQuit(); err != nil {
				log.Warningf("COM_QUIT to %v failed: %v", c.connectionID, err)
			}
			c.setState(StateQuitCommandSent)
		}
		c.teardown()
	})
}

// teardown closes the transport without the COM_QUIT courtesy. It
// closes the Closed channel, so it must run at most once: Close and
// fatal both call it through closeOnce.
func (c *Conn) teardown() {
	c.setState(StateClosed)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	close(c.closed)

	c.onCloseMu.Lock()
	callbacks := c.onClose
	c.onClose = nil
	c.onCloseMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// fatal records err as the death certificate of the connection: the
// state moves to Closed and the transport is dropped. The error is
// returned for convenience.
func (c *Conn) fatal(err error) error {
	c.closeOnce.Do(c.teardown)
	return err
}

func (c *Conn) closeActiveStatements() {
	c.stmtMu.Lock()
	stmts := make([]*PreparedStatement, 0, len(c.statements))
	for _, stmt := range c.statements {
		stmts = append(stmts, stmt)
	}
	c.statements = make(map[uint32]*PreparedStatement)
	c.stmtMu.Unlock()

	for _, stmt := range stmts {
		if err := c.writeComStmtClose(stmt.id); err != nil {
			log.Warningf("closing statement %v failed: %v", stmt.id, err)
			return
		}
	}
}

//
// Packet writing methods.
//

// startEphemeralPacket borrows a buffer for a packet of the given
// payload length. The caller fills it and calls
// writeEphemeralPacket, which recycles the buffer.
func (c *Conn) startEphemeralPacket(length int) []byte {
	if c.currentEphemeralWriteBuffer != nil {
		panic("startEphemeralPacket: previous ephemeral write buffer still in flight")
	}
	c.currentEphemeralWriteBuffer = bufPool.Get(packetHeaderSize + length)
	return (*c.currentEphemeralWriteBuffer)[packetHeaderSize:]
}

// writeEphemeralPacket frames and sends the buffer obtained from
// startEphemeralPacket, then returns it to the pool.
func (c *Conn) writeEphemeralPacket() error {
	if c.currentEphemeralWriteBuffer == nil {
		panic("writeEphemeralPacket: no ephemeral write buffer started")
	}
	defer c.recycleWritePacket()

	buf := *c.currentEphemeralWriteBuffer
	length := len(buf) - packetHeaderSize
	if err := c.checkOutgoingLength(length); err != nil {
		return err
	}

	buf[0] = byte(length)
	buf[1] = byte(length >> 8)
	buf[2] = byte(length >> 16)
	buf[3] = c.sequence
	c.sequence++

	if _, err := c.writer.Write(buf); err != nil {
		return c.fatal(WrapClientError(BrokenConnection, err, "conn %v: write failed", c.connectionID))
	}
	return nil
}

func (c *Conn) recycleWritePacket() {
	if c.currentEphemeralWriteBuffer == nil {
		return
	}
	bufPool.Put(c.currentEphemeralWriteBuffer)
	c.currentEphemeralWriteBuffer = nil
}

// writePacket frames and sends the given payload. Unlike the
// ephemeral variant it copies, so it is only used on cold paths.
func (c *Conn) writePacket(payload []byte) error {
	data := c.startEphemeralPacket(len(payload))
	copy(data, payload)
	return c.writeEphemeralPacket()
}

// checkOutgoingLength enforces the outbound payload policy: nothing
// over the advertised maximum, and no continuation frames ever.
func (c *Conn) checkOutgoingLength(length int) error {
	if length > MaxOutgoingPacketSize {
		return NewClientError(InvalidArgument, "packet payload of %v bytes exceeds the %v byte maximum", length, MaxOutgoingPacketSize)
	}
	if length >= MaxPacketSize {
		return NewClientError(Unsupported, "packet payload of %v bytes would need continuation frames", length)
	}
	return nil
}

// flush pushes any buffered bytes onto the wire.
func (c *Conn) flush() error {
	if err := c.writer.Flush(); err != nil {
		return c.fatal(WrapClientError(BrokenConnection, err, "conn %v: flush failed", c.connectionID))
	}
	return nil
}

// resetSequence starts a new command: the request packet goes out
// with sequence 0.
func (c *Conn) resetSequence() {
	c.sequence = 0
}

//
// Packet reading methods.
//

// readFrame returns the next frame from the framer, reading from the
// transport as needed. The returned payload is a copy owned by the
// caller.
func (c *Conn) readFrame() (frame, error) {
	for {
		if fr, ok := c.framer.next(); ok {
			return fr, nil
		}
		n, err := c.conn.Read(c.readScratch)
		if n > 0 {
			if ferr := c.framer.feed(c.readScratch[:n]); ferr != nil {
				return frame{}, c.fatal(ferr)
			}
			continue
		}
		if err != nil {
			return frame{}, c.fatal(WrapClientError(BrokenConnection, err, "conn %v: read failed", c.connectionID))
		}
	}
}

// readEphemeralPacket reads the next packet into a pooled buffer.
// Split payloads (frames of exactly MaxPacketSize) are re-assembled.
// The caller must call recycleReadPacket once done with the data.
func (c *Conn) readEphemeralPacket() ([]byte, error) {
	if c.currentEphemeralReadBuffer != nil {
		panic("readEphemeralPacket: previous ephemeral read buffer still in flight")
	}

	fr, err := c.readFrame()
	if err != nil {
		return nil, err
	}
	if fr.sequenceID != c.sequence {
		return nil, c.fatal(NewClientError(UnexpectedPacket, "conn %v: packet sequence %v, expected %v", c.connectionID, fr.sequenceID, c.sequence))
	}
	c.sequence++

	if len(fr.payload) < MaxPacketSize {
		c.currentEphemeralReadBuffer = bufPool.Get(len(fr.payload))
		copy(*c.currentEphemeralReadBuffer, fr.payload)
		return *c.currentEphemeralReadBuffer, nil
	}

	// The payload continues in follow-up frames until one comes
	// in under the maximum.
	assembled := make([]byte, 0, len(fr.payload)*2)
	assembled = append(assembled, fr.payload...)
	for {
		next, err := c.readFrame()
		if err != nil {
			return nil, err
		}
		if next.sequenceID != c.sequence {
			return nil, c.fatal(NewClientError(UnexpectedPacket, "conn %v: continuation sequence %v, expected %v", c.connectionID, next.sequenceID, c.sequence))
		}
		c.sequence++
		assembled = append(assembled, next.payload...)
		if len(next.payload) < MaxPacketSize {
			break
		}
	}
	c.currentEphemeralReadBuffer = &assembled
	return assembled, nil
}

// recycleReadPacket returns the buffer from readEphemeralPacket to
// the pool.
func (c *Conn) recycleReadPacket() {
	if c.currentEphemeralReadBuffer == nil {
		panic("recycleReadPacket: no ephemeral read buffer in flight")
	}
	bufPool.Put(c.currentEphemeralReadBuffer)
	c.currentEphemeralReadBuffer = nil
}

// readPacket reads the next packet into a freshly allocated slice
// that the caller may keep.
func (c *Conn) readPacket() ([]byte, error) {
	data, err := c.readEphemeralPacket()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	c.recycleReadPacket()
	return out, nil
}
