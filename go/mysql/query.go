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
	"sync"
	"time"

	"mysqlclient.io/mysqlclient/go/sqltypes"
)

func (c *Conn) operationTimeout() time.Duration {
	if c.params != nil {
		return c.params.ConnectTimeout
	}
	return defaultConnectTimeout
}

// acquireOpLock serializes with the in-flight command, if any.
func (c *Conn) acquireOpLock() error {
	if !c.opLock.Acquire() {
		return NewTimeoutError(c.operationTimeout(), "conn %v: timed out waiting for the in-flight command", c.connectionID)
	}
	return nil
}

// startCommandLocked verifies a command may be issued and marks one
// in flight. The caller holds the operation lock.
func (c *Conn) startCommandLocked() error {
	switch state := c.State(); state {
	case StateConnectionEstablished:
		c.setState(StateWaitingCommandResponse)
		return nil
	case StateClosed, StateQuitCommandSent:
		return NewClientError(ClosedConnection, "conn %v is closed", c.connectionID)
	default:
		return NewClientError(UnexpectedState, "conn %v cannot run a command in state %v", c.connectionID, state)
	}
}

// finishCommandLocked returns the connection to the idle state unless
// a fatal error closed it in the meantime.
func (c *Conn) finishCommandLocked() {
	c.state.CompareAndSwap(int32(StateWaitingCommandResponse), int32(StateConnectionEstablished))
}

// Execute runs a query with optional named parameters bound per the
// :name substitution rules, and buffers the complete response.
// Additional result sets of a multi-statement query are linked
// through Result.Next.
func (c *Conn) Execute(query string, bindVars map[string]any) (*sqltypes.Result, error) {
	if err := c.acquireOpLock(); err != nil {
		return nil, err
	}
	defer c.opLock.Release()
	return c.executeLocked(query, bindVars)
}

// executeLocked is Execute without the lock acquisition, for use
// inside a transaction body where the lock is already held.
func (c *Conn) executeLocked(query string, bindVars map[string]any) (*sqltypes.Result, error) {
	if query == "" {
		return nil, NewClientError(InvalidArgument, "empty query")
	}
	full, err := substituteParams(query, bindVars)
	if err != nil {
		return nil, err
	}

	if err := c.startCommandLocked(); err != nil {
		return nil, err
	}
	defer c.finishCommandLocked()

	if err := c.writeComQuery(full); err != nil {
		return nil, err
	}
	result, err := c.readQueryResults(false)
	if err != nil {
		if sqlErr, ok := err.(*SQLError); ok {
			sqlErr.Query = full
		}
		return nil, err
	}
	return result, nil
}

// Ping probes the server with COM_PING. Used by the pool before
// handing out a connection that sat idle.
func (c *Conn) Ping() error {
	if err := c.acquireOpLock(); err != nil {
		return err
	}
	defer c.opLock.Release()
	if err := c.startCommandLocked(); err != nil {
		return err
	}
	defer c.finishCommandLocked()

	if err := c.writeComPing(); err != nil {
		return err
	}
	return c.readOKResponse("COM_PING")
}

// UseDatabase switches the default schema with COM_INIT_DB.
func (c *Conn) UseDatabase(db string) error {
	if db == "" {
		return NewClientError(InvalidArgument, "empty database name")
	}
	if err := c.acquireOpLock(); err != nil {
		return err
	}
	defer c.opLock.Release()
	if err := c.startCommandLocked(); err != nil {
		return err
	}
	defer c.finishCommandLocked()

	if err := c.writeComInitDB(db); err != nil {
		return err
	}
	return c.readOKResponse("COM_INIT_DB")
}

// readOKResponse consumes the single OK or ERR packet that simple
// commands reply with.
func (c *Conn) readOKResponse(command string) error {
	data, err := c.readEphemeralPacket()
	if err != nil {
		return err
	}
	defer c.recycleReadPacket()
	switch {
	case isOKPacket(data):
		if _, err := parseOKPacket(data); err != nil {
			return c.fatal(err)
		}
		return nil
	case isErrorPacket(data):
		return parseErrorPacket(data)
	}
	return c.fatal(NewClientError(UnexpectedPacket, "unexpected %v response: %v", command, data))
}

// readQueryResults assembles the full response to a query: one result
// set, plus any additional ones announced through the
// MORE_RESULTS_EXIST status flag, linked in order.
func (c *Conn) readQueryResults(binary bool) (*sqltypes.Result, error) {
	head, more, err := c.readResultSet(binary)
	if err != nil {
		return nil, err
	}
	tail := head
	for more {
		var next *sqltypes.Result
		next, more, err = c.readResultSet(binary)
		if err != nil {
			return nil, err
		}
		tail.Next = next
		tail = next
	}
	return head, nil
}

// readResultSet reads one complete result set and reports whether
// another one follows.
func (c *Conn) readResultSet(binary bool) (*sqltypes.Result, bool, error) {
	data, err := c.readEphemeralPacket()
	if err != nil {
		return nil, false, err
	}

	switch {
	case isOKPacket(data):
		okPacket, perr := parseOKPacket(data)
		c.recycleReadPacket()
		if perr != nil {
			return nil, false, c.fatal(perr)
		}
		result := &sqltypes.Result{
			RowsAffected: okPacket.affectedRows,
			InsertID:     okPacket.lastInsertID,
			StatusFlags:  okPacket.statusFlags,
			Warnings:     okPacket.warnings,
		}
		return result, okPacket.statusFlags&ServerMoreResultsExists != 0, nil

	case isErrorPacket(data):
		defer c.recycleReadPacket()
		return nil, false, parseErrorPacket(data)

	case data[0] == NullValue:
		c.recycleReadPacket()
		return nil, false, NewClientError(Unsupported, "LOCAL INFILE is not implemented")
	}

	colCount, _, ok := readLenEncInt(data, 0)
	c.recycleReadPacket()
	if !ok {
		return nil, false, c.fatal(NewClientError(UnexpectedPayload, "invalid column count packet"))
	}

	result := &sqltypes.Result{
		Fields: make([]*sqltypes.Field, colCount),
	}
	for i := range result.Fields {
		field := &sqltypes.Field{}
		if err := c.readColumnDefinition(field, i); err != nil {
			return nil, false, err
		}
		result.Fields[i] = field
	}

	// EOF closing the column definitions.
	data, err = c.readEphemeralPacket()
	if err != nil {
		return nil, false, err
	}
	if !isEOFPacket(data) {
		defer c.recycleReadPacket()
		if isErrorPacket(data) {
			return nil, false, parseErrorPacket(data)
		}
		return nil, false, c.fatal(NewClientError(UnexpectedPacket, "expected EOF after column definitions, got %v", data))
	}
	c.recycleReadPacket()

	for {
		data, err := c.readEphemeralPacket()
		if err != nil {
			return nil, false, err
		}

		if isEOFPacket(data) {
			warnings, statusFlags, perr := parseEOFPacket(data)
			c.recycleReadPacket()
			if perr != nil {
				return nil, false, c.fatal(perr)
			}
			result.Warnings = warnings
			result.StatusFlags = statusFlags
			return result, statusFlags&ServerMoreResultsExists != 0, nil
		}
		if isErrorPacket(data) {
			defer c.recycleReadPacket()
			return nil, false, parseErrorPacket(data)
		}

		var row []sqltypes.Value
		var perr error
		if binary {
			row, perr = parseBinaryRow(data, result.Fields)
		} else {
			row, perr = parseTextRow(data, result.Fields)
		}
		c.recycleReadPacket()
		if perr != nil {
			return nil, false, c.fatal(perr)
		}
		result.Rows = append(result.Rows, row)
	}
}

// readColumnDefinition parses one ColumnDefinition41 packet into the
// field.
func (c *Conn) readColumnDefinition(field *sqltypes.Field, index int) error {
	data, err := c.readEphemeralPacket()
	if err != nil {
		return err
	}
	defer c.recycleReadPacket()

	// Catalog is always "def". Skip.
	pos, ok := skipLenEncString(data, 0)
	if !ok {
		return c.fatal(NewClientError(UnexpectedPayload, "column %v: could not skip catalog", index))
	}
	field.Database, pos, ok = readLenEncString(data, pos)
	if !ok {
		return c.fatal(NewClientError(UnexpectedPayload, "column %v: could not read schema", index))
	}
	field.Table, pos, ok = readLenEncString(data, pos)
	if !ok {
		return c.fatal(NewClientError(UnexpectedPayload, "column %v: could not read table", index))
	}
	field.OrgTable, pos, ok = readLenEncString(data, pos)
	if !ok {
		return c.fatal(NewClientError(UnexpectedPayload, "column %v: could not read org_table", index))
	}
	field.Name, pos, ok = readLenEncString(data, pos)
	if !ok {
		return c.fatal(NewClientError(UnexpectedPayload, "column %v: could not read name", index))
	}
	field.OrgName, pos, ok = readLenEncString(data, pos)
	if !ok {
		return c.fatal(NewClientError(UnexpectedPayload, "column %v: could not read org_name", index))
	}

	// Length of the fixed-size block, always 0x0c.
	if _, pos, ok = readLenEncInt(data, pos); !ok {
		return c.fatal(NewClientError(UnexpectedPayload, "column %v: could not read fixed block length", index))
	}
	field.Charset, pos, ok = readUint16(data, pos)
	if !ok {
		return c.fatal(NewClientError(UnexpectedPayload, "column %v: could not read charset", index))
	}
	field.ColumnLength, pos, ok = readUint32(data, pos)
	if !ok {
		return c.fatal(NewClientError(UnexpectedPayload, "column %v: could not read column length", index))
	}
	wireType, pos, ok := readByte(data, pos)
	if !ok {
		return c.fatal(NewClientError(UnexpectedPayload, "column %v: could not read type", index))
	}
	field.Flags, pos, ok = readUint16(data, pos)
	if !ok {
		return c.fatal(NewClientError(UnexpectedPayload, "column %v: could not read flags", index))
	}
	field.Decimals, _, ok = readByte(data, pos)
	if !ok {
		return c.fatal(NewClientError(UnexpectedPayload, "column %v: could not read decimals", index))
	}

	field.Type, err = MySQLToType(wireType, field.Flags)
	if err != nil {
		return c.fatal(WrapClientError(UnexpectedPayload, err, "column %v: unknown type", index))
	}
	return nil
}

// parseTextRow decodes one text-protocol row. Each column is either
// the NULL marker or a length-encoded string.
func parseTextRow(data []byte, fields []*sqltypes.Field) ([]sqltypes.Value, error) {
	row := make([]sqltypes.Value, len(fields))
	pos := 0
	for i, field := range fields {
		if pos >= len(data) {
			return nil, NewClientError(UnexpectedPayload, "text row: truncated at column %v", i)
		}
		if data[pos] == NullValue {
			pos++
			row[i] = sqltypes.NULL
			continue
		}
		val, next, ok := readLenEncStringAsBytesCopy(data, pos)
		if !ok {
			return nil, NewClientError(UnexpectedPayload, "text row: bad value at column %v", i)
		}
		pos = next
		row[i] = sqltypes.MakeTrusted(field.Type, val)
	}
	return row, nil
}

//
// Streaming execution.
//

// streamBufferSize is the row channel capacity. A slow consumer
// back-pressures the reader once this many rows are queued.
const streamBufferSize = 16

type streamItem struct {
	row []sqltypes.Value
	err error
}

// StreamingResult delivers rows one at a time while holding the
// connection's operation lock, which is released once the stream is
// drained or closed. The row iterator is single-pass and row counts
// are never known up front.
type StreamingResult struct {
	conn   *Conn
	fields []*sqltypes.Field

	rowsAffected uint64
	insertID     uint64

	items chan streamItem
	done  chan struct{}

	closeOnce   sync.Once
	releaseOnce sync.Once
}

// ExecuteStream runs a query and returns a row stream instead of a
// buffered result. The connection cannot run another command until
// the stream is fully consumed or closed.
func (c *Conn) ExecuteStream(query string, bindVars map[string]any) (*StreamingResult, error) {
	if query == "" {
		return nil, NewClientError(InvalidArgument, "empty query")
	}
	full, err := substituteParams(query, bindVars)
	if err != nil {
		return nil, err
	}

	if err := c.acquireOpLock(); err != nil {
		return nil, err
	}
	sr, err := c.startStreamLocked(full)
	if err != nil {
		c.opLock.Release()
		return nil, err
	}
	return sr, nil
}

func (c *Conn) startStreamLocked(query string) (*StreamingResult, error) {
	if err := c.startCommandLocked(); err != nil {
		return nil, err
	}

	if err := c.writeComQuery(query); err != nil {
		c.finishCommandLocked()
		return nil, err
	}

	data, err := c.readEphemeralPacket()
	if err != nil {
		c.finishCommandLocked()
		return nil, err
	}
	switch {
	case isOKPacket(data):
		// Row-less statement: the stream is born finished.
		okPacket, perr := parseOKPacket(data)
		c.recycleReadPacket()
		if perr != nil {
			c.finishCommandLocked()
			return nil, c.fatal(perr)
		}
		sr := &StreamingResult{
			conn:         c,
			rowsAffected: okPacket.affectedRows,
			insertID:     okPacket.lastInsertID,
			items:        make(chan streamItem),
			done:         make(chan struct{}),
		}
		close(sr.items)
		sr.release()
		return sr, nil

	case isErrorPacket(data):
		defer c.recycleReadPacket()
		c.finishCommandLocked()
		sqlErr := parseErrorPacket(data)
		sqlErr.Query = query
		return nil, sqlErr

	case data[0] == NullValue:
		c.recycleReadPacket()
		c.finishCommandLocked()
		return nil, NewClientError(Unsupported, "LOCAL INFILE is not implemented")
	}

	colCount, _, ok := readLenEncInt(data, 0)
	c.recycleReadPacket()
	if !ok {
		c.finishCommandLocked()
		return nil, c.fatal(NewClientError(UnexpectedPayload, "invalid column count packet"))
	}

	fields := make([]*sqltypes.Field, colCount)
	for i := range fields {
		field := &sqltypes.Field{}
		if err := c.readColumnDefinition(field, i); err != nil {
			c.finishCommandLocked()
			return nil, err
		}
		fields[i] = field
	}

	data, err = c.readEphemeralPacket()
	if err != nil {
		c.finishCommandLocked()
		return nil, err
	}
	if !isEOFPacket(data) {
		defer c.recycleReadPacket()
		c.finishCommandLocked()
		if isErrorPacket(data) {
			return nil, parseErrorPacket(data)
		}
		return nil, c.fatal(NewClientError(UnexpectedPacket, "expected EOF after column definitions, got %v", data))
	}
	c.recycleReadPacket()

	sr := &StreamingResult{
		conn:   c,
		fields: fields,
		items:  make(chan streamItem, streamBufferSize),
		done:   make(chan struct{}),
	}
	go sr.readRows()
	return sr, nil
}

// readRows pumps row packets into the item channel until the
// terminating EOF. After a Close, remaining packets are still read
// off the wire and dropped so the connection stays in sync.
func (sr *StreamingResult) readRows() {
	c := sr.conn
	aborted := false
	defer func() {
		close(sr.items)
		sr.release()
	}()

	for {
		data, err := c.readEphemeralPacket()
		if err != nil {
			sr.deliver(streamItem{err: err}, &aborted)
			return
		}

		if isEOFPacket(data) {
			_, statusFlags, perr := parseEOFPacket(data)
			c.recycleReadPacket()
			if perr != nil {
				sr.deliver(streamItem{err: c.fatal(perr)}, &aborted)
				return
			}
			if statusFlags&ServerMoreResultsExists != 0 {
				// A stream covers the first result set of a
				// multi-statement query; the rest is drained
				// to keep the protocol in sync.
				if _, err := c.readQueryResults(false); err != nil {
					sr.deliver(streamItem{err: err}, &aborted)
				}
			}
			return
		}
		if isErrorPacket(data) {
			sqlErr := parseErrorPacket(data)
			c.recycleReadPacket()
			sr.deliver(streamItem{err: sqlErr}, &aborted)
			return
		}

		if aborted {
			c.recycleReadPacket()
			continue
		}
		row, perr := parseTextRow(data, sr.fields)
		c.recycleReadPacket()
		if perr != nil {
			sr.deliver(streamItem{err: c.fatal(perr)}, &aborted)
			return
		}
		sr.deliver(streamItem{row: row}, &aborted)
	}
}

func (sr *StreamingResult) deliver(item streamItem, aborted *bool) {
	if *aborted {
		return
	}
	select {
	case sr.items <- item:
	case <-sr.done:
		*aborted = true
	}
}

func (sr *StreamingResult) release() {
	sr.releaseOnce.Do(func() {
		sr.conn.finishCommandLocked()
		sr.conn.opLock.Release()
	})
}

// Fields returns the column definitions. Nil for a row-less
// statement.
func (sr *StreamingResult) Fields() []*sqltypes.Field {
	return sr.fields
}

// RowsAffected returns the affected row count of a row-less
// statement.
func (sr *StreamingResult) RowsAffected() uint64 {
	return sr.rowsAffected
}

// InsertID returns the last insert id of a row-less statement.
func (sr *StreamingResult) InsertID() uint64 {
	return sr.insertID
}

// Next returns the next row, or io.EOF once the stream is exhausted.
func (sr *StreamingResult) Next() ([]sqltypes.Value, error) {
	item, ok := <-sr.items
	if !ok {
		return nil, io.EOF
	}
	return item.row, item.err
}

// NumRows is not available on a stream: rows are not counted ahead
// of delivery.
func (sr *StreamingResult) NumRows() (int, error) {
	return 0, NewClientError(InvalidArgument, "a streaming result does not count rows")
}

// Close abandons the stream. Rows still on the wire are read and
// dropped, then the operation lock is released. Safe to call after
// the stream is drained.
func (sr *StreamingResult) Close() {
	sr.closeOnce.Do(func() {
		close(sr.done)
	})
	// Wait for the reader to finish draining so the caller can
	// issue the next command immediately.
	for range sr.items {
	}
}
