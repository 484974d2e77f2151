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
	"time"

	"mysqlclient.io/mysqlclient/go/hack"
	"mysqlclient.io/mysqlclient/go/sqltypes"
)

// PreparedStatement is a server-side prepared statement. It is bound
// to the connection that prepared it and is deallocated either
// explicitly or best-effort when the connection closes.
type PreparedStatement struct {
	conn  *Conn
	id    uint32
	query string

	numColumns uint16
	numParams  uint16
	warnings   uint16

	paramDefs  []*sqltypes.Field
	columnDefs []*sqltypes.Field
}

// ID returns the server-allocated statement id.
func (stmt *PreparedStatement) ID() uint32 {
	return stmt.id
}

// NumParams returns the number of parameter placeholders.
func (stmt *PreparedStatement) NumParams() int {
	return int(stmt.numParams)
}

// NumColumns returns the number of result columns.
func (stmt *PreparedStatement) NumColumns() int {
	return int(stmt.numColumns)
}

// Prepare sends the query to the server for preparation and returns
// the statement handle.
func (c *Conn) Prepare(query string) (*PreparedStatement, error) {
	if err := c.acquireOpLock(); err != nil {
		return nil, err
	}
	defer c.opLock.Release()
	return c.prepareLocked(query)
}

// prepareLocked is Prepare without the lock acquisition, for use
// inside a transaction body.
func (c *Conn) prepareLocked(query string) (*PreparedStatement, error) {
	if query == "" {
		return nil, NewClientError(InvalidArgument, "empty query")
	}
	if err := c.startCommandLocked(); err != nil {
		return nil, err
	}
	defer c.finishCommandLocked()

	if err := c.writeComStmtPrepare(query); err != nil {
		return nil, err
	}
	stmt, err := c.readPrepareResponse(query)
	if err != nil {
		if sqlErr, ok := err.(*SQLError); ok {
			sqlErr.Query = query
		}
		return nil, err
	}

	c.stmtMu.Lock()
	c.statements[stmt.id] = stmt
	c.stmtMu.Unlock()
	return stmt, nil
}

// readPrepareResponse reads the COM_STMT_PREPARE response: the
// prepare-OK header, then the parameter definitions and the column
// definitions, each list closed by an EOF when non-empty.
func (c *Conn) readPrepareResponse(query string) (*PreparedStatement, error) {
	data, err := c.readEphemeralPacket()
	if err != nil {
		return nil, err
	}
	if isErrorPacket(data) {
		defer c.recycleReadPacket()
		return nil, parseErrorPacket(data)
	}

	header, pos, ok := readByte(data, 0)
	if !ok || header != OKPacket {
		c.recycleReadPacket()
		return nil, c.fatal(NewClientError(UnexpectedPacket, "unexpected COM_STMT_PREPARE response header %#x", header))
	}
	stmtID, pos, ok := readUint32(data, pos)
	if !ok {
		c.recycleReadPacket()
		return nil, c.fatal(NewClientError(UnexpectedPayload, "prepare response: no statement id"))
	}
	numColumns, pos, ok := readUint16(data, pos)
	if !ok {
		c.recycleReadPacket()
		return nil, c.fatal(NewClientError(UnexpectedPayload, "prepare response: no column count"))
	}
	numParams, pos, ok := readUint16(data, pos)
	if !ok {
		c.recycleReadPacket()
		return nil, c.fatal(NewClientError(UnexpectedPayload, "prepare response: no param count"))
	}
	// Reserved filler, then the warning count.
	if _, pos, ok = readByte(data, pos); !ok {
		c.recycleReadPacket()
		return nil, c.fatal(NewClientError(UnexpectedPayload, "prepare response: no filler"))
	}
	warnings, _, ok := readUint16(data, pos)
	if !ok {
		c.recycleReadPacket()
		return nil, c.fatal(NewClientError(UnexpectedPayload, "prepare response: no warning count"))
	}
	c.recycleReadPacket()

	stmt := &PreparedStatement{
		conn:       c,
		id:         stmtID,
		query:      query,
		numColumns: numColumns,
		numParams:  numParams,
		warnings:   warnings,
	}

	if numParams > 0 {
		stmt.paramDefs = make([]*sqltypes.Field, numParams)
		for i := range stmt.paramDefs {
			field := &sqltypes.Field{}
			if err := c.readColumnDefinition(field, i); err != nil {
				return nil, err
			}
			stmt.paramDefs[i] = field
		}
		if err := c.readPrepareEOF(); err != nil {
			return nil, err
		}
	}
	if numColumns > 0 {
		stmt.columnDefs = make([]*sqltypes.Field, numColumns)
		for i := range stmt.columnDefs {
			field := &sqltypes.Field{}
			if err := c.readColumnDefinition(field, i); err != nil {
				return nil, err
			}
			stmt.columnDefs[i] = field
		}
		if err := c.readPrepareEOF(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (c *Conn) readPrepareEOF() error {
	data, err := c.readEphemeralPacket()
	if err != nil {
		return err
	}
	defer c.recycleReadPacket()
	if !isEOFPacket(data) {
		return c.fatal(NewClientError(UnexpectedPacket, "expected EOF in prepare response, got %v", data))
	}
	return nil
}

// Execute runs the prepared statement. The argument count must equal
// the placeholder count. Parameters travel as VAR_STRING text; the
// result comes back in the binary protocol.
func (stmt *PreparedStatement) Execute(args []any) (*sqltypes.Result, error) {
	c := stmt.conn
	if err := c.acquireOpLock(); err != nil {
		return nil, err
	}
	defer c.opLock.Release()
	return stmt.executeLocked(args)
}

func (stmt *PreparedStatement) executeLocked(args []any) (*sqltypes.Result, error) {
	c := stmt.conn
	if len(args) != int(stmt.numParams) {
		return nil, NewClientError(InvalidArgument, "statement %v takes %v parameters, got %v", stmt.id, stmt.numParams, len(args))
	}

	if err := c.startCommandLocked(); err != nil {
		return nil, err
	}
	defer c.finishCommandLocked()

	if err := c.writeComStmtExecute(stmt.id, args); err != nil {
		return nil, err
	}
	result, err := c.readQueryResults(true)
	if err != nil {
		if sqlErr, ok := err.(*SQLError); ok {
			sqlErr.Query = stmt.query
		}
		return nil, err
	}
	return result, nil
}

// Deallocate releases the statement on the server. COM_STMT_CLOSE has
// no reply, so this only fails if the write does.
func (stmt *PreparedStatement) Deallocate() error {
	c := stmt.conn

	c.stmtMu.Lock()
	delete(c.statements, stmt.id)
	c.stmtMu.Unlock()

	if err := c.acquireOpLock(); err != nil {
		return err
	}
	defer c.opLock.Release()
	if c.State() != StateConnectionEstablished {
		return nil
	}
	return c.writeComStmtClose(stmt.id)
}

// writeComStmtExecute sends COM_STMT_EXECUTE. Each parameter is
// typed VAR_STRING (or NULL) and the non-null values are carried as
// length-encoded strings of their SQL text.
func (c *Conn) writeComStmtExecute(stmtID uint32, args []any) error {
	texts := make([][]byte, len(args))
	nulls := make([]bool, len(args))
	for i, arg := range args {
		if arg == nil {
			nulls[i] = true
			continue
		}
		if val, ok := arg.(sqltypes.Value); ok && val.IsNull() {
			nulls[i] = true
			continue
		}
		text, err := bindArgText(arg)
		if err != nil {
			return err
		}
		texts[i] = text
	}

	length := 1 + // command
		4 + // statement id
		1 + // flags
		4 // iteration count
	if len(args) > 0 {
		length += (len(args) + 7) / 8 // null bitmap
		length++                      // new-params-bound flag
		length += 2 * len(args)       // per-param type and sign
		for i := range args {
			if !nulls[i] {
				length += lenEncIntSize(uint64(len(texts[i]))) + len(texts[i])
			}
		}
	}

	c.resetSequence()
	data := c.startEphemeralPacket(length)
	pos := writeByte(data, 0, ComStmtExecute)
	pos = writeUint32(data, pos, stmtID)
	pos = writeByte(data, pos, 0)
	pos = writeUint32(data, pos, 1)

	if len(args) > 0 {
		bitmapStart := pos
		pos = writeZeroes(data, pos, (len(args)+7)/8)
		for i := range args {
			if nulls[i] {
				data[bitmapStart+i/8] |= 1 << uint(i%8)
			}
		}
		pos = writeByte(data, pos, 1)
		for i := range args {
			if nulls[i] {
				pos = writeByte(data, pos, TypeNull)
			} else {
				pos = writeByte(data, pos, TypeVarString)
			}
			pos = writeByte(data, pos, 0)
		}
		for i := range args {
			if !nulls[i] {
				pos = writeLenEncInt(data, pos, uint64(len(texts[i])))
				pos += copy(data[pos:], texts[i])
			}
		}
	}

	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flush()
}

// bindArgText renders a statement argument as the UTF-8 text the
// server will coerce. Unlike query substitution there is no quoting:
// the value travels in its own length-encoded slot.
func bindArgText(arg any) ([]byte, error) {
	switch v := arg.(type) {
	case string:
		return hack.StringBytes(v), nil
	case []byte:
		return v, nil
	case bool:
		if v {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	case time.Time:
		return hack.StringBytes(v.Format("2006-01-02 15:04:05.999999")), nil
	case sqltypes.Value:
		return v.ToBytes(), nil
	default:
		text, err := sqlValueText(arg)
		if err != nil {
			return nil, err
		}
		return hack.StringBytes(text), nil
	}
}
