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

// This file contains the methods to parse the generic response
// packets (OK, EOF, ERR) and to write the simple commands. The
// dispatch rules over the first payload byte:
//
//   0x00 with a payload of 7+ bytes is OK.
//   0xfe with a payload under 9 bytes is EOF.
//   0xff is ERR.
//
// Everything else is interpreted by the surrounding state.

// packOK holds the decoded contents of an OK packet.
type packOK struct {
	affectedRows uint64
	lastInsertID uint64
	statusFlags  uint16
	warnings     uint16
}

// isOKPacket determines whether a packet is an OK packet.
func isOKPacket(data []byte) bool {
	return len(data) >= 7 && data[0] == OKPacket
}

// isEOFPacket determines whether a packet is an EOF. In the MySQL
// protocol, EOF packets are ambiguous: their header byte is also the
// one of an 8-byte length-encoded integer, so the payload length must
// be checked too.
func isEOFPacket(data []byte) bool {
	return data[0] == EOFPacket && len(data) < 9
}

// isErrorPacket determines whether a packet is an ERR packet.
func isErrorPacket(data []byte) bool {
	return data[0] == ErrPacket
}

// parseOKPacket decodes an OK packet: affected rows, last insert id,
// status flags and warning count.
func parseOKPacket(data []byte) (packOK, error) {
	var ok packOK

	// Byte 0 is the header.
	affectedRows, pos, valid := readLenEncInt(data, 1)
	if !valid {
		return ok, NewClientError(UnexpectedPayload, "invalid OK packet affected rows: %v", data)
	}
	lastInsertID, pos, valid := readLenEncInt(data, pos)
	if !valid {
		return ok, NewClientError(UnexpectedPayload, "invalid OK packet last insert id: %v", data)
	}
	statusFlags, pos, valid := readUint16(data, pos)
	if !valid {
		return ok, NewClientError(UnexpectedPayload, "invalid OK packet status flags: %v", data)
	}
	warnings, _, valid := readUint16(data, pos)
	if !valid {
		return ok, NewClientError(UnexpectedPayload, "invalid OK packet warnings: %v", data)
	}

	ok.affectedRows = affectedRows
	ok.lastInsertID = lastInsertID
	ok.statusFlags = statusFlags
	ok.warnings = warnings
	return ok, nil
}

// parseEOFPacket decodes an EOF packet: warning count and status
// flags.
func parseEOFPacket(data []byte) (warnings uint16, statusFlags uint16, err error) {
	// Byte 0 is the header.
	warnings, pos, ok := readUint16(data, 1)
	if !ok {
		return 0, 0, NewClientError(UnexpectedPayload, "invalid EOF packet warnings: %v", data)
	}
	statusFlags, _, ok = readUint16(data, pos)
	if !ok {
		return 0, 0, NewClientError(UnexpectedPayload, "invalid EOF packet status flags: %v", data)
	}
	return warnings, statusFlags, nil
}

// parseErrorPacket decodes an ERR packet into a SQLError.
func parseErrorPacket(data []byte) *SQLError {
	// Byte 0 is the header.
	code, pos, ok := readUint16(data, 1)
	if !ok {
		return NewSQLError(CRUnknownError, SSUnknownSQLState, "invalid error packet code: %v", data)
	}

	// '#' marker of the SQL state.
	_, pos, ok = readByte(data, pos)
	if !ok {
		return NewSQLError(CRUnknownError, SSUnknownSQLState, "invalid error packet sqlstate marker: %v", data)
	}
	stateBytes, pos, ok := readBytes(data, pos, 5)
	if !ok {
		return NewSQLError(CRUnknownError, SSUnknownSQLState, "invalid error packet sqlstate: %v", data)
	}

	msg, _, _ := readEOFString(data, pos)
	return NewSQLError(int(code), string(stateBytes), "%v", msg)
}

//
// Simple command writers. Each starts a fresh command: sequence 0,
// one packet, flush.
//

// writeComQuit sends COM_QUIT. The server replies by closing the
// socket; there is nothing to read.
func (c *Conn) writeComQuit() error {
	c.resetSequence()
	data := c.startEphemeralPacket(1)
	data[0] = ComQuit
	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flush()
}

// writeComQuery sends COM_QUERY with the statement text.
func (c *Conn) writeComQuery(query string) error {
	c.resetSequence()
	data := c.startEphemeralPacket(1 + len(query))
	pos := writeByte(data, 0, ComQuery)
	writeEOFString(data, pos, query)
	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flush()
}

// writeComInitDB sends COM_INIT_DB with the schema name.
func (c *Conn) writeComInitDB(db string) error {
	c.resetSequence()
	data := c.startEphemeralPacket(1 + len(db))
	pos := writeByte(data, 0, ComInitDB)
	writeEOFString(data, pos, db)
	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flush()
}

// writeComPing sends COM_PING, the liveness probe.
func (c *Conn) writeComPing() error {
	c.resetSequence()
	data := c.startEphemeralPacket(1)
	data[0] = ComPing
	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flush()
}

// writeComStmtPrepare sends COM_STMT_PREPARE with the statement text.
func (c *Conn) writeComStmtPrepare(query string) error {
	c.resetSequence()
	data := c.startEphemeralPacket(1 + len(query))
	pos := writeByte(data, 0, ComStmtPrepare)
	writeEOFString(data, pos, query)
	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flush()
}

// writeComStmtClose sends COM_STMT_CLOSE for the statement id. The
// server sends no reply.
func (c *Conn) writeComStmtClose(stmtID uint32) error {
	c.resetSequence()
	data := c.startEphemeralPacket(5)
	pos := writeByte(data, 0, ComStmtClose)
	writeUint32(data, pos, stmtID)
	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flush()
}
