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
	"fmt"

	"mysqlclient.io/mysqlclient/go/sqltypes"
)

// This file contains the server-side packet writers. They exist for
// the in-process server the protocol tests run the client against,
// and speak the same 4.1 dialect the client expects.

// writeHandshakeV10 writes the initial handshake packet of a server
// with the given version, connection id, 20-byte auth challenge and
// default auth plugin. Returns the capabilities advertised.
func (c *Conn) writeHandshakeV10(serverVersion string, connectionID uint32, salt []byte, authPluginName string, supportTLS bool) (uint32, error) {
	capabilities := uint32(CapabilityClientLongPassword |
		CapabilityClientConnectWithDB |
		CapabilityClientProtocol41 |
		CapabilityClientTransactions |
		CapabilityClientSecureConnection |
		CapabilityClientMultiStatements |
		CapabilityClientMultiResults |
		CapabilityClientPluginAuth |
		CapabilityClientPluginAuthLenencClientData)
	if supportTLS {
		capabilities |= CapabilityClientSSL
	}

	length := 1 + // protocol version
		lenNullString(serverVersion) +
		4 + // connection id
		8 + // auth-plugin-data-part-1
		1 + // filler
		2 + // capability flags (lower)
		1 + // character set
		2 + // status flags
		2 + // capability flags (upper)
		1 + // auth-plugin-data length
		10 + // reserved
		13 + // auth-plugin-data-part-2, NUL included
		lenNullString(authPluginName)

	data := c.startEphemeralPacket(length)
	pos := writeByte(data, 0, protocolVersion)
	pos = writeNullString(data, pos, serverVersion)
	pos = writeUint32(data, pos, connectionID)
	pos += copy(data[pos:], salt[:8])
	pos = writeByte(data, pos, 0)
	pos = writeUint16(data, pos, uint16(capabilities))
	pos = writeByte(data, pos, CharacterSetUtf8)
	pos = writeUint16(data, pos, ServerStatusAutocommit)
	pos = writeUint16(data, pos, uint16(capabilities>>16))
	pos = writeByte(data, pos, uint8(len(salt)+1))
	pos = writeZeroes(data, pos, 10)
	pos += copy(data[pos:], salt[8:])
	pos = writeByte(data, pos, 0)
	writeNullString(data, pos, authPluginName)

	if err := c.writeEphemeralPacket(); err != nil {
		return 0, err
	}
	return capabilities, c.flush()
}

// writeOKPacket writes an OK packet.
func (c *Conn) writeOKPacket(affectedRows, lastInsertID uint64, statusFlags, warnings uint16) error {
	length := 1 + // OK header
		lenEncIntSize(affectedRows) +
		lenEncIntSize(lastInsertID) +
		2 + // status flags
		2 // warnings
	data := c.startEphemeralPacket(length)
	pos := writeByte(data, 0, OKPacket)
	pos = writeLenEncInt(data, pos, affectedRows)
	pos = writeLenEncInt(data, pos, lastInsertID)
	pos = writeUint16(data, pos, statusFlags)
	writeUint16(data, pos, warnings)
	return c.writeEphemeralPacket()
}

// writeEOFPacket writes an EOF packet. Note this does not flush: an
// EOF is always followed by more packets or by the end of a result,
// where the caller flushes.
func (c *Conn) writeEOFPacket(statusFlags, warnings uint16) error {
	data := c.startEphemeralPacket(5)
	pos := writeByte(data, 0, EOFPacket)
	pos = writeUint16(data, pos, warnings)
	writeUint16(data, pos, statusFlags)
	return c.writeEphemeralPacket()
}

// writeErrorPacket writes an ERR packet with a formatted message.
func (c *Conn) writeErrorPacket(errorCode uint16, sqlState string, format string, args ...any) error {
	errorMessage := fmt.Sprintf(format, args...)
	length := 1 + 2 + 1 + 5 + len(errorMessage)
	data := c.startEphemeralPacket(length)
	pos := writeByte(data, 0, ErrPacket)
	pos = writeUint16(data, pos, errorCode)
	pos = writeByte(data, pos, '#')
	if sqlState == "" {
		sqlState = SSUnknownSQLState
	}
	pos += copy(data[pos:], sqlState[:5])
	writeEOFString(data, pos, errorMessage)
	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flush()
}

// writeColumnDefinition writes one ColumnDefinition41 packet for the
// field.
func (c *Conn) writeColumnDefinition(field *sqltypes.Field) error {
	wireType, wireFlags := TypeToMySQL(field.Type)
	flags := field.Flags | wireFlags

	length := 4 + // lenenc "def"
		lenEncStringSize(field.Database) +
		lenEncStringSize(field.Table) +
		lenEncStringSize(field.OrgTable) +
		lenEncStringSize(field.Name) +
		lenEncStringSize(field.OrgName) +
		1 + // fixed block length
		2 + // charset
		4 + // column length
		1 + // type
		2 + // flags
		1 + // decimals
		2 // filler

	data := c.startEphemeralPacket(length)
	pos := writeLenEncString(data, 0, "def")
	pos = writeLenEncString(data, pos, field.Database)
	pos = writeLenEncString(data, pos, field.Table)
	pos = writeLenEncString(data, pos, field.OrgTable)
	pos = writeLenEncString(data, pos, field.Name)
	pos = writeLenEncString(data, pos, field.OrgName)
	pos = writeByte(data, pos, 0x0c)
	pos = writeUint16(data, pos, field.Charset)
	pos = writeUint32(data, pos, field.ColumnLength)
	pos = writeByte(data, pos, wireType)
	pos = writeUint16(data, pos, flags)
	pos = writeByte(data, pos, field.Decimals)
	writeUint16(data, pos, 0)

	return c.writeEphemeralPacket()
}

// writeTextRow writes one text-protocol row: NULL markers and
// length-encoded strings.
func (c *Conn) writeTextRow(row []sqltypes.Value) error {
	length := 0
	for _, val := range row {
		if val.IsNull() {
			length++
		} else {
			l := val.Len()
			length += lenEncIntSize(uint64(l)) + l
		}
	}

	data := c.startEphemeralPacket(length)
	pos := 0
	for _, val := range row {
		if val.IsNull() {
			pos = writeByte(data, pos, NullValue)
		} else {
			raw := val.Raw()
			pos = writeLenEncInt(data, pos, uint64(len(raw)))
			pos += copy(data[pos:], raw)
		}
	}

	return c.writeEphemeralPacket()
}

// writeResult writes a complete text result set: column count,
// definitions, EOF, rows, terminating EOF, and flushes. A result
// with no fields is written as a plain OK.
func (c *Conn) writeResult(result *sqltypes.Result) error {
	if len(result.Fields) == 0 {
		if err := c.writeOKPacket(result.RowsAffected, result.InsertID, result.StatusFlags, result.Warnings); err != nil {
			return err
		}
		return c.flush()
	}

	length := lenEncIntSize(uint64(len(result.Fields)))
	data := c.startEphemeralPacket(length)
	writeLenEncInt(data, 0, uint64(len(result.Fields)))
	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}

	for _, field := range result.Fields {
		if err := c.writeColumnDefinition(field); err != nil {
			return err
		}
	}
	if err := c.writeEOFPacket(result.StatusFlags, 0); err != nil {
		return err
	}

	for _, row := range result.Rows {
		if err := c.writeTextRow(row); err != nil {
			return err
		}
	}
	if err := c.writeEOFPacket(result.StatusFlags, result.Warnings); err != nil {
		return err
	}
	return c.flush()
}
