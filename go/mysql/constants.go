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
	"github.com/pkg/errors"

	"mysqlclient.io/mysqlclient/go/sqltypes"
)

const (
	// MaxPacketSize is the maximum payload length of a single
	// on-the-wire packet frame.
	MaxPacketSize = (1 << 24) - 1

	// MaxOutgoingPacketSize is the maximum payload this client
	// advertises (and accepts for a single outbound command). We
	// never emit split packets, so anything that does not fit in a
	// single frame is rejected before it reaches the wire.
	MaxOutgoingPacketSize = 50 * 1024 * 1024

	// maxIncompleteFrameSize caps the number of buffered bytes the
	// framer will hold while waiting for a frame to complete. It must
	// admit one full frame: header plus a MaxPacketSize payload.
	maxIncompleteFrameSize = MaxPacketSize + 4

	// protocolVersion is the current version of the protocol.
	// Always 10.
	protocolVersion = 10

	// connBufferSize is how much we buffer for reading and writing.
	connBufferSize = 16 * 1024
)

// Supported auth plugins.
const (
	// MysqlNativePassword uses a salt and transmits a SHA1 hash on
	// the wire.
	MysqlNativePassword = "mysql_native_password"

	// CachingSha2Password is the SHA256-based default plugin of
	// MySQL 8. The full-auth path requires TLS.
	CachingSha2Password = "caching_sha2_password"
)

// Capability flags.
// Originally found in include/mysql/mysql_com.h
const (
	// CapabilityClientLongPassword is CLIENT_LONG_PASSWORD.
	// New more secure passwords. Assumed to be set since 4.1.1.
	CapabilityClientLongPassword = 1

	// CapabilityClientConnectWithDB is CLIENT_CONNECT_WITH_DB.
	// One can specify db on connect.
	CapabilityClientConnectWithDB = 1 << 3

	// CapabilityClientProtocol41 is CLIENT_PROTOCOL_41.
	// New 4.1 protocol. Enforced everywhere.
	CapabilityClientProtocol41 = 1 << 9

	// CapabilityClientSSL is CLIENT_SSL.
	// Switch to SSL after the initial handshake.
	CapabilityClientSSL = 1 << 11

	// CapabilityClientTransactions is CLIENT_TRANSACTIONS.
	// Can send status flags in EOF_Packet.
	CapabilityClientTransactions = 1 << 13

	// CapabilityClientSecureConnection is CLIENT_SECURE_CONNECTION.
	// New 4.1 authentication. Always set.
	CapabilityClientSecureConnection = 1 << 15

	// CapabilityClientMultiStatements is CLIENT_MULTI_STATEMENTS.
	// Can handle multiple statements per COM_QUERY.
	CapabilityClientMultiStatements = 1 << 16

	// CapabilityClientMultiResults is CLIENT_MULTI_RESULTS.
	// Can send multiple resultsets for COM_QUERY.
	CapabilityClientMultiResults = 1 << 17

	// CapabilityClientPluginAuth is CLIENT_PLUGIN_AUTH.
	// Client supports plugin authentication.
	CapabilityClientPluginAuth = 1 << 19

	// CapabilityClientPluginAuthLenencClientData is
	// CLIENT_PLUGIN_AUTH_LENENC_CLIENT_DATA.
	CapabilityClientPluginAuthLenencClientData = 1 << 21
)

// Command bytes sent by the client.
// Originally found in include/mysql/mysql_com.h
const (
	// ComQuit is COM_QUIT.
	ComQuit = 0x01

	// ComInitDB is COM_INIT_DB.
	ComInitDB = 0x02

	// ComQuery is COM_QUERY.
	ComQuery = 0x03

	// ComPing is COM_PING.
	ComPing = 0x0e

	// ComStmtPrepare is COM_STMT_PREPARE.
	ComStmtPrepare = 0x16

	// ComStmtExecute is COM_STMT_EXECUTE.
	ComStmtExecute = 0x17

	// ComStmtClose is COM_STMT_CLOSE.
	ComStmtClose = 0x19
)

// Leading bytes of generic response packets.
const (
	// OKPacket is the header of the OK packet.
	OKPacket = 0x00

	// AuthMoreDataPacket is the header of the extra-auth-data
	// packet used by caching_sha2_password.
	AuthMoreDataPacket = 0x01

	// EOFPacket is the header of the EOF packet. It may be
	// confused with an 8-byte length-encoded integer, so the
	// payload length must be checked as well.
	EOFPacket = 0xfe

	// AuthSwitchRequestPacket shares its header byte with EOF; at
	// auth time a payload of 9 bytes or more means a switch
	// request.
	AuthSwitchRequestPacket = 0xfe

	// ErrPacket is the header of the error packet.
	ErrPacket = 0xff

	// NullValue is the encoded value of NULL in a text row, and
	// the LOCAL INFILE marker in a COM_QUERY response.
	NullValue = 0xfb
)

// Extra-auth-data status bytes for caching_sha2_password.
const (
	// cachingSha2FastAuth means the server had the scramble cached
	// and the OK packet follows immediately.
	cachingSha2FastAuth = 0x03

	// cachingSha2FullAuth means the server wants the cleartext
	// password, which we only send over TLS.
	cachingSha2FullAuth = 0x04
)

// Error codes for client-side errors.
// Originally found in include/mysql/errmsg.h
const (
	// CRUnknownError is CR_UNKNOWN_ERROR
	CRUnknownError = 2000

	// CRConnectionError is CR_CONNECTION_ERROR
	// This is returned if a connection via a Unix socket fails.
	CRConnectionError = 2002

	// CRConnHostError is CR_CONN_HOST_ERROR
	// This is returned if a connection via a TCP socket fails.
	CRConnHostError = 2003

	// CRServerGone is CR_SERVER_GONE_ERROR.
	// This is returned if the client tries to send a command but
	// it fails.
	CRServerGone = 2006

	// CRVersionError is CR_VERSION_ERROR
	// This is returned if the server versions don't match what we
	// support.
	CRVersionError = 2007

	// CRServerHandshakeErr is CR_SERVER_HANDSHAKE_ERR
	CRServerHandshakeErr = 2012

	// CRServerLost is CR_SERVER_LOST.
	// Used when the client cannot read a response from the server.
	CRServerLost = 2013

	// CRCommandsOutOfSync is CR_COMMANDS_OUT_OF_SYNC
	// Sent when the streaming calls are not done in the right order.
	CRCommandsOutOfSync = 2014

	// CRSSLConnectionError is CR_SSL_CONNECTION_ERROR
	CRSSLConnectionError = 2026

	// CRMalformedPacket is CR_MALFORMED_PACKET
	CRMalformedPacket = 2027
)

// Sql states for errors.
// Originally found in include/mysql/sql_state.h
const (
	// SSUnknownSQLState is the default SQL state.
	SSUnknownSQLState = "HY000"

	// SSHandshakeError is ER_HANDSHAKE_ERROR
	SSHandshakeError = "08S01"

	// SSAccessDeniedError is ER_ACCESS_DENIED_ERROR
	SSAccessDeniedError = "28000"
)

// Status flags. They are returned by the server in a few cases.
// Originally found in include/mysql/mysql_com.h
// See http://dev.mysql.com/doc/internals/en/status-flags.html
const (
	// ServerStatusAutocommit is SERVER_STATUS_AUTOCOMMIT.
	ServerStatusAutocommit = 0x0002

	// ServerMoreResultsExists is SERVER_MORE_RESULTS_EXISTS, set
	// on the OK/EOF packet that terminates a result set when the
	// next one follows.
	ServerMoreResultsExists = 0x0008
)

// A few interesting character set values.
// See http://dev.mysql.com/doc/internals/en/character-set.html
const (
	// CharacterSetUtf8 is for UTF8. We use this by default.
	CharacterSetUtf8 = 33

	// CharacterSetBinary is for binary. Used by integer fields for
	// instance.
	CharacterSetBinary = 63
)

// CharacterSetMap maps the charset name (used in ConnParams) to the
// integer value. Interesting ones have their own constant above.
var CharacterSetMap = map[string]uint8{
	"big5":     1,
	"dec8":     3,
	"cp850":    4,
	"hp8":      6,
	"koi8r":    7,
	"latin1":   8,
	"latin2":   9,
	"swe7":     10,
	"ascii":    11,
	"ujis":     12,
	"sjis":     13,
	"hebrew":   16,
	"tis620":   18,
	"euckr":    19,
	"koi8u":    22,
	"gb2312":   24,
	"greek":    25,
	"cp1250":   26,
	"gbk":      28,
	"latin5":   30,
	"armscii8": 32,
	"utf8":     CharacterSetUtf8,
	"ucs2":     35,
	"cp866":    36,
	"keybcs2":  37,
	"macce":    38,
	"macroman": 39,
	"cp852":    40,
	"latin7":   41,
	"utf8mb4":  45,
	"cp1251":   51,
	"utf16":    54,
	"utf16le":  56,
	"cp1256":   57,
	"cp1257":   59,
	"utf32":    60,
	"binary":   CharacterSetBinary,
	"geostd8":  92,
	"cp932":    95,
	"eucjpms":  97,
}

// Column types on the wire, as found in
// include/mysql/mysql_com.h (enum_field_types).
const (
	TypeDecimal    = 0x00
	TypeTiny       = 0x01
	TypeShort      = 0x02
	TypeLong       = 0x03
	TypeFloat      = 0x04
	TypeDouble     = 0x05
	TypeNull       = 0x06
	TypeTimestamp  = 0x07
	TypeLonglong   = 0x08
	TypeInt24      = 0x09
	TypeDate       = 0x0a
	TypeTime       = 0x0b
	TypeDatetime   = 0x0c
	TypeYear       = 0x0d
	TypeNewDate    = 0x0e
	TypeVarchar    = 0x0f
	TypeBit        = 0x10
	TypeTimestamp2 = 0x11
	TypeDatetime2  = 0x12
	TypeTime2      = 0x13
	TypeJSON       = 0xf5
	TypeNewDecimal = 0xf6
	TypeEnum       = 0xf7
	TypeSet        = 0xf8
	TypeTinyBlob   = 0xf9
	TypeMediumBlob = 0xfa
	TypeLongBlob   = 0xfb
	TypeBlob       = 0xfc
	TypeVarString  = 0xfd
	TypeString     = 0xfe
	TypeGeometry   = 0xff
)

// Column definition flags we care about.
const (
	// flagUnsigned is UNSIGNED_FLAG in the column definition.
	flagUnsigned = 32
)

type mysqlToTypePair struct {
	signed   sqltypes.Type
	unsigned sqltypes.Type
}

var mysqlToType = map[byte]mysqlToTypePair{
	TypeDecimal:    {sqltypes.Decimal, sqltypes.Decimal},
	TypeTiny:       {sqltypes.Int8, sqltypes.Uint8},
	TypeShort:      {sqltypes.Int16, sqltypes.Uint16},
	TypeLong:       {sqltypes.Int32, sqltypes.Uint32},
	TypeFloat:      {sqltypes.Float32, sqltypes.Float32},
	TypeDouble:     {sqltypes.Float64, sqltypes.Float64},
	TypeNull:       {sqltypes.Null, sqltypes.Null},
	TypeTimestamp:  {sqltypes.Timestamp, sqltypes.Timestamp},
	TypeLonglong:   {sqltypes.Int64, sqltypes.Uint64},
	TypeInt24:      {sqltypes.Int24, sqltypes.Uint24},
	TypeDate:       {sqltypes.Date, sqltypes.Date},
	TypeTime:       {sqltypes.Time, sqltypes.Time},
	TypeDatetime:   {sqltypes.Datetime, sqltypes.Datetime},
	TypeYear:       {sqltypes.Year, sqltypes.Year},
	TypeNewDate:    {sqltypes.Date, sqltypes.Date},
	TypeVarchar:    {sqltypes.VarChar, sqltypes.VarChar},
	TypeBit:        {sqltypes.Bit, sqltypes.Bit},
	TypeTimestamp2: {sqltypes.Timestamp, sqltypes.Timestamp},
	TypeDatetime2:  {sqltypes.Datetime, sqltypes.Datetime},
	TypeTime2:      {sqltypes.Time, sqltypes.Time},
	TypeJSON:       {sqltypes.TypeJSON, sqltypes.TypeJSON},
	TypeNewDecimal: {sqltypes.Decimal, sqltypes.Decimal},
	TypeEnum:       {sqltypes.Enum, sqltypes.Enum},
	TypeSet:        {sqltypes.Set, sqltypes.Set},
	TypeTinyBlob:   {sqltypes.Blob, sqltypes.Blob},
	TypeMediumBlob: {sqltypes.Blob, sqltypes.Blob},
	TypeLongBlob:   {sqltypes.Blob, sqltypes.Blob},
	TypeBlob:       {sqltypes.Blob, sqltypes.Blob},
	TypeVarString:  {sqltypes.VarBinary, sqltypes.VarBinary},
	TypeString:     {sqltypes.Char, sqltypes.Char},
	TypeGeometry:   {sqltypes.Geometry, sqltypes.Geometry},
}

// MySQLToType computes the Type for a column from the wire type byte
// and the column definition flags.
func MySQLToType(mysqlType byte, flags uint16) (sqltypes.Type, error) {
	pair, ok := mysqlToType[mysqlType]
	if !ok {
		return sqltypes.Null, errors.Errorf("unknown MySQL type %#x", mysqlType)
	}
	if flags&flagUnsigned != 0 {
		return pair.unsigned, nil
	}
	return pair.signed, nil
}

var typeToMySQL = map[sqltypes.Type]struct {
	typ   byte
	flags uint16
}{
	sqltypes.Int8:      {typ: TypeTiny},
	sqltypes.Uint8:     {typ: TypeTiny, flags: flagUnsigned},
	sqltypes.Int16:     {typ: TypeShort},
	sqltypes.Uint16:    {typ: TypeShort, flags: flagUnsigned},
	sqltypes.Int24:     {typ: TypeInt24},
	sqltypes.Uint24:    {typ: TypeInt24, flags: flagUnsigned},
	sqltypes.Int32:     {typ: TypeLong},
	sqltypes.Uint32:    {typ: TypeLong, flags: flagUnsigned},
	sqltypes.Int64:     {typ: TypeLonglong},
	sqltypes.Uint64:    {typ: TypeLonglong, flags: flagUnsigned},
	sqltypes.Float32:   {typ: TypeFloat},
	sqltypes.Float64:   {typ: TypeDouble},
	sqltypes.Timestamp: {typ: TypeTimestamp},
	sqltypes.Date:      {typ: TypeDate},
	sqltypes.Time:      {typ: TypeTime},
	sqltypes.Datetime:  {typ: TypeDatetime},
	sqltypes.Year:      {typ: TypeYear, flags: flagUnsigned},
	sqltypes.Decimal:   {typ: TypeNewDecimal},
	sqltypes.Text:      {typ: TypeBlob},
	sqltypes.Blob:      {typ: TypeBlob},
	sqltypes.VarChar:   {typ: TypeVarString},
	sqltypes.VarBinary: {typ: TypeVarString},
	sqltypes.Char:      {typ: TypeString},
	sqltypes.Binary:    {typ: TypeString},
	sqltypes.Bit:       {typ: TypeBit},
	sqltypes.Enum:      {typ: TypeEnum},
	sqltypes.Set:       {typ: TypeSet},
	sqltypes.Geometry:  {typ: TypeGeometry},
	sqltypes.TypeJSON:  {typ: TypeJSON},
}

// TypeToMySQL returns the wire type byte and flags for a Type. It is
// the inverse of MySQLToType and is used when writing column
// definitions.
func TypeToMySQL(typ sqltypes.Type) (byte, uint16) {
	entry := typeToMySQL[typ]
	return entry.typ, entry.flags
}
