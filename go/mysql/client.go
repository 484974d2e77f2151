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
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"mysqlclient.io/mysqlclient/go/hack"
)

// Connect creates a connection to the server, performs the full
// handshake including the optional TLS upgrade and authentication,
// and applies the session character set. The returned connection is
// in state ConnectionEstablished and ready for commands.
//
// The dial plus the complete handshake are bounded by
// params.ConnectTimeout (or the 15 second default). The context can
// cut that shorter.
func Connect(ctx context.Context, params *ConnParams) (*Conn, error) {
	params = params.EffectiveParams()

	ctx, cancel := context.WithTimeout(ctx, params.ConnectTimeout)
	defer cancel()

	network, address := params.networkAddress()
	dialer := &net.Dialer{}
	netConn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		code := CRConnHostError
		if params.UsesUnixSocket() {
			code = CRConnectionError
		}
		return nil, NewSQLError(code, SSUnknownSQLState, "net.Dial(%v) failed: %v", address, err)
	}

	c := newConn(netConn)
	c.params = params
	c.setState(StateWaitInitialHandshake)

	// The handshake reads block on the socket; a watcher enforces
	// the deadline by tearing the transport down, which fails the
	// pending read.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.fatal(ctx.Err())
		case <-done:
		}
	}()

	if err := c.clientHandshake(); err != nil {
		c.Close()
		if ctx.Err() != nil {
			return nil, NewTimeoutError(params.ConnectTimeout, "connecting to %v: %v", address, ctx.Err())
		}
		return nil, err
	}
	return c, nil
}

// clientHandshake runs the client side of the protocol negotiation:
// initial handshake packet, optional SSLRequest + TLS upgrade,
// HandshakeResponse41, the auth exchange, and the session character
// set statement.
func (c *Conn) clientHandshake() error {
	params := c.params

	salt, authPluginName, err := c.parseInitialHandshakePacket()
	if err != nil {
		return err
	}

	c.capabilities = c.clientCapabilities()

	if params.SslEnabled {
		if c.serverCapabilities&CapabilityClientSSL == 0 {
			return NewClientError(Unsupported, "server at %v:%v does not support TLS", params.Host, params.Port)
		}
		c.capabilities |= CapabilityClientSSL
		if err := c.writeSSLRequest(); err != nil {
			return err
		}
		if err := c.upgradeToTLS(); err != nil {
			return err
		}
	}

	authResponse := c.scramble(authPluginName, salt)
	if err := c.writeHandshakeResponse41(authPluginName, authResponse); err != nil {
		return err
	}
	c.setState(StateInitialHandshakeResponseSent)

	if err := c.handleAuthResponse(); err != nil {
		return err
	}
	c.setState(StateConnectionEstablished)

	// Align the session with the configured collation. utf8mb4 on
	// the character set variables so 4-byte sequences survive.
	setCollation := fmt.Sprintf("SET @@collation_connection=%v, @@character_set_client=utf8mb4, @@character_set_connection=utf8mb4, @@character_set_results=utf8mb4", params.Collation)
	if _, err := c.Execute(setCollation, nil); err != nil {
		return err
	}
	return nil
}

// clientCapabilities computes the capability flags we send in the
// handshake response.
func (c *Conn) clientCapabilities() uint32 {
	capabilities := uint32(CapabilityClientLongPassword |
		CapabilityClientProtocol41 |
		CapabilityClientTransactions |
		CapabilityClientSecureConnection |
		CapabilityClientMultiStatements |
		CapabilityClientMultiResults |
		CapabilityClientPluginAuth |
		CapabilityClientPluginAuthLenencClientData)
	if c.params.DBName != "" {
		capabilities |= CapabilityClientConnectWithDB
	}
	return capabilities & (c.serverCapabilities | CapabilityClientLongPassword | CapabilityClientProtocol41)
}

// parseInitialHandshakePacket reads and parses the initial handshake
// packet the server sends right after accepting the transport. It
// returns the 20-byte auth challenge and the server's default auth
// plugin name.
func (c *Conn) parseInitialHandshakePacket() ([]byte, string, error) {
	data, err := c.readPacket()
	if err != nil {
		return nil, "", err
	}

	if isErrorPacket(data) {
		// A server past its connection limit greets with ERR.
		return nil, "", parseErrorPacket(data)
	}

	pver, pos, ok := readByte(data, 0)
	if !ok {
		return nil, "", NewClientError(UnexpectedPayload, "initial handshake: no protocol version")
	}
	if pver != protocolVersion {
		return nil, "", NewClientError(Unsupported, "initial handshake: protocol version %v, want %v", pver, protocolVersion)
	}

	c.serverVersion, pos, ok = readNullString(data, pos)
	if !ok {
		return nil, "", NewClientError(UnexpectedPayload, "initial handshake: no server version")
	}

	c.connectionID, pos, ok = readUint32(data, pos)
	if !ok {
		return nil, "", NewClientError(UnexpectedPayload, "initial handshake: no connection id")
	}

	// First 8 bytes of the auth challenge, then a filler.
	authPluginData, pos, ok := readBytesCopy(data, pos, 8)
	if !ok {
		return nil, "", NewClientError(UnexpectedPayload, "initial handshake: no auth-plugin-data-part-1")
	}
	if _, pos, ok = readByte(data, pos); !ok {
		return nil, "", NewClientError(UnexpectedPayload, "initial handshake: no filler")
	}

	// Lower 2 bytes of the capability flags.
	capLower, pos, ok := readUint16(data, pos)
	if !ok {
		return nil, "", NewClientError(UnexpectedPayload, "initial handshake: no capability flags (lower)")
	}
	c.serverCapabilities = uint32(capLower)

	// Everything after this is optional in very old servers.
	charset, pos, ok := readByte(data, pos)
	if !ok {
		return authPluginData, MysqlNativePassword, nil
	}
	c.characterSet = charset

	if _, pos, ok = readUint16(data, pos); !ok {
		return nil, "", NewClientError(UnexpectedPayload, "initial handshake: no status flags")
	}

	capUpper, pos, ok := readUint16(data, pos)
	if !ok {
		return nil, "", NewClientError(UnexpectedPayload, "initial handshake: no capability flags (upper)")
	}
	c.serverCapabilities |= uint32(capUpper) << 16

	authPluginDataLength, pos, ok := readByte(data, pos)
	if !ok {
		return nil, "", NewClientError(UnexpectedPayload, "initial handshake: no auth-plugin-data length")
	}

	// 10 reserved zero bytes.
	if _, pos, ok = readBytes(data, pos, 10); !ok {
		return nil, "", NewClientError(UnexpectedPayload, "initial handshake: no reserved bytes")
	}

	// Second part of the auth challenge. The server sends
	// max(13, length-8) bytes; the last one is a NUL we drop, so
	// the challenge is 8 + 12 = 20 bytes.
	if c.serverCapabilities&CapabilityClientSecureConnection != 0 {
		l := int(authPluginDataLength) - 8 - 1
		if l < 12 {
			l = 12
		}
		part2, next, ok := readBytes(data, pos, l)
		if !ok {
			return nil, "", NewClientError(UnexpectedPayload, "initial handshake: no auth-plugin-data-part-2")
		}
		pos = next
		authPluginData = append(authPluginData, part2[:12]...)

		// Skip the trailing NUL if present.
		if pos < len(data) && data[pos] == 0 {
			pos++
		}
	}

	authPluginName := MysqlNativePassword
	if c.serverCapabilities&CapabilityClientPluginAuth != 0 {
		name, _, ok := readNullString(data, pos)
		if !ok {
			// Some servers send the name without the
			// terminating NUL.
			name, _, ok = readEOFString(data, pos)
			if !ok {
				return nil, "", NewClientError(UnexpectedPayload, "initial handshake: no auth-plugin name")
			}
		}
		authPluginName = name
	}

	return authPluginData, authPluginName, nil
}

// scramble computes the auth response for the given plugin. Unknown
// plugins get an empty response; the server will either switch us to
// a supported one or reject the login.
func (c *Conn) scramble(authPluginName string, salt []byte) []byte {
	switch authPluginName {
	case MysqlNativePassword:
		return ScrambleMysqlNativePassword(salt, hack.StringBytes(c.params.Pass))
	case CachingSha2Password:
		return ScrambleCachingSha2Password(salt, hack.StringBytes(c.params.Pass))
	default:
		return nil
	}
}

// writeSSLRequest sends the truncated handshake response that asks
// the server to switch the transport to TLS. Same leading fields as
// HandshakeResponse41, cut before the username.
func (c *Conn) writeSSLRequest() error {
	length := 4 + // capability flags
		4 + // max-packet size
		1 + // character set
		23 // reserved

	data := c.startEphemeralPacket(length)
	pos := writeUint32(data, 0, c.capabilities)
	pos = writeUint32(data, pos, uint32(MaxOutgoingPacketSize))
	pos = writeByte(data, pos, c.params.Charset)
	writeZeroes(data, pos, 23)

	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flush()
}

// upgradeToTLS swaps the transport for a TLS client in place. The
// server certificate is not verified; callers needing trust pin it
// at the transport layer. The framer must not carry plaintext bytes
// across the switch.
func (c *Conn) upgradeToTLS() error {
	tlsConn := tls.Client(c.conn, &tls.Config{
		InsecureSkipVerify: true,
	})
	if err := tlsConn.Handshake(); err != nil {
		return c.fatal(WrapClientError(BrokenConnection, err, "TLS handshake failed"))
	}
	c.conn = tlsConn
	c.writer.Reset(tlsConn)
	c.framer.reset()
	c.tlsActive = true
	return nil
}

// writeHandshakeResponse41 sends the full handshake response with the
// credentials. The sequence continues from the server's greeting (and
// the SSLRequest, if one went out).
func (c *Conn) writeHandshakeResponse41(authPluginName string, authResponse []byte) error {
	length := 4 + // capability flags
		4 + // max-packet size
		1 + // character set
		23 + // reserved
		lenNullString(c.params.Uname) +
		lenEncIntSize(uint64(len(authResponse))) + len(authResponse) +
		lenNullString(authPluginName)
	if c.capabilities&CapabilityClientConnectWithDB != 0 {
		length += lenNullString(c.params.DBName)
	}

	data := c.startEphemeralPacket(length)
	pos := writeUint32(data, 0, c.capabilities)
	pos = writeUint32(data, pos, uint32(MaxOutgoingPacketSize))
	pos = writeByte(data, pos, c.params.Charset)
	pos = writeZeroes(data, pos, 23)
	pos = writeNullString(data, pos, c.params.Uname)
	pos = writeLenEncInt(data, pos, uint64(len(authResponse)))
	pos += copy(data[pos:], authResponse)
	if c.capabilities&CapabilityClientConnectWithDB != 0 {
		pos = writeNullString(data, pos, c.params.DBName)
	}
	writeNullString(data, pos, authPluginName)

	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flush()
}

// handleAuthResponse drives the exchange after the handshake
// response until the server accepts or rejects the login. It handles
// the auth-plugin switch and the caching_sha2_password fast and full
// paths.
func (c *Conn) handleAuthResponse() error {
	for {
		data, err := c.readPacket()
		if err != nil {
			return err
		}

		switch {
		case isOKPacket(data):
			return nil

		case isErrorPacket(data):
			return parseErrorPacket(data)

		case data[0] == AuthSwitchRequestPacket && len(data) >= 9:
			pluginName, pos, ok := readNullString(data, 1)
			if !ok {
				return c.fatal(NewClientError(UnexpectedPayload, "auth switch request: no plugin name"))
			}
			if pluginName != MysqlNativePassword {
				return c.fatal(NewClientError(Unsupported, "server asked to switch to auth plugin %q", pluginName))
			}
			salt, _, _ := readEOFString(data, pos)
			challenge := hack.StringBytes(salt)
			if len(challenge) > 20 {
				challenge = challenge[:20]
			}
			if err := c.writePacket(ScrambleMysqlNativePassword(challenge, hack.StringBytes(c.params.Pass))); err != nil {
				return err
			}
			if err := c.flush(); err != nil {
				return err
			}

		case data[0] == AuthMoreDataPacket && len(data) >= 2:
			switch data[1] {
			case cachingSha2FastAuth:
				// Scramble accepted from cache; the OK
				// packet follows.

			case cachingSha2FullAuth:
				if !c.tlsActive {
					return c.fatal(NewClientError(UnexpectedState, "caching_sha2_password full authentication requires TLS"))
				}
				cleartext := append(hack.StringBytes(c.params.Pass), 0)
				if err := c.writePacket(cleartext); err != nil {
					return err
				}
				if err := c.flush(); err != nil {
					return err
				}

			default:
				return c.fatal(NewClientError(Unsupported, "unknown caching_sha2_password status %#x", data[1]))
			}

		default:
			return c.fatal(NewClientError(UnexpectedPacket, "unexpected packet during authentication: %v", data))
		}
	}
}
