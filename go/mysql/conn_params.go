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
	"strconv"
	"time"
)

const (
	// defaultConnectTimeout bounds the dial plus handshake when the
	// caller does not set ConnParams.ConnectTimeout.
	defaultConnectTimeout = 15 * time.Second

	// DefaultPort is the default MySQL server port.
	DefaultPort = 3306

	// DefaultCharset is utf8, sent in the handshake response.
	DefaultCharset = CharacterSetUtf8

	// DefaultCollation is applied right after the connection is
	// established, together with the matching character set.
	DefaultCollation = "utf8_general_ci"
)

// ConnParams contains all the parameters to use to connect to mysql.
type ConnParams struct {
	Host       string
	Port       int
	UnixSocket string
	Uname      string
	Pass       string
	DBName     string

	// SslEnabled requests a TLS upgrade before authentication.
	// Connecting fails if the server does not support TLS.
	SslEnabled bool

	// Charset is the handshake character set. Zero means
	// DefaultCharset.
	Charset uint8

	// Collation is set on the session right after connecting. Empty
	// means DefaultCollation.
	Collation string

	// ConnectTimeout bounds dialing plus the full handshake. Zero
	// means defaultConnectTimeout.
	ConnectTimeout time.Duration
}

// EffectiveParams returns a copy of cp with every zero field replaced
// by its default. Connection setup works off the resolved copy so the
// caller's struct is never mutated.
func (cp *ConnParams) EffectiveParams() *ConnParams {
	result := *cp
	if result.Port == 0 {
		result.Port = DefaultPort
	}
	if result.Charset == 0 {
		result.Charset = DefaultCharset
	}
	if result.Collation == "" {
		result.Collation = DefaultCollation
	}
	if result.ConnectTimeout == 0 {
		result.ConnectTimeout = defaultConnectTimeout
	}
	return &result
}

// UsesUnixSocket returns true if the connection should go over a unix
// domain socket instead of TCP.
func (cp *ConnParams) UsesUnixSocket() bool {
	return cp.UnixSocket != ""
}

// networkAddress returns the dial network and address for the params.
func (cp *ConnParams) networkAddress() (string, string) {
	if cp.UsesUnixSocket() {
		return "unix", cp.UnixSocket
	}
	return "tcp", net.JoinHostPort(cp.Host, strconv.Itoa(cp.Port))
}
