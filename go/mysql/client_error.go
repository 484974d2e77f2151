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
	"time"

	"github.com/pkg/errors"
)

// ErrorKind is the stable enumeration of client-side failure classes.
// Server-reported failures are carried by SQLError instead.
type ErrorKind int

// The client error kinds. Only ClosedConnection and BrokenConnection
// are retried by the connection pool; everything else bubbles to the
// caller.
const (
	// InvalidArgument means the caller passed something the
	// client cannot work with: an empty query, an unknown
	// parameter name, a value with no SQL text form.
	InvalidArgument ErrorKind = iota

	// UnexpectedState means an operation was attempted in a
	// connection state that does not allow it, like a nested
	// transaction or caching_sha2 full auth without TLS.
	UnexpectedState

	// UnexpectedPacket means a frame arrived that the current
	// state cannot interpret, or the framer's buffer cap was hit.
	UnexpectedPacket

	// UnexpectedPayload means a known packet failed to decode.
	UnexpectedPayload

	// Unsupported means the server asked for something this
	// client does not implement, like an unknown auth plugin.
	Unsupported

	// Timeout means a connect or operation wait expired. The
	// error carries the configured duration.
	Timeout

	// ClosedConnection means the operation ran on a connection
	// that was already closed locally.
	ClosedConnection

	// BrokenConnection means the transport failed mid-operation.
	BrokenConnection
)

var errorKindNames = map[ErrorKind]string{
	InvalidArgument:   "invalid argument",
	UnexpectedState:   "unexpected state",
	UnexpectedPacket:  "unexpected packet",
	UnexpectedPayload: "unexpected payload",
	Unsupported:       "unsupported",
	Timeout:           "timeout",
	ClosedConnection:  "closed connection",
	BrokenConnection:  "broken connection",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ClientError is the error type for everything that goes wrong on the
// client side of the wire. The wrapped cause, if any, carries the
// stack trace from the failure site.
type ClientError struct {
	Kind    ErrorKind
	Message string

	// Duration is set for Timeout errors and holds the configured
	// wait that expired.
	Duration time.Duration

	cause error
}

// NewClientError creates a ClientError of the given kind.
func NewClientError(kind ErrorKind, format string, args ...any) *ClientError {
	return &ClientError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   errors.New(fmt.Sprintf(format, args...)),
	}
}

// NewTimeoutError creates a Timeout ClientError carrying the
// configured duration that expired.
func NewTimeoutError(timeout time.Duration, format string, args ...any) *ClientError {
	err := NewClientError(Timeout, format, args...)
	err.Duration = timeout
	return err
}

// WrapClientError wraps a transport or decoding failure, preserving
// its stack trace.
func WrapClientError(kind ErrorKind, cause error, format string, args ...any) *ClientError {
	return &ClientError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   errors.Wrapf(cause, format, args...),
	}
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *ClientError) Unwrap() error {
	return e.cause
}

// IsClientErrorKind returns true if err is a ClientError of the given
// kind.
func IsClientErrorKind(err error, kind ErrorKind) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// IsConnErr returns true if the error means the connection is no
// longer usable and the pool may retry the work on a fresh one.
func IsConnErr(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind == ClosedConnection || ce.Kind == BrokenConnection
	}
	return false
}
