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
	"mysqlclient.io/mysqlclient/go/log"
	"mysqlclient.io/mysqlclient/go/sqltypes"
)

// Tx is the view of a connection inside a transaction body. It runs
// commands without re-acquiring the operation lock, which the
// transaction holds for its whole scope.
type Tx struct {
	conn *Conn
}

// Execute runs a query on the transaction's connection.
func (tx *Tx) Execute(query string, bindVars map[string]any) (*sqltypes.Result, error) {
	return tx.conn.executeLocked(query, bindVars)
}

// Prepare prepares a statement on the transaction's connection. The
// statement outlives the transaction.
func (tx *Tx) Prepare(query string) (*PreparedStatement, error) {
	return tx.conn.prepareLocked(query)
}

// ExecuteStatement runs a prepared statement inside the transaction.
func (tx *Tx) ExecuteStatement(stmt *PreparedStatement, args []any) (*sqltypes.Result, error) {
	if stmt.conn != tx.conn {
		return nil, NewClientError(InvalidArgument, "statement %v belongs to another connection", stmt.id)
	}
	return stmt.executeLocked(args)
}

// Conn returns the underlying connection, for identity checks.
func (tx *Tx) Conn() *Conn {
	return tx.conn
}

// Transactional runs body inside a transaction. The operation lock is
// held for the whole scope, so outside callers block until the
// transaction finishes while the body itself runs commands freely on
// the same connection. On an error from the body a ROLLBACK is
// attempted and the body's error is returned; nested transactions are
// rejected.
func (c *Conn) Transactional(body func(tx *Tx) error) error {
	// Checked before the lock: a nested call comes from the body
	// that already holds it, and must fail instead of deadlocking.
	if c.inTransaction {
		return NewClientError(UnexpectedState, "conn %v is already in a transaction", c.connectionID)
	}

	if err := c.acquireOpLock(); err != nil {
		return err
	}
	defer c.opLock.Release()

	c.inTransaction = true
	defer func() {
		c.inTransaction = false
	}()

	if _, err := c.executeLocked("START TRANSACTION", nil); err != nil {
		return err
	}

	if err := body(&Tx{conn: c}); err != nil {
		if _, rbErr := c.executeLocked("ROLLBACK", nil); rbErr != nil {
			log.Warningf("conn %v: rollback failed: %v", c.connectionID, rbErr)
		}
		return err
	}

	if _, err := c.executeLocked("COMMIT", nil); err != nil {
		return err
	}
	return nil
}
