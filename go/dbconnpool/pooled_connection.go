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

package dbconnpool

import (
	"time"

	"mysqlclient.io/mysqlclient/go/mysql"
)

// PooledConnection is a connection with pool bookkeeping: when it was
// created, when it last went back to the pool, and how much time it
// has spent checked out. The embedded Conn exposes the full session
// API.
type PooledConnection struct {
	*mysql.Conn

	pool   *ConnectionPool
	params *mysql.ConnParams

	createdAt    time.Time
	returnedAt   time.Time
	checkedOutAt time.Time
	inUseTotal   time.Duration
}

// Recycle returns the connection to its pool. A connection that is
// closed, expired, or whose pool has shut down is disposed of
// instead, freeing the slot for a fresh one.
func (pc *PooledConnection) Recycle() {
	now := time.Now()
	if !pc.checkedOutAt.IsZero() {
		pc.inUseTotal += now.Sub(pc.checkedOutAt)
		pc.checkedOutAt = time.Time{}
	}
	pc.returnedAt = now

	if !pc.Conn.IsOpen() || pc.expired(now) {
		pc.discard()
		return
	}
	pc.pool.connections.Put(pc)
}

// discard closes the connection and frees its pool slot.
func (pc *PooledConnection) discard() {
	pc.Conn.Close()
	pc.pool.connections.Put(nil)
}

// expired reports whether the connection has outlived its maximum
// age or has accumulated more in-use time than a session is allowed.
func (pc *PooledConnection) expired(now time.Time) bool {
	if now.Sub(pc.createdAt) >= pc.pool.maxConnectionAge {
		return true
	}
	return pc.inUseTotal >= pc.pool.maxSessionUse
}
