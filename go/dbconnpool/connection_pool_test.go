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
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysqlclient.io/mysqlclient/go/mysql"
	"mysqlclient.io/mysqlclient/go/pools"
	"mysqlclient.io/mysqlclient/go/sqltypes"
)

func poolForTest(t *testing.T, capacity int) (*mysql.FakeServer, *ConnectionPool) {
	t.Helper()

	server, err := mysql.NewFakeServer("user", "password")
	require.NoError(t, err)
	t.Cleanup(server.Close)

	pool := NewConnectionPool(capacity, time.Second)
	pool.Open(server.ConnParams())
	t.Cleanup(pool.Close)
	return server, pool
}

func selectOneResult() *sqltypes.Result {
	return &sqltypes.Result{
		Fields: []*sqltypes.Field{{Name: "1", Type: sqltypes.Int64}},
		Rows:   [][]sqltypes.Value{{sqltypes.NewInt64(1)}},
	}
}

func TestPoolExecute(t *testing.T) {
	server, pool := poolForTest(t, 2)
	server.AddQuery("select 1", selectOneResult())

	result, err := pool.Execute(context.Background(), "select 1", nil)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "1", result.Rows[0][0].ToString())

	assert.Equal(t, int64(2), pool.Capacity())
	assert.Equal(t, int64(0), pool.InUse())
}

func TestPoolReusesConnection(t *testing.T) {
	// Capacity 1, so the second Execute can only succeed by reusing
	// the first connection.
	server, pool := poolForTest(t, 1)
	server.AddQuery("select 1", selectOneResult())

	_, err := pool.Execute(context.Background(), "select 1", nil)
	require.NoError(t, err)
	_, err = pool.Execute(context.Background(), "select 1", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, server.ConnCount())
}

func TestPoolRetriesOnDeadConnection(t *testing.T) {
	server, pool := poolForTest(t, 1)
	server.AddQuery("select 1", selectOneResult())
	server.AddCloseOnQuery("select 1", 1)

	// The first attempt dies mid-command; the retry runs on a fresh
	// connection and the caller never sees the failure.
	result, err := pool.Execute(context.Background(), "select 1", nil)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)

	assert.Equal(t, 2, server.ConnCount())
	assert.Equal(t, int64(0), pool.InUse())
}

func TestPoolNoRetryOnServerError(t *testing.T) {
	server, pool := poolForTest(t, 1)
	server.AddQuery("select 1", selectOneResult())
	server.AddQueryError("select borken", mysql.NewSQLError(1064, "42000", "syntax error"))

	_, err := pool.Execute(context.Background(), "select borken", nil)
	require.Error(t, err)

	sqlErr, ok := err.(*mysql.SQLError)
	require.True(t, ok, "want *SQLError, got %T: %v", err, err)
	assert.Equal(t, 1064, sqlErr.Num)

	// A server-side error keeps the connection in the pool.
	_, err = pool.Execute(context.Background(), "select 1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, server.ConnCount())
}

func TestPoolDiscardsOnClientError(t *testing.T) {
	server, pool := poolForTest(t, 1)
	server.AddQuery("select 1", selectOneResult())

	_, err := pool.Execute(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, mysql.IsClientErrorKind(err, mysql.InvalidArgument), "got %v", err)

	// The session was in doubt, so the connection was disposed of
	// and the next Execute dials a new one.
	_, err = pool.Execute(context.Background(), "select 1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, server.ConnCount())
}

func TestPoolGetTimeout(t *testing.T) {
	server, pool := poolForTest(t, 1)
	_ = server

	pc, err := pool.Get(context.Background())
	require.NoError(t, err)

	_, err = pool.Get(context.Background())
	assert.Equal(t, pools.ErrTimeout, err)

	pc.Recycle()
	pc2, err := pool.Get(context.Background())
	require.NoError(t, err)
	pc2.Recycle()
}

func TestPoolWithConnection(t *testing.T) {
	server, pool := poolForTest(t, 1)
	server.AddQuery("select 1", selectOneResult())

	err := pool.WithConnection(context.Background(), nil, func(conn *mysql.Conn) error {
		_, err := conn.Execute("select 1", nil)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), pool.InUse())
}

func TestPoolWithConnectionSettingsOverride(t *testing.T) {
	server, pool := poolForTest(t, 1)
	server.AddQuery("select 1", selectOneResult())

	// Prime the pool with a default-settings connection.
	_, err := pool.Execute(context.Background(), "select 1", nil)
	require.NoError(t, err)
	require.Equal(t, 1, server.ConnCount())

	// A settings override that does not match the pooled connection
	// forces a replacement.
	settings := server.ConnParams()
	settings.DBName = "otherdb"
	err = pool.WithConnection(context.Background(), settings, func(conn *mysql.Conn) error {
		_, err := conn.Execute("select 1", nil)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, server.ConnCount())

	// The replacement carries the override, so asking again does not
	// dial a third connection.
	err = pool.WithConnection(context.Background(), settings, func(conn *mysql.Conn) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, server.ConnCount())
}

func TestPoolTransactional(t *testing.T) {
	server, pool := poolForTest(t, 1)
	server.AddQuery("update users set active = 1", &sqltypes.Result{RowsAffected: 2})

	err := pool.Transactional(context.Background(), func(tx *mysql.Tx) error {
		result, err := tx.Execute("update users set active = 1", nil)
		if err != nil {
			return err
		}
		assert.Equal(t, uint64(2), result.RowsAffected)
		return nil
	})
	require.NoError(t, err)

	log := server.QueryLog()
	require.GreaterOrEqual(t, len(log), 3)
	assert.Equal(t, []string{
		"START TRANSACTION",
		"update users set active = 1",
		"COMMIT",
	}, log[len(log)-3:])
}

func TestPoolTransactionalNoRetryOnRollback(t *testing.T) {
	server, pool := poolForTest(t, 1)
	server.AddQueryError("insert into t values (1)", mysql.NewSQLError(1062, "23000", "Duplicate entry"))

	err := pool.Transactional(context.Background(), func(tx *mysql.Tx) error {
		_, err := tx.Execute("insert into t values (1)", nil)
		return err
	})
	require.Error(t, err)

	sqlErr, ok := err.(*mysql.SQLError)
	require.True(t, ok, "want *SQLError, got %T: %v", err, err)
	assert.Equal(t, 1062, sqlErr.Num)

	// The rolled-back transaction was not re-run on a fresh
	// connection.
	assert.Equal(t, 1, server.ConnCount())
	log := server.QueryLog()
	assert.Equal(t, "ROLLBACK", log[len(log)-1])
}

func TestPoolReplacesExpiredConnection(t *testing.T) {
	server, pool := poolForTest(t, 1)
	server.AddQuery("select 1", selectOneResult())

	pc, err := pool.Get(context.Background())
	require.NoError(t, err)

	// Age the connection past its lifetime; Recycle disposes of it
	// instead of pooling it.
	pc.createdAt = time.Now().Add(-2 * pool.maxConnectionAge)
	pc.Recycle()

	_, err = pool.Execute(context.Background(), "select 1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, server.ConnCount())
}

func TestPoolReplacesWornOutConnection(t *testing.T) {
	server, pool := poolForTest(t, 1)
	server.AddQuery("select 1", selectOneResult())

	pc, err := pool.Get(context.Background())
	require.NoError(t, err)

	// A connection that has spent too long checked out in total is
	// retired the same way.
	pc.inUseTotal = pool.maxSessionUse
	pc.Recycle()

	_, err = pool.Execute(context.Background(), "select 1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, server.ConnCount())
}

func TestPoolReplacesClosedConnection(t *testing.T) {
	server, pool := poolForTest(t, 1)
	server.AddQuery("select 1", selectOneResult())

	pc, err := pool.Get(context.Background())
	require.NoError(t, err)
	pc.Recycle()

	// The pooled connection dies while idle; the next Get notices
	// and dials a replacement.
	pc.Conn.Close()
	_, err = pool.Execute(context.Background(), "select 1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, server.ConnCount())
}

func TestPoolClose(t *testing.T) {
	server, pool := poolForTest(t, 1)
	_ = server

	pc, err := pool.Get(context.Background())
	require.NoError(t, err)
	pc.Recycle()

	pool.Close()
	_, err = pool.Get(context.Background())
	assert.Equal(t, pools.ErrClosed, err)
}

func TestPoolDialFailure(t *testing.T) {
	// Grab a port and close it again, so nothing is listening there.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	listener.Close()

	pool := NewConnectionPool(1, time.Second)
	pool.Open(&mysql.ConnParams{
		Host:           addr.IP.String(),
		Port:           addr.Port,
		Uname:          "user",
		ConnectTimeout: time.Second,
	})
	defer pool.Close()

	_, err = pool.Get(context.Background())
	require.Error(t, err)

	// The failed dial refunded the slot, so the pool is not wedged.
	_, err = pool.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), pool.connections.Available())
}
