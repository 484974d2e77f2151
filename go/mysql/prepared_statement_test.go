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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysqlclient.io/mysqlclient/go/sqltypes"
)

func TestPrepare(t *testing.T) {
	server, conn := connectForTest(t)
	st := server.AddStatement("select id, name from users where id = ?", 1, usersResult())

	stmt, err := conn.Prepare("select id, name from users where id = ?")
	require.NoError(t, err)

	assert.Equal(t, st.ID, stmt.ID())
	assert.Equal(t, 1, stmt.NumParams())
	assert.Equal(t, 2, stmt.NumColumns())
}

func TestPrepareEmptyQuery(t *testing.T) {
	_, conn := connectForTest(t)

	_, err := conn.Prepare("")
	require.Error(t, err)
	assert.True(t, IsClientErrorKind(err, InvalidArgument))
}

func TestPrepareUnregistered(t *testing.T) {
	_, conn := connectForTest(t)

	_, err := conn.Prepare("select mystery where x = ?")
	require.Error(t, err)

	sqlErr, ok := err.(*SQLError)
	require.True(t, ok, "want *SQLError, got %T: %v", err, err)
	assert.Equal(t, ERUnknownError, sqlErr.Num)
	assert.Equal(t, "select mystery where x = ?", sqlErr.Query)

	// A failed prepare leaves the connection usable.
	require.NoError(t, conn.Ping())
}

func TestStatementExecute(t *testing.T) {
	server, conn := connectForTest(t)
	st := server.AddStatement("select id, name from users where id = ?", 1, usersResult())

	stmt, err := conn.Prepare("select id, name from users where id = ?")
	require.NoError(t, err)

	result, err := stmt.Execute([]any{7})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name"}, result.FieldNames())
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "1", result.Rows[0][0].ToString())
	assert.Equal(t, "alice", result.Rows[0][1].ToString())
	assert.True(t, result.Rows[1][1].IsNull())

	args := st.LastArgs()
	require.Len(t, args, 1)
	assert.Equal(t, "7", args[0].ToString())
}

func TestStatementExecuteArgTexts(t *testing.T) {
	server, conn := connectForTest(t)
	st := server.AddStatement("insert into t values (?, ?, ?, ?, ?)", 5, &sqltypes.Result{RowsAffected: 1})

	stmt, err := conn.Prepare("insert into t values (?, ?, ?, ?, ?)")
	require.NoError(t, err)

	ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	_, err = stmt.Execute([]any{"it's", true, 1.5, ts, nil})
	require.NoError(t, err)

	args := st.LastArgs()
	require.Len(t, args, 5)
	// Statement parameters travel unquoted in their own slots.
	assert.Equal(t, "it's", args[0].ToString())
	assert.Equal(t, "1", args[1].ToString())
	assert.Equal(t, "1.5", args[2].ToString())
	assert.Equal(t, "2024-03-15 10:30:00", args[3].ToString())
	assert.True(t, args[4].IsNull())
}

func TestStatementExecuteNullValueArg(t *testing.T) {
	server, conn := connectForTest(t)
	st := server.AddStatement("select ?", 1, &sqltypes.Result{})

	stmt, err := conn.Prepare("select ?")
	require.NoError(t, err)

	_, err = stmt.Execute([]any{sqltypes.NULL})
	require.NoError(t, err)

	args := st.LastArgs()
	require.Len(t, args, 1)
	assert.True(t, args[0].IsNull())
}

func TestStatementExecuteNoParams(t *testing.T) {
	server, conn := connectForTest(t)
	server.AddStatement("select id, name from users", 0, usersResult())

	stmt, err := conn.Prepare("select id, name from users")
	require.NoError(t, err)
	assert.Equal(t, 0, stmt.NumParams())

	result, err := stmt.Execute(nil)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
}

func TestStatementExecuteArgCountMismatch(t *testing.T) {
	server, conn := connectForTest(t)
	server.AddStatement("select ?", 1, &sqltypes.Result{})

	stmt, err := conn.Prepare("select ?")
	require.NoError(t, err)

	_, err = stmt.Execute(nil)
	require.Error(t, err)
	assert.True(t, IsClientErrorKind(err, InvalidArgument))

	_, err = stmt.Execute([]any{1, 2})
	require.Error(t, err)
	assert.True(t, IsClientErrorKind(err, InvalidArgument))

	// The mismatch is caught before anything hits the wire.
	require.NoError(t, conn.Ping())
}

func TestStatementExecuteDML(t *testing.T) {
	server, conn := connectForTest(t)
	server.AddStatement("insert into users (name) values (?)", 1, &sqltypes.Result{
		RowsAffected: 1,
		InsertID:     99,
	})

	stmt, err := conn.Prepare("insert into users (name) values (?)")
	require.NoError(t, err)

	result, err := stmt.Execute([]any{"erin"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.RowsAffected)
	assert.Equal(t, uint64(99), result.InsertID)
	assert.Empty(t, result.Fields)
}

func TestStatementExecuteServerError(t *testing.T) {
	server, conn := connectForTest(t)
	st := server.AddStatement("insert into users (id) values (?)", 1, nil)
	st.Error = NewSQLError(1062, "23000", "Duplicate entry")

	stmt, err := conn.Prepare("insert into users (id) values (?)")
	require.NoError(t, err)

	_, err = stmt.Execute([]any{1})
	require.Error(t, err)

	sqlErr, ok := err.(*SQLError)
	require.True(t, ok, "want *SQLError, got %T: %v", err, err)
	assert.Equal(t, 1062, sqlErr.Num)
	assert.Equal(t, "23000", sqlErr.State)
	assert.Equal(t, "insert into users (id) values (?)", sqlErr.Query)

	require.NoError(t, conn.Ping())
}

func TestStatementDeallocate(t *testing.T) {
	server, conn := connectForTest(t)
	server.AddStatement("select ?", 1, &sqltypes.Result{})

	stmt, err := conn.Prepare("select ?")
	require.NoError(t, err)

	require.NoError(t, stmt.Deallocate())

	// Deallocate again is harmless, and so is deallocating after the
	// connection has gone away.
	require.NoError(t, stmt.Deallocate())
	conn.Close()
	require.NoError(t, stmt.Deallocate())
}

func TestStatementExecuteAfterClose(t *testing.T) {
	server, conn := connectForTest(t)
	server.AddStatement("select ?", 1, &sqltypes.Result{})

	stmt, err := conn.Prepare("select ?")
	require.NoError(t, err)

	conn.Close()
	_, err = stmt.Execute([]any{1})
	require.Error(t, err)
	assert.True(t, IsClientErrorKind(err, ClosedConnection))
}
