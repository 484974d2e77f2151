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

// Package dbconnpool keeps a bounded pool of MySQL connections with
// freshness checks and a retry policy for work that hits a dead
// connection.
package dbconnpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"mysqlclient.io/mysqlclient/go/log"
	"mysqlclient.io/mysqlclient/go/mysql"
	"mysqlclient.io/mysqlclient/go/pools"
	"mysqlclient.io/mysqlclient/go/sqltypes"
)

const (
	// DefaultCapacity is the connection cap when none is given.
	DefaultCapacity = 1

	// defaultMaxConnectionAge bounds the wall-clock lifetime of a
	// pooled connection.
	defaultMaxConnectionAge = 12 * time.Hour

	// defaultMaxSessionUse bounds the cumulative checked-out time
	// of a pooled connection.
	defaultMaxSessionUse = 4 * time.Hour

	// idlePingThreshold is how long a connection may sit idle
	// before it is pinged on the way out of the pool.
	idlePingThreshold = 30 * time.Second
)

// ConnectionPool is a bounded pool of connections to one endpoint.
// Capacity is enforced by the underlying resource pool; creation and
// freshness checks run under a single-holder lock so the checks never
// race with each other.
type ConnectionPool struct {
	capacity   int
	getTimeout time.Duration

	// mu is the create-lock: it serializes the freshness checks
	// and replacement of connections on their way out of the pool.
	mu          sync.Mutex
	params      *mysql.ConnParams
	connections *pools.ResourcePool

	maxConnectionAge time.Duration
	maxSessionUse    time.Duration
}

// NewConnectionPool creates a pool. It does not connect; Open does.
func NewConnectionPool(capacity int, getTimeout time.Duration) *ConnectionPool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ConnectionPool{
		capacity:         capacity,
		getTimeout:       getTimeout,
		maxConnectionAge: defaultMaxConnectionAge,
		maxSessionUse:    defaultMaxSessionUse,
	}
}

// Open readies the pool for the given endpoint. Connections are
// dialed lazily on first use.
func (cp *ConnectionPool) Open(params *mysql.ConnParams) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.params = params
	cp.connections = pools.NewResourcePool(func(ctx context.Context) (pools.Resource, error) {
		return cp.newPooledConnection(ctx, cp.params)
	}, cp.capacity, cp.getTimeout)
}

// Close shuts the pool down, closing idle connections now and
// checked-out ones as they come back.
func (cp *ConnectionPool) Close() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.connections != nil {
		cp.connections.Close()
	}
}

func (cp *ConnectionPool) newPooledConnection(ctx context.Context, params *mysql.ConnParams) (*PooledConnection, error) {
	conn, err := mysql.Connect(ctx, params)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &PooledConnection{
		Conn:       conn,
		pool:       cp,
		params:     params,
		createdAt:  now,
		returnedAt: now,
	}, nil
}

// Get returns a live connection from the pool, dialing a new one if
// the slot is empty or its occupant fails the freshness checks.
func (cp *ConnectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	return cp.getWithSettings(ctx, nil)
}

// getWithSettings is Get with an optional settings override: the
// returned connection matches the override, replacing a pooled one
// built with different settings.
func (cp *ConnectionPool) getWithSettings(ctx context.Context, settings *mysql.ConnParams) (*PooledConnection, error) {
	resource, err := cp.connections.Get(ctx)
	if err != nil {
		return nil, err
	}
	pc := resource.(*PooledConnection)

	want := cp.params
	if settings != nil {
		want = settings
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	now := time.Now()
	reason := ""
	switch {
	case !pc.Conn.IsOpen():
		reason = "closed"
	case !paramsEqual(pc.params, want):
		reason = "settings mismatch"
	case pc.expired(now):
		reason = "expired"
	case now.Sub(pc.returnedAt) > idlePingThreshold:
		if err := pc.Conn.Ping(); err != nil {
			reason = "failed ping"
		}
	}

	if reason != "" {
		log.Infof("replacing pooled connection %v: %v", pc.Conn.ID(), reason)
		pc.Conn.Close()
		fresh, err := cp.newPooledConnection(ctx, want)
		if err != nil {
			cp.connections.Put(nil)
			return nil, err
		}
		// The dead connection's slot carries over to the fresh
		// one; the pool only sees the swap when it is recycled.
		pc = fresh
	}

	pc.checkedOutAt = now
	return pc, nil
}

// paramsEqual reports whether two parameter sets describe the same
// endpoint and session settings, after defaults are applied.
func paramsEqual(a, b *mysql.ConnParams) bool {
	ea, eb := a.EffectiveParams(), b.EffectiveParams()
	return ea.Host == eb.Host &&
		ea.Port == eb.Port &&
		ea.UnixSocket == eb.UnixSocket &&
		ea.Uname == eb.Uname &&
		ea.DBName == eb.DBName &&
		ea.Charset == eb.Charset &&
		ea.Collation == eb.Collation &&
		ea.SslEnabled == eb.SslEnabled
}

// Execute runs a query on a pooled connection. Work that dies with a
// closed or broken connection is retried once on a fresh one; any
// other client error disposes of the connection without a retry.
func (cp *ConnectionPool) Execute(ctx context.Context, query string, bindVars map[string]any) (*sqltypes.Result, error) {
	var result *sqltypes.Result
	err := cp.withRetry(ctx, func(conn *PooledConnection) error {
		var err error
		result, err = conn.Execute(query, bindVars)
		return err
	})
	return result, err
}

// Transactional runs body inside a transaction on a pooled
// connection, with the same retry policy as Execute. The retry only
// fires when the failure is a dead connection, so a transaction
// rolled back by the server is not silently re-run.
func (cp *ConnectionPool) Transactional(ctx context.Context, body func(tx *mysql.Tx) error) error {
	return cp.withRetry(ctx, func(conn *PooledConnection) error {
		return conn.Transactional(body)
	})
}

// WithConnection gives fn exclusive use of a pooled connection,
// optionally matching a settings override.
func (cp *ConnectionPool) WithConnection(ctx context.Context, settings *mysql.ConnParams, fn func(conn *mysql.Conn) error) error {
	pc, err := cp.getWithSettings(ctx, settings)
	if err != nil {
		return err
	}
	err = fn(pc.Conn)
	cp.release(pc, err)
	return err
}

func (cp *ConnectionPool) withRetry(ctx context.Context, work func(conn *PooledConnection) error) error {
	pc, err := cp.Get(ctx)
	if err != nil {
		return err
	}
	err = work(pc)
	cp.release(pc, err)
	if err == nil || !mysql.IsConnErr(err) {
		return err
	}

	log.Warningf("retrying on a fresh connection: %v", err)
	pc, gerr := cp.Get(ctx)
	if gerr != nil {
		return gerr
	}
	err = work(pc)
	cp.release(pc, err)
	return err
}

// release returns the connection to the pool, disposing of it when
// the work surfaced a client-side failure: those leave the session in
// doubt, unlike server-reported SQL errors.
func (cp *ConnectionPool) release(pc *PooledConnection, workErr error) {
	var clientErr *mysql.ClientError
	if workErr != nil && errors.As(workErr, &clientErr) {
		pc.discard()
		return
	}
	pc.Recycle()
}

// Capacity returns the configured connection cap.
func (cp *ConnectionPool) Capacity() int64 {
	return cp.connections.Capacity()
}

// InUse returns the number of connections currently checked out.
func (cp *ConnectionPool) InUse() int64 {
	return cp.connections.InUse()
}
