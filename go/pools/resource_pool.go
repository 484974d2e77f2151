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

// Package pools provides functionality to manage and reuse resources
// like connections.
package pools

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"mysqlclient.io/mysqlclient/go/sync2"
)

var (
	// ErrClosed is returned if ResourcePool is used when it's closed.
	ErrClosed = errors.New("resource pool is closed")

	// ErrTimeout is returned if a resource get times out.
	ErrTimeout = errors.New("resource pool timed out")
)

// Factory is a function that can be used to create a resource.
type Factory func(ctx context.Context) (Resource, error)

// Resource defines the interface that every resource must provide.
type Resource interface {
	Close()
}

// ResourcePool allows you to use a pool of resources. Resources are
// created lazily: the pool starts with empty slots and the factory
// runs the first time each slot is handed out.
type ResourcePool struct {
	resources chan resourceWrapper
	factory   Factory

	capacity sync2.AtomicInt64
	inUse    sync2.AtomicInt64
	waitTime sync2.AtomicInt64

	getTimeout time.Duration
}

type resourceWrapper struct {
	resource Resource
	timeUsed time.Time
}

// NewResourcePool creates a new ResourcePool with the given capacity
// and Get timeout. A zero timeout means Get waits as long as its
// context allows.
func NewResourcePool(factory Factory, capacity int, getTimeout time.Duration) *ResourcePool {
	if capacity <= 0 {
		panic(errors.New("invalid capacity"))
	}
	rp := &ResourcePool{
		resources:  make(chan resourceWrapper, capacity),
		factory:    factory,
		capacity:   sync2.NewAtomicInt64(int64(capacity)),
		getTimeout: getTimeout,
	}
	for i := 0; i < capacity; i++ {
		rp.resources <- resourceWrapper{}
	}
	return rp
}

// Close empties the pool by destroying all the idle resources.
// In-flight resources are destroyed as they are returned.
func (rp *ResourcePool) Close() {
	if !rp.capacity.CompareAndSwap(rp.capacity.Get(), 0) {
		return
	}
	for {
		select {
		case wrapper := <-rp.resources:
			if wrapper.resource != nil {
				wrapper.resource.Close()
			}
		default:
			return
		}
	}
}

// IsClosed returns true if the pool has been closed.
func (rp *ResourcePool) IsClosed() bool {
	return rp.capacity.Get() == 0
}

// Get acquires a resource, creating one through the factory if the
// slot is empty. It blocks until a slot frees up, the configured
// timeout fires, or the context is done.
func (rp *ResourcePool) Get(ctx context.Context) (Resource, error) {
	if rp.IsClosed() {
		return nil, ErrClosed
	}

	if rp.getTimeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rp.getTimeout)
		defer cancel()
	}

	start := time.Now()
	var wrapper resourceWrapper
	select {
	case wrapper = <-rp.resources:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
	rp.waitTime.Add(int64(time.Since(start)))

	if rp.IsClosed() {
		if wrapper.resource != nil {
			wrapper.resource.Close()
		}
		return nil, ErrClosed
	}

	if wrapper.resource == nil {
		var err error
		wrapper.resource, err = rp.factory(ctx)
		if err != nil {
			rp.resources <- resourceWrapper{}
			return nil, err
		}
	}
	rp.inUse.Add(1)
	return wrapper.resource, nil
}

// Put returns a resource to the pool. A nil resource releases the
// slot without refilling it, for resources that went bad while out.
func (rp *ResourcePool) Put(resource Resource) {
	rp.inUse.Add(-1)
	if rp.IsClosed() {
		if resource != nil {
			resource.Close()
		}
		return
	}
	wrapper := resourceWrapper{}
	if resource != nil {
		wrapper = resourceWrapper{resource: resource, timeUsed: time.Now()}
	}
	select {
	case rp.resources <- wrapper:
	default:
		panic(errors.New("attempt to Put into a full ResourcePool"))
	}
}

// Capacity returns the pool capacity.
func (rp *ResourcePool) Capacity() int64 {
	return rp.capacity.Get()
}

// InUse returns the number of resources currently checked out.
func (rp *ResourcePool) InUse() int64 {
	return rp.inUse.Get()
}

// Available returns the number of free slots, counting empty ones.
func (rp *ResourcePool) Available() int64 {
	return int64(len(rp.resources))
}

// WaitTime returns the cumulative time callers spent blocked in Get.
func (rp *ResourcePool) WaitTime() time.Duration {
	return time.Duration(rp.waitTime.Get())
}
