package syncutil

import (
	"context"
	"sync"
)

// ContextShardedMutex is ShardedMutex's cancellable sibling: a fixed
// pool of channel-backed locks, so a caller waiting on a busy key can
// give up when its context does. The audit service keys these by day
// string — concurrent requests for one day serialize, other days
// proceed. The zero value is ready to use.
type ContextShardedMutex struct {
	slots [shardCount]chan struct{}
	once  sync.Once
}

// NewContextShardedMutex returns an initialized mutex pool.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.slots {
			slot := make(chan struct{}, 1)
			slot <- struct{}{} // a token in the channel means "unlocked"
			m.slots[i] = slot
		}
	})
}

// LockContext acquires the lock for key, or gives up when ctx is done.
// On success the caller owns the lock and MUST invoke the returned
// unlock function; on cancellation it returns nil and the ctx error.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	slot := m.slots[fnv32a(key)%shardCount]

	select {
	case <-slot:
		return func() { slot <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
