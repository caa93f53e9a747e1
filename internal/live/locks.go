package live

import (
	"context"
	"sync"
)

// channelLocks serialises work on one channel inside this process. The store
// row lock guards the data; this lock additionally keeps fan-out publishes in
// commit order.
type channelLocks struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newChannelLocks() *channelLocks {
	return &channelLocks{slots: make(map[string]*lockSlot)}
}

// acquire blocks until the lock for id is held or ctx is done. The returned
// func releases it.
func (l *channelLocks) acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[id]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[id] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return func() {
			<-slot.ch
			l.release(id, slot)
		}, nil
	case <-ctx.Done():
		l.release(id, slot)
		return nil, ctx.Err()
	}
}

func (l *channelLocks) release(id string, slot *lockSlot) {
	l.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, id)
	}
	l.mu.Unlock()
}

func (l *channelLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
