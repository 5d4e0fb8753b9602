package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantrail/alertledger/internal/domain"
)

// keyedLock serializes mutations per position. Each key owns a one-slot
// semaphore; acquisition honours the caller's context so a contended position
// surfaces ErrLockHeld instead of blocking forever.
type keyedLock struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{sems: make(map[string]chan struct{})}
}

// acquire blocks until the key's slot is free or ctx is done. On success it
// returns a release function.
func (k *keyedLock) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	sem, ok := k.sems[key]
	if !ok {
		sem = make(chan struct{}, 1)
		k.sems[key] = sem
	}
	k.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("service: lock %s: %w", key, domain.ErrLockHeld)
	}
}

// poolLocks holds one read-write lock per pool. Writers (mutations and their
// full liquidity recompute) are exclusive; readers (valuation) are shared.
type poolLocks struct {
	locks map[domain.Pool]*sync.RWMutex
}

func newPoolLocks() *poolLocks {
	return &poolLocks{
		locks: map[domain.Pool]*sync.RWMutex{
			domain.PoolAlpha: {},
			domain.PoolBeta:  {},
		},
	}
}

func (p *poolLocks) get(pool domain.Pool) *sync.RWMutex {
	return p.locks[pool]
}
