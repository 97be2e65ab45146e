package cache

import (
	"context"
	"sync"
	"time"

	pkgsync "github.com/gentable/engine/pkg/sync"
)

// NamedLock hands out mutual-exclusion locks keyed by name, each backed
// by a pkg/sync.Limiter{max:1} (the teacher's counting-semaphore
// primitive with its capacity pinned to one holder) plus a deadline
// timer that force-releases a lock whose holder never called Release,
// so a crashed holder cannot starve others (§5's "locks have an
// absolute auto-release deadline" shared-resource rule).
type NamedLock struct {
	mu    sync.Mutex
	locks map[string]*pkgsync.Limiter
}

// NewNamedLock builds an empty NamedLock registry.
func NewNamedLock() *NamedLock {
	return &NamedLock{locks: make(map[string]*pkgsync.Limiter)}
}

func (n *NamedLock) limiterFor(name string) *pkgsync.Limiter {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.locks[name]
	if !ok {
		l = pkgsync.NewLimiter(1)
		n.locks[name] = l
	}
	return l
}

// Release is returned by Lock/TryLock; calling it more than once is a
// safe no-op.
type Release func()

func idempotentRelease(limiter *pkgsync.Limiter, ttl time.Duration) Release {
	var once sync.Once
	release := func() {
		once.Do(limiter.Release)
	}
	if ttl > 0 {
		timer := time.AfterFunc(ttl, release)
		inner := release
		release = func() {
			timer.Stop()
			inner()
		}
	}
	return release
}

// Lock blocks until name's lock is acquired or ctx is cancelled,
// whichever comes first. Once acquired, the lock auto-releases after
// ttl even if the caller never calls Release (ttl <= 0 disables
// auto-release). The returned Release is idempotent.
func (n *NamedLock) Lock(ctx context.Context, name string, ttl time.Duration) (Release, error) {
	limiter := n.limiterFor(name)
	if err := limiter.AcquireContext(ctx); err != nil {
		return nil, err
	}
	return idempotentRelease(limiter, ttl), nil
}

// TryLock attempts to acquire name's lock without blocking. ok is false
// if another holder currently has it.
func (n *NamedLock) TryLock(name string, ttl time.Duration) (release Release, ok bool) {
	limiter := n.limiterFor(name)
	if !limiter.TryAcquire() {
		return nil, false
	}
	return idempotentRelease(limiter, ttl), true
}
