// Package lock provides the cooperative named locks that serialize bundle
// builds. Two policies are exposed through every Locker: Lock waits (bounded
// by the caller's context) and TryLock gives up immediately.
package lock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/conneroisu/assetmin/internal/errors"
)

// GlobalName is the lock name used when a KeyedLocker runs in global mode.
const GlobalName = "assetmin"

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func() error

// Locker hands out named, mutually exclusive locks.
type Locker interface {
	// Lock blocks until name is acquired or ctx is done. A ctx failure is
	// reported as a lock-timeout error.
	Lock(ctx context.Context, name string) (Unlock, error)
	// TryLock acquires name only if it is free, otherwise it returns a
	// lock-busy error without waiting.
	TryLock(ctx context.Context, name string) (Unlock, error)
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// KeyedLocker is an in-process Locker with one semaphore per name. Entries
// are reference counted and removed once no goroutine holds or waits for
// them.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[string]*entry
	global  bool
}

var _ Locker = (*KeyedLocker)(nil)

// Option configures a KeyedLocker.
type Option func(*KeyedLocker)

// WithGlobal makes every name map to GlobalName, so that all builds of the
// subsystem serialize behind a single lock.
func WithGlobal(global bool) Option {
	return func(l *KeyedLocker) {
		l.global = global
	}
}

// NewKeyedLocker creates an in-process locker.
func NewKeyedLocker(opts ...Option) *KeyedLocker {
	l := &KeyedLocker{entries: make(map[string]*entry)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock implements Locker.
func (l *KeyedLocker) Lock(ctx context.Context, name string) (Unlock, error) {
	name = l.key(name)
	e := l.ref(name)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.unref(name, e)
		return nil, errors.NewLockTimeoutError(name, err)
	}

	return l.unlocker(name, e), nil
}

// TryLock implements Locker.
func (l *KeyedLocker) TryLock(_ context.Context, name string) (Unlock, error) {
	name = l.key(name)
	e := l.ref(name)

	if !e.sem.TryAcquire(1) {
		l.unref(name, e)
		return nil, errors.NewLockBusyError(name)
	}

	return l.unlocker(name, e), nil
}

// Len returns the number of live lock entries.
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *KeyedLocker) key(name string) string {
	if l.global {
		return GlobalName
	}
	return name
}

func (l *KeyedLocker) ref(name string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[name]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.entries[name] = e
	}
	e.refs++
	return e
}

func (l *KeyedLocker) unref(name string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, name)
	}
}

func (l *KeyedLocker) unlocker(name string, e *entry) Unlock {
	var once sync.Once
	return func() error {
		once.Do(func() {
			e.sem.Release(1)
			l.unref(name, e)
		})
		return nil
	}
}
