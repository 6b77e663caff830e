// Package lock provides the asymmetric reader/writer lock used by
// queues and propagation nodes, along with deadlock-free bulk
// acquisition over sets of locks.
//
// The lock itself is a thin layer over sync.RWMutex.  What it adds is
// an identity: every Lock carries a process-unique id, and AcquireAll
// uses those ids to impose a canonical acquisition order.  Concurrent
// callers that acquire the same set of locks in arbitrary argument
// order therefore cannot deadlock against each other.
package lock

import (
	"sort"
	"sync"
	"sync/atomic"
)

var ids int64

// Lock is an asymmetric lock.  Shared holders may overlap; an
// exclusive holder excludes everyone.
//
// A blocked acquisition cannot be cancelled.
type Lock struct {
	id int64
	mu sync.RWMutex
}

// New creates a Lock with a fresh identity.
func New() *Lock {
	return &Lock{
		id: atomic.AddInt64(&ids, 1),
	}
}

// Id returns the lock's process-unique identity.
func (l *Lock) Id() int64 {
	return l.id
}

// Acquire takes the lock in shared mode.
func (l *Lock) Acquire() {
	l.mu.RLock()
}

// Release undoes one Acquire.
func (l *Lock) Release() {
	l.mu.RUnlock()
}

// AcquireExclusive takes the lock in exclusive mode.
func (l *Lock) AcquireExclusive() {
	l.mu.Lock()
}

// ReleaseExclusive undoes AcquireExclusive.
func (l *Lock) ReleaseExclusive() {
	l.mu.Unlock()
}

// AcquireAll acquires every given lock, in ascending id order, and
// returns a function that releases them all in LIFO order.
//
// Duplicate locks in the argument list are acquired once.
//
// Diagnostic code uses this to freeze a subgraph: as long as every
// bulk acquisition goes through AcquireAll, no interleaving of
// callers can deadlock, regardless of argument order.
func AcquireAll(exclusive bool, locks ...*Lock) (release func()) {
	ordered := make([]*Lock, 0, len(locks))
	seen := make(map[int64]bool, len(locks))
	for _, l := range locks {
		if l == nil || seen[l.id] {
			continue
		}
		seen[l.id] = true
		ordered = append(ordered, l)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].id < ordered[j].id
	})

	for _, l := range ordered {
		if exclusive {
			l.AcquireExclusive()
		} else {
			l.Acquire()
		}
	}

	return func() {
		for i := len(ordered) - 1; 0 <= i; i-- {
			if exclusive {
				ordered[i].ReleaseExclusive()
			} else {
				ordered[i].Release()
			}
		}
	}
}
