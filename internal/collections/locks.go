package collections

import (
	"sort"
	"sync"
)

// nameLocks hands out one read-write mutex per collection name. Entries
// are dropped once no caller holds or waits on them.
type nameLocks struct {
	mu sync.Mutex
	m  map[string]*nameLock
}

type nameLock struct {
	mu   sync.RWMutex
	refs int
}

func newNameLocks() *nameLocks {
	return &nameLocks{m: make(map[string]*nameLock)}
}

// lock acquires the write locks for names in lexical order and returns
// the matching unlock.
func (l *nameLocks) lock(names ...string) (unlock func()) {
	return l.acquire(false, names)
}

// rlock acquires the read lock for name. Readers of one name share it;
// writers exclude them.
func (l *nameLocks) rlock(name string) (unlock func()) {
	return l.acquire(true, []string{name})
}

func (l *nameLocks) acquire(shared bool, names []string) func() {
	uniq := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			uniq = append(uniq, n)
		}
	}
	sort.Strings(uniq)

	held := make([]*nameLock, 0, len(uniq))
	for _, n := range uniq {
		l.mu.Lock()
		e, ok := l.m[n]
		if !ok {
			e = &nameLock{}
			l.m[n] = e
		}
		e.refs++
		l.mu.Unlock()

		if shared {
			e.mu.RLock()
		} else {
			e.mu.Lock()
		}
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			e := held[i]
			if shared {
				e.mu.RUnlock()
			} else {
				e.mu.Unlock()
			}
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.m, uniq[i])
			}
			l.mu.Unlock()
		}
	}
}

func (l *nameLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
