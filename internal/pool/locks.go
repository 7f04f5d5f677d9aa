package pool

import (
	"context"
	"sort"
	"sync"
)

// keyedLocks hands out one lock per id. Entries are refcounted and removed
// when the last holder or waiter lets go.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

func (k *keyedLocks) ref(id string) *keyedLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[id] = l
	}
	l.refs++
	return l
}

func (k *keyedLocks) unref(id string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, id)
	}
}

// lock acquires every non-empty id in sorted order and returns a function
// releasing them all. Duplicate ids are locked once.
func (k *keyedLocks) lock(ctx context.Context, ids ...string) (func(), error) {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Strings(uniq)

	type held struct {
		id string
		l  *keyedLock
	}
	acquired := make([]held, 0, len(uniq))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			<-acquired[i].l.ch
			k.unref(acquired[i].id, acquired[i].l)
		}
	}

	for _, id := range uniq {
		l := k.ref(id)
		select {
		case l.ch <- struct{}{}:
			acquired = append(acquired, held{id, l})
		case <-ctx.Done():
			k.unref(id, l)
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}
