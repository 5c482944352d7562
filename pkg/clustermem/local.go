package clustermem

import (
	"context"
	"sort"
	"sync"
)

// Local is the in-process cluster memory used by the local executor. All
// workers share the process, so a map is the whole session.
//
// Concurrency discipline: per-key operations take the namespace read lock
// plus a sync.Map access, so puts and gets on different keys proceed
// without blocking each other. Clear takes the namespace write lock, which
// linearizes it against every in-flight put/get in that namespace: no put
// that started before the clear can be observed after it.
type Local struct {
	mu         sync.Mutex
	namespaces map[string]*localNamespace
	// closed simulates session teardown; every call fails afterwards.
	closed bool
}

type localNamespace struct {
	lock sync.RWMutex
	keys sync.Map // string -> []byte
}

func NewLocal() *Local {
	return &Local{namespaces: make(map[string]*localNamespace)}
}

// Close tears the session down, dropping all entries. Matches the
// lifetime contract: cluster memory does not survive the executor session.
func (l *Local) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.namespaces = make(map[string]*localNamespace)
}

func (l *Local) namespace(name string, create bool) (*localNamespace, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrUnavailable
	}

	ns, ok := l.namespaces[name]
	if !ok {
		if !create {
			return nil, nil
		}

		ns = &localNamespace{}
		l.namespaces[name] = ns
	}

	return ns, nil
}

func (l *Local) Put(_ context.Context, namespace, key string, value []byte) error {
	ns, err := l.namespace(namespace, true)
	if err != nil {
		return err
	}

	ns.lock.RLock()
	defer ns.lock.RUnlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	ns.keys.Store(key, stored)

	return nil
}

func (l *Local) Get(_ context.Context, namespace, key string) ([]byte, error) {
	ns, err := l.namespace(namespace, false)
	if err != nil {
		return nil, err
	}

	if ns == nil {
		return nil, ErrKeyNotFound
	}

	ns.lock.RLock()
	defer ns.lock.RUnlock()

	value, ok := ns.keys.Load(key)
	if !ok {
		return nil, ErrKeyNotFound
	}

	return value.([]byte), nil
}

// Delete is idempotent: deleting an absent key is not an error.
func (l *Local) Delete(_ context.Context, namespace, key string) error {
	ns, err := l.namespace(namespace, false)
	if err != nil {
		return err
	}

	if ns == nil {
		return nil
	}

	ns.lock.RLock()
	defer ns.lock.RUnlock()

	ns.keys.Delete(key)

	return nil
}

func (l *Local) List(_ context.Context, namespace string) ([]string, error) {
	ns, err := l.namespace(namespace, false)
	if err != nil {
		return nil, err
	}

	if ns == nil {
		return nil, nil
	}

	ns.lock.RLock()
	defer ns.lock.RUnlock()

	var keys []string

	ns.keys.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))

		return true
	})

	sort.Strings(keys)

	return keys, nil
}

func (l *Local) Clear(_ context.Context, namespace string) error {
	ns, err := l.namespace(namespace, false)
	if err != nil {
		return err
	}

	if ns == nil {
		return nil
	}

	ns.lock.Lock()
	defer ns.lock.Unlock()

	ns.keys.Range(func(key, _ any) bool {
		ns.keys.Delete(key)

		return true
	})

	return nil
}
