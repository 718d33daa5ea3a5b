package store

import (
	"sort"
	"sync"
)

type MemEngine struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemEngine() *MemEngine {
	return &MemEngine{m: make(map[string][]byte)}
}

func (e *MemEngine) Get(key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.m[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (e *MemEngine) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.m[string(key)] = append([]byte(nil), value...)
	return nil
}

func (e *MemEngine) Delete(key []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.m[string(key)]
	delete(e.m, string(key))
	return ok, nil
}

func (e *MemEngine) Range(fn func(key, value []byte) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	keys := make([]string, 0, len(e.m))
	for k := range e.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn([]byte(k), e.m[k]); err != nil {
			return err
		}
	}
	return nil
}

func (e *MemEngine) Close() error { return nil }
