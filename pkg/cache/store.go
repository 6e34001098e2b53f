package cache

import (
	"container/list"
	"sync"
)

type entry[V any] struct {
	key   string
	value V
}

// store keeps entries in recency order, front first. With limit > 0 the back
// entry is evicted once the store grows past limit. Without a limit recency is
// never consulted, so hits only take the read lock.
type store[V any] struct {
	mu      sync.RWMutex
	limit   int
	index   map[string]*list.Element
	recency *list.List

	stats   *Statistics
	onEvict EvictCallback[V]
}

func newStore[V any](limit int, stats *Statistics, onEvict EvictCallback[V]) *store[V] {
	return &store[V]{
		limit:   limit,
		index:   make(map[string]*list.Element),
		recency: list.New(),
		stats:   stats,
		onEvict: onEvict,
	}
}

func (s *store[V]) Get(key string) (V, bool) {
	if s.limit == 0 {
		value, ok := s.Peek(key)
		s.stats.lookup(ok)
		return value, ok
	}

	s.mu.Lock()
	el, ok := s.index[key]
	var value V
	if ok {
		s.recency.MoveToFront(el)
		value = el.Value.(*entry[V]).value
	}
	s.mu.Unlock()

	s.stats.lookup(ok)
	return value, ok
}

func (s *store[V]) Peek(key string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if el, ok := s.index[key]; ok {
		return el.Value.(*entry[V]).value, true
	}
	var zero V
	return zero, false
}

func (s *store[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	s.mu.Lock()
	if el, ok := s.index[key]; ok {
		el.Value.(*entry[V]).value = value
		s.recency.MoveToFront(el)
		s.mu.Unlock()
		s.stats.insert(false)
		return false, nil
	}

	s.index[key] = s.recency.PushFront(&entry[V]{key: key, value: value})
	var evicted []*entry[V]
	for s.limit > 0 && len(s.index) > s.limit {
		evicted = append(evicted, s.unlink(s.recency.Back()))
	}
	size := len(s.index)
	s.mu.Unlock()

	s.stats.insert(true)
	s.stats.resize(size)
	for _, e := range evicted {
		s.stats.evict()
		s.notify(e)
	}
	return true, nil
}

func (s *store[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	s.mu.Lock()
	el, ok := s.index[key]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	e := s.unlink(el)
	size := len(s.index)
	s.mu.Unlock()

	s.stats.remove()
	s.stats.resize(size)
	s.notify(e)
	return true, nil
}

func (s *store[V]) Clear() {
	s.mu.Lock()
	old := s.recency
	s.index = make(map[string]*list.Element)
	s.recency = list.New()
	s.mu.Unlock()

	s.stats.resize(0)
	for el := old.Back(); el != nil; el = el.Prev() {
		s.notify(el.Value.(*entry[V]))
	}
}

func (s *store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

func (s *store[V]) Stats() *Statistics {
	return s.stats
}

// unlink removes el from both indexes. Caller holds s.mu.
func (s *store[V]) unlink(el *list.Element) *entry[V] {
	e := s.recency.Remove(el).(*entry[V])
	delete(s.index, e.key)
	return e
}

func (s *store[V]) notify(e *entry[V]) {
	if s.onEvict != nil {
		s.onEvict(e.key, e.value)
	}
}
