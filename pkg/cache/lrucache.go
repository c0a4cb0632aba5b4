package cache

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
)

// lruItem is the internal structure stored in the linked list.
type lruItem struct {
	key   string
	entry Entry
}

// LRUStore is a thread-safe, in-memory Store with a fixed capacity and a Least
// Recently Used eviction policy. Use it instead of InMemoryStore when the
// process lives long enough for unbounded growth to matter.
type LRUStore struct {
	maxEntries int

	mu    sync.Mutex
	ll    *list.List // Front is most recently used.
	items map[string]*list.Element
}

// NewLRUStore creates a size-limited store. maxEntries must be > 0.
func NewLRUStore(maxEntries int) (*LRUStore, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("maxEntries must be greater than 0")
	}
	return &LRUStore{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}, nil
}

// Get retrieves an entry and marks it as most recently used.
func (s *LRUStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	s.ll.MoveToFront(elem)
	return elem.Value.(*lruItem).entry, true, nil
}

// Set stores an entry, evicting the least recently used one when over capacity.
func (s *LRUStore) Set(_ context.Context, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.items[key]; ok {
		elem.Value.(*lruItem).entry = entry
		s.ll.MoveToFront(elem)
		return nil
	}
	s.items[key] = s.ll.PushFront(&lruItem{key: key, entry: entry})
	if s.ll.Len() > s.maxEntries {
		s.evict()
	}
	return nil
}

// Delete removes a key.
func (s *LRUStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.items[key]; ok {
		s.ll.Remove(elem)
		delete(s.items, key)
	}
	return nil
}

// DeleteMatching removes every key containing pattern.
func (s *LRUStore) DeleteMatching(_ context.Context, pattern string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, elem := range s.items {
		if strings.Contains(key, pattern) {
			s.ll.Remove(elem)
			delete(s.items, key)
			removed++
		}
	}
	return removed, nil
}

// Clear removes every entry.
func (s *LRUStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ll.Init()
	s.items = make(map[string]*list.Element)
	return nil
}

// Len returns the number of stored entries.
func (s *LRUStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

// evict removes the least recently used item. Must be called with mu held.
func (s *LRUStore) evict() {
	back := s.ll.Back()
	if back != nil {
		item := s.ll.Remove(back).(*lruItem)
		delete(s.items, item.key)
	}
}

// Close is a no-op for the in-memory store.
func (s *LRUStore) Close() error {
	return nil
}
