package streaming

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Store is the persistence abstraction behind URLCache.
// Implementations can be unbounded maps or size-bounded LRUs.
// URLCache serializes access, so implementations need not be safe for
// concurrent use on their own.
type Store interface {
	Get(id ContentID) (ResolvedStream, bool)
	Set(id ContentID, s ResolvedStream)
	Delete(id ContentID) bool
	Len() int
}

// InMemoryStore is an unbounded map implementation of Store.
type InMemoryStore struct {
	streams map[ContentID]ResolvedStream
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		streams: make(map[ContentID]ResolvedStream),
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(id ContentID) (ResolvedStream, bool) {
	st, ok := s.streams[id]
	return st, ok
}

// Set implements Store.Set.
func (s *InMemoryStore) Set(id ContentID, st ResolvedStream) {
	s.streams[id] = st
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(id ContentID) bool {
	_, ok := s.streams[id]
	delete(s.streams, id)
	return ok
}

// Len implements Store.Len.
func (s *InMemoryStore) Len() int {
	return len(s.streams)
}

// LRUStore evicts the least recently used entry once size entries are held.
type LRUStore struct {
	entries *lru.Cache[ContentID, ResolvedStream]
}

// NewLRUStore returns an LRU store holding at most size entries.
func NewLRUStore(size int) (*LRUStore, error) {
	c, err := lru.New[ContentID, ResolvedStream](size)
	if err != nil {
		return nil, err
	}
	return &LRUStore{entries: c}, nil
}

// Get implements Store.Get.
func (s *LRUStore) Get(id ContentID) (ResolvedStream, bool) {
	return s.entries.Get(id)
}

// Set implements Store.Set.
func (s *LRUStore) Set(id ContentID, st ResolvedStream) {
	s.entries.Add(id, st)
}

// Delete implements Store.Delete.
func (s *LRUStore) Delete(id ContentID) bool {
	return s.entries.Remove(id)
}

// Len implements Store.Len.
func (s *LRUStore) Len() int {
	return s.entries.Len()
}
