package localstore

import (
	"sort"
	"sync"
)

// LocalAnnotation is one annotation as the host reader application stores
// it. Key is the store's own stable identifier; DocumentID is the external
// id (e.g. DOI) of the item the annotation belongs to.
type LocalAnnotation struct {
	Key        string
	DocumentID string
	Type       string
	Text       string
	Comment    string
	Color      string
	Position   string
	Tags       []string
	PageNumber int
}

// Listener receives the store's change notifications. Callbacks run
// synchronously on the store's dispatch path and must not panic; the sync
// engine wraps its own handlers accordingly.
type Listener struct {
	OnAdded   func(annotation LocalAnnotation)
	OnDeleted func(key string)
}

// Store abstracts whatever annotation storage the host application offers.
// The sync engine only reads: it never mutates local annotations.
type Store interface {
	AnnotationsForDocument(documentID string) []LocalAnnotation
	Subscribe(listener Listener) (unsubscribe func())
}

// MemoryStore is an in-memory Store for hosts without a native annotation
// database, and for tests.
type MemoryStore struct {
	mu          sync.Mutex
	annotations map[string]LocalAnnotation
	listeners   map[int]Listener
	nextID      int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		annotations: map[string]LocalAnnotation{},
		listeners:   map[int]Listener{},
	}
}

func (s *MemoryStore) AnnotationsForDocument(documentID string) []LocalAnnotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []LocalAnnotation
	for _, annotation := range s.annotations {
		if annotation.DocumentID == documentID {
			result = append(result, annotation)
		}
	}
	return result
}

func (s *MemoryStore) Subscribe(listener Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Add stores the annotation and notifies subscribers in registration order.
func (s *MemoryStore) Add(annotation LocalAnnotation) {
	s.mu.Lock()
	s.annotations[annotation.Key] = annotation
	listeners := s.snapshotListeners()
	s.mu.Unlock()
	for _, listener := range listeners {
		if listener.OnAdded != nil {
			listener.OnAdded(annotation)
		}
	}
}

// Delete removes the annotation by key and notifies subscribers.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	_, ok := s.annotations[key]
	delete(s.annotations, key)
	listeners := s.snapshotListeners()
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, listener := range listeners {
		if listener.OnDeleted != nil {
			listener.OnDeleted(key)
		}
	}
}

func (s *MemoryStore) snapshotListeners() []Listener {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	result := make([]Listener, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.listeners[id])
	}
	return result
}
