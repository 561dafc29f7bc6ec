package cache

import (
	"sync"
	"time"

	"readsync/server/sessiond/domain"
)

const (
	SocialTTL         = 5 * time.Minute
	MemberSnapshotTTL = 5 * time.Second
)

type entry[V any] struct {
	value    V
	cachedAt time.Time
}

// ttlMap is a lazily-expiring map: a read past cachedAt+ttl reports absent,
// the same as a key that was never set. Expired entries are dropped on read,
// so no background sweep is needed.
type ttlMap[V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]entry[V]
	now   func() time.Time
}

func newTTLMap[V any](ttl time.Duration) *ttlMap[V] {
	return &ttlMap[V]{ttl: ttl, items: map[string]entry[V]{}, now: time.Now}
}

func (m *ttlMap[V]) get(key string) (V, bool) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	var zero V
	if !ok {
		return zero, false
	}
	if m.ttl > 0 && m.now().After(item.cachedAt.Add(m.ttl)) {
		m.mu.Lock()
		if current, still := m.items[key]; still && current.cachedAt.Equal(item.cachedAt) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return zero, false
	}
	return item.value, true
}

func (m *ttlMap[V]) set(key string, value V) {
	m.mu.Lock()
	m.items[key] = entry[V]{value: value, cachedAt: m.now()}
	m.mu.Unlock()
}

func (m *ttlMap[V]) update(key string, fn func(V) V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return false
	}
	if m.ttl > 0 && m.now().After(item.cachedAt.Add(m.ttl)) {
		delete(m.items, key)
		return false
	}
	item.value = fn(item.value)
	m.items[key] = item
	return true
}

func (m *ttlMap[V]) invalidate(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

func (m *ttlMap[V]) clear() {
	m.mu.Lock()
	m.items = map[string]entry[V]{}
	m.mu.Unlock()
}

// SocialCounts is the cached like/comment metadata for one remote annotation.
type SocialCounts struct {
	Likes    int
	Comments int
}

// Set bundles the three independent caches the engine consumes: the
// document-id resolver (process lifetime, immutable mappings), the
// per-annotation social cache, and the per-session member snapshot cache.
type Set struct {
	docIDs  *ttlMap[string]
	social  *ttlMap[SocialCounts]
	members *ttlMap[[]domain.Member]
}

func NewSet() *Set {
	return &Set{
		docIDs:  newTTLMap[string](0),
		social:  newTTLMap[SocialCounts](SocialTTL),
		members: newTTLMap[[]domain.Member](MemberSnapshotTTL),
	}
}

// ResolveDocID returns the internal document id cached for an external id
// (e.g. a DOI). Internal ids are immutable once created, so there is no TTL.
func (s *Set) ResolveDocID(externalID string) (string, bool) {
	return s.docIDs.get(externalID)
}

func (s *Set) PutDocID(externalID, internalID string) {
	s.docIDs.set(externalID, internalID)
}

func (s *Set) Social(annotationID string) (SocialCounts, bool) {
	return s.social.get(annotationID)
}

func (s *Set) PutSocial(annotationID string, counts SocialCounts) {
	s.social.set(annotationID, counts)
}

// AdjustSocial applies a like/comment delta to a cached entry in place. It
// reports false when nothing was cached (or the entry had expired), in which
// case the caller should fetch fresh counts instead.
func (s *Set) AdjustSocial(annotationID string, likeDelta, commentDelta int) bool {
	return s.social.update(annotationID, func(counts SocialCounts) SocialCounts {
		counts.Likes += likeDelta
		counts.Comments += commentDelta
		if counts.Likes < 0 {
			counts.Likes = 0
		}
		if counts.Comments < 0 {
			counts.Comments = 0
		}
		return counts
	})
}

func (s *Set) InvalidateSocial(annotationID string) {
	s.social.invalidate(annotationID)
}

func (s *Set) Members(sessionID string) ([]domain.Member, bool) {
	return s.members.get(sessionID)
}

func (s *Set) PutMembers(sessionID string, members []domain.Member) {
	s.members.set(sessionID, members)
}

func (s *Set) InvalidateMembers(sessionID string) {
	s.members.invalidate(sessionID)
}

func (s *Set) ClearAll() {
	s.docIDs.clear()
	s.social.clear()
	s.members.clear()
}
