package localstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreFiltersByDocument(t *testing.T) {
	store := NewMemoryStore()
	store.Add(LocalAnnotation{Key: "a", DocumentID: "doc-1", Text: "first"})
	store.Add(LocalAnnotation{Key: "b", DocumentID: "doc-2", Text: "other"})
	store.Add(LocalAnnotation{Key: "c", DocumentID: "doc-1", Text: "second"})

	got := store.AnnotationsForDocument("doc-1")
	require.Len(t, got, 2)
	for _, annotation := range got {
		assert.Equal(t, "doc-1", annotation.DocumentID)
	}
	assert.Empty(t, store.AnnotationsForDocument("doc-3"))
}

func TestMemoryStoreNotifiesInRegistrationOrder(t *testing.T) {
	store := NewMemoryStore()
	var order []string
	store.Subscribe(Listener{OnAdded: func(LocalAnnotation) { order = append(order, "first") }})
	store.Subscribe(Listener{OnAdded: func(LocalAnnotation) { order = append(order, "second") }})

	store.Add(LocalAnnotation{Key: "a", DocumentID: "doc-1"})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestMemoryStoreUnsubscribeStopsNotifications(t *testing.T) {
	store := NewMemoryStore()
	var added, deleted int
	unsubscribe := store.Subscribe(Listener{
		OnAdded:   func(LocalAnnotation) { added++ },
		OnDeleted: func(string) { deleted++ },
	})

	store.Add(LocalAnnotation{Key: "a", DocumentID: "doc-1"})
	store.Delete("a")
	require.Equal(t, 1, added)
	require.Equal(t, 1, deleted)

	unsubscribe()
	store.Add(LocalAnnotation{Key: "b", DocumentID: "doc-1"})
	store.Delete("b")
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, deleted)
}

func TestMemoryStoreDeleteUnknownKeyIsSilent(t *testing.T) {
	store := NewMemoryStore()
	var deleted int
	store.Subscribe(Listener{OnDeleted: func(string) { deleted++ }})

	store.Delete("missing")
	assert.Zero(t, deleted)
}
