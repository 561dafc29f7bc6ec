package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readsync/server/sessiond/domain"
)

func TestDocIDCacheNeverExpires(t *testing.T) {
	set := NewSet()
	now := time.Now()
	set.docIDs.now = func() time.Time { return now }

	set.PutDocID("10.1000/xyz123", "doc-1")

	now = now.Add(24 * time.Hour)
	got, ok := set.ResolveDocID("10.1000/xyz123")
	require.True(t, ok)
	assert.Equal(t, "doc-1", got)
}

func TestSocialCacheExpires(t *testing.T) {
	set := NewSet()
	now := time.Now()
	set.social.now = func() time.Time { return now }

	set.PutSocial("ann-1", SocialCounts{Likes: 3, Comments: 1})

	got, ok := set.Social("ann-1")
	require.True(t, ok)
	assert.Equal(t, 3, got.Likes)

	now = now.Add(SocialTTL + time.Second)
	_, ok = set.Social("ann-1")
	assert.False(t, ok, "expired entry must read as absent")

	// A fresh write after expiry starts a new TTL window.
	set.PutSocial("ann-1", SocialCounts{Likes: 4})
	got, ok = set.Social("ann-1")
	require.True(t, ok)
	assert.Equal(t, 4, got.Likes)
}

func TestSocialCacheMissIsAbsent(t *testing.T) {
	set := NewSet()
	_, ok := set.Social("never-set")
	assert.False(t, ok)
}

func TestAdjustSocial(t *testing.T) {
	set := NewSet()
	now := time.Now()
	set.social.now = func() time.Time { return now }

	assert.False(t, set.AdjustSocial("ann-1", 1, 0), "adjusting an uncached entry reports false")

	set.PutSocial("ann-1", SocialCounts{Likes: 2, Comments: 5})
	require.True(t, set.AdjustSocial("ann-1", 1, -1))

	got, ok := set.Social("ann-1")
	require.True(t, ok)
	assert.Equal(t, SocialCounts{Likes: 3, Comments: 4}, got)

	// Deltas clamp at zero rather than going negative.
	require.True(t, set.AdjustSocial("ann-1", -10, 0))
	got, _ = set.Social("ann-1")
	assert.Equal(t, 0, got.Likes)

	// An expired entry behaves like a miss.
	now = now.Add(SocialTTL + time.Second)
	assert.False(t, set.AdjustSocial("ann-1", 1, 0))
}

func TestMemberSnapshotCache(t *testing.T) {
	set := NewSet()
	now := time.Now()
	set.members.now = func() time.Time { return now }

	members := []domain.Member{{UserID: "u1", Online: true}, {UserID: "u2"}}
	set.PutMembers("sess-1", members)

	got, ok := set.Members("sess-1")
	require.True(t, ok)
	assert.Len(t, got, 2)

	now = now.Add(MemberSnapshotTTL + time.Millisecond)
	_, ok = set.Members("sess-1")
	assert.False(t, ok)
}

func TestInvalidateAndClearAll(t *testing.T) {
	set := NewSet()
	set.PutDocID("ext", "doc")
	set.PutSocial("ann", SocialCounts{Likes: 1})
	set.PutMembers("sess", []domain.Member{{UserID: "u1"}})

	set.InvalidateSocial("ann")
	_, ok := set.Social("ann")
	assert.False(t, ok)

	set.ClearAll()
	_, ok = set.ResolveDocID("ext")
	assert.False(t, ok)
	_, ok = set.Members("sess")
	assert.False(t, ok)
}
