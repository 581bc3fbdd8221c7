package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/forum-sync/internal/domain"
)

func loadedStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	q := domain.FeedQuery{Scope: domain.GlobalScope, Sort: domain.SortNew, Limit: 10}
	require.True(t, s.PutFeed(q.Key(), func(f *domain.Feed) *domain.Feed {
		return MergePage(f, domain.FeedPage{Query: q, Posts: []domain.Post{post("A"), post("B"), post("C")}})
	}))
	require.True(t, s.PutComments("B", func(*domain.CommentTree) *domain.CommentTree {
		return BuildCommentTree("B", []domain.Comment{
			{ID: "c1", PostID: "B"},
			{ID: "c2", PostID: "B", ParentID: "c1"},
		})
	}))
	return s
}

func TestStore_ModifyLeavesUnloadedKeysAlone(t *testing.T) {
	s := NewStore()

	changed := s.ModifyFeed("global/new", func(f *domain.Feed) *domain.Feed { return InsertPost(f, post("a")) })

	assert.False(t, changed)
	assert.Nil(t, s.Feed("global/new"))
	assert.Empty(t, s.Keys())
}

func TestStore_ListenersSeeEachReplacement(t *testing.T) {
	s := loadedStore(t)
	var got []Change
	unsubscribe := s.Subscribe(func(c Change) { got = append(got, c) })

	s.ModifyFeed("global/new", func(f *domain.Feed) *domain.Feed { return RemovePost(f, "A") })
	s.ModifyFeed("global/new", func(f *domain.Feed) *domain.Feed { return RemovePost(f, "A") })
	unsubscribe()
	unsubscribe()
	s.ModifyFeed("global/new", func(f *domain.Feed) *domain.Feed { return RemovePost(f, "B") })

	require.Len(t, got, 1)
	assert.Equal(t, Change{Key: "feed:global/new", Revision: 2}, got[0])
	assert.Equal(t, uint64(3), s.Revision(FeedKey("global/new")))
}

func TestStore_SnapshotByKey(t *testing.T) {
	s := loadedStore(t)

	assert.IsType(t, &domain.Feed{}, s.Snapshot("feed:global/new"))
	assert.IsType(t, &domain.CommentTree{}, s.Snapshot("comments:B"))
	assert.Nil(t, s.Snapshot(WalletKey))
	assert.Nil(t, s.Snapshot("post:nope"))
	assert.Equal(t, []string{"comments:B", "feed:global/new"}, s.Keys())
}

func TestApply_DuplicateCreatedPostReplacesInPlace(t *testing.T) {
	s := loadedStore(t)
	updated := post("B")
	updated.Title = "B prime"

	changed, err := s.Apply(domain.Update{Kind: domain.KindPostCreated, Payload: updated})

	require.NoError(t, err)
	assert.True(t, changed)
	f := s.Feed("global/new")
	assert.Equal(t, []string{"A", "B", "C"}, postIDs(f))
	got, _ := f.Find("B")
	assert.Equal(t, "B prime", got.Title)
}

func TestApply_CreatedPostOnlyEntersMatchingScope(t *testing.T) {
	s := loadedStore(t)
	q := domain.FeedQuery{Scope: "t2", Sort: domain.SortNew}
	s.PutFeed(q.Key(), func(f *domain.Feed) *domain.Feed {
		return MergePage(f, domain.FeedPage{Query: q})
	})

	_, err := s.Apply(domain.Update{Kind: domain.KindPostCreated, Payload: post("N")})
	require.NoError(t, err)

	assert.Equal(t, []string{"N", "A", "B", "C"}, postIDs(s.Feed("global/new")))
	assert.Empty(t, postIDs(s.Feed("t2/new")))
}

func TestApply_NestedReplyBumpsCommentCount(t *testing.T) {
	s := loadedStore(t)

	changed, err := s.Apply(domain.Update{
		Kind:    domain.KindCommentCreated,
		Payload: domain.Comment{ID: "c3", PostID: "B", ParentID: "c2"},
	})

	require.NoError(t, err)
	assert.True(t, changed)
	tree := s.Comments("B")
	assert.Equal(t, "c3", tree.Roots[0].Children[0].Children[0].ID)
	p, _ := s.Feed("global/new").Find("B")
	assert.Equal(t, 1, p.CommentCount)

	// a repeated delivery leaves the count alone
	_, err = s.Apply(domain.Update{
		Kind:    domain.KindCommentCreated,
		Payload: domain.Comment{ID: "c3", PostID: "B", ParentID: "c2"},
	})
	require.NoError(t, err)
	p, _ = s.Feed("global/new").Find("B")
	assert.Equal(t, 1, p.CommentCount)
}

func TestApply_CommentForUnloadedPostIsNoop(t *testing.T) {
	s := loadedStore(t)

	changed, err := s.Apply(domain.Update{
		Kind:    domain.KindCommentCreated,
		Payload: domain.Comment{ID: "x", PostID: "Z"},
	})

	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, s.Comments("Z"))
}

func TestApply_CommentWithoutLoadedTreeBumpsCount(t *testing.T) {
	s := loadedStore(t)
	s.PutPost("A", func(*domain.Post) *domain.Post {
		p := post("A")
		return &p
	})

	changed, err := s.Apply(domain.Update{
		Kind:    domain.KindCommentCreated,
		Payload: domain.Comment{ID: "c1", PostID: "A"},
	})

	require.NoError(t, err)
	assert.True(t, changed)
	assert.Nil(t, s.Comments("A"))
	p, ok := s.Feed("global/new").Find("A")
	require.True(t, ok)
	assert.Equal(t, 1, p.CommentCount)
	assert.Equal(t, 1, s.Post("A").CommentCount)
}

func TestApply_CommentDeletedWithoutPostID(t *testing.T) {
	s := loadedStore(t)

	changed, err := s.Apply(domain.Update{Kind: domain.KindCommentDeleted, Payload: domain.CommentRef{ID: "c2"}})

	require.NoError(t, err)
	assert.True(t, changed)
	c1, ok := s.Comments("B").Find("c1")
	require.True(t, ok)
	assert.Empty(t, c1.Children)
}

func TestApply_CommentEditIgnoresUnknownComment(t *testing.T) {
	s := loadedStore(t)

	changed, err := s.Apply(domain.Update{
		Kind:    domain.KindCommentEdited,
		Payload: domain.Comment{ID: "ghost", PostID: "B", Content: "x"},
	})

	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 2, s.Comments("B").Len())
}

func TestApply_PostDeletedDropsEverywhere(t *testing.T) {
	s := loadedStore(t)
	s.PutPost("B", func(*domain.Post) *domain.Post { p := post("B"); return &p })

	changed, err := s.Apply(domain.Update{Kind: domain.KindPostDeleted, Payload: domain.PostRef{ID: "B"}})

	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"A", "C"}, postIDs(s.Feed("global/new")))
	assert.Nil(t, s.Post("B"))
	assert.Nil(t, s.Comments("B"))
}

func TestApply_BalanceUsesUpdateTimestamp(t *testing.T) {
	s := NewStore()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	changed, err := s.Apply(domain.Update{
		Kind:      domain.KindBalanceUpdated,
		Payload:   domain.WalletUpdate{Balance: 75, Reason: domain.ReasonTipReceived},
		Timestamp: at,
	})

	require.NoError(t, err)
	assert.True(t, changed)
	w := s.Wallet()
	require.NotNil(t, w)
	assert.Equal(t, int64(75), w.Balance)
	assert.Equal(t, at, w.UpdatedAt)
}

func TestApply_VoteOnPostDetail(t *testing.T) {
	s := NewStore()
	p := post("P")
	p.VoteCount = 4
	p.VoteKnown = true
	s.PutPost("P", func(*domain.Post) *domain.Post { return &p })

	_, err := s.Apply(domain.Update{
		Kind:    domain.KindPostVoteUpdated,
		Payload: domain.VoteUpdate{Subject: domain.SubjectPost, SubjectID: "P", Direction: domain.VoteUp},
	})

	require.NoError(t, err)
	assert.Equal(t, 5, s.Post("P").VoteCount)
}

func TestApply_FeedRefreshedCreatesFeed(t *testing.T) {
	s := NewStore()
	q := domain.FeedQuery{Scope: "t9", Sort: domain.SortHot, Duration: "week", Limit: 1}

	changed, err := s.Apply(domain.Update{
		Kind:    domain.KindFeedRefreshed,
		Payload: domain.FeedPage{Query: q, Posts: []domain.Post{post("x")}},
	})

	require.NoError(t, err)
	assert.True(t, changed)
	f := s.Feed("t9/hot/week")
	require.NotNil(t, f)
	assert.True(t, f.HasMore)
}

func TestApply_RejectsWrongPayload(t *testing.T) {
	s := NewStore()

	_, err := s.Apply(domain.Update{Kind: domain.KindPostCreated, Payload: "nope"})
	require.ErrorIs(t, err, ErrPayload)

	_, err = s.Apply(domain.Update{Kind: "mystery"})
	require.Error(t, err)
}
