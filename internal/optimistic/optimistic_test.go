package optimistic

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/forum-sync/internal/cache"
	"github.com/blackmichael/forum-sync/internal/domain"
)

func fixedID(id string) func() string {
	return func() string { return id }
}

func setup(t *testing.T, newID func() string) (*Applier, *cache.Store) {
	t.Helper()
	store := cache.NewStore()
	for _, q := range []domain.FeedQuery{
		{Scope: domain.GlobalScope, Sort: domain.SortNew, Limit: 10},
		{Scope: domain.GlobalScope, Sort: domain.SortTop, Limit: 10},
		{Scope: "t2", Sort: domain.SortNew, Limit: 10},
	} {
		store.PutFeed(q.Key(), func(f *domain.Feed) *domain.Feed {
			return cache.MergePage(f, domain.FeedPage{Query: q, Posts: []domain.Post{
				{ID: "1", ThreadID: "t1"},
				{ID: "2", ThreadID: "t1"},
			}})
		})
	}
	return New(store, newID, slog.New(slog.DiscardHandler)), store
}

func ids(f *domain.Feed) []string {
	var out []string
	for _, p := range f.Posts() {
		out = append(out, p.ID)
	}
	return out
}

func TestAddPost_PrependsEvenToRankedFeeds(t *testing.T) {
	a, store := setup(t, fixedID("temp_123"))

	p := a.AddPost(domain.Post{ThreadID: "t1", Title: "mine"})

	assert.Equal(t, "temp_123", p.ID)
	assert.Equal(t, []string{"temp_123", "1", "2"}, ids(store.Feed("global/new")))
	assert.Equal(t, []string{"temp_123", "1", "2"}, ids(store.Feed("global/top")))
	assert.Equal(t, []string{"1", "2"}, ids(store.Feed("t2/new")), "other threads are untouched")
}

func TestReconcilePost_ConfirmationBeforePush(t *testing.T) {
	a, store := setup(t, fixedID("temp_123"))
	a.AddPost(domain.Post{ThreadID: "t1"})

	require.True(t, a.ReconcilePost("temp_123", domain.Post{ID: "987", ThreadID: "t1"}))
	_, err := store.Apply(domain.Update{Kind: domain.KindPostCreated, Payload: domain.Post{ID: "987", ThreadID: "t1"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"987", "1", "2"}, ids(store.Feed("global/new")))
}

func TestReconcilePost_PushBeforeConfirmation(t *testing.T) {
	a, store := setup(t, fixedID("temp_123"))
	a.AddPost(domain.Post{ThreadID: "t1"})
	_, err := store.Apply(domain.Update{Kind: domain.KindPostCreated, Payload: domain.Post{ID: "987", ThreadID: "t1"}})
	require.NoError(t, err)
	require.Equal(t, []string{"987", "temp_123", "1", "2"}, ids(store.Feed("global/new")))

	a.ReconcilePost("temp_123", domain.Post{ID: "987", ThreadID: "t1"})
	a.ReconcilePost("temp_123", domain.Post{ID: "987", ThreadID: "t1"})

	assert.Equal(t, []string{"987", "1", "2"}, ids(store.Feed("global/new")))
	assert.Equal(t, []string{"987", "1", "2"}, ids(store.Feed("global/top")))
}

func TestDiscardPost(t *testing.T) {
	a, store := setup(t, nil)
	p := a.AddPost(domain.Post{ThreadID: "t1"})
	require.True(t, IsTemp(p.ID))

	assert.True(t, a.DiscardPost(p.ID))
	assert.False(t, a.DiscardPost("1"), "server identities are never discarded")
	assert.Equal(t, []string{"1", "2"}, ids(store.Feed("global/new")))
}

func TestComments_AddReconcile(t *testing.T) {
	a, store := setup(t, fixedID("temp_c"))
	store.PutComments("1", func(*domain.CommentTree) *domain.CommentTree {
		return cache.BuildCommentTree("1", []domain.Comment{{ID: "c1", PostID: "1"}})
	})

	c, ok := a.AddComment(domain.Comment{PostID: "1", ParentID: "c1", Content: "hi"})
	require.True(t, ok)
	assert.Equal(t, "temp_c", c.ID)
	p, _ := store.Feed("global/new").Find("1")
	assert.Equal(t, 1, p.CommentCount)

	require.True(t, a.ReconcileComment("temp_c", domain.Comment{ID: "c2", PostID: "1", ParentID: "c1", Content: "hi"}))

	tree := store.Comments("1")
	_, hasTemp := tree.Find("temp_c")
	assert.False(t, hasTemp)
	got, ok := tree.Find("c2")
	require.True(t, ok)
	assert.True(t, got.VoteKnown)
	p, _ = store.Feed("global/new").Find("1")
	assert.Equal(t, 1, p.CommentCount)
}

func TestComments_ReconcileAfterPush(t *testing.T) {
	a, store := setup(t, fixedID("temp_c"))
	store.PutComments("1", func(*domain.CommentTree) *domain.CommentTree {
		return &domain.CommentTree{PostID: "1"}
	})
	a.AddComment(domain.Comment{PostID: "1"})
	_, err := store.Apply(domain.Update{Kind: domain.KindCommentCreated, Payload: domain.Comment{ID: "c9", PostID: "1"}})
	require.NoError(t, err)

	require.True(t, a.ReconcileComment("temp_c", domain.Comment{ID: "c9", PostID: "1"}))

	assert.Equal(t, 1, store.Comments("1").Len())
	p, _ := store.Feed("global/new").Find("1")
	assert.Equal(t, 1, p.CommentCount)
}

func TestApplyVote_ConfirmationIsIdempotent(t *testing.T) {
	a, store := setup(t, nil)
	p := a.AddPost(domain.Post{ThreadID: "t1"})
	vote := domain.VoteUpdate{Subject: domain.SubjectPost, SubjectID: p.ID, Direction: domain.VoteUp}

	assert.True(t, a.ApplyVote(vote))
	_, err := store.Apply(domain.Update{Kind: domain.KindPostVoteUpdated, Payload: vote})
	require.NoError(t, err)

	got, _ := store.Feed("global/new").Find(p.ID)
	assert.Equal(t, 1, got.VoteCount)
}

func TestApplyWalletDelta(t *testing.T) {
	a, store := setup(t, nil)
	store.PutWallet(func(w *domain.Wallet) *domain.Wallet {
		return cache.SetWallet(w, domain.WalletUpdate{Balance: 500})
	})

	a.ApplyWalletDelta(-50)

	assert.Equal(t, int64(450), store.Wallet().Display())
	_, err := store.Apply(domain.Update{Kind: domain.KindBalanceUpdated, Payload: domain.WalletUpdate{Balance: 450}})
	require.NoError(t, err)
	assert.Equal(t, int64(450), store.Wallet().Display())
	assert.Zero(t, store.Wallet().PendingDelta)
}

func TestIsTemp(t *testing.T) {
	assert.True(t, IsTemp(NewTempID()))
	assert.False(t, IsTemp("987"))
}
