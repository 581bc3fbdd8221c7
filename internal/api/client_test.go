package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/forum-sync/internal/domain"
)

func setup(t *testing.T, mux *http.ServeMux, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL + "/"
	return NewClient(opts, slog.New(slog.DiscardHandler))
}

func TestClient_ListFeed(t *testing.T) {
	mux := http.NewServeMux()
	var query, auth string
	mux.HandleFunc("GET /posts", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"posts": [{"id": 1, "title": "a"}, {"title": "no id"}, {"post_info": {"id": "2"}}]}`))
	})
	client := setup(t, mux, Options{Token: "tok"})

	posts, err := client.ListFeed(context.Background(), domain.FeedQuery{
		Scope: "t9", Sort: domain.SortHot, Duration: "week", Offset: 20, Limit: 20,
	})

	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "1", posts[0].ID)
	assert.Equal(t, "2", posts[1].ID)
	assert.Equal(t, "duration=week&limit=20&offset=20&sort=hot&thread_id=t9", query)
	assert.Equal(t, "Bearer tok", auth)
}

func TestClient_GlobalFeedOmitsScope(t *testing.T) {
	mux := http.NewServeMux()
	var query string
	mux.HandleFunc("GET /posts", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Write([]byte(`[]`))
	})
	client := setup(t, mux, Options{})

	posts, err := client.ListFeed(context.Background(), domain.FeedQuery{Scope: domain.GlobalScope, Sort: domain.SortNew})

	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Equal(t, "sort=new", query)
}

func TestClient_Endpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "` + r.PathValue("id") + `", "vote_count": 3}`))
	})
	mux.HandleFunc("GET /posts/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"comments": [{"id": "c1", "replies": [{"id": "c2"}]}]}`))
	})
	mux.HandleFunc("GET /wallet/balance", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balance": 500}`))
	})
	mux.HandleFunc("GET /boosts/daily", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"limit": 3, "used": 1}`))
	})
	mux.HandleFunc("GET /coins/packages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": "small", "name": "Small", "coins": 100, "price": "$0.99"}]`))
	})
	mux.HandleFunc("GET /shop/items", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items": [{"id": "frame", "name": "Gold frame", "cost": 250}]}`))
	})
	client := setup(t, mux, Options{})
	ctx := context.Background()

	p, err := client.GetPost(ctx, "p7")
	require.NoError(t, err)
	assert.Equal(t, "p7", p.ID)
	assert.Equal(t, 3, p.VoteCount)

	comments, err := client.ListComments(ctx, "p7")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "p7", comments[0].PostID)
	require.Len(t, comments[0].Children, 1)
	assert.Equal(t, "c1", comments[0].Children[0].ParentID)

	wallet, err := client.GetWalletBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), wallet.Balance)

	info, err := client.GetDailyBoostInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Remaining())

	pkgs, err := client.ListPackages(ctx)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, int64(100), pkgs[0].Coins)

	items, err := client.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(250), items[0].Cost)
}

func TestClient_ErrorMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts/limited", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("GET /posts/forbidden", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})
	client := setup(t, mux, Options{})
	ctx := context.Background()

	_, err := client.GetPost(ctx, "limited")
	var rl *domain.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	_, err = client.ListComments(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = client.GetPost(ctx, "forbidden")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.ErrorIs(t, err, ErrStatus)
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /wallet/balance", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	client := setup(t, mux, Options{BreakerFailures: 2, BreakerTimeout: time.Hour})
	ctx := context.Background()

	for range 2 {
		_, err := client.GetWalletBalance(ctx)
		assert.ErrorIs(t, err, ErrStatus)
	}
	_, err := client.GetWalletBalance(ctx)

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBreakerSuccess(t *testing.T) {
	assert.True(t, breakerSuccess(nil))
	assert.True(t, breakerSuccess(domain.ErrNotFound))
	assert.True(t, breakerSuccess(&domain.RateLimitError{}))
	assert.True(t, breakerSuccess(&StatusError{Code: 400}))
	assert.False(t, breakerSuccess(&StatusError{Code: 503}))
	assert.False(t, breakerSuccess(errors.New("connection refused")))
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Second, retryAfter("30", now))
	assert.Equal(t, 90*time.Second, retryAfter("Sun, 01 Mar 2026 12:01:30 GMT", now))
	assert.Zero(t, retryAfter("", now))
	assert.Zero(t, retryAfter("soon", now))
	assert.Zero(t, retryAfter("-5", now))
}
