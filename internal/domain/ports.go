package domain

import "context"

// Backend is the REST surface the engine falls back to when push updates are
// unavailable, and uses for explicit loads.
type Backend interface {
	// ListFeed returns one page of a feed listing.
	ListFeed(ctx context.Context, q FeedQuery) ([]Post, error)

	// GetPost returns a single post.
	GetPost(ctx context.Context, id string) (Post, error)

	// ListComments returns the comment tree of a post.
	ListComments(ctx context.Context, postID string) ([]Comment, error)

	// GetWalletBalance returns the session user's absolute balance.
	GetWalletBalance(ctx context.Context) (WalletUpdate, error)

	// GetDailyBoostInfo returns the session user's boost allowance.
	GetDailyBoostInfo(ctx context.Context) (BoostInfo, error)

	// ListPackages returns the coin packages on sale.
	ListPackages(ctx context.Context) ([]Package, error)

	// ListItems returns the items purchasable with coins.
	ListItems(ctx context.Context) ([]Item, error)
}
