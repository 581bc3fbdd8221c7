package domain

import "time"

// UpdateKind names the typed change an Update carries.
type UpdateKind string

const (
	KindPostCreated        UpdateKind = "post-created"
	KindPostUpdated        UpdateKind = "post-updated"
	KindPostDeleted        UpdateKind = "post-deleted"
	KindPostBoosted        UpdateKind = "post-boosted"
	KindPostVoteUpdated    UpdateKind = "post-vote-updated"
	KindCommentCreated     UpdateKind = "comment-created"
	KindCommentEdited      UpdateKind = "comment-edited"
	KindCommentDeleted     UpdateKind = "comment-deleted"
	KindCommentVoteUpdated UpdateKind = "comment-vote-updated"
	KindBalanceUpdated     UpdateKind = "balance-updated"
	KindFeedRefreshed      UpdateKind = "feed-refreshed"
)

// Update is the unit that flows from ingestion through the update queue into
// the cache. Payload holds the canonical type for the kind:
//
//	post-created, post-updated        Post (post-updated also accepts PostPatch)
//	post-deleted                      PostRef
//	post-boosted                      BoostUpdate
//	post-vote-updated                 VoteUpdate
//	comment-created, comment-edited   Comment (comment-edited also accepts CommentPatch)
//	comment-deleted                   CommentRef
//	comment-vote-updated              VoteUpdate
//	balance-updated                   WalletUpdate
//	feed-refreshed                    FeedPage
type Update struct {
	Kind      UpdateKind
	TargetKey string
	Payload   any
	Timestamp time.Time
}

// CoalesceKey is the key under which newer updates replace older unflushed
// ones.
func (u Update) CoalesceKey() string {
	return string(u.Kind) + "|" + u.TargetKey
}
