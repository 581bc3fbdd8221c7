package domain

import "time"

// Post is the canonical client-side view of a forum post.
type Post struct {
	// ID is the server identity, or a temp_ prefixed identity for
	// optimistic posts that the server has not confirmed yet.
	ID string

	// ThreadID is the board or thread the post belongs to.
	ThreadID string

	AuthorID   string
	AuthorName string
	Title      string
	Content    string
	CreatedAt  time.Time
	EditedAt   *time.Time

	// VoteCount is the net score. UserVote is the session user's own vote,
	// only meaningful when VoteKnown is set.
	VoteCount int
	UserVote  VoteDirection
	VoteKnown bool

	CommentCount int

	// BoostedUntil is set while the post is boosted.
	BoostedUntil *time.Time
}

// Identity returns the post's identity key.
func (p Post) Identity() string {
	return p.ID
}

// Boosted reports whether the post is boosted at the given instant.
func (p Post) Boosted(now time.Time) bool {
	return p.BoostedUntil != nil && now.Before(*p.BoostedUntil)
}

// PostPatch carries the fields of a partial post update. Nil fields are left
// untouched.
type PostPatch struct {
	ID           string
	Title        *string
	Content      *string
	EditedAt     *time.Time
	CommentCount *int
}

// Apply merges the patch into p and returns the result.
func (pp PostPatch) Apply(p Post) Post {
	if pp.Title != nil {
		p.Title = *pp.Title
	}
	if pp.Content != nil {
		p.Content = *pp.Content
	}
	if pp.EditedAt != nil {
		t := *pp.EditedAt
		p.EditedAt = &t
	}
	if pp.CommentCount != nil {
		p.CommentCount = *pp.CommentCount
	}
	return p
}

// PostRef addresses a post that is being removed.
type PostRef struct {
	ID       string
	ThreadID string
}

// BoostUpdate marks a post as boosted until the given instant.
type BoostUpdate struct {
	PostID string
	Until  time.Time
}
