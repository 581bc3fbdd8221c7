package cache

import (
	"errors"
	"fmt"

	"github.com/blackmichael/forum-sync/internal/domain"
)

// ErrPayload is returned when an update's payload does not have the type its
// kind requires.
var ErrPayload = errors.New("unexpected payload type")

// Apply routes an update to the mutators for its kind and writes the
// results. It reports whether any snapshot changed. Updates addressing
// content that is not cached are no-ops.
func (s *Store) Apply(u domain.Update) (bool, error) {
	switch u.Kind {
	case domain.KindPostCreated:
		p, ok := u.Payload.(domain.Post)
		if !ok {
			return false, payloadError(u)
		}
		return s.insertPost(p), nil

	case domain.KindPostUpdated:
		switch p := u.Payload.(type) {
		case domain.Post:
			return s.replacePost(p), nil
		case domain.PostPatch:
			return s.patchPost(p), nil
		}
		return false, payloadError(u)

	case domain.KindPostDeleted:
		ref, ok := u.Payload.(domain.PostRef)
		if !ok {
			return false, payloadError(u)
		}
		return s.RemovePostEverywhere(ref.ID), nil

	case domain.KindPostBoosted:
		b, ok := u.Payload.(domain.BoostUpdate)
		if !ok {
			return false, payloadError(u)
		}
		n := s.ModifyFeeds(func(f *domain.Feed) *domain.Feed { return BoostPost(f, b) })
		changed := s.ModifyPost(b.PostID, func(p *domain.Post) *domain.Post { return BoostSinglePost(p, b) })
		return n > 0 || changed, nil

	case domain.KindPostVoteUpdated:
		v, ok := u.Payload.(domain.VoteUpdate)
		if !ok {
			return false, payloadError(u)
		}
		return s.votePost(v), nil

	case domain.KindCommentCreated:
		c, ok := u.Payload.(domain.Comment)
		if !ok {
			return false, payloadError(u)
		}
		return s.insertComment(c), nil

	case domain.KindCommentEdited:
		switch c := u.Payload.(type) {
		case domain.Comment:
			return s.editComment(c.PostID, c.ID, func(t *domain.CommentTree) *domain.CommentTree {
				if _, ok := t.Find(c.ID); !ok {
					return t
				}
				return InsertComment(t, c)
			}), nil
		case domain.CommentPatch:
			return s.editComment(c.PostID, c.ID, func(t *domain.CommentTree) *domain.CommentTree {
				return UpdateComment(t, c)
			}), nil
		}
		return false, payloadError(u)

	case domain.KindCommentDeleted:
		ref, ok := u.Payload.(domain.CommentRef)
		if !ok {
			return false, payloadError(u)
		}
		return s.RemoveCommentEverywhere(ref), nil

	case domain.KindCommentVoteUpdated:
		v, ok := u.Payload.(domain.VoteUpdate)
		if !ok {
			return false, payloadError(u)
		}
		return s.editComment(v.PostID, v.SubjectID, func(t *domain.CommentTree) *domain.CommentTree {
			return VoteComment(t, v)
		}), nil

	case domain.KindBalanceUpdated:
		w, ok := u.Payload.(domain.WalletUpdate)
		if !ok {
			return false, payloadError(u)
		}
		if w.At.IsZero() {
			w.At = u.Timestamp
		}
		return s.PutWallet(func(cur *domain.Wallet) *domain.Wallet { return SetWallet(cur, w) }), nil

	case domain.KindFeedRefreshed:
		page, ok := u.Payload.(domain.FeedPage)
		if !ok {
			return false, payloadError(u)
		}
		return s.PutFeed(page.Query.Key(), func(f *domain.Feed) *domain.Feed { return MergePage(f, page) }), nil
	}
	return false, fmt.Errorf("unknown update kind %q", u.Kind)
}

// RemovePostEverywhere drops a post from every feed and discards its detail
// snapshot and comment tree.
func (s *Store) RemovePostEverywhere(id string) bool {
	n := s.ModifyFeeds(func(f *domain.Feed) *domain.Feed { return RemovePost(f, id) })
	dropped := s.DropPost(id)
	return n > 0 || dropped
}

// RemoveCommentEverywhere removes a comment and decrements its post's
// comment count when the comment was cached.
func (s *Store) RemoveCommentEverywhere(ref domain.CommentRef) bool {
	postID := ref.PostID
	if postID == "" {
		postID = s.treeContaining(ref.ID)
	}
	if postID == "" {
		return false
	}
	removed := s.ModifyComments(postID, func(t *domain.CommentTree) *domain.CommentTree {
		return RemoveComment(t, ref.ID)
	})
	if removed {
		s.adjustCommentCount(postID, -1)
	}
	return removed
}

func (s *Store) insertPost(p domain.Post) bool {
	n := s.ModifyFeeds(func(f *domain.Feed) *domain.Feed {
		if !f.Accepts(p) {
			return f
		}
		return InsertPost(f, p)
	})
	changed := s.ModifyPost(p.ID, func(cur *domain.Post) *domain.Post { return MergePost(cur, p) })
	return n > 0 || changed
}

func (s *Store) replacePost(p domain.Post) bool {
	n := s.ModifyFeeds(func(f *domain.Feed) *domain.Feed { return ReplacePost(f, p) })
	changed := s.ModifyPost(p.ID, func(cur *domain.Post) *domain.Post { return MergePost(cur, p) })
	return n > 0 || changed
}

func (s *Store) patchPost(p domain.PostPatch) bool {
	n := s.ModifyFeeds(func(f *domain.Feed) *domain.Feed { return PatchPost(f, p) })
	changed := s.ModifyPost(p.ID, func(cur *domain.Post) *domain.Post { return PatchSinglePost(cur, p) })
	return n > 0 || changed
}

func (s *Store) votePost(v domain.VoteUpdate) bool {
	n := s.ModifyFeeds(func(f *domain.Feed) *domain.Feed { return VoteFeedPost(f, v) })
	changed := s.ModifyPost(v.SubjectID, func(cur *domain.Post) *domain.Post { return VoteSinglePost(cur, v) })
	return n > 0 || changed
}

func (s *Store) insertComment(c domain.Comment) bool {
	if c.PostID == "" {
		return false
	}
	// Without a loaded tree the comment cannot be placed, but the cached
	// post still gains a comment.
	if s.Comments(c.PostID) == nil {
		return s.adjustCommentCount(c.PostID, 1)
	}
	var added bool
	changed := s.ModifyComments(c.PostID, func(t *domain.CommentTree) *domain.CommentTree {
		_, existed := t.Find(c.ID)
		next := InsertComment(t, c)
		added = !existed && next != t
		return next
	})
	if added {
		s.adjustCommentCount(c.PostID, 1)
	}
	return changed
}

// editComment rewrites the tree holding commentID. postID may be empty, in
// which case the tree is found by searching every cached tree.
func (s *Store) editComment(postID, commentID string, fn func(*domain.CommentTree) *domain.CommentTree) bool {
	if postID == "" {
		postID = s.treeContaining(commentID)
	}
	if postID == "" {
		return false
	}
	return s.ModifyComments(postID, fn)
}

func (s *Store) treeContaining(commentID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for postID, t := range s.comments {
		if _, ok := t.Find(commentID); ok {
			return postID
		}
	}
	return ""
}

func (s *Store) adjustCommentCount(postID string, delta int) bool {
	n := s.ModifyFeeds(func(f *domain.Feed) *domain.Feed { return AdjustCommentCount(f, postID, delta) })
	changed := s.ModifyPost(postID, func(p *domain.Post) *domain.Post { return AdjustSingleCommentCount(p, postID, delta) })
	return n > 0 || changed
}

func payloadError(u domain.Update) error {
	return fmt.Errorf("%s: %w %T", u.Kind, ErrPayload, u.Payload)
}
