package cache

import "github.com/blackmichael/forum-sync/internal/domain"

// Single-post snapshots back a post's detail view. They follow the same
// rules as feed mutators: nil is empty and no-ops return the input.

// MergePost replaces the post snapshot with a newer copy.
func MergePost(cur *domain.Post, p domain.Post) *domain.Post {
	if p.ID == "" {
		return cur
	}
	if cur == nil {
		return &p
	}
	if cur.ID != p.ID {
		return cur
	}
	merged := mergePost(*cur, p)
	return &merged
}

// PatchSinglePost applies a partial update to the post snapshot.
func PatchSinglePost(cur *domain.Post, patch domain.PostPatch) *domain.Post {
	return updatePost(cur, patch.ID, func(p domain.Post) (domain.Post, bool) {
		return patch.Apply(p), true
	})
}

// VoteSinglePost applies a vote transition to the post snapshot.
func VoteSinglePost(cur *domain.Post, u domain.VoteUpdate) *domain.Post {
	return updatePost(cur, u.SubjectID, func(p domain.Post) (domain.Post, bool) {
		return votePost(p, u)
	})
}

// BoostSinglePost marks the post snapshot as boosted.
func BoostSinglePost(cur *domain.Post, b domain.BoostUpdate) *domain.Post {
	return updatePost(cur, b.PostID, func(p domain.Post) (domain.Post, bool) {
		return boost(p, b)
	})
}

// AdjustSingleCommentCount adds delta to the snapshot's comment count.
func AdjustSingleCommentCount(cur *domain.Post, postID string, delta int) *domain.Post {
	return updatePost(cur, postID, func(p domain.Post) (domain.Post, bool) {
		return adjustCount(p, delta)
	})
}

func updatePost(cur *domain.Post, id string, fn func(domain.Post) (domain.Post, bool)) *domain.Post {
	if cur == nil || id == "" || cur.ID != id {
		return cur
	}
	next, changed := fn(*cur)
	if !changed {
		return cur
	}
	return &next
}
