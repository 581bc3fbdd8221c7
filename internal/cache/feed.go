package cache

import (
	"github.com/blackmichael/forum-sync/internal/dedupe"
	"github.com/blackmichael/forum-sync/internal/domain"
)

// InsertPost places a live post into the feed. A post already present is
// replaced in place. Chronological feeds get the post at the head of the
// first page; ranked feeds only count it in PendingNew.
func InsertPost(f *domain.Feed, p domain.Post) *domain.Feed {
	if p.ID == "" {
		return f
	}
	if _, _, ok := f.Locate(p.ID); ok {
		return ReplacePost(f, p)
	}
	if f != nil && !f.Sort.AcceptsLiveInserts() {
		next := *f
		next.PendingNew++
		return &next
	}
	return prepend(f, p)
}

// PrependPost places the post at the head of the first page regardless of
// the feed's ordering. Used for the session user's own posts.
func PrependPost(f *domain.Feed, p domain.Post) *domain.Feed {
	if p.ID == "" {
		return f
	}
	if _, _, ok := f.Locate(p.ID); ok {
		return ReplacePost(f, p)
	}
	return prepend(f, p)
}

func prepend(f *domain.Feed, p domain.Post) *domain.Feed {
	next := domain.Feed{}
	if f != nil {
		next = *f
	}
	pages := make([][]domain.Post, max(len(next.Pages), 1))
	copy(pages, next.Pages)
	head := make([]domain.Post, 0, len(pages[0])+1)
	head = append(head, p)
	head = append(head, pages[0]...)
	pages[0] = head
	next.Pages = pages
	return &next
}

// ReplacePost swaps in a newer copy of a post that is already in the feed,
// keeping the cached vote state when the incoming copy does not carry one.
func ReplacePost(f *domain.Feed, p domain.Post) *domain.Feed {
	return UpdatePostFunc(f, p.ID, func(old domain.Post) (domain.Post, bool) {
		return mergePost(old, p), true
	})
}

// PatchPost applies a partial update to a post in the feed.
func PatchPost(f *domain.Feed, patch domain.PostPatch) *domain.Feed {
	return UpdatePostFunc(f, patch.ID, func(old domain.Post) (domain.Post, bool) {
		return patch.Apply(old), true
	})
}

// UpdatePostFunc rewrites the post with the given identity using fn. fn
// reports whether it changed anything; if it did not, or the post is not in
// the feed, f is returned unchanged.
func UpdatePostFunc(f *domain.Feed, id string, fn func(domain.Post) (domain.Post, bool)) *domain.Feed {
	i, j, ok := f.Locate(id)
	if !ok {
		return f
	}
	updated, changed := fn(f.Pages[i][j])
	if !changed {
		return f
	}
	next := *f
	next.Pages = make([][]domain.Post, len(f.Pages))
	copy(next.Pages, f.Pages)
	page := make([]domain.Post, len(f.Pages[i]))
	copy(page, f.Pages[i])
	page[j] = updated
	next.Pages[i] = page
	return &next
}

// RemovePost drops the post with the given identity from the feed.
func RemovePost(f *domain.Feed, id string) *domain.Feed {
	i, j, ok := f.Locate(id)
	if !ok {
		return f
	}
	next := *f
	next.Pages = make([][]domain.Post, len(f.Pages))
	copy(next.Pages, f.Pages)
	page := make([]domain.Post, 0, len(f.Pages[i])-1)
	page = append(page, f.Pages[i][:j]...)
	page = append(page, f.Pages[i][j+1:]...)
	next.Pages[i] = page
	return &next
}

// MergePage folds a fetched page into the feed. A first page is merged with
// the cached first page, fetched posts first, and resets PendingNew. Later
// pages replace the page at their index, even when earlier pages are not
// cached yet. Cross-page duplicates are removed
// after every merge.
func MergePage(f *domain.Feed, page domain.FeedPage) *domain.Feed {
	q := page.Query
	next := domain.Feed{
		ID:    q.Key(),
		Scope: q.Scope,
		Sort:  q.Sort,
	}
	if next.Scope == "" {
		next.Scope = domain.GlobalScope
	}
	if f != nil {
		next = *f
	}

	idx := q.PageIndex()
	// Pages that arrive ahead of earlier ones keep their index; the gap is
	// filled with empty pages until those are fetched.
	pages := make([][]domain.Post, max(len(next.Pages), idx+1))
	copy(pages, next.Pages)

	if idx == 0 {
		pages[0] = dedupe.MergeEntities(pages[0], page.Posts, dedupe.Prepend)
		next.PendingNew = 0
	} else {
		pages[idx] = dedupe.Dedupe(page.Posts)
	}

	next.Pages = dedupe.DedupeAcrossPages(pages)
	if idx >= len(next.Pages)-1 {
		next.HasMore = q.Limit > 0 && len(page.Posts) >= q.Limit
	}
	return &next
}

// AdjustCommentCount adds delta to the comment count of a post in the feed,
// never going below zero.
func AdjustCommentCount(f *domain.Feed, postID string, delta int) *domain.Feed {
	return UpdatePostFunc(f, postID, func(p domain.Post) (domain.Post, bool) {
		return adjustCount(p, delta)
	})
}

// BoostPost marks a post in the feed as boosted.
func BoostPost(f *domain.Feed, b domain.BoostUpdate) *domain.Feed {
	return UpdatePostFunc(f, b.PostID, func(p domain.Post) (domain.Post, bool) {
		return boost(p, b)
	})
}

// VoteFeedPost applies a vote transition to a post in the feed.
func VoteFeedPost(f *domain.Feed, u domain.VoteUpdate) *domain.Feed {
	return UpdatePostFunc(f, u.SubjectID, func(p domain.Post) (domain.Post, bool) {
		return votePost(p, u)
	})
}

func mergePost(old, incoming domain.Post) domain.Post {
	if !incoming.VoteKnown && old.VoteKnown {
		incoming.UserVote = old.UserVote
		incoming.VoteKnown = true
	}
	if incoming.BoostedUntil == nil {
		incoming.BoostedUntil = old.BoostedUntil
	}
	return incoming
}

func adjustCount(p domain.Post, delta int) (domain.Post, bool) {
	n := p.CommentCount + delta
	if n < 0 {
		n = 0
	}
	if n == p.CommentCount {
		return p, false
	}
	p.CommentCount = n
	return p, true
}

func boost(p domain.Post, b domain.BoostUpdate) (domain.Post, bool) {
	if p.BoostedUntil != nil && p.BoostedUntil.Equal(b.Until) {
		return p, false
	}
	until := b.Until
	p.BoostedUntil = &until
	return p, true
}
