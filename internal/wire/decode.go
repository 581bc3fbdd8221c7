package wire

import (
	"encoding/json"
	"fmt"

	"github.com/blackmichael/forum-sync/internal/domain"
)

// Field names seen for each canonical field, in lookup order.
var (
	postNested    = []string{"info", "post_info", "post"}
	commentNested = []string{"info", "comment_info", "comment"}

	postIDKeys    = []string{"id", "post_id", "postId"}
	commentIDKeys = []string{"id", "comment_id", "commentId"}
	threadKeys    = []string{"thread_id", "threadId", "board_id", "category_id"}
	authorIDKeys  = []string{"author_id", "authorId", "user_id", "userId"}
	authorKeys    = []string{"author_name", "authorName", "username", "author"}
	contentKeys   = []string{"content", "body", "text"}
	createdKeys   = []string{"created_at", "createdAt", "timestamp"}
	editedKeys    = []string{"edited_at", "editedAt", "updated_at", "updatedAt"}
	voteCountKeys = []string{"vote_count", "voteCount", "votes", "score"}
	userVoteKeys  = []string{"user_vote", "userVote", "my_vote"}
	directionKeys = []string{"vote_type", "voteType", "direction", "vote", "value"}
	priorKeys     = []string{"previous_vote", "previousVote", "prior_vote", "old_vote"}
)

// DecodePost normalizes one post payload.
func DecodePost(raw []byte) (domain.Post, error) {
	f, err := parseFields(raw, postNested...)
	if err != nil {
		return domain.Post{}, err
	}
	return postFrom(f)
}

func postFrom(f fields) (domain.Post, error) {
	p := domain.Post{
		ID:         f.id(postIDKeys...),
		ThreadID:   f.id(threadKeys...),
		AuthorID:   f.id(authorIDKeys...),
		AuthorName: f.str(authorKeys...),
		Title:      f.str("title"),
		Content:    f.str(contentKeys...),
		EditedAt:   f.timePtr(editedKeys...),
	}
	if p.ID == "" {
		return domain.Post{}, ErrNoIdentity
	}
	if t, ok := f.time(createdKeys...); ok {
		p.CreatedAt = t
	}
	if n, ok := f.int(voteCountKeys...); ok {
		p.VoteCount = int(n)
	}
	if n, ok := f.int("comment_count", "commentCount", "comments_count"); ok {
		p.CommentCount = int(n)
	}
	if d, ok := direction(f, userVoteKeys...); ok {
		p.UserVote = d
		p.VoteKnown = true
	}
	if t, ok := f.time("boosted_until", "boostedUntil", "boost_expires_at"); ok {
		p.BoostedUntil = &t
	}
	return p, nil
}

// DecodePosts normalizes a list of posts, sent either as an array or wrapped
// in an object. Entries without an identity or that fail to decode are
// dropped; dropped reports how many.
func DecodePosts(raw []byte) (posts []domain.Post, dropped int, err error) {
	items, err := list(raw, "posts", "data", "items", "results")
	if err != nil {
		return nil, 0, err
	}
	posts = make([]domain.Post, 0, len(items))
	for _, item := range items {
		p, err := DecodePost(item)
		if err != nil {
			dropped++
			continue
		}
		posts = append(posts, p)
	}
	return posts, dropped, nil
}

// DecodePostPatch normalizes a post edit. Only fields present in the payload
// are set.
func DecodePostPatch(raw []byte) (domain.PostPatch, error) {
	f, err := parseFields(raw, postNested...)
	if err != nil {
		return domain.PostPatch{}, err
	}
	patch := domain.PostPatch{
		ID:       f.id(postIDKeys...),
		Title:    f.strPtr("title"),
		Content:  f.strPtr(contentKeys...),
		EditedAt: f.timePtr(editedKeys...),
	}
	if patch.ID == "" {
		return domain.PostPatch{}, ErrNoIdentity
	}
	if n, ok := f.int("comment_count", "commentCount", "comments_count"); ok {
		c := int(n)
		patch.CommentCount = &c
	}
	return patch, nil
}

// DecodePostRef normalizes a post deletion.
func DecodePostRef(raw []byte) (domain.PostRef, error) {
	f, err := parseFields(raw, postNested...)
	if err != nil {
		return domain.PostRef{}, err
	}
	ref := domain.PostRef{ID: f.id(postIDKeys...), ThreadID: f.id(threadKeys...)}
	if ref.ID == "" {
		return domain.PostRef{}, ErrNoIdentity
	}
	return ref, nil
}

// DecodeComment normalizes one comment payload, including nested replies.
func DecodeComment(raw []byte) (domain.Comment, error) {
	f, err := parseFields(raw, commentNested...)
	if err != nil {
		return domain.Comment{}, err
	}
	return commentFrom(f, "")
}

func commentFrom(f fields, postID string) (domain.Comment, error) {
	c := domain.Comment{
		ID:         commentID(f),
		PostID:     f.id("post_id", "postId"),
		ParentID:   f.id("parent_id", "parentId", "parent_comment_id"),
		AuthorID:   f.id(authorIDKeys...),
		AuthorName: f.str(authorKeys...),
		Content:    f.str(contentKeys...),
		EditedAt:   f.timePtr(editedKeys...),
		Deleted:    f.bool("deleted", "is_deleted"),
	}
	if c.ID == "" {
		return domain.Comment{}, ErrNoIdentity
	}
	if c.PostID == "" {
		c.PostID = postID
	}
	if t, ok := f.time(createdKeys...); ok {
		c.CreatedAt = t
	}
	if n, ok := f.int(voteCountKeys...); ok {
		c.VoteCount = int(n)
	}
	if d, ok := direction(f, userVoteKeys...); ok {
		c.UserVote = d
		c.VoteKnown = true
	}

	if replies, ok := f.raw("replies", "children"); ok {
		items, err := list(replies, "replies", "children", "data")
		if err == nil {
			for _, item := range items {
				sub, err := parseFields(item, commentNested...)
				if err != nil {
					continue
				}
				child, err := commentFrom(sub, c.PostID)
				if err != nil {
					continue
				}
				if child.ParentID == "" {
					child.ParentID = c.ID
				}
				c.Children = append(c.Children, child)
			}
		}
	}
	return c, nil
}

// commentID prefers the explicit comment keys over a bare id.
func commentID(f fields) string {
	if id := f.id("comment_id", "commentId"); id != "" {
		return id
	}
	return f.id("id")
}

// DecodeComments normalizes a post's comment list. Comments without an
// identity are dropped.
func DecodeComments(raw []byte, postID string) (comments []domain.Comment, dropped int, err error) {
	items, err := list(raw, "comments", "data", "items", "results")
	if err != nil {
		return nil, 0, err
	}
	comments = make([]domain.Comment, 0, len(items))
	for _, item := range items {
		f, err := parseFields(item, commentNested...)
		if err != nil {
			dropped++
			continue
		}
		c, err := commentFrom(f, postID)
		if err != nil {
			dropped++
			continue
		}
		comments = append(comments, c)
	}
	return comments, dropped, nil
}

// DecodeCommentPatch normalizes a comment edit.
func DecodeCommentPatch(raw []byte) (domain.CommentPatch, error) {
	f, err := parseFields(raw, commentNested...)
	if err != nil {
		return domain.CommentPatch{}, err
	}
	patch := domain.CommentPatch{
		ID:       commentID(f),
		PostID:   f.id("post_id", "postId"),
		Content:  f.strPtr(contentKeys...),
		EditedAt: f.timePtr(editedKeys...),
	}
	if patch.ID == "" {
		return domain.CommentPatch{}, ErrNoIdentity
	}
	return patch, nil
}

// DecodeCommentRef normalizes a comment deletion.
func DecodeCommentRef(raw []byte) (domain.CommentRef, error) {
	f, err := parseFields(raw, commentNested...)
	if err != nil {
		return domain.CommentRef{}, err
	}
	ref := domain.CommentRef{ID: commentID(f), PostID: f.id("post_id", "postId")}
	if ref.ID == "" {
		return domain.CommentRef{}, ErrNoIdentity
	}
	return ref, nil
}

// DecodeVote normalizes a vote transition on a post or comment.
func DecodeVote(raw []byte, subject domain.SubjectType) (domain.VoteUpdate, error) {
	f, err := parseFields(raw, "info", "vote", "vote_info")
	if err != nil {
		return domain.VoteUpdate{}, err
	}
	u := domain.VoteUpdate{Subject: subject, PostID: f.id("post_id", "postId")}
	switch subject {
	case domain.SubjectComment:
		u.SubjectID = f.id("comment_id", "commentId", "target_id", "id")
	default:
		u.SubjectID = f.id("post_id", "postId", "target_id", "id")
	}
	if u.SubjectID == "" {
		return domain.VoteUpdate{}, ErrNoIdentity
	}
	d, ok := direction(f, directionKeys...)
	if !ok {
		return domain.VoteUpdate{}, fmt.Errorf("vote direction: %w", ErrMissingField)
	}
	u.Direction = d
	if prior, ok := direction(f, priorKeys...); ok {
		u.Prior = &prior
	}
	return u, nil
}

func direction(f fields, keys ...string) (domain.VoteDirection, bool) {
	v, ok := f.raw(keys...)
	if !ok {
		return domain.VoteNone, false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return domain.ParseVoteDirection(s)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return domain.ParseVoteDirection(n.String())
	}
	return domain.VoteNone, false
}

// DecodeWallet normalizes an absolute balance.
func DecodeWallet(raw []byte) (domain.WalletUpdate, error) {
	f, err := parseFields(raw, "wallet", "data")
	if err != nil {
		return domain.WalletUpdate{}, err
	}
	balance, ok := f.int("balance", "new_balance", "coin_balance", "coins")
	if !ok {
		return domain.WalletUpdate{}, fmt.Errorf("balance: %w", ErrMissingField)
	}
	u := domain.WalletUpdate{
		Balance: balance,
		Reason:  domain.DeltaReason(f.str("reason", "type", "delta_reason")),
	}
	if t, ok := f.time("updated_at", "updatedAt", "timestamp"); ok {
		u.At = t
	}
	return u, nil
}

// DecodeBoost normalizes a post boost.
func DecodeBoost(raw []byte) (domain.BoostUpdate, error) {
	f, err := parseFields(raw, postNested...)
	if err != nil {
		return domain.BoostUpdate{}, err
	}
	b := domain.BoostUpdate{PostID: f.id(postIDKeys...)}
	if b.PostID == "" {
		return domain.BoostUpdate{}, ErrNoIdentity
	}
	until, ok := f.time("boosted_until", "boostedUntil", "boost_expires_at", "expires_at")
	if !ok {
		return domain.BoostUpdate{}, fmt.Errorf("boost expiry: %w", ErrMissingField)
	}
	b.Until = until
	return b, nil
}

// DecodeBoostInfo normalizes the daily boost allowance.
func DecodeBoostInfo(raw []byte) (domain.BoostInfo, error) {
	f, err := parseFields(raw, "data", "boost_info")
	if err != nil {
		return domain.BoostInfo{}, err
	}
	var info domain.BoostInfo
	limit, ok := f.int("limit", "daily_limit", "max_boosts")
	if !ok {
		return domain.BoostInfo{}, fmt.Errorf("boost limit: %w", ErrMissingField)
	}
	info.Limit = int(limit)
	if used, ok := f.int("used", "used_today", "boosts_used"); ok {
		info.Used = int(used)
	} else if remaining, ok := f.int("remaining", "boosts_remaining"); ok {
		info.Used = max(info.Limit-int(remaining), 0)
	}
	if t, ok := f.time("resets_at", "reset_at", "next_reset"); ok {
		info.ResetsAt = t
	}
	return info, nil
}

// DecodePackages normalizes the coin package list.
func DecodePackages(raw []byte) ([]domain.Package, error) {
	items, err := list(raw, "packages", "data", "items")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Package, 0, len(items))
	for _, item := range items {
		f, err := parseFields(item)
		if err != nil {
			continue
		}
		p := domain.Package{ID: f.id("id", "package_id"), Name: f.str("name", "title")}
		if p.ID == "" {
			continue
		}
		if n, ok := f.int("coins", "coin_amount", "amount"); ok {
			p.Coins = n
		}
		p.Price = f.str("price", "display_price")
		if p.Price == "" {
			if v, ok := f.raw("price"); ok {
				p.Price = string(v)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// DecodeItems normalizes the list of purchasable items.
func DecodeItems(raw []byte) ([]domain.Item, error) {
	items, err := list(raw, "items", "data", "products")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Item, 0, len(items))
	for _, item := range items {
		f, err := parseFields(item)
		if err != nil {
			continue
		}
		it := domain.Item{
			ID:   f.id("id", "item_id"),
			Name: f.str("name", "title"),
			Kind: f.str("kind", "type", "category"),
		}
		if it.ID == "" {
			continue
		}
		if n, ok := f.int("cost", "price", "coin_cost"); ok {
			it.Cost = n
		}
		out = append(out, it)
	}
	return out, nil
}
