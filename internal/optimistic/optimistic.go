package optimistic

import (
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/blackmichael/forum-sync/internal/cache"
	"github.com/blackmichael/forum-sync/internal/domain"
)

// TempPrefix marks identities that the server has not assigned.
const TempPrefix = "temp_"

// NewTempID returns a fresh temporary identity.
func NewTempID() string {
	return TempPrefix + uuid.NewString()
}

// IsTemp reports whether id is a temporary identity.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// Applier performs optimistic writes on a store.
type Applier struct {
	store  *cache.Store
	newID  func() string
	logger *slog.Logger
}

// New creates an applier. newID generates temporary identities; nil means
// NewTempID.
func New(store *cache.Store, newID func() string, logger *slog.Logger) *Applier {
	if newID == nil {
		newID = NewTempID
	}
	return &Applier{store: store, newID: newID, logger: logger}
}

// AddPost puts a locally created post at the head of every loaded feed it
// belongs to, regardless of the feed's ordering. The post gets a temporary
// identity unless it already has one; the post as cached is returned.
func (a *Applier) AddPost(p domain.Post) domain.Post {
	if !IsTemp(p.ID) {
		p.ID = a.newID()
	}
	p.UserVote = domain.VoteNone
	p.VoteKnown = true

	n := a.store.ModifyFeeds(func(f *domain.Feed) *domain.Feed {
		if !f.Accepts(p) {
			return f
		}
		return cache.PrependPost(f, p)
	})
	a.logger.Debug("optimistic post added", "temp_id", p.ID, "feeds", n)
	return p
}

// ReconcilePost replaces the temporary post with the server's copy. Where
// the temporary post is cached, the confirmed post takes its place; where
// the confirmed post already arrived by push, the temporary one is simply
// removed. Calling it again with the same arguments changes nothing.
func (a *Applier) ReconcilePost(tempID string, confirmed domain.Post) bool {
	if confirmed.ID == "" || confirmed.ID == tempID {
		return false
	}
	n := a.store.ModifyFeeds(func(f *domain.Feed) *domain.Feed {
		return reconcileFeed(f, tempID, confirmed)
	})
	dropped := a.store.ModifyPost(tempID, func(*domain.Post) *domain.Post { return nil })
	a.logger.Debug("optimistic post reconciled", "temp_id", tempID, "id", confirmed.ID, "feeds", n)
	return n > 0 || dropped
}

func reconcileFeed(f *domain.Feed, tempID string, confirmed domain.Post) *domain.Feed {
	_, _, hasTemp := f.Locate(tempID)
	_, _, hasReal := f.Locate(confirmed.ID)
	switch {
	case hasTemp && hasReal:
		return cache.ReplacePost(cache.RemovePost(f, tempID), confirmed)
	case hasTemp:
		return cache.UpdatePostFunc(f, tempID, func(old domain.Post) (domain.Post, bool) {
			if !confirmed.VoteKnown {
				confirmed.UserVote = old.UserVote
				confirmed.VoteKnown = old.VoteKnown
			}
			return confirmed, true
		})
	case hasReal:
		return cache.ReplacePost(f, confirmed)
	}
	return f
}

// DiscardPost removes a temporary post whose creation failed.
func (a *Applier) DiscardPost(tempID string) bool {
	if !IsTemp(tempID) {
		return false
	}
	return a.store.RemovePostEverywhere(tempID)
}

// AddComment inserts a locally created comment into its post's comment tree
// and bumps the post's comment count. Trees that were never loaded are left
// alone.
func (a *Applier) AddComment(c domain.Comment) (domain.Comment, bool) {
	if a.store.Comments(c.PostID) == nil {
		return c, false
	}
	if !IsTemp(c.ID) {
		c.ID = a.newID()
	}
	c.UserVote = domain.VoteNone
	c.VoteKnown = true

	changed, err := a.store.Apply(domain.Update{Kind: domain.KindCommentCreated, TargetKey: c.ID, Payload: c})
	if err != nil {
		a.logger.Error("optimistic comment rejected", "temp_id", c.ID, "error", err)
		return c, false
	}
	return c, changed
}

// ReconcileComment replaces the temporary comment with the server's copy,
// keeping any replies already attached to it.
func (a *Applier) ReconcileComment(tempID string, confirmed domain.Comment) bool {
	if confirmed.ID == "" || confirmed.ID == tempID {
		return false
	}
	tree := a.store.Comments(confirmed.PostID)
	_, hasTemp := tree.Find(tempID)
	_, hasReal := tree.Find(confirmed.ID)
	switch {
	case hasTemp && hasReal:
		return a.store.RemoveCommentEverywhere(domain.CommentRef{ID: tempID, PostID: confirmed.PostID})
	case hasTemp:
		return a.store.ModifyComments(confirmed.PostID, func(t *domain.CommentTree) *domain.CommentTree {
			return cache.UpdateCommentFunc(t, tempID, func(old domain.Comment) (domain.Comment, bool) {
				if len(confirmed.Children) == 0 {
					confirmed.Children = old.Children
				}
				if !confirmed.VoteKnown {
					confirmed.UserVote = old.UserVote
					confirmed.VoteKnown = old.VoteKnown
				}
				return confirmed, true
			})
		})
	}
	return false
}

// DiscardComment removes a temporary comment whose creation failed.
func (a *Applier) DiscardComment(postID, tempID string) bool {
	if !IsTemp(tempID) {
		return false
	}
	return a.store.RemoveCommentEverywhere(domain.CommentRef{ID: tempID, PostID: postID})
}

// ApplyVote records the session user's vote before the server confirms it.
// The confirmation carries the same direction and is a no-op.
func (a *Applier) ApplyVote(u domain.VoteUpdate) bool {
	kind := domain.KindPostVoteUpdated
	if u.Subject == domain.SubjectComment {
		kind = domain.KindCommentVoteUpdated
	}
	changed, err := a.store.Apply(domain.Update{Kind: kind, TargetKey: u.SubjectID, Payload: u})
	if err != nil {
		a.logger.Error("optimistic vote rejected", "subject", u.SubjectID, "error", err)
		return false
	}
	return changed
}

// ApplyWalletDelta shows a local balance change until the next
// authoritative balance.
func (a *Applier) ApplyWalletDelta(delta int64) bool {
	return a.store.PutWallet(func(w *domain.Wallet) *domain.Wallet {
		return cache.ApplyWalletDelta(w, delta)
	})
}
