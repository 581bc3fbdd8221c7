package cache

import "github.com/blackmichael/forum-sync/internal/domain"

// VoteDelta returns the change in net score for a transition between two
// vote states: none->up +1, none->down -1, up->down -2, down->up +2, and the
// inverses for removals.
func VoteDelta(prior, next domain.VoteDirection) int {
	return int(next) - int(prior)
}

// ApplyVote computes the new count for a transition. Removing an upvote
// from a subject whose count is zero leaves the count at zero.
func ApplyVote(count int, prior, next domain.VoteDirection) int {
	if next == domain.VoteNone && prior == domain.VoteUp && count == 0 {
		return 0
	}
	return count + VoteDelta(prior, next)
}

// resolvePrior picks the state the transition starts from: the cached state
// when the cache knows it, otherwise the sender's, otherwise unknown.
func resolvePrior(cached domain.VoteDirection, known bool, u domain.VoteUpdate) (domain.VoteDirection, bool) {
	if known {
		return cached, true
	}
	if u.Prior != nil {
		return *u.Prior, true
	}
	return domain.VoteNone, false
}

func votePost(p domain.Post, u domain.VoteUpdate) (domain.Post, bool) {
	prior, ok := resolvePrior(p.UserVote, p.VoteKnown, u)
	if !ok {
		return p, false
	}
	if prior == u.Direction && p.VoteKnown {
		return p, false
	}
	p.VoteCount = ApplyVote(p.VoteCount, prior, u.Direction)
	p.UserVote = u.Direction
	p.VoteKnown = true
	return p, true
}

func voteComment(c domain.Comment, u domain.VoteUpdate) (domain.Comment, bool) {
	prior, ok := resolvePrior(c.UserVote, c.VoteKnown, u)
	if !ok {
		return c, false
	}
	if prior == u.Direction && c.VoteKnown {
		return c, false
	}
	c.VoteCount = ApplyVote(c.VoteCount, prior, u.Direction)
	c.UserVote = u.Direction
	c.VoteKnown = true
	return c, true
}
