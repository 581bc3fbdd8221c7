package domain

import "strings"

// VoteDirection is the tri-state vote of a user on a subject.
type VoteDirection int8

const (
	VoteDown VoteDirection = -1
	VoteNone VoteDirection = 0
	VoteUp   VoteDirection = 1
)

func (d VoteDirection) String() string {
	switch d {
	case VoteUp:
		return "up"
	case VoteDown:
		return "down"
	default:
		return "none"
	}
}

// ParseVoteDirection accepts the spellings used on the wire.
func ParseVoteDirection(s string) (VoteDirection, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "upvote", "like", "1", "+1":
		return VoteUp, true
	case "down", "downvote", "dislike", "-1":
		return VoteDown, true
	case "none", "", "0", "remove", "unvote":
		return VoteNone, true
	}
	return VoteNone, false
}

// SubjectType names what a vote is cast on.
type SubjectType string

const (
	SubjectPost    SubjectType = "post"
	SubjectComment SubjectType = "comment"
)

// VoteUpdate is a transition of the session user's vote on a subject.
type VoteUpdate struct {
	Subject   SubjectType
	SubjectID string

	// PostID locates the comment tree for comment votes. It may be empty,
	// in which case every cached tree is searched.
	PostID string

	Direction VoteDirection

	// Prior is the vote state before the transition when the sender knows
	// it. The cached state takes precedence when the cache knows it.
	Prior *VoteDirection
}
