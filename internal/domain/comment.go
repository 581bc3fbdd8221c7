package domain

import "time"

// Comment is a node of a comment tree. Replies are held in Children, in
// display order.
type Comment struct {
	ID string

	// PostID is the post the comment belongs to.
	PostID string

	// ParentID is empty for top-level comments.
	ParentID string

	AuthorID   string
	AuthorName string
	Content    string
	CreatedAt  time.Time
	EditedAt   *time.Time

	VoteCount int
	UserVote  VoteDirection
	VoteKnown bool

	// Deleted marks a removed comment that is kept because it still has
	// replies.
	Deleted bool

	Children []Comment
}

// Identity returns the comment's identity key.
func (c Comment) Identity() string {
	return c.ID
}

// CommentPatch carries the fields of a comment edit.
type CommentPatch struct {
	ID       string
	PostID   string
	Content  *string
	EditedAt *time.Time
}

// Apply merges the patch into c and returns the result.
func (cp CommentPatch) Apply(c Comment) Comment {
	if cp.Content != nil {
		c.Content = *cp.Content
	}
	if cp.EditedAt != nil {
		t := *cp.EditedAt
		c.EditedAt = &t
	}
	return c
}

// CommentRef addresses a comment that is being removed.
type CommentRef struct {
	ID     string
	PostID string
}

// CommentTree is the cached comment section of one post.
type CommentTree struct {
	PostID string
	Roots  []Comment
}

// Len returns the number of comments in the tree, at every depth.
func (t *CommentTree) Len() int {
	if t == nil {
		return 0
	}
	n := 0
	stack := append([]Comment(nil), t.Roots...)
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n++
		stack = append(stack, c.Children...)
	}
	return n
}

// Find searches the whole tree depth-first for the comment with the given
// identity.
func (t *CommentTree) Find(id string) (Comment, bool) {
	if t == nil || id == "" {
		return Comment{}, false
	}
	stack := make([]Comment, 0, len(t.Roots))
	for i := len(t.Roots) - 1; i >= 0; i-- {
		stack = append(stack, t.Roots[i])
	}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if c.ID == id {
			return c, true
		}
		for i := len(c.Children) - 1; i >= 0; i-- {
			stack = append(stack, c.Children[i])
		}
	}
	return Comment{}, false
}
