package cache

import "github.com/blackmichael/forum-sync/internal/domain"

// Comment tree mutators locate the target with an explicit depth-first
// search and copy only the nodes on the path from the root to the target.
// Untouched subtrees are shared with the previous snapshot.

// InsertComment adds a comment to the tree. Replies attach under their
// parent at whatever depth it lives; a reply whose parent is not cached is
// ignored. A comment already present is replaced in place, keeping its
// cached replies.
func InsertComment(t *domain.CommentTree, c domain.Comment) *domain.CommentTree {
	if c.ID == "" {
		return t
	}
	if path, ok := locate(t, c.ID); ok {
		return rewriteNode(t, path, func(old domain.Comment) (domain.Comment, bool) {
			return mergeComment(old, c), true
		})
	}

	next := domain.CommentTree{PostID: c.PostID}
	if t != nil {
		next = *t
	}

	if c.ParentID == "" || c.ParentID == next.PostID {
		roots := make([]domain.Comment, 0, len(next.Roots)+1)
		roots = append(roots, next.Roots...)
		next.Roots = append(roots, c)
		return &next
	}

	parentPath, ok := locate(t, c.ParentID)
	if !ok {
		return t
	}
	return rewriteNode(t, parentPath, func(parent domain.Comment) (domain.Comment, bool) {
		children := make([]domain.Comment, 0, len(parent.Children)+1)
		children = append(children, parent.Children...)
		parent.Children = append(children, c)
		return parent, true
	})
}

// UpdateComment applies an edit to the comment with the patch's identity.
func UpdateComment(t *domain.CommentTree, patch domain.CommentPatch) *domain.CommentTree {
	return UpdateCommentFunc(t, patch.ID, func(c domain.Comment) (domain.Comment, bool) {
		return patch.Apply(c), true
	})
}

// UpdateCommentFunc rewrites the comment with the given identity using fn.
func UpdateCommentFunc(t *domain.CommentTree, id string, fn func(domain.Comment) (domain.Comment, bool)) *domain.CommentTree {
	path, ok := locate(t, id)
	if !ok {
		return t
	}
	return rewriteNode(t, path, fn)
}

// RemoveComment deletes the comment with the given identity. A comment that
// still has replies is kept as a deleted placeholder so the replies stay
// reachable. Removing the last reply of a comment leaves the parent in place
// with no children.
func RemoveComment(t *domain.CommentTree, id string) *domain.CommentTree {
	path, ok := locate(t, id)
	if !ok {
		return t
	}
	target := nodeAt(t, path)
	if len(target.Children) > 0 {
		return rewriteNode(t, path, func(c domain.Comment) (domain.Comment, bool) {
			if c.Deleted && c.Content == "" {
				return c, false
			}
			c.Deleted = true
			c.Content = ""
			return c, true
		})
	}

	next := *t
	next.Roots = editSiblings(t.Roots, path[:len(path)-1], func(siblings []domain.Comment) []domain.Comment {
		i := path[len(path)-1]
		out := make([]domain.Comment, 0, len(siblings)-1)
		out = append(out, siblings[:i]...)
		return append(out, siblings[i+1:]...)
	})
	return &next
}

// VoteComment applies a vote transition to a comment in the tree.
func VoteComment(t *domain.CommentTree, u domain.VoteUpdate) *domain.CommentTree {
	return UpdateCommentFunc(t, u.SubjectID, func(c domain.Comment) (domain.Comment, bool) {
		return voteComment(c, u)
	})
}

// BuildCommentTree assembles a tree from comments that reference their
// parents by ParentID. Comments that already carry children are kept as
// they are. Replies to unknown parents become top-level comments.
func BuildCommentTree(postID string, comments []domain.Comment) *domain.CommentTree {
	byParent := make(map[string][]domain.Comment)
	known := make(map[string]bool, len(comments))
	for _, c := range comments {
		if c.ID != "" {
			known[c.ID] = true
		}
	}
	var roots []domain.Comment
	for _, c := range comments {
		if c.ID == "" {
			continue
		}
		if c.ParentID == "" || c.ParentID == postID || !known[c.ParentID] {
			roots = append(roots, c)
			continue
		}
		byParent[c.ParentID] = append(byParent[c.ParentID], c)
	}

	var attach func(c domain.Comment, depth int) domain.Comment
	attach = func(c domain.Comment, depth int) domain.Comment {
		kids := byParent[c.ID]
		if len(kids) == 0 || depth > len(comments) {
			return c
		}
		children := make([]domain.Comment, 0, len(c.Children)+len(kids))
		children = append(children, c.Children...)
		for _, k := range kids {
			children = append(children, attach(k, depth+1))
		}
		c.Children = children
		return c
	}
	for i := range roots {
		roots[i] = attach(roots[i], 0)
	}
	return &domain.CommentTree{PostID: postID, Roots: roots}
}

// locate returns the index path from the roots to the comment with the
// given identity, searching depth-first with an explicit stack.
func locate(t *domain.CommentTree, id string) ([]int, bool) {
	if t == nil || id == "" {
		return nil, false
	}
	type frame struct {
		nodes []domain.Comment
		path  []int
	}
	stack := []frame{{nodes: t.Roots}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i := len(top.nodes) - 1; i >= 0; i-- {
			if top.nodes[i].ID == id {
				return appendPath(top.path, i), true
			}
		}
		for i := len(top.nodes) - 1; i >= 0; i-- {
			if len(top.nodes[i].Children) > 0 {
				stack = append(stack, frame{nodes: top.nodes[i].Children, path: appendPath(top.path, i)})
			}
		}
	}
	return nil, false
}

func appendPath(path []int, i int) []int {
	out := make([]int, len(path)+1)
	copy(out, path)
	out[len(path)] = i
	return out
}

func nodeAt(t *domain.CommentTree, path []int) domain.Comment {
	nodes := t.Roots
	var c domain.Comment
	for _, i := range path {
		c = nodes[i]
		nodes = c.Children
	}
	return c
}

// rewriteNode replaces the node at path with fn's result, copying the path.
func rewriteNode(t *domain.CommentTree, path []int, fn func(domain.Comment) (domain.Comment, bool)) *domain.CommentTree {
	updated, changed := fn(nodeAt(t, path))
	if !changed {
		return t
	}
	next := *t
	next.Roots = editSiblings(t.Roots, path[:len(path)-1], func(siblings []domain.Comment) []domain.Comment {
		out := make([]domain.Comment, len(siblings))
		copy(out, siblings)
		out[path[len(path)-1]] = updated
		return out
	})
	return &next
}

// editSiblings rebuilds the sibling list addressed by parentPath (the roots
// when empty) with fn, copying each ancestor on the way down.
func editSiblings(nodes []domain.Comment, parentPath []int, fn func([]domain.Comment) []domain.Comment) []domain.Comment {
	if len(parentPath) == 0 {
		return fn(nodes)
	}
	out := make([]domain.Comment, len(nodes))
	copy(out, nodes)
	i := parentPath[0]
	node := out[i]
	node.Children = editSiblings(node.Children, parentPath[1:], fn)
	out[i] = node
	return out
}

func mergeComment(old, incoming domain.Comment) domain.Comment {
	if len(incoming.Children) == 0 {
		incoming.Children = old.Children
	}
	if !incoming.VoteKnown && old.VoteKnown {
		incoming.UserVote = old.UserVote
		incoming.VoteKnown = true
	}
	if incoming.ParentID == "" {
		incoming.ParentID = old.ParentID
	}
	return incoming
}
