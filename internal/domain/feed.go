package domain

import "strconv"

// GlobalScope is the scope of the feed that receives every post.
const GlobalScope = "global"

// FeedSort is the ordering a feed listing was requested with.
type FeedSort string

const (
	SortNew FeedSort = "new"
	SortHot FeedSort = "hot"
	SortTop FeedSort = "top"
)

// AcceptsLiveInserts reports whether newly created posts may be placed at the
// head of a feed with this ordering. Ranked feeds only count them.
func (s FeedSort) AcceptsLiveInserts() bool {
	return s == "" || s == SortNew
}

// FeedQuery parameterizes a feed listing request.
type FeedQuery struct {
	// Scope is GlobalScope or a thread identity.
	Scope    string
	Sort     FeedSort
	Duration string
	Offset   int
	Limit    int
}

// Key returns the cache key component identifying the feed the query reads,
// independent of pagination.
func (q FeedQuery) Key() string {
	scope := q.Scope
	if scope == "" {
		scope = GlobalScope
	}
	key := scope
	if q.Sort != "" {
		key += "/" + string(q.Sort)
	}
	if q.Duration != "" {
		key += "/" + q.Duration
	}
	return key
}

// PageIndex returns the zero-based page the query's offset falls into.
func (q FeedQuery) PageIndex() int {
	if q.Limit <= 0 || q.Offset <= 0 {
		return 0
	}
	return q.Offset / q.Limit
}

func (q FeedQuery) String() string {
	return q.Key() + "@" + strconv.Itoa(q.Offset) + "+" + strconv.Itoa(q.Limit)
}

// FeedPage is one fetched page of a feed.
type FeedPage struct {
	Query FeedQuery
	Posts []Post
}

// Feed is a paginated collection of posts. No post identity appears more
// than once across all pages.
type Feed struct {
	ID    string
	Scope string
	Sort  FeedSort
	Pages [][]Post

	// PendingNew counts live posts that were not inserted because the feed
	// is ranked rather than chronological.
	PendingNew int

	HasMore bool
}

// Accepts reports whether a post belongs in the feed.
func (f *Feed) Accepts(p Post) bool {
	if f == nil {
		return false
	}
	return f.Scope == GlobalScope || f.Scope == "" || f.Scope == p.ThreadID
}

// Len returns the number of posts across all pages.
func (f *Feed) Len() int {
	if f == nil {
		return 0
	}
	n := 0
	for _, page := range f.Pages {
		n += len(page)
	}
	return n
}

// Posts returns the flattened collection in page order.
func (f *Feed) Posts() []Post {
	if f == nil {
		return nil
	}
	out := make([]Post, 0, f.Len())
	for _, page := range f.Pages {
		out = append(out, page...)
	}
	return out
}

// Locate returns the page and index of the post with the given identity.
func (f *Feed) Locate(id string) (page, index int, ok bool) {
	if f == nil || id == "" {
		return 0, 0, false
	}
	for i, pg := range f.Pages {
		for j, p := range pg {
			if p.ID == id {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// Find returns the post with the given identity.
func (f *Feed) Find(id string) (Post, bool) {
	i, j, ok := f.Locate(id)
	if !ok {
		return Post{}, false
	}
	return f.Pages[i][j], true
}
