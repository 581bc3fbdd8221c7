package cache

import (
	"sort"
	"strings"
	"sync"

	"github.com/blackmichael/forum-sync/internal/domain"
)

// WalletKey is the cache key of the session wallet.
const WalletKey = "wallet"

// FeedKey returns the cache key of a feed.
func FeedKey(feedID string) string { return "feed:" + feedID }

// PostKey returns the cache key of a single-post snapshot.
func PostKey(id string) string { return "post:" + id }

// CommentsKey returns the cache key of a post's comment tree.
func CommentsKey(postID string) string { return "comments:" + postID }

// Change is delivered to listeners after a snapshot was replaced.
type Change struct {
	Key      string
	Revision uint64
}

// Listener observes snapshot replacements.
type Listener func(Change)

// Store owns every cached snapshot. Snapshots are only replaced, never
// mutated, so readers may keep the pointers they were given. All writes for
// all keys are serialized by one lock.
type Store struct {
	mu        sync.RWMutex
	feeds     map[string]*domain.Feed
	posts     map[string]*domain.Post
	comments  map[string]*domain.CommentTree
	wallet    *domain.Wallet
	revisions map[string]uint64

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		feeds:     make(map[string]*domain.Feed),
		posts:     make(map[string]*domain.Post),
		comments:  make(map[string]*domain.CommentTree),
		revisions: make(map[string]uint64),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers a listener and returns a function that removes it.
// The returned function is safe to call more than once.
func (s *Store) Subscribe(l Listener) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

// Feed returns the feed snapshot, or nil if the feed was never loaded.
func (s *Store) Feed(id string) *domain.Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeds[id]
}

// FeedIDs returns the identities of every loaded feed, sorted.
func (s *Store) FeedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.feeds))
	for id := range s.feeds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Post returns the single-post snapshot, or nil.
func (s *Store) Post(id string) *domain.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.posts[id]
}

// Comments returns the comment tree of a post, or nil.
func (s *Store) Comments(postID string) *domain.CommentTree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.comments[postID]
}

// Wallet returns the wallet snapshot, or nil.
func (s *Store) Wallet() *domain.Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallet
}

// Revision returns how many times the snapshot under key was replaced.
func (s *Store) Revision(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revisions[key]
}

// Keys returns every key that currently holds a snapshot, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.feeds)+len(s.posts)+len(s.comments)+1)
	for id := range s.feeds {
		keys = append(keys, FeedKey(id))
	}
	for id := range s.posts {
		keys = append(keys, PostKey(id))
	}
	for id := range s.comments {
		keys = append(keys, CommentsKey(id))
	}
	if s.wallet != nil {
		keys = append(keys, WalletKey)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns the snapshot stored under a cache key, or nil.
func (s *Store) Snapshot(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case key == WalletKey:
		if s.wallet != nil {
			return s.wallet
		}
	case strings.HasPrefix(key, "feed:"):
		if f := s.feeds[key[len("feed:"):]]; f != nil {
			return f
		}
	case strings.HasPrefix(key, "post:"):
		if p := s.posts[key[len("post:"):]]; p != nil {
			return p
		}
	case strings.HasPrefix(key, "comments:"):
		if t := s.comments[key[len("comments:"):]]; t != nil {
			return t
		}
	}
	return nil
}

// PutFeed replaces the feed with fn's result, creating it if absent.
func (s *Store) PutFeed(id string, fn func(*domain.Feed) *domain.Feed) bool {
	return s.write(func(changes *[]Change) {
		swap(s, s.feeds, id, FeedKey(id), true, fn, changes)
	})
}

// ModifyFeed rewrites a loaded feed. Feeds that were never loaded are left
// alone.
func (s *Store) ModifyFeed(id string, fn func(*domain.Feed) *domain.Feed) bool {
	return s.write(func(changes *[]Change) {
		swap(s, s.feeds, id, FeedKey(id), false, fn, changes)
	})
}

// ModifyFeeds rewrites every loaded feed with fn and returns how many changed.
func (s *Store) ModifyFeeds(fn func(*domain.Feed) *domain.Feed) int {
	var n int
	s.write(func(changes *[]Change) {
		for id := range s.feeds {
			if swap(s, s.feeds, id, FeedKey(id), false, fn, changes) {
				n++
			}
		}
	})
	return n
}

// PutPost replaces the post snapshot, creating it if absent.
func (s *Store) PutPost(id string, fn func(*domain.Post) *domain.Post) bool {
	return s.write(func(changes *[]Change) {
		swap(s, s.posts, id, PostKey(id), true, fn, changes)
	})
}

// ModifyPost rewrites a loaded post snapshot.
func (s *Store) ModifyPost(id string, fn func(*domain.Post) *domain.Post) bool {
	return s.write(func(changes *[]Change) {
		swap(s, s.posts, id, PostKey(id), false, fn, changes)
	})
}

// DropPost removes a post snapshot and its comment tree.
func (s *Store) DropPost(id string) bool {
	return s.write(func(changes *[]Change) {
		if _, ok := s.posts[id]; ok {
			delete(s.posts, id)
			*changes = append(*changes, s.bump(PostKey(id)))
		}
		if _, ok := s.comments[id]; ok {
			delete(s.comments, id)
			*changes = append(*changes, s.bump(CommentsKey(id)))
		}
	})
}

// PutComments replaces a comment tree, creating it if absent.
func (s *Store) PutComments(postID string, fn func(*domain.CommentTree) *domain.CommentTree) bool {
	return s.write(func(changes *[]Change) {
		swap(s, s.comments, postID, CommentsKey(postID), true, fn, changes)
	})
}

// ModifyComments rewrites a loaded comment tree.
func (s *Store) ModifyComments(postID string, fn func(*domain.CommentTree) *domain.CommentTree) bool {
	return s.write(func(changes *[]Change) {
		swap(s, s.comments, postID, CommentsKey(postID), false, fn, changes)
	})
}

// ModifyAllComments rewrites every loaded comment tree and returns how many
// changed.
func (s *Store) ModifyAllComments(fn func(*domain.CommentTree) *domain.CommentTree) int {
	var n int
	s.write(func(changes *[]Change) {
		for id := range s.comments {
			if swap(s, s.comments, id, CommentsKey(id), false, fn, changes) {
				n++
			}
		}
	})
	return n
}

// PutWallet replaces the wallet snapshot.
func (s *Store) PutWallet(fn func(*domain.Wallet) *domain.Wallet) bool {
	return s.write(func(changes *[]Change) {
		next := fn(s.wallet)
		if next == s.wallet {
			return
		}
		s.wallet = next
		*changes = append(*changes, s.bump(WalletKey))
	})
}

func (s *Store) write(fn func(changes *[]Change)) bool {
	var changes []Change
	s.mu.Lock()
	fn(&changes)
	s.mu.Unlock()
	s.notify(changes)
	return len(changes) > 0
}

func (s *Store) bump(key string) Change {
	s.revisions[key]++
	return Change{Key: key, Revision: s.revisions[key]}
}

func (s *Store) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.lmu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.lmu.Unlock()

	for _, c := range changes {
		for _, l := range listeners {
			l(c)
		}
	}
}

// swap applies fn to the snapshot under id; the caller holds s.mu.
func swap[T any](s *Store, m map[string]*T, id, key string, create bool, fn func(*T) *T, changes *[]Change) bool {
	cur, ok := m[id]
	if !ok && !create {
		return false
	}
	next := fn(cur)
	if next == cur {
		return false
	}
	if next == nil {
		delete(m, id)
	} else {
		m[id] = next
	}
	*changes = append(*changes, s.bump(key))
	return true
}
