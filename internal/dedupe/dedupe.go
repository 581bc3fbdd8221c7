package dedupe

// Identifiable is any entity with a stable identity key.
type Identifiable interface {
	Identity() string
}

// Position selects which side wins when merging collections.
type Position int

const (
	// Prepend places incoming entities first; they win over duplicates in
	// the existing collection.
	Prepend Position = iota

	// Append places incoming entities last; existing entities win.
	Append
)

func (p Position) String() string {
	if p == Append {
		return "append"
	}
	return "prepend"
}

// Dedupe returns a new slice holding the first occurrence of each identity,
// in the original relative order.
func Dedupe[T Identifiable](items []T) []T {
	seen := make(map[string]struct{}, len(items))
	return filter(items, seen)
}

// DedupeAcrossPages applies one identity set across all pages in order, so
// an entity kept on an earlier page is removed from every later page. The
// number of pages is preserved even when a page ends up empty.
func DedupeAcrossPages[T Identifiable](pages [][]T) [][]T {
	out := make([][]T, len(pages))
	seen := make(map[string]struct{})
	for i, page := range pages {
		out[i] = filter(page, seen)
	}
	return out
}

// MergeEntities concatenates existing and incoming according to pos and
// deduplicates the result.
func MergeEntities[T Identifiable](existing, incoming []T, pos Position) []T {
	combined := make([]T, 0, len(existing)+len(incoming))
	if pos == Append {
		combined = append(combined, existing...)
		combined = append(combined, incoming...)
	} else {
		combined = append(combined, incoming...)
		combined = append(combined, existing...)
	}
	return Dedupe(combined)
}

// Contains reports whether any entity in items has the given identity.
func Contains[T Identifiable](items []T, id string) bool {
	if id == "" {
		return false
	}
	for _, item := range items {
		if item.Identity() == id {
			return true
		}
	}
	return false
}

func filter[T Identifiable](items []T, seen map[string]struct{}) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		id := item.Identity()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, item)
	}
	return out
}
