package wire

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestExcerpt(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"truncated", 5, "trunc..."},
		{"héllo", 2, "h..."},
		{"日本語", 4, "日..."},
		{"abc", 0, "..."},
	}
	for _, tt := range tests {
		got := Excerpt(tt.in, tt.n)
		assert.Equal(t, tt.want, got, "Excerpt(%q, %d)", tt.in, tt.n)
		assert.True(t, utf8.ValidString(got), "Excerpt(%q, %d) split a rune", tt.in, tt.n)
	}
}
