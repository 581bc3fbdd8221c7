package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is matched by errors.Is for any rate limiting response.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound is returned when the backend has no such resource.
	ErrNotFound = errors.New("not found")
)

// RateLimitError is a rate limiting response, with the server's requested
// delay when it sent one.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
