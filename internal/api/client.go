package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/blackmichael/forum-sync/internal/domain"
	"github.com/blackmichael/forum-sync/internal/wire"
)

const defaultTimeout = 30 * time.Second

// ErrStatus is matched by errors.Is for any non-2xx response not mapped to a
// domain error.
var ErrStatus = errors.New("unexpected status")

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
	// BreakerFailures is the number of consecutive failures that open it.
	BreakerFailures uint32
}

// Client implements domain.Backend over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

var _ domain.Backend = (*Client)(nil)

// NewClient creates a backend client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "forum-api",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: breakerSuccess,
	})
	return c
}

// breakerSuccess treats responses the server answered deliberately as
// healthy. Only transport errors and 5xx count against the breaker.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code < 500
	}
	return false
}

// ListFeed fetches one page of a feed.
func (c *Client) ListFeed(ctx context.Context, q domain.FeedQuery) ([]domain.Post, error) {
	params := url.Values{}
	if q.Scope != "" && q.Scope != domain.GlobalScope {
		params.Set("thread_id", q.Scope)
	}
	if q.Sort != "" {
		params.Set("sort", string(q.Sort))
	}
	if q.Duration != "" {
		params.Set("duration", q.Duration)
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	body, err := c.get(ctx, "/posts", params)
	if err != nil {
		return nil, fmt.Errorf("list feed %s: %w", q, err)
	}
	posts, dropped, err := wire.DecodePosts(body)
	if err != nil {
		return nil, fmt.Errorf("decode feed %s: %w", q, err)
	}
	if dropped > 0 {
		c.logger.Warn("dropped posts without identity", "feed", q.String(), "dropped", dropped)
	}
	return posts, nil
}

// GetPost fetches a single post.
func (c *Client) GetPost(ctx context.Context, id string) (domain.Post, error) {
	body, err := c.get(ctx, "/posts/"+url.PathEscape(id), nil)
	if err != nil {
		return domain.Post{}, fmt.Errorf("get post %s: %w", id, err)
	}
	p, err := wire.DecodePost(body)
	if err != nil {
		return domain.Post{}, fmt.Errorf("decode post %s: %w", id, err)
	}
	return p, nil
}

// ListComments fetches the comment tree of a post.
func (c *Client) ListComments(ctx context.Context, postID string) ([]domain.Comment, error) {
	body, err := c.get(ctx, "/posts/"+url.PathEscape(postID)+"/comments", nil)
	if err != nil {
		return nil, fmt.Errorf("list comments of %s: %w", postID, err)
	}
	comments, dropped, err := wire.DecodeComments(body, postID)
	if err != nil {
		return nil, fmt.Errorf("decode comments of %s: %w", postID, err)
	}
	if dropped > 0 {
		c.logger.Warn("dropped comments without identity", "post_id", postID, "dropped", dropped)
	}
	return comments, nil
}

// GetWalletBalance fetches the session user's balance.
func (c *Client) GetWalletBalance(ctx context.Context) (domain.WalletUpdate, error) {
	body, err := c.get(ctx, "/wallet/balance", nil)
	if err != nil {
		return domain.WalletUpdate{}, fmt.Errorf("get wallet balance: %w", err)
	}
	u, err := wire.DecodeWallet(body)
	if err != nil {
		return domain.WalletUpdate{}, fmt.Errorf("decode wallet balance: %w", err)
	}
	return u, nil
}

// GetDailyBoostInfo fetches the session user's boost allowance.
func (c *Client) GetDailyBoostInfo(ctx context.Context) (domain.BoostInfo, error) {
	body, err := c.get(ctx, "/boosts/daily", nil)
	if err != nil {
		return domain.BoostInfo{}, fmt.Errorf("get boost info: %w", err)
	}
	info, err := wire.DecodeBoostInfo(body)
	if err != nil {
		return domain.BoostInfo{}, fmt.Errorf("decode boost info: %w", err)
	}
	return info, nil
}

// ListPackages fetches the coin packages on sale.
func (c *Client) ListPackages(ctx context.Context) ([]domain.Package, error) {
	body, err := c.get(ctx, "/coins/packages", nil)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	pkgs, err := wire.DecodePackages(body)
	if err != nil {
		return nil, fmt.Errorf("decode packages: %w", err)
	}
	return pkgs, nil
}

// ListItems fetches the items purchasable with coins.
func (c *Client) ListItems(ctx context.Context) ([]domain.Item, error) {
	body, err := c.get(ctx, "/shop/items", nil)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	items, err := wire.DecodeItems(body)
	if err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	body, err := c.breaker.Execute(func() (any, error) {
		return c.do(ctx, http.MethodGet, path, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("backend unavailable: %w", err)
		}
		return nil, err
	}
	return body.([]byte), nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &StatusError{Code: resp.StatusCode, Body: wire.Excerpt(string(respBody), 200)}
	}
	return respBody, nil
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0)
	}
	return 0
}
