package gameapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-live/internal/domain"
)

// TokenProvider returns the bearer credential for each request.
type TokenProvider func() string

// Client talks to the game server's REST API under <base>/api.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	token   TokenProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithToken(t TokenProvider) Option {
	return func(c *Client) { c.token = t }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDialer replaces the transport dialer; tests use an in-memory listener.
func WithDialer(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(serverURL string, opts ...Option) *Client {
	base := strings.TrimRight(serverURL, "/")
	if !strings.HasSuffix(base, "/api") {
		base += "/api"
	}
	c := &Client{
		baseURL:        base,
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetGame(ctx context.Context, gameID string) (*domain.Game, error) {
	var g domain.Game
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/games/"+url.PathEscape(gameID), nil, &g, true); err != nil {
		return nil, err
	}
	return &g, nil
}

// GetHistory returns the stored plies of a game in ply order.
func (c *Client) GetHistory(ctx context.Context, gameID string) ([]domain.MoveRecord, error) {
	var moves []domain.MoveRecord
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/games/"+url.PathEscape(gameID)+"/history", nil, &moves, true); err != nil {
		return nil, err
	}
	sortByPly(moves)
	return moves, nil
}

// History returns the UCI move list of a game.
func (c *Client) History(ctx context.Context, gameID string) ([]string, error) {
	moves, err := c.GetHistory(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return notations(moves), nil
}

func (c *Client) CreateGame(ctx context.Context) (*domain.Game, error) {
	var g domain.Game
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games", nil, &g, false); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) JoinGame(ctx context.Context, gameID string) (*domain.Game, error) {
	var g domain.Game
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games/"+url.PathEscape(gameID)+"/join", nil, &g, false); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGames returns the games of the authenticated user.
func (c *Client) ListGames(ctx context.Context) ([]domain.Game, error) {
	var games []domain.Game
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/games", nil, &games, true); err != nil {
		return nil, err
	}
	return games, nil
}

// FindMatch enters the matchmaking queue, or reports the game if a match was made.
func (c *Client) FindMatch(ctx context.Context) (*domain.MatchResult, error) {
	var res domain.MatchResult
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/matchmaking/find", nil, &res, false); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CancelMatch(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodPost, "/matchmaking/cancel", nil, nil, false)
}

func (c *Client) MatchStatus(ctx context.Context) (*domain.QueueStatus, error) {
	var st domain.QueueStatus
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/matchmaking/status", nil, &st, true); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	var u domain.User
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/auth/me", nil, &u, true); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.token != nil {
		if tok := strings.TrimSpace(c.token()); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry {
		attempts = c.retryMax
		if attempts <= 0 {
			attempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			if attempt == attempts {
				return fmt.Errorf("request %s %s: %w", method, path, err)
			}
			lastErr = err
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			apiErr := newAPIError(status, resp.Body())
			if attempt == attempts || !shouldRetryStatus(status) {
				return apiErr
			}
			lastErr = apiErr
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
