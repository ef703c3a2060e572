package snapstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-live/internal/domain"
)

const ttlSnapshot = 24 * time.Hour

// Store caches the last authoritative state of each game a session observed.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client) *Store { return &Store{rdb: rdb, ttl: ttlSnapshot} }

// Open connects to REDIS_URL and pings the server.
func Open(ctx context.Context, redisURL string) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for snapshot store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb), nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func gameKey(id string) string { return "live:game:" + strings.TrimSpace(id) }

func (s *Store) Save(ctx context.Context, g domain.LiveGame) error {
	if strings.TrimSpace(g.GameID) == "" {
		return fmt.Errorf("save snapshot: empty game id")
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, gameKey(g.GameID), raw, s.ttl).Err()
}

// Load returns the cached state, or nil when nothing is cached.
func (s *Store) Load(ctx context.Context, gameID string) (*domain.LiveGame, error) {
	raw, err := s.rdb.Get(ctx, gameKey(gameID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g domain.LiveGame
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode cached game %s: %w", gameID, err)
	}
	return &g, nil
}

func (s *Store) Delete(ctx context.Context, gameID string) error {
	return s.rdb.Del(ctx, gameKey(gameID)).Err()
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	return opts, nil
}
