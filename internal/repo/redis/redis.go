package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hamed0406/delayedmailer/internal/repo"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	// Persistent keeps one pooled client for the lifetime of the store.
	// Otherwise every operation dials, runs one command and disconnects.
	Persistent  bool
	DialTimeout time.Duration
}

type Store struct {
	opts   *redis.Options
	shared *redis.Client
	log    *zap.Logger
}

func New(o Options, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	ro := &redis.Options{
		Addr:        o.Addr,
		Password:    o.Password,
		DB:          o.DB,
		DialTimeout: o.DialTimeout,
	}
	s := &Store{opts: ro, log: log}
	if o.Persistent {
		s.shared = redis.NewClient(ro)
	}
	return s
}

// with scopes a connection to a single operation; the client is closed on
// every exit path.
func (s *Store) with(ctx context.Context, op string, fn func(*redis.Client) error) error {
	if s.shared != nil {
		if err := fn(s.shared); err != nil {
			return fmt.Errorf("redis %s: %w", op, err)
		}
		return nil
	}
	c := redis.NewClient(s.opts)
	defer func() {
		if err := c.Close(); err != nil {
			s.log.Debug("redis_close_error", zap.String("op", op), zap.Error(err))
		}
	}()
	if err := fn(c); err != nil {
		return fmt.Errorf("redis %s: %w", op, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.with(ctx, "exists", func(c *redis.Client) error {
		var err error
		n, err = c.Exists(ctx, key).Result()
		return err
	})
	return n > 0, err
}

func (s *Store) Set(ctx context.Context, key string, ttl time.Duration) error {
	return s.with(ctx, "set", func(c *redis.Client) error {
		return c.Set(ctx, key, repo.Sentinel, ttl).Err()
	})
}

func (s *Store) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var created bool
	err := s.with(ctx, "setnx", func(c *redis.Client) error {
		var err error
		created, err = c.SetNX(ctx, key, repo.Sentinel, ttl).Result()
		return err
	})
	return created, err
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.with(ctx, "del", func(c *redis.Client) error {
		var err error
		n, err = c.Del(ctx, key).Result()
		return err
	})
	return n > 0, err
}

// Keys walks the keyspace with SCAN so large databases are not blocked.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := s.with(ctx, "scan", func(c *redis.Client) error {
		it := c.Scan(ctx, 0, escapeGlob(prefix)+"*", 100).Iterator()
		for it.Next(ctx) {
			out = append(out, it.Val())
		}
		return it.Err()
	})
	return out, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.with(ctx, "ping", func(c *redis.Client) error {
		return c.Ping(ctx).Err()
	})
}

func (s *Store) Close() error {
	if s.shared != nil {
		return s.shared.Close()
	}
	return nil
}

// escapeGlob quotes the MATCH metacharacters so client and check names are
// matched literally.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ repo.Ledger = (*Store)(nil)
