package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/delayedmailer/internal/repo"
)

var _ repo.Ledger = (*Store)(nil)

// Schema is applied by EnsureSchema. expires_at NULL means no expiry.
const Schema = `
CREATE TABLE IF NOT EXISTS dm_ledger (
  key        TEXT PRIMARY KEY,
  value      TEXT NOT NULL DEFAULT '1',
  expires_at TIMESTAMPTZ NULL
);

CREATE INDEX IF NOT EXISTS idx_dm_ledger_expires_at ON dm_ledger (expires_at);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM dm_ledger
		    WHERE key = $1 AND (expires_at IS NULL OR expires_at > now()))`,
		key).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return ok, nil
}

func (s *Store) Set(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dm_ledger (key, value, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key)
		 DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, repo.Sentinel, expiresAt(ttl))
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

// SetNX takes over a row only when the existing one has expired, so two
// concurrent callers cannot both observe "created".
func (s *Store) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var got string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO dm_ledger (key, value, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key)
		 DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
		 WHERE dm_ledger.expires_at IS NOT NULL AND dm_ledger.expires_at <= now()
		 RETURNING key`,
		key, repo.Sentinel, expiresAt(ttl)).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM dm_ledger
		  WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key)
	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM dm_ledger
		  WHERE key LIKE $1 ESCAPE '\'
		    AND (expires_at IS NULL OR expires_at > now())
		  ORDER BY key`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Purge deletes expired rows; Postgres has no native TTL.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM dm_ledger WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

func expiresAt(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().UTC().Add(ttl)
	return &t
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
