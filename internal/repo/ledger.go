package repo

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/hamed0406/delayedmailer/internal/domain"
)

// Sentinel is the value stored under every ledger key.
const Sentinel = "1"

// Ledger is the dedup state store. Entries are plain keys with a TTL; absence
// is a meaningful state (never alerted, or already resolved/expired).
type Ledger interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Set writes the key, overwriting any existing entry and its TTL.
	Set(ctx context.Context, key string, ttl time.Duration) error
	// SetNX creates the key only if no live entry exists and reports whether
	// it did.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Delete removes the key and reports whether a live entry was removed.
	Delete(ctx context.Context, key string) (bool, error)
	// Keys lists live keys starting with the literal prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

const keyPrefix = "dm_"

// OccurredKey marks a quiet period in progress for an identity.
func OccurredKey(id domain.Identity) string {
	return keyPrefix + string(id) + "_occurred"
}

// NotifiedKey marks that an alert email went out for the current episode.
func NotifiedKey(id domain.Identity) string {
	return keyPrefix + string(id) + "-email"
}

// OccurrencePrefix is shared by all timestamped occurrence markers of id.
func OccurrencePrefix(id domain.Identity) string {
	return keyPrefix + string(id) + "_"
}

func OccurrenceKey(id domain.Identity, at time.Time) string {
	return OccurrencePrefix(id) + strconv.FormatInt(at.Unix(), 10)
}

// IsOccurrenceKey rejects keys that merely share the prefix, such as the
// occurred marker or markers of a check whose name extends this one.
func IsOccurrenceKey(id domain.Identity, key string) bool {
	rest, ok := strings.CutPrefix(key, OccurrencePrefix(id))
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
