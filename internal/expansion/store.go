package expansion

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gamedex/gamedex-server/internal/types"
)

const redisKeyPrefix = "gamedex:expansion:"

// persistedEntry is the wire form of a cached expansion. CachedAt lets a
// shortened staleness window take effect on entries written under a longer
// one.
type persistedEntry struct {
	types.ExpansionEntry
	CachedAt time.Time `json:"cached_at"`
}

// Store is the persistent expansion tier, backed by Redis. A nil client
// degrades to a tier that always misses; expansion still works through the
// static table and the upstream query.
type Store struct {
	rdb       *redis.Client
	staleness time.Duration
	logger    *slog.Logger
}

func NewStore(rdb *redis.Client, staleness time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rdb: rdb, staleness: staleness, logger: logger}
}

// Get returns the cached entry for the normalized parent name. Redis errors
// and stale or undecodable entries all report a miss; this tier never fails
// a lookup.
func (s *Store) Get(ctx context.Context, normalized string) (types.ExpansionEntry, bool) {
	if s == nil || s.rdb == nil {
		return types.ExpansionEntry{}, false
	}

	data, err := s.rdb.Get(ctx, redisKeyPrefix+normalized).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("expansion cache read failed", "parent", normalized, "error", err)
		}
		return types.ExpansionEntry{}, false
	}

	var p persistedEntry
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("expansion cache entry undecodable", "parent", normalized, "error", err)
		return types.ExpansionEntry{}, false
	}
	if time.Since(p.CachedAt) > s.staleness {
		return types.ExpansionEntry{}, false
	}
	return p.ExpansionEntry, true
}

// Put writes an entry under the normalized parent name, expiring after the
// staleness window. Failures are logged and swallowed.
func (s *Store) Put(ctx context.Context, normalized string, entry types.ExpansionEntry) {
	if s == nil || s.rdb == nil {
		return
	}

	data, err := json.Marshal(persistedEntry{ExpansionEntry: entry, CachedAt: time.Now()})
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+normalized, data, s.staleness).Err(); err != nil {
		s.logger.Warn("expansion cache write failed", "parent", normalized, "error", err)
	}
}
