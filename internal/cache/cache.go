package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetReportStatus(ctx context.Context, reportID uuid.UUID, entry StatusEntry, ttl time.Duration) error
	GetReportStatus(ctx context.Context, reportID uuid.UUID) (*StatusEntry, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// StatusEntry is the cached view of a report used by status polling. The
// owner is kept so reads can be scoped without a database lookup. A Deleted
// entry is a tombstone left behind by a delete.
type StatusEntry struct {
	Status    models.ReportStatus `json:"status"`
	OwnerID   string              `json:"owner_id"`
	UpdatedAt time.Time           `json:"updated_at"`
	Deleted   bool                `json:"deleted,omitempty"`
}

// TombstoneTTL is how long a deleted report's tombstone blocks late writes.
const TombstoneTTL = 5 * time.Minute

// Supersedes reports whether e may replace cur. Entries are ordered by
// UpdatedAt at microsecond precision with ties broken by lifecycle order,
// and a tombstone is never replaced.
func (e StatusEntry) Supersedes(cur *StatusEntry) bool {
	if cur == nil {
		return true
	}
	if cur.Deleted {
		return false
	}
	if e.Deleted {
		return true
	}
	if v, cv := e.version(), cur.version(); v != cv {
		return v > cv
	}
	return e.rank() > cur.rank()
}

func (e StatusEntry) version() int64 { return e.UpdatedAt.UnixMicro() }

func (e StatusEntry) rank() int {
	switch {
	case e.Deleted:
		return 3
	case e.Status.IsTerminal():
		return 2
	case e.Status == models.ReportStatusProcessing:
		return 1
	default:
		return 0
	}
}

// setStatusScript applies StatusEntry.Supersedes atomically.
// ARGV: data, version, rank, deleted flag, ttl in ms.
var setStatusScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'ver', 'rank', 'deleted')
if cur[3] == '1' then
	return 0
end
if ARGV[4] ~= '1' and cur[1] then
	local v, nv = tonumber(cur[1]), tonumber(ARGV[2])
	if v > nv or (v == nv and tonumber(cur[2]) >= tonumber(ARGV[3])) then
		return 0
	end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'ver', ARGV[2], 'rank', ARGV[3], 'deleted', ARGV[4])
if tonumber(ARGV[5]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
end
return 1
`)

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Client exposes the underlying redis client so other redis-backed
// components can share the connection pool.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// SetReportStatus stores entry unless the cached one is newer or a
// tombstone, so racing writers cannot roll a status back.
func (c *RedisCache) SetReportStatus(ctx context.Context, reportID uuid.UUID, entry StatusEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	deleted := "0"
	if entry.Deleted {
		deleted = "1"
	}
	return setStatusScript.Run(ctx, c.client, []string{ReportStatusKey(reportID)},
		data, entry.version(), entry.rank(), deleted, ttl.Milliseconds()).Err()
}

func (c *RedisCache) GetReportStatus(ctx context.Context, reportID uuid.UUID) (*StatusEntry, bool, error) {
	val, err := c.client.HGet(ctx, ReportStatusKey(reportID), "data").Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entry StatusEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, false, err
	}
	return &entry, true, nil
}

// IncrWithExpiry counts hits in a fixed window. The expiry is set only by
// the first hit, so the window is never extended by later ones.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
