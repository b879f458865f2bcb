package video

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/scoutreport/internal/cache"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

// CachedClient serves metadata from the cache when present and stores
// successful lookups for ttl. Cache failures fall through to the wrapped
// client; errors are never cached.
type CachedClient struct {
	next  Client
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedClient wraps next with a read-through cache. A non-positive ttl
// disables caching and returns next unchanged.
func NewCachedClient(next Client, c cache.Cache, ttl time.Duration) Client {
	if ttl <= 0 || c == nil {
		return next
	}
	return &CachedClient{next: next, cache: c, ttl: ttl}
}

func (c *CachedClient) GetVideoMetadata(ctx context.Context, videoID string) (*models.VideoMetadata, error) {
	key := cache.VideoMetadataKey(videoID)

	if raw, found, err := c.cache.Get(ctx, key); err != nil {
		slog.Warn("video metadata cache read failed", "video_id", videoID, "error", err)
	} else if found {
		var meta models.VideoMetadata
		if err := json.Unmarshal(raw, &meta); err == nil {
			return &meta, nil
		}
	}

	meta, err := c.next.GetVideoMetadata(ctx, videoID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(meta); err == nil {
		if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
			slog.Warn("video metadata cache write failed", "video_id", videoID, "error", err)
		}
	}
	return meta, nil
}
