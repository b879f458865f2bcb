package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scoutreport/internal/cache"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)

	return rc
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	assert.NoError(t, rc.Ping(context.Background()))
}

func TestSetGetDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.VideoMetadataKey("V1")

	_, found, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, rc.Set(ctx, key, []byte(`{"id":"V1"}`), 10*time.Second))
	val, found, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"id":"V1"}`, string(val))

	require.NoError(t, rc.Delete(ctx, key))
	_, found, err = rc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	// deleting a missing key is not an error
	assert.NoError(t, rc.Delete(ctx, key))
}

func TestSet_TTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "expiry:key", []byte("temp"), time.Second))
	time.Sleep(1500 * time.Millisecond)

	_, found, err := rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Report Status ---

func TestSetGetReportStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	id := uuid.New()

	entry, found, err := rc.GetReportStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, entry)

	updated := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, rc.SetReportStatus(ctx, id, cache.StatusEntry{
		Status:    models.ReportStatusProcessing,
		OwnerID:   "U1",
		UpdatedAt: updated,
	}, 10*time.Second))

	entry, found, err = rc.GetReportStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.ReportStatusProcessing, entry.Status)
	assert.Equal(t, "U1", entry.OwnerID)
	assert.True(t, updated.Equal(entry.UpdatedAt))
}

func TestSetReportStatus_OlderEntryDoesNotOverwrite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	id := uuid.New()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, rc.SetReportStatus(ctx, id, cache.StatusEntry{
		Status: models.ReportStatusCompleted, OwnerID: "U1", UpdatedAt: t0.Add(time.Second),
	}, time.Minute))
	require.NoError(t, rc.SetReportStatus(ctx, id, cache.StatusEntry{
		Status: models.ReportStatusQueued, OwnerID: "U1", UpdatedAt: t0,
	}, time.Minute))

	entry, found, err := rc.GetReportStatus(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.ReportStatusCompleted, entry.Status)
}

func TestSetReportStatus_SameInstantLaterStatusWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	id := uuid.New()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, rc.SetReportStatus(ctx, id, cache.StatusEntry{Status: models.ReportStatusQueued, UpdatedAt: t0}, time.Minute))
	require.NoError(t, rc.SetReportStatus(ctx, id, cache.StatusEntry{Status: models.ReportStatusProcessing, UpdatedAt: t0}, time.Minute))
	require.NoError(t, rc.SetReportStatus(ctx, id, cache.StatusEntry{Status: models.ReportStatusQueued, UpdatedAt: t0}, time.Minute))

	entry, _, err := rc.GetReportStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusProcessing, entry.Status)
}

func TestSetReportStatus_TombstoneBlocksLateWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	id := uuid.New()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, rc.SetReportStatus(ctx, id, cache.StatusEntry{Status: models.ReportStatusQueued, UpdatedAt: t0}, time.Minute))
	require.NoError(t, rc.SetReportStatus(ctx, id, cache.StatusEntry{Deleted: true}, time.Second))
	require.NoError(t, rc.SetReportStatus(ctx, id, cache.StatusEntry{
		Status: models.ReportStatusCompleted, UpdatedAt: t0.Add(time.Hour),
	}, time.Minute))

	entry, found, err := rc.GetReportStatus(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, entry.Deleted)

	time.Sleep(1500 * time.Millisecond)
	_, found, err = rc.GetReportStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, found, "tombstone expires")
}

func TestStatusEntry_Supersedes(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	queued := cache.StatusEntry{Status: models.ReportStatusQueued, UpdatedAt: t0}
	processing := cache.StatusEntry{Status: models.ReportStatusProcessing, UpdatedAt: t0}
	completed := cache.StatusEntry{Status: models.ReportStatusCompleted, UpdatedAt: t0.Add(time.Second)}
	tombstone := cache.StatusEntry{Deleted: true}

	assert.True(t, queued.Supersedes(nil))
	assert.True(t, completed.Supersedes(&queued))
	assert.False(t, queued.Supersedes(&completed))
	assert.True(t, processing.Supersedes(&queued))
	assert.False(t, queued.Supersedes(&processing))
	assert.False(t, queued.Supersedes(&queued))
	assert.True(t, tombstone.Supersedes(&completed))
	assert.False(t, completed.Supersedes(&tombstone))

	sub := cache.StatusEntry{Status: models.ReportStatusQueued, UpdatedAt: t0.Add(500 * time.Nanosecond)}
	assert.False(t, sub.Supersedes(&queued), "versions compare at microsecond precision")
}

// --- IncrWithExpiry ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.RateLimitKey("owner-" + uuid.NewString()[:8])

	for want := int64(1); want <= 3; want++ {
		val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, val)
	}
}

func TestIncrWithExpiry_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.RateLimitKey("owner-" + uuid.NewString()[:8])

	_, err := rc.IncrWithExpiry(ctx, key, time.Second)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

func TestIncrWithExpiry_LaterHitsDoNotExtendWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.RateLimitKey("owner-" + uuid.NewString()[:8])

	_, err := rc.IncrWithExpiry(ctx, key, time.Second)
	require.NoError(t, err)

	time.Sleep(700 * time.Millisecond)
	val, err := rc.IncrWithExpiry(ctx, key, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)

	time.Sleep(700 * time.Millisecond)
	val, err = rc.IncrWithExpiry(ctx, key, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val, "window opened by the first hit has closed")
}

// --- Cache Key Builders ---

func TestKeyBuilders(t *testing.T) {
	id := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	assert.Equal(t, "report:status:22222222-2222-2222-2222-222222222222", cache.ReportStatusKey(id))
	assert.Equal(t, "video:meta:V1", cache.VideoMetadataKey("V1"))
	assert.Equal(t, "ratelimit:coach-1", cache.RateLimitKey("coach-1"))
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	keys := map[string]bool{
		cache.ReportStatusKey(uuid.New()): true,
		cache.VideoMetadataKey("V1"):      true,
		cache.RateLimitKey("coach-1"):     true,
	}
	assert.Len(t, keys, 3, "all keys should be unique")
}
